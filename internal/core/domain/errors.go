package domain

import "errors"

var (
	// ErrSwapNotFound is returned when no swap matches the given id or
	// secret hash.
	ErrSwapNotFound = errors.New("swap not found")

	// ErrSwapExists is returned when adding a swap whose id is taken.
	ErrSwapExists = errors.New("swap already exists")

	// ErrDuplicateSecretHash is returned when a new swap reuses the secret
	// hash of an existing one. Secret hashes are globally unique.
	ErrDuplicateSecretHash = errors.New("secret hash already in use")

	// ErrInvalidParameters is returned when swap creation parameters fail
	// validation.
	ErrInvalidParameters = errors.New("invalid swap parameters")

	// ErrInvalidTransition is returned on an attempt to move a swap to a
	// status the lifecycle does not allow from its current one.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEventNotFound is returned when no event log row matches the key.
	ErrEventNotFound = errors.New("event not found")

	// ErrAuctionNotFound is returned when no auction order matches.
	ErrAuctionNotFound = errors.New("auction order not found")

	// ErrChainNotFound is returned when no sync status exists for a chain.
	ErrChainNotFound = errors.New("chain sync status not found")
)
