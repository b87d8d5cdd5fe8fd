package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "pending"
	SwapStatusActive    SwapStatus = "active"
	SwapStatusCompleted SwapStatus = "completed"
	SwapStatusFailed    SwapStatus = "failed"
	SwapStatusRefunded  SwapStatus = "refunded"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s SwapStatus) IsTerminal() bool {
	switch s {
	case SwapStatusCompleted, SwapStatusFailed, SwapStatusRefunded:
		return true
	}
	return false
}

// Swap is the unit of coordination for a cross-chain HTLC trade. The maker
// locks funds on the source chain behind SecretHash; revealing the matching
// secret before TimeLock authorizes release on both sides, otherwise the
// maker reclaims via refund.
type Swap struct {
	ID      string
	OrderID string

	Maker string
	Taker string

	MakingAmount decimal.Decimal
	TakingAmount decimal.Decimal
	MakingToken  string
	TakingToken  string

	SourceChain    string
	TargetChain    string
	SourceContract string
	TargetContract string

	SecretHash string
	Secret     string // empty until revealed on-chain
	TimeLock   time.Time

	Status    SwapStatus
	Substatus string

	SourceTxHash string
	TargetTxHash string
	RefundTxHash string

	RetryCount  int
	MaxRetries  int
	LastRetryAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the swap's timelock has passed at the given instant.
func (s *Swap) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// CanTransitionTo enforces the monotonic lifecycle
// pending -> active -> {completed | failed | refunded}.
func (s *Swap) CanTransitionTo(next SwapStatus) bool {
	if s.Status.IsTerminal() {
		return false
	}
	switch next {
	case SwapStatusActive:
		return s.Status == SwapStatusPending
	case SwapStatusCompleted, SwapStatusRefunded:
		return s.Status == SwapStatusActive
	case SwapStatusFailed:
		return true
	}
	return false
}

type SwapFilter struct {
	Status      *SwapStatus
	SourceChain string
	TargetChain string
	Maker       string
}

type Page struct {
	Limit  int
	Offset int
}

// SwapRepository stores the swaps managed by the coordinator.
type SwapRepository interface {
	// Add inserts a new swap. Returns ErrSwapExists on a duplicate id and
	// ErrDuplicateSecretHash on a secret-hash collision.
	Add(ctx context.Context, swap Swap) error
	Get(ctx context.Context, swapID string) (*Swap, error)
	GetBySecretHash(ctx context.Context, secretHash string) (*Swap, error)
	// Update replaces the stored swap. The caller must hold the per-swap lock.
	Update(ctx context.Context, swap Swap) error
	List(ctx context.Context, filter SwapFilter, page Page) ([]Swap, error)
	// ListExpired returns active swaps whose ExpiresAt is at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]Swap, error)
	CountByStatus(ctx context.Context, status SwapStatus) (int64, error)
	Close()
}
