package domain

import (
	"context"
	"fmt"
	"time"
)

type EventType string

const (
	EventTypeSourceLock   EventType = "sourceLock"
	EventTypeTargetLock   EventType = "targetLock"
	EventTypeSecretReveal EventType = "secretReveal"
	EventTypeRefund       EventType = "refund"
	EventTypeAuctionFill  EventType = "auctionFill"
)

// EventLog is the append-only record of a normalized on-chain event. The
// triple (ChainID, TxHash, LogIndex) is unique and guarantees exactly-once
// application even when the same raw event is redelivered.
type EventLog struct {
	ChainID  string
	TxHash   string
	LogIndex uint

	SwapID    string // empty until correlated with a swap
	EventType EventType

	// SecretHash correlates the event with a swap before a SwapID is known.
	// For reveal events Secret carries the preimage so an unprocessed row can
	// be replayed after a restart.
	SecretHash string
	Secret     string

	BlockNumber uint64
	Timestamp   time.Time

	Processed    bool
	ErrorMessage string
}

// DedupKey returns the unique key identifying this event across redeliveries.
func (e *EventLog) DedupKey() string {
	return fmt.Sprintf("%s/%s/%d", e.ChainID, e.TxHash, e.LogIndex)
}

// EventLogRepository persists normalized events. Rows are never deleted by
// the coordinator; retention is an external concern.
type EventLogRepository interface {
	// Record upserts the event by its dedup key. It returns false when the
	// event was already recorded, leaving the stored row untouched.
	Record(ctx context.Context, event EventLog) (inserted bool, err error)
	Get(ctx context.Context, chainID, txHash string, logIndex uint) (*EventLog, error)
	// MarkProcessed flags the event as applied, optionally correlating it
	// with a swap and recording a processing error message.
	MarkProcessed(ctx context.Context, chainID, txHash string, logIndex uint, swapID, errorMessage string) error
	// FindUnprocessedReveal returns the earliest recorded reveal event for
	// the secret hash that has not been applied yet, or ErrEventNotFound.
	FindUnprocessedReveal(ctx context.Context, secretHash string) (*EventLog, error)
	Close()
}
