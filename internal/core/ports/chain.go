package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crossfusion/swapd/internal/core/domain"
	"github.com/shopspring/decimal"
)

var (
	// ErrRPCUnavailable marks a transient chain RPC failure. The caller may
	// retry the same range after backing off.
	ErrRPCUnavailable = errors.New("chain rpc unavailable")

	// ErrInvalidRange marks a fatal request for a block range the chain
	// cannot serve. The caller must not retry with the same range.
	ErrInvalidRange = errors.New("invalid block range")
)

// RawEvent is a normalized on-chain event, discriminated by Type. Adapters
// validate payloads at the boundary so the coordinator never sees a
// malformed variant.
type RawEvent struct {
	ChainID     string
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	BlockTime   time.Time

	Type domain.EventType

	// SecretHash is set for lock, refund and auctionFill events.
	SecretHash string
	// Secret is set for secretReveal events only.
	Secret string
	// Amount is set for lock events.
	Amount decimal.Decimal
	// Contract is the emitting contract address.
	Contract string
}

// Validate checks the per-variant required fields.
func (e *RawEvent) Validate() error {
	if e.ChainID == "" || e.TxHash == "" {
		return fmt.Errorf("event %s/%s: missing chain id or tx hash", e.ChainID, e.TxHash)
	}
	switch e.Type {
	case domain.EventTypeSourceLock, domain.EventTypeTargetLock:
		if e.SecretHash == "" {
			return fmt.Errorf("lock event %s: missing secret hash", e.TxHash)
		}
	case domain.EventTypeSecretReveal:
		if e.Secret == "" {
			return fmt.Errorf("reveal event %s: missing secret", e.TxHash)
		}
	case domain.EventTypeRefund, domain.EventTypeAuctionFill:
		if e.SecretHash == "" {
			return fmt.Errorf("%s event %s: missing secret hash", e.Type, e.TxHash)
		}
	default:
		return fmt.Errorf("event %s: unknown type %q", e.TxHash, e.Type)
	}
	return nil
}

// ChainAdapter fetches blocks and logs for one chain and normalizes them
// into RawEvents. Implementations are stateless beyond connection handles
// and have no side effects besides network I/O.
type ChainAdapter interface {
	ChainID() string
	CurrentHeight(ctx context.Context) (uint64, error)
	// GetLogs returns the ordered events in [from, to]. The result may be
	// empty and must be deterministic for a finalized range. Fails with
	// ErrRPCUnavailable or ErrInvalidRange.
	GetLogs(ctx context.Context, from, to uint64) ([]RawEvent, error)
	ConfirmationsRequired() uint64
}
