package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionOrder describes a Dutch auction run by a maker to discover the
// clearing price for a swap. The order carries no mutable price field: the
// current price is always recomputed from the decay schedule, never cached.
type AuctionOrder struct {
	ID             string
	Seller         string
	StartPrice     decimal.Decimal
	EndPrice       decimal.Decimal
	Duration       time.Duration
	SecretHash     string
	EscrowContract string
	CreatedAt      time.Time
}

type AuctionOrderRepository interface {
	Add(ctx context.Context, order AuctionOrder) error
	Get(ctx context.Context, orderID string) (*AuctionOrder, error)
	// GetBySecretHash correlates an auction settlement with its swap; the
	// secret hash is the join key between the two.
	GetBySecretHash(ctx context.Context, secretHash string) (*AuctionOrder, error)
	Close()
}
