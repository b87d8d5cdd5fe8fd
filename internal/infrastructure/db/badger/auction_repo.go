package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"

	"github.com/crossfusion/swapd/internal/core/domain"
)

const auctionDir = "auction"

type auctionRepository struct {
	store *badgerhold.Store
}

func NewAuctionRepository(baseDir string, logger badger.Logger) (domain.AuctionOrderRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, auctionDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open auction store: %s", err)
	}
	return &auctionRepository{store}, nil
}

func (r *auctionRepository) Add(ctx context.Context, order domain.AuctionOrder) error {
	if err := r.store.Insert(order.ID, toAuctionData(order)); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("auction order %s already exists", order.ID)
		}
		return err
	}
	return nil
}

func (r *auctionRepository) Get(ctx context.Context, orderID string) (*domain.AuctionOrder, error) {
	var data auctionData
	err := r.store.Get(orderID, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction order: %w", err)
	}
	return data.toAuctionOrder()
}

func (r *auctionRepository) GetBySecretHash(ctx context.Context, secretHash string) (*domain.AuctionOrder, error) {
	var results []auctionData
	if err := r.store.Find(&results, badgerhold.Where("SecretHash").Eq(secretHash)); err != nil {
		return nil, fmt.Errorf("failed to find auction order: %w", err)
	}
	if len(results) == 0 {
		return nil, domain.ErrAuctionNotFound
	}
	return results[0].toAuctionOrder()
}

func (r *auctionRepository) Close() {
	// nolint:all
	r.store.Close()
}

type auctionData struct {
	ID             string
	Seller         string
	StartPrice     string
	EndPrice       string
	DurationSec    int64
	SecretHash     string `badgerhold:"index"`
	EscrowContract string
	// CreatedAtNano keeps full precision: the settlement price is a function
	// of the exact elapsed time since creation, so truncating to seconds
	// would shift every recomputed price.
	CreatedAtNano int64
}

func toAuctionData(order domain.AuctionOrder) auctionData {
	return auctionData{
		ID:             order.ID,
		Seller:         order.Seller,
		StartPrice:     order.StartPrice.String(),
		EndPrice:       order.EndPrice.String(),
		DurationSec:    int64(order.Duration / time.Second),
		SecretHash:     order.SecretHash,
		EscrowContract: order.EscrowContract,
		CreatedAtNano:  toUnixNano(order.CreatedAt),
	}
}

func (a *auctionData) toAuctionOrder() (*domain.AuctionOrder, error) {
	startPrice, err := decimal.NewFromString(a.StartPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start price: %w", err)
	}
	endPrice, err := decimal.NewFromString(a.EndPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse end price: %w", err)
	}
	return &domain.AuctionOrder{
		ID:             a.ID,
		Seller:         a.Seller,
		StartPrice:     startPrice,
		EndPrice:       endPrice,
		Duration:       time.Duration(a.DurationSec) * time.Second,
		SecretHash:     a.SecretHash,
		EscrowContract: a.EscrowContract,
		CreatedAt:      fromUnixNano(a.CreatedAtNano),
	}, nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
