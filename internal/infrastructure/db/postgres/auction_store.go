package postgresdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/crossfusion/swapd/internal/core/domain"
)

type auctionStore struct {
	pool *Pool
}

func NewAuctionStore(pool *Pool) domain.AuctionOrderRepository {
	return &auctionStore{pool}
}

func (s *auctionStore) Add(ctx context.Context, order domain.AuctionOrder) error {
	query := `INSERT INTO auction_orders (
		id, seller, start_price, end_price, duration_seconds,
		secret_hash, escrow_contract, created_at_nano
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		order.ID, order.Seller, order.StartPrice.String(), order.EndPrice.String(),
		int64(order.Duration/time.Second), order.SecretHash,
		order.EscrowContract, order.CreatedAt.UnixNano(),
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("auction order %s already exists", order.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert auction order: %w", err)
	}
	return nil
}

func (s *auctionStore) Get(ctx context.Context, orderID string) (*domain.AuctionOrder, error) {
	return s.getOne(ctx, "id = $1", orderID)
}

func (s *auctionStore) GetBySecretHash(
	ctx context.Context, secretHash string,
) (*domain.AuctionOrder, error) {
	return s.getOne(ctx, "secret_hash = $1", secretHash)
}

func (s *auctionStore) Close() {}

func (s *auctionStore) getOne(ctx context.Context, cond string, arg any) (*domain.AuctionOrder, error) {
	query := fmt.Sprintf(`SELECT id, seller, start_price::text, end_price::text,
		duration_seconds, secret_hash, escrow_contract, created_at_nano
	FROM auction_orders WHERE %s`, cond)

	order, err := scanAuction(s.pool.QueryRow(ctx, query, arg))
	if isNotFoundError(err) {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction order: %w", err)
	}
	return order, nil
}

func scanAuction(row pgx.Row) (*domain.AuctionOrder, error) {
	var (
		order                domain.AuctionOrder
		startPrice, endPrice string
		durationSec          int64
		createdAtNano        int64
	)
	err := row.Scan(
		&order.ID, &order.Seller, &startPrice, &endPrice,
		&durationSec, &order.SecretHash, &order.EscrowContract, &createdAtNano,
	)
	if err != nil {
		return nil, err
	}
	if order.StartPrice, err = decimal.NewFromString(startPrice); err != nil {
		return nil, fmt.Errorf("failed to parse start price: %w", err)
	}
	if order.EndPrice, err = decimal.NewFromString(endPrice); err != nil {
		return nil, fmt.Errorf("failed to parse end price: %w", err)
	}
	order.Duration = time.Duration(durationSec) * time.Second
	order.CreatedAt = time.Unix(0, createdAtNano).UTC()
	return &order, nil
}
