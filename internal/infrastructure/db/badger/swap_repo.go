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

const swapDir = "swap"

type swapRepository struct {
	store *badgerhold.Store
}

func NewSwapRepository(baseDir string, logger badger.Logger) (domain.SwapRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, swapDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap store: %s", err)
	}
	return &swapRepository{store}, nil
}

func (r *swapRepository) Add(ctx context.Context, swap domain.Swap) error {
	// Re-adding the same swap is an id collision, not a hash collision, so
	// the id check has to come first.
	var existing swapData
	if err := r.store.Get(swap.ID, &existing); err == nil {
		return domain.ErrSwapExists
	} else if !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to check swap id uniqueness: %w", err)
	}

	count, err := r.store.Count(&swapData{}, badgerhold.Where("SecretHash").Eq(swap.SecretHash))
	if err != nil {
		return fmt.Errorf("failed to check secret hash uniqueness: %w", err)
	}
	if count > 0 {
		return domain.ErrDuplicateSecretHash
	}

	if err := r.store.Insert(swap.ID, toSwapData(swap)); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return domain.ErrSwapExists
		}
		return err
	}
	return nil
}

func (r *swapRepository) Get(ctx context.Context, swapID string) (*domain.Swap, error) {
	var data swapData
	err := r.store.Get(swapID, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, domain.ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	return data.toSwap()
}

func (r *swapRepository) GetBySecretHash(ctx context.Context, secretHash string) (*domain.Swap, error) {
	var results []swapData
	if err := r.store.Find(&results, badgerhold.Where("SecretHash").Eq(secretHash)); err != nil {
		return nil, fmt.Errorf("failed to find swap by secret hash: %w", err)
	}
	if len(results) == 0 {
		return nil, domain.ErrSwapNotFound
	}
	return results[0].toSwap()
}

func (r *swapRepository) Update(ctx context.Context, swap domain.Swap) error {
	err := r.store.Update(swap.ID, toSwapData(swap))
	if errors.Is(err, badgerhold.ErrNotFound) {
		return domain.ErrSwapNotFound
	}
	return err
}

func (r *swapRepository) List(
	ctx context.Context, filter domain.SwapFilter, page domain.Page,
) ([]domain.Swap, error) {
	var query *badgerhold.Query
	if filter.Status != nil {
		query = addEq(query, "Status", string(*filter.Status))
	}
	if filter.SourceChain != "" {
		query = addEq(query, "SourceChain", filter.SourceChain)
	}
	if filter.TargetChain != "" {
		query = addEq(query, "TargetChain", filter.TargetChain)
	}
	if filter.Maker != "" {
		query = addEq(query, "Maker", filter.Maker)
	}
	if query == nil {
		query = &badgerhold.Query{}
	}
	query = query.SortBy("CreatedAt")
	if page.Limit > 0 {
		query = query.Skip(page.Offset).Limit(page.Limit)
	}

	var results []swapData
	if err := r.store.Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	swaps := make([]domain.Swap, 0, len(results))
	for i := range results {
		swap, err := results[i].toSwap()
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, *swap)
	}
	return swaps, nil
}

func (r *swapRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Swap, error) {
	var results []swapData
	query := badgerhold.Where("Status").Eq(string(domain.SwapStatusActive)).
		And("ExpiresAt").Le(now.Unix())
	if err := r.store.Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list expired swaps: %w", err)
	}
	swaps := make([]domain.Swap, 0, len(results))
	for i := range results {
		swap, err := results[i].toSwap()
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, *swap)
	}
	return swaps, nil
}

func (r *swapRepository) CountByStatus(ctx context.Context, status domain.SwapStatus) (int64, error) {
	count, err := r.store.Count(&swapData{}, badgerhold.Where("Status").Eq(string(status)))
	if err != nil {
		return 0, fmt.Errorf("failed to count swaps: %w", err)
	}
	return int64(count), nil
}

func (r *swapRepository) Close() {
	// nolint:all
	r.store.Close()
}

func addEq(q *badgerhold.Query, field string, value any) *badgerhold.Query {
	if q == nil {
		return badgerhold.Where(field).Eq(value)
	}
	return q.And(field).Eq(value)
}

type swapData struct {
	ID             string
	OrderID        string
	Maker          string
	Taker          string
	MakingAmount   string
	TakingAmount   string
	MakingToken    string
	TakingToken    string
	SourceChain    string
	TargetChain    string
	SourceContract string
	TargetContract string
	SecretHash     string `badgerhold:"index"`
	Secret         string
	TimeLock       int64
	Status         string `badgerhold:"index"`
	Substatus      string
	SourceTxHash   string
	TargetTxHash   string
	RefundTxHash   string
	RetryCount     int
	MaxRetries     int
	LastRetryAt    int64
	CreatedAt      int64
	UpdatedAt      int64
	ExpiresAt      int64
}

func toSwapData(swap domain.Swap) swapData {
	return swapData{
		ID:             swap.ID,
		OrderID:        swap.OrderID,
		Maker:          swap.Maker,
		Taker:          swap.Taker,
		MakingAmount:   swap.MakingAmount.String(),
		TakingAmount:   swap.TakingAmount.String(),
		MakingToken:    swap.MakingToken,
		TakingToken:    swap.TakingToken,
		SourceChain:    swap.SourceChain,
		TargetChain:    swap.TargetChain,
		SourceContract: swap.SourceContract,
		TargetContract: swap.TargetContract,
		SecretHash:     swap.SecretHash,
		Secret:         swap.Secret,
		TimeLock:       toUnix(swap.TimeLock),
		Status:         string(swap.Status),
		Substatus:      swap.Substatus,
		SourceTxHash:   swap.SourceTxHash,
		TargetTxHash:   swap.TargetTxHash,
		RefundTxHash:   swap.RefundTxHash,
		RetryCount:     swap.RetryCount,
		MaxRetries:     swap.MaxRetries,
		LastRetryAt:    toUnix(swap.LastRetryAt),
		CreatedAt:      toUnix(swap.CreatedAt),
		UpdatedAt:      toUnix(swap.UpdatedAt),
		ExpiresAt:      toUnix(swap.ExpiresAt),
	}
}

func (s *swapData) toSwap() (*domain.Swap, error) {
	makingAmount, err := decimal.NewFromString(s.MakingAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse making amount: %w", err)
	}
	takingAmount, err := decimal.NewFromString(s.TakingAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse taking amount: %w", err)
	}

	return &domain.Swap{
		ID:             s.ID,
		OrderID:        s.OrderID,
		Maker:          s.Maker,
		Taker:          s.Taker,
		MakingAmount:   makingAmount,
		TakingAmount:   takingAmount,
		MakingToken:    s.MakingToken,
		TakingToken:    s.TakingToken,
		SourceChain:    s.SourceChain,
		TargetChain:    s.TargetChain,
		SourceContract: s.SourceContract,
		TargetContract: s.TargetContract,
		SecretHash:     s.SecretHash,
		Secret:         s.Secret,
		TimeLock:       fromUnix(s.TimeLock),
		Status:         domain.SwapStatus(s.Status),
		Substatus:      s.Substatus,
		SourceTxHash:   s.SourceTxHash,
		TargetTxHash:   s.TargetTxHash,
		RefundTxHash:   s.RefundTxHash,
		RetryCount:     s.RetryCount,
		MaxRetries:     s.MaxRetries,
		LastRetryAt:    fromUnix(s.LastRetryAt),
		CreatedAt:      fromUnix(s.CreatedAt),
		UpdatedAt:      fromUnix(s.UpdatedAt),
		ExpiresAt:      fromUnix(s.ExpiresAt),
	}, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
