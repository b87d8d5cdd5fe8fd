package postgresdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/crossfusion/swapd/internal/core/domain"
)

const swapColumns = `id, order_id, maker, taker,
	making_amount::text, taking_amount::text, making_token, taking_token,
	source_chain, target_chain, source_contract, target_contract,
	secret_hash, secret, time_lock, status, substatus,
	source_tx_hash, target_tx_hash, refund_tx_hash,
	retry_count, max_retries, last_retry_at,
	created_at, updated_at, expires_at`

type swapStore struct {
	pool *Pool
}

func NewSwapStore(pool *Pool) domain.SwapRepository {
	return &swapStore{pool}
}

func (s *swapStore) Add(ctx context.Context, swap domain.Swap) error {
	query := `INSERT INTO swaps (
		id, order_id, maker, taker,
		making_amount, taking_amount, making_token, taking_token,
		source_chain, target_chain, source_contract, target_contract,
		secret_hash, secret, time_lock, status, substatus,
		source_tx_hash, target_tx_hash, refund_tx_hash,
		retry_count, max_retries, last_retry_at,
		created_at, updated_at, expires_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
	)`

	_, err := s.pool.Exec(ctx, query,
		swap.ID, swap.OrderID, swap.Maker, swap.Taker,
		swap.MakingAmount.String(), swap.TakingAmount.String(),
		swap.MakingToken, swap.TakingToken,
		swap.SourceChain, swap.TargetChain, swap.SourceContract, swap.TargetContract,
		swap.SecretHash, swap.Secret, swap.TimeLock, string(swap.Status), swap.Substatus,
		swap.SourceTxHash, swap.TargetTxHash, swap.RefundTxHash,
		swap.RetryCount, swap.MaxRetries, nullableTime(swap.LastRetryAt),
		swap.CreatedAt, swap.UpdatedAt, swap.ExpiresAt,
	)
	if isDuplicateKeyError(err) {
		if strings.Contains(err.Error(), "secret_hash") {
			return domain.ErrDuplicateSecretHash
		}
		return domain.ErrSwapExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert swap: %w", err)
	}
	return nil
}

func (s *swapStore) Get(ctx context.Context, swapID string) (*domain.Swap, error) {
	query := fmt.Sprintf("SELECT %s FROM swaps WHERE id = $1", swapColumns)
	return s.getOne(ctx, query, swapID)
}

func (s *swapStore) GetBySecretHash(ctx context.Context, secretHash string) (*domain.Swap, error) {
	query := fmt.Sprintf("SELECT %s FROM swaps WHERE secret_hash = $1", swapColumns)
	return s.getOne(ctx, query, secretHash)
}

func (s *swapStore) Update(ctx context.Context, swap domain.Swap) error {
	query := `UPDATE swaps SET
		taker = $2, secret = $3, status = $4, substatus = $5,
		source_tx_hash = $6, target_tx_hash = $7, refund_tx_hash = $8,
		retry_count = $9, last_retry_at = $10, updated_at = $11
	WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		swap.ID, swap.Taker, swap.Secret, string(swap.Status), swap.Substatus,
		swap.SourceTxHash, swap.TargetTxHash, swap.RefundTxHash,
		swap.RetryCount, nullableTime(swap.LastRetryAt), swap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update swap: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSwapNotFound
	}
	return nil
}

func (s *swapStore) List(
	ctx context.Context, filter domain.SwapFilter, page domain.Page,
) ([]domain.Swap, error) {
	var conds []string
	var args []any
	addCond := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.Status != nil {
		addCond("status", string(*filter.Status))
	}
	if filter.SourceChain != "" {
		addCond("source_chain", filter.SourceChain)
	}
	if filter.TargetChain != "" {
		addCond("target_chain", filter.TargetChain)
	}
	if filter.Maker != "" {
		addCond("maker", filter.Maker)
	}

	query := fmt.Sprintf("SELECT %s FROM swaps", swapColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.getMany(ctx, query, args...)
}

func (s *swapStore) ListExpired(ctx context.Context, now time.Time) ([]domain.Swap, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM swaps WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at",
		swapColumns,
	)
	return s.getMany(ctx, query, string(domain.SwapStatusActive), now)
}

func (s *swapStore) CountByStatus(ctx context.Context, status domain.SwapStatus) (int64, error) {
	var count int64
	err := s.pool.QueryRow(
		ctx, "SELECT COUNT(*) FROM swaps WHERE status = $1", string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count swaps: %w", err)
	}
	return count, nil
}

func (s *swapStore) Close() {}

func (s *swapStore) getOne(ctx context.Context, query string, arg any) (*domain.Swap, error) {
	swap, err := scanSwap(s.pool.QueryRow(ctx, query, arg))
	if isNotFoundError(err) {
		return nil, domain.ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	return swap, nil
}

func (s *swapStore) getMany(ctx context.Context, query string, args ...any) ([]domain.Swap, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	defer rows.Close()

	swaps := make([]domain.Swap, 0)
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap: %w", err)
		}
		swaps = append(swaps, *swap)
	}
	return swaps, rows.Err()
}

func scanSwap(row pgx.Row) (*domain.Swap, error) {
	var (
		swap                       domain.Swap
		makingAmount, takingAmount string
		status                     string
		lastRetryAt                *time.Time
	)
	err := row.Scan(
		&swap.ID, &swap.OrderID, &swap.Maker, &swap.Taker,
		&makingAmount, &takingAmount, &swap.MakingToken, &swap.TakingToken,
		&swap.SourceChain, &swap.TargetChain, &swap.SourceContract, &swap.TargetContract,
		&swap.SecretHash, &swap.Secret, &swap.TimeLock, &status, &swap.Substatus,
		&swap.SourceTxHash, &swap.TargetTxHash, &swap.RefundTxHash,
		&swap.RetryCount, &swap.MaxRetries, &lastRetryAt,
		&swap.CreatedAt, &swap.UpdatedAt, &swap.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if swap.MakingAmount, err = decimal.NewFromString(makingAmount); err != nil {
		return nil, fmt.Errorf("failed to parse making amount: %w", err)
	}
	if swap.TakingAmount, err = decimal.NewFromString(takingAmount); err != nil {
		return nil, fmt.Errorf("failed to parse taking amount: %w", err)
	}
	swap.Status = domain.SwapStatus(status)
	if lastRetryAt != nil {
		swap.LastRetryAt = *lastRetryAt
	}
	return &swap, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
