package postgresdb

import (
	"context"
	"fmt"

	"github.com/crossfusion/swapd/internal/core/domain"
)

type blockSyncStore struct {
	pool *Pool
}

func NewBlockSyncStore(pool *Pool) domain.BlockSyncRepository {
	return &blockSyncStore{pool}
}

func (s *blockSyncStore) Upsert(ctx context.Context, status domain.BlockSyncStatus) error {
	query := `INSERT INTO block_sync_status (
		chain_id, last_synced_block, current_block, confirmations,
		batch_size, is_active, error_count, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (chain_id) DO UPDATE SET
		last_synced_block = EXCLUDED.last_synced_block,
		current_block = EXCLUDED.current_block,
		confirmations = EXCLUDED.confirmations,
		batch_size = EXCLUDED.batch_size,
		is_active = EXCLUDED.is_active,
		error_count = EXCLUDED.error_count,
		updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		status.ChainID, int64(status.LastSyncedBlock), int64(status.CurrentBlock),
		int64(status.Confirmations), int64(status.BatchSize),
		status.IsActive, status.ErrorCount, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert block sync status: %w", err)
	}
	return nil
}

func (s *blockSyncStore) Get(ctx context.Context, chainID string) (*domain.BlockSyncStatus, error) {
	query := `SELECT chain_id, last_synced_block, current_block, confirmations,
		batch_size, is_active, error_count, updated_at
	FROM block_sync_status WHERE chain_id = $1`

	status, err := scanBlockSync(s.pool.QueryRow(ctx, query, chainID))
	if isNotFoundError(err) {
		return nil, domain.ErrChainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block sync status: %w", err)
	}
	return status, nil
}

func (s *blockSyncStore) GetAll(ctx context.Context) ([]domain.BlockSyncStatus, error) {
	query := `SELECT chain_id, last_synced_block, current_block, confirmations,
		batch_size, is_active, error_count, updated_at
	FROM block_sync_status ORDER BY chain_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list block sync statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]domain.BlockSyncStatus, 0)
	for rows.Next() {
		status, err := scanBlockSync(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block sync status: %w", err)
		}
		statuses = append(statuses, *status)
	}
	return statuses, rows.Err()
}

func (s *blockSyncStore) Close() {}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlockSync(row rowScanner) (*domain.BlockSyncStatus, error) {
	var (
		status                                          domain.BlockSyncStatus
		lastSynced, currentBlock, confirmations, batchN int64
	)
	err := row.Scan(
		&status.ChainID, &lastSynced, &currentBlock, &confirmations,
		&batchN, &status.IsActive, &status.ErrorCount, &status.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	status.LastSyncedBlock = uint64(lastSynced)
	status.CurrentBlock = uint64(currentBlock)
	status.Confirmations = uint64(confirmations)
	status.BatchSize = uint64(batchN)
	return &status, nil
}
