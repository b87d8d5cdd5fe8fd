package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/crossfusion/swapd/internal/core/domain"
)

const blockSyncDir = "blocksync"

type blockSyncRepository struct {
	store *badgerhold.Store
}

func NewBlockSyncRepository(baseDir string, logger badger.Logger) (domain.BlockSyncRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, blockSyncDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open block sync store: %s", err)
	}
	return &blockSyncRepository{store}, nil
}

func (r *blockSyncRepository) Upsert(ctx context.Context, status domain.BlockSyncStatus) error {
	return r.store.Upsert(status.ChainID, toBlockSyncData(status))
}

func (r *blockSyncRepository) Get(ctx context.Context, chainID string) (*domain.BlockSyncStatus, error) {
	var data blockSyncData
	err := r.store.Get(chainID, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, domain.ErrChainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	status := data.toBlockSyncStatus()
	return &status, nil
}

func (r *blockSyncRepository) GetAll(ctx context.Context) ([]domain.BlockSyncStatus, error) {
	var results []blockSyncData
	if err := r.store.Find(&results, nil); err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	statuses := make([]domain.BlockSyncStatus, 0, len(results))
	for i := range results {
		statuses = append(statuses, results[i].toBlockSyncStatus())
	}
	return statuses, nil
}

func (r *blockSyncRepository) Close() {
	// nolint:all
	r.store.Close()
}

type blockSyncData struct {
	ChainID         string
	LastSyncedBlock uint64
	CurrentBlock    uint64
	Confirmations   uint64
	BatchSize       uint64
	IsActive        bool
	ErrorCount      int
	UpdatedAt       int64
}

func toBlockSyncData(status domain.BlockSyncStatus) blockSyncData {
	return blockSyncData{
		ChainID:         status.ChainID,
		LastSyncedBlock: status.LastSyncedBlock,
		CurrentBlock:    status.CurrentBlock,
		Confirmations:   status.Confirmations,
		BatchSize:       status.BatchSize,
		IsActive:        status.IsActive,
		ErrorCount:      status.ErrorCount,
		UpdatedAt:       toUnix(status.UpdatedAt),
	}
}

func (b *blockSyncData) toBlockSyncStatus() domain.BlockSyncStatus {
	return domain.BlockSyncStatus{
		ChainID:         b.ChainID,
		LastSyncedBlock: b.LastSyncedBlock,
		CurrentBlock:    b.CurrentBlock,
		Confirmations:   b.Confirmations,
		BatchSize:       b.BatchSize,
		IsActive:        b.IsActive,
		ErrorCount:      b.ErrorCount,
		UpdatedAt:       fromUnix(b.UpdatedAt),
	}
}
