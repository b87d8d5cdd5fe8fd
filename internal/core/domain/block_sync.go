package domain

import (
	"context"
	"time"
)

// BlockSyncStatus tracks the ingestion watermark for one chain. It is
// mutated exclusively by the event monitor owning that chain and read by
// operational tooling.
type BlockSyncStatus struct {
	ChainID         string
	LastSyncedBlock uint64
	CurrentBlock    uint64
	Confirmations   uint64
	BatchSize       uint64
	IsActive        bool
	ErrorCount      int
	UpdatedAt       time.Time
}

type BlockSyncRepository interface {
	Upsert(ctx context.Context, status BlockSyncStatus) error
	Get(ctx context.Context, chainID string) (*BlockSyncStatus, error)
	GetAll(ctx context.Context) ([]BlockSyncStatus, error)
	Close()
}
