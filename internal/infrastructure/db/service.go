package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossfusion/swapd/internal/core/domain"
	"github.com/crossfusion/swapd/internal/core/ports"
	badgerdb "github.com/crossfusion/swapd/internal/infrastructure/db/badger"
	postgresdb "github.com/crossfusion/swapd/internal/infrastructure/db/postgres"
)

var (
	allowedTypes = strings.Join([]string{"badger", "postgres"}, ",")
)

type ServiceConfig struct {
	DbType   string
	DbConfig []any
}

type service struct {
	swapRepo      domain.SwapRepository
	eventRepo     domain.EventLogRepository
	blockSyncRepo domain.BlockSyncRepository
	auctionRepo   domain.AuctionOrderRepository

	pgPool    *pgxpool.Pool
	closePool func()
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	svc := &service{}

	switch config.DbType {
	case "badger":
		if len(config.DbConfig) != 2 {
			return nil, fmt.Errorf("badger db config must have 2 elements, got %d", len(config.DbConfig))
		}
		baseDir, ok := config.DbConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}
		var logger badger.Logger
		if config.DbConfig[1] != nil {
			logger, ok = config.DbConfig[1].(badger.Logger)
			if !ok {
				return nil, fmt.Errorf("invalid logger")
			}
		}
		var err error
		svc.swapRepo, err = badgerdb.NewSwapRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open swap db: %s", err)
		}
		svc.eventRepo, err = badgerdb.NewEventLogRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log db: %s", err)
		}
		svc.blockSyncRepo, err = badgerdb.NewBlockSyncRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open block sync db: %s", err)
		}
		svc.auctionRepo, err = badgerdb.NewAuctionRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open auction db: %s", err)
		}
	case "postgres":
		if len(config.DbConfig) != 1 {
			return nil, fmt.Errorf("postgres db config must have 1 element, got %d", len(config.DbConfig))
		}
		dsn, ok := config.DbConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid postgres dsn")
		}
		pool, err := postgresdb.NewPool(context.Background(), dsn)
		if err != nil {
			return nil, err
		}
		svc.swapRepo = postgresdb.NewSwapStore(pool)
		svc.eventRepo = postgresdb.NewEventLogStore(pool)
		svc.blockSyncRepo = postgresdb.NewBlockSyncStore(pool)
		svc.auctionRepo = postgresdb.NewAuctionStore(pool)
		svc.pgPool = pool.Pool
		svc.closePool = pool.Close
	default:
		return nil, fmt.Errorf("unsupported db type %s, please select one of %s", config.DbType, allowedTypes)
	}

	return svc, nil
}

func (s *service) Swaps() domain.SwapRepository {
	return s.swapRepo
}

func (s *service) Events() domain.EventLogRepository {
	return s.eventRepo
}

func (s *service) BlockSync() domain.BlockSyncRepository {
	return s.blockSyncRepo
}

func (s *service) Auctions() domain.AuctionOrderRepository {
	return s.auctionRepo
}

// PgPool returns the shared connection pool behind a postgres-backed repo
// manager, or nil for other backends. Callers use it to share the pool with
// collaborators that need the same database, like the advisory lock service.
func PgPool(repo ports.RepoManager) *pgxpool.Pool {
	if svc, ok := repo.(*service); ok {
		return svc.pgPool
	}
	return nil
}

func (s *service) Close() {
	s.swapRepo.Close()
	s.eventRepo.Close()
	s.blockSyncRepo.Close()
	s.auctionRepo.Close()
	if s.closePool != nil {
		s.closePool()
	}
}
