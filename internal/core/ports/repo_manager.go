package ports

import "github.com/crossfusion/swapd/internal/core/domain"

type RepoManager interface {
	Swaps() domain.SwapRepository
	Events() domain.EventLogRepository
	BlockSync() domain.BlockSyncRepository
	Auctions() domain.AuctionOrderRepository
	Close()
}
