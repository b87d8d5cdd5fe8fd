package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/crossfusion/swapd/internal/core/domain"
	"github.com/crossfusion/swapd/internal/core/ports"
	"github.com/crossfusion/swapd/pkg/htlc"
)

type fakeAdapter struct {
	mu            sync.Mutex
	chainID       string
	height        uint64
	confirmations uint64
	events        []ports.RawEvent

	heightErr error
	logsErr   error
}

func (a *fakeAdapter) ChainID() string { return a.chainID }

func (a *fakeAdapter) ConfirmationsRequired() uint64 { return a.confirmations }

func (a *fakeAdapter) CurrentHeight(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.heightErr != nil {
		return 0, a.heightErr
	}
	return a.height, nil
}

func (a *fakeAdapter) GetLogs(ctx context.Context, from, to uint64) ([]ports.RawEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logsErr != nil {
		return nil, a.logsErr
	}
	var out []ports.RawEvent
	for _, ev := range a.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (a *fakeAdapter) set(fn func(*fakeAdapter)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

func newTestMonitor(
	t *testing.T, adapter *fakeAdapter, opts MonitorOptions,
) (*Monitor, *Coordinator, ports.RepoManager) {
	t.Helper()
	coordinator, repo, _ := newTestCoordinator(t)
	monitor := NewMonitor(repo, coordinator, []ports.ChainAdapter{adapter}, opts)
	return monitor, coordinator, repo
}

func activeSwap(t *testing.T, coordinator *Coordinator) (string, string, string) {
	t.Helper()
	secret, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(context.Background(), testSwapParams(secretHash))
	require.NoError(t, err)
	return swap.ID, secret, secretHash
}

func TestMonitorSync(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{chainID: "ethereum", height: 120, confirmations: 12}
	monitor, coordinator, repo := newTestMonitor(t, adapter, MonitorOptions{
		BatchSize:  50,
		StartBlock: map[string]uint64{"ethereum": 100},
	})

	swapID, _, secretHash := activeSwap(t, coordinator)
	adapter.set(func(a *fakeAdapter) {
		a.events = []ports.RawEvent{{
			ChainID:     "ethereum",
			TxHash:      "0xlock",
			LogIndex:    3,
			BlockNumber: 105,
			BlockTime:   time.Now(),
			Type:        domain.EventTypeSourceLock,
			SecretHash:  secretHash,
			Amount:      decimal.NewFromInt(100),
		}}
	})

	require.NoError(t, monitor.initChain(ctx, adapter))
	more, err := monitor.tick(ctx, adapter)
	require.NoError(t, err)
	require.False(t, more)

	// Watermark lands on the safe height, 12 confirmations behind the tip.
	st, err := repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	require.Equal(t, uint64(108), st.LastSyncedBlock)
	require.Equal(t, uint64(120), st.CurrentBlock)
	require.True(t, st.IsActive)
	require.Zero(t, st.ErrorCount)

	swap, err := coordinator.GetSwap(ctx, swapID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusActive, swap.Status)

	// The event log row is flagged processed under its dedup key.
	row, err := repo.Events().Get(ctx, "ethereum", "0xlock", 3)
	require.NoError(t, err)
	require.True(t, row.Processed)
	require.Equal(t, swapID, row.SwapID)

	t.Run("no progress while tip is unconfirmed", func(t *testing.T) {
		more, err := monitor.tick(ctx, adapter)
		require.NoError(t, err)
		require.False(t, more)
		st, err := repo.BlockSync().Get(ctx, "ethereum")
		require.NoError(t, err)
		require.Equal(t, uint64(108), st.LastSyncedBlock)
	})
}

func TestMonitorBatchBounds(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{chainID: "ethereum", height: 1000, confirmations: 0}
	monitor, _, repo := newTestMonitor(t, adapter, MonitorOptions{
		BatchSize:  100,
		StartBlock: map[string]uint64{"ethereum": 0},
	})
	require.NoError(t, monitor.initChain(ctx, adapter))

	// Each tick advances at most one batch and reports remaining backlog.
	more, err := monitor.tick(ctx, adapter)
	require.NoError(t, err)
	require.True(t, more)

	st, err := repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	require.Equal(t, uint64(100), st.LastSyncedBlock)

	for i := 0; i < 9; i++ {
		more, err = monitor.tick(ctx, adapter)
		require.NoError(t, err)
	}
	require.False(t, more)
	st, err = repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	require.Equal(t, uint64(1000), st.LastSyncedBlock)
}

func TestMonitorRedelivery(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{chainID: "ethereum", height: 110, confirmations: 0}
	monitor, coordinator, repo := newTestMonitor(t, adapter, MonitorOptions{
		BatchSize:  100,
		StartBlock: map[string]uint64{"ethereum": 100},
	})

	_, _, secretHash := activeSwap(t, coordinator)
	adapter.set(func(a *fakeAdapter) {
		a.events = []ports.RawEvent{{
			ChainID:     "ethereum",
			TxHash:      "0xlock",
			LogIndex:    0,
			BlockNumber: 105,
			BlockTime:   time.Now(),
			Type:        domain.EventTypeSourceLock,
			SecretHash:  secretHash,
			Amount:      decimal.NewFromInt(100),
		}}
	})

	require.NoError(t, monitor.initChain(ctx, adapter))
	_, err := monitor.tick(ctx, adapter)
	require.NoError(t, err)

	// Rewind the watermark to force a re-fetch of the same range. The
	// already-processed event must be skipped, not re-applied.
	st, err := repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	st.LastSyncedBlock = 100
	require.NoError(t, repo.BlockSync().Upsert(ctx, *st))

	_, err = monitor.tick(ctx, adapter)
	require.NoError(t, err)

	stats, err := coordinator.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ProcessedEvents)
}

func TestMonitorTransientFailure(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{chainID: "ethereum", height: 110, confirmations: 0}
	monitor, _, repo := newTestMonitor(t, adapter, MonitorOptions{
		BatchSize:  100,
		StartBlock: map[string]uint64{"ethereum": 100},
	})
	require.NoError(t, monitor.initChain(ctx, adapter))

	adapter.set(func(a *fakeAdapter) { a.logsErr = ports.ErrRPCUnavailable })
	_, err := monitor.tick(ctx, adapter)
	require.ErrorIs(t, err, ports.ErrRPCUnavailable)

	// Transient failures never advance the watermark or disable the chain.
	st, err := repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	require.Equal(t, uint64(100), st.LastSyncedBlock)
	require.True(t, st.IsActive)
	require.Equal(t, 1, st.ErrorCount)

	// Recovery resumes from the same watermark and clears the counter.
	adapter.set(func(a *fakeAdapter) { a.logsErr = nil })
	_, err = monitor.tick(ctx, adapter)
	require.NoError(t, err)
	st, err = repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	require.Equal(t, uint64(110), st.LastSyncedBlock)
	require.Zero(t, st.ErrorCount)
}

func TestMonitorInvalidRange(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{chainID: "ethereum", height: 110, confirmations: 0}
	monitor, _, repo := newTestMonitor(t, adapter, MonitorOptions{
		BatchSize:  100,
		StartBlock: map[string]uint64{"ethereum": 100},
	})
	require.NoError(t, monitor.initChain(ctx, adapter))

	adapter.set(func(a *fakeAdapter) { a.logsErr = ports.ErrInvalidRange })
	_, err := monitor.tick(ctx, adapter)
	require.ErrorIs(t, err, ports.ErrInvalidRange)

	// A fatal range error deactivates the chain; later ticks are no-ops
	// until an operator flips it back.
	st, err := repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	require.False(t, st.IsActive)

	adapter.set(func(a *fakeAdapter) { a.logsErr = nil })
	more, err := monitor.tick(ctx, adapter)
	require.NoError(t, err)
	require.False(t, more)
	st, err = repo.BlockSync().Get(ctx, "ethereum")
	require.NoError(t, err)
	require.Equal(t, uint64(100), st.LastSyncedBlock)
}

func TestMonitorStartStop(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{chainID: "ethereum", height: 120, confirmations: 12}
	monitor, _, _ := newTestMonitor(t, adapter, MonitorOptions{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    50,
		StartBlock:   map[string]uint64{"ethereum": 100},
	})

	require.NoError(t, monitor.Start(ctx))
	require.Eventually(t, func() bool {
		status, err := monitor.Status(ctx)
		return err == nil && status.IsRunning && status.LastSync["ethereum"] >= 108
	}, 3*time.Second, 20*time.Millisecond)

	monitor.Stop()
	status, err := monitor.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.IsRunning)
}
