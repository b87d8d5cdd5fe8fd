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
	"github.com/crossfusion/swapd/internal/infrastructure/db"
	inmemorylocker "github.com/crossfusion/swapd/internal/infrastructure/locker/inmemory"
	"github.com/crossfusion/swapd/pkg/htlc"
)

type recordingSink struct {
	mu            sync.Mutex
	notifications []ports.Notification
}

func (s *recordingSink) Publish(_ context.Context, n ports.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *recordingSink) Close() {}

func (s *recordingSink) count(event ports.NotificationEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.Event == event {
			count++
		}
	}
	return count
}

func newTestCoordinator(t *testing.T) (*Coordinator, ports.RepoManager, *recordingSink) {
	t.Helper()
	repo, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	sink := &recordingSink{}
	coordinator := NewCoordinator(repo, inmemorylocker.NewSwapLocker(), sink, 16)
	coordinator.Start()
	t.Cleanup(coordinator.Stop)
	return coordinator, repo, sink
}

func testSwapParams(secretHash string) CreateSwapParams {
	return CreateSwapParams{
		Maker:        "0xmaker",
		MakingAmount: decimal.NewFromInt(100),
		TakingAmount: decimal.NewFromInt(99),
		SourceChain:  "ethereum",
		TargetChain:  "polygon",
		SecretHash:   secretHash,
		TimeLock:     time.Now().Add(time.Hour),
	}
}

func lockEvent(secretHash, txHash string) ports.RawEvent {
	return ports.RawEvent{
		ChainID:    "ethereum",
		TxHash:     txHash,
		Type:       domain.EventTypeSourceLock,
		SecretHash: secretHash,
		Amount:     decimal.NewFromInt(100),
		BlockTime:  time.Now(),
	}
}

func revealEvent(secret, txHash string) ports.RawEvent {
	return ports.RawEvent{
		ChainID:   "polygon",
		TxHash:    txHash,
		Type:      domain.EventTypeSecretReveal,
		Secret:    secret,
		BlockTime: time.Now(),
	}
}

func TestCreateSwap(t *testing.T) {
	ctx := context.Background()
	coordinator, _, sink := newTestCoordinator(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)

	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusPending, swap.Status)
	require.Equal(t, secretHash, swap.SecretHash)
	require.Equal(t, 1, sink.count(ports.NotificationSwapCreated))

	t.Run("duplicate secret hash rejected", func(t *testing.T) {
		_, err := coordinator.Create(ctx, testSwapParams(secretHash))
		require.ErrorIs(t, err, domain.ErrDuplicateSecretHash)
	})

	t.Run("same chain rejected", func(t *testing.T) {
		_, otherHash, err := htlc.NewSecret()
		require.NoError(t, err)
		params := testSwapParams(otherHash)
		params.TargetChain = params.SourceChain
		_, err = coordinator.Create(ctx, params)
		require.ErrorIs(t, err, domain.ErrInvalidParameters)
	})

	t.Run("past timelock rejected", func(t *testing.T) {
		_, otherHash, err := htlc.NewSecret()
		require.NoError(t, err)
		params := testSwapParams(otherHash)
		params.TimeLock = time.Now().Add(-time.Minute)
		_, err = coordinator.Create(ctx, params)
		require.ErrorIs(t, err, domain.ErrInvalidParameters)
	})

	t.Run("malformed secret hash rejected", func(t *testing.T) {
		params := testSwapParams("nothex")
		_, err := coordinator.Create(ctx, params)
		require.ErrorIs(t, err, domain.ErrInvalidParameters)
	})
}

func TestSwapLifecycle(t *testing.T) {
	ctx := context.Background()
	coordinator, _, sink := newTestCoordinator(t)

	secret, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)

	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))
	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusActive, got.Status)
	require.Equal(t, "0xlock", got.SourceTxHash)

	require.NoError(t, coordinator.Deliver(ctx, revealEvent(secret, "0xreveal")))
	got, err = coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusCompleted, got.Status)
	require.Equal(t, secret, got.Secret)

	// Redelivering the reveal must stay a no-op: one completion, one
	// notification, no state change.
	require.NoError(t, coordinator.Deliver(ctx, revealEvent(secret, "0xreveal")))
	got, err = coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusCompleted, got.Status)
	require.Equal(t, 1, sink.count(ports.NotificationSwapCompleted))
}

func TestRevealBeforeLock(t *testing.T) {
	ctx := context.Background()
	coordinator, _, sink := newTestCoordinator(t)

	secret, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)

	// The reveal lands first: it must be parked, not dropped.
	require.NoError(t, coordinator.Deliver(ctx, revealEvent(secret, "0xreveal")))
	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusPending, got.Status)

	// Activation drains the buffered reveal straight to completion.
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))
	got, err = coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusCompleted, got.Status)
	require.Equal(t, 1, sink.count(ports.NotificationSwapCompleted))
}

// TestRevealBeforeLockSurvivesRestart parks a reveal for a pending swap,
// tears the coordinator down and rebuilds it over the same storage. The
// parked reveal must come back from the event log, not from process memory,
// so activation still completes the swap.
func TestRevealBeforeLockSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	repo, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	coordinator := NewCoordinator(repo, inmemorylocker.NewSwapLocker(), nil, 16)
	coordinator.Start()

	secret, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, revealEvent(secret, "0xreveal")))

	// The parked reveal stays unprocessed on disk until it is applied.
	row, err := repo.Events().Get(ctx, "polygon", "0xreveal", 0)
	require.NoError(t, err)
	require.False(t, row.Processed)
	require.Equal(t, secretHash, row.SecretHash)

	coordinator.Stop()

	restarted := NewCoordinator(repo, inmemorylocker.NewSwapLocker(), nil, 16)
	restarted.Start()
	t.Cleanup(restarted.Stop)

	require.NoError(t, restarted.Deliver(ctx, lockEvent(secretHash, "0xlock")))

	got, err := restarted.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusCompleted, got.Status)
	require.Equal(t, secret, got.Secret)

	row, err = repo.Events().Get(ctx, "polygon", "0xreveal", 0)
	require.NoError(t, err)
	require.True(t, row.Processed)
	require.Equal(t, swap.ID, row.SwapID)
}

func TestWrongSecretDropped(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))

	// A reveal whose recomputed hash matches no swap is parked under its
	// own hash, never applied: the swap stays active and keeps no secret.
	wrongSecret, _, err := htlc.NewSecret()
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, revealEvent(wrongSecret, "0xbogus")))

	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusActive, got.Status)
	require.Empty(t, got.Secret)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	coordinator, _, sink := newTestCoordinator(t)

	secret, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	params := testSwapParams(secretHash)
	params.TimeLock = time.Now().Add(50 * time.Millisecond)
	swap, err := coordinator.Create(ctx, params)
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))

	deadline := params.TimeLock.Add(time.Second)
	require.NoError(t, coordinator.CheckExpiry(ctx, deadline))

	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusRefunded, got.Status)

	t.Run("refund event fills tx hash idempotently", func(t *testing.T) {
		ev := ports.RawEvent{
			ChainID:    "ethereum",
			TxHash:     "0xrefund",
			Type:       domain.EventTypeRefund,
			SecretHash: secretHash,
			BlockTime:  deadline,
		}
		require.NoError(t, coordinator.Deliver(ctx, ev))
		got, err := coordinator.GetSwap(ctx, swap.ID)
		require.NoError(t, err)
		require.Equal(t, domain.SwapStatusRefunded, got.Status)
		require.Equal(t, "0xrefund", got.RefundTxHash)
	})

	t.Run("late reveal cannot complete a refunded swap", func(t *testing.T) {
		require.NoError(t, coordinator.Deliver(ctx, revealEvent(secret, "0xlate")))
		got, err := coordinator.GetSwap(ctx, swap.ID)
		require.NoError(t, err)
		require.Equal(t, domain.SwapStatusRefunded, got.Status)
		require.Zero(t, sink.count(ports.NotificationSwapCompleted))
	})
}

// TestExpirySweepAppliesParkedReveal covers the crash window between a swap
// activating and its parked reveal being replayed: the sweep must find the
// durable reveal and complete the swap instead of refunding it.
func TestExpirySweepAppliesParkedReveal(t *testing.T) {
	ctx := context.Background()
	coordinator, repo, sink := newTestCoordinator(t)

	secret, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	params := testSwapParams(secretHash)
	params.TimeLock = time.Now().Add(50 * time.Millisecond)
	swap, err := coordinator.Create(ctx, params)
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))

	_, err = repo.Events().Record(ctx, domain.EventLog{
		ChainID:     "polygon",
		TxHash:      "0xreveal",
		EventType:   domain.EventTypeSecretReveal,
		SecretHash:  secretHash,
		Secret:      secret,
		BlockNumber: 50,
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, coordinator.CheckExpiry(ctx, time.Now().Add(time.Hour)))

	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusCompleted, got.Status)
	require.Empty(t, got.RefundTxHash)
	require.Equal(t, secret, got.Secret)
	require.Equal(t, 1, sink.count(ports.NotificationSwapCompleted))
}

func TestRefundBeforeExpiryDropped(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))

	ev := ports.RawEvent{
		ChainID:    "ethereum",
		TxHash:     "0xearly",
		Type:       domain.EventTypeRefund,
		SecretHash: secretHash,
		BlockTime:  time.Now(),
	}
	require.NoError(t, coordinator.Deliver(ctx, ev))

	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusActive, got.Status)
	require.Empty(t, got.RefundTxHash)
}

func TestCompletionBeatsExpiry(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	secret, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	params := testSwapParams(secretHash)
	params.TimeLock = time.Now().Add(50 * time.Millisecond)
	swap, err := coordinator.Create(ctx, params)
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))
	require.NoError(t, coordinator.Deliver(ctx, revealEvent(secret, "0xreveal")))

	// The sweep re-reads under the lock and must find the completion.
	require.NoError(t, coordinator.CheckExpiry(ctx, params.TimeLock.Add(time.Minute)))

	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusCompleted, got.Status)
}

// TestRevealVsExpiryExclusive races a reveal against the expiry sweep. The
// per-swap lock must yield exactly one terminal state: a completed swap never
// carries a refund, a refunded one never carries a secret.
func TestRevealVsExpiryExclusive(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		coordinator, _, sink := newTestCoordinator(t)

		secret, secretHash, err := htlc.NewSecret()
		require.NoError(t, err)
		params := testSwapParams(secretHash)
		params.TimeLock = time.Now().Add(10 * time.Millisecond)
		swap, err := coordinator.Create(ctx, params)
		require.NoError(t, err)
		require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			require.NoError(t, coordinator.Deliver(ctx, revealEvent(secret, "0xreveal")))
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, coordinator.CheckExpiry(ctx, time.Now().Add(time.Hour)))
		}()
		wg.Wait()

		got, err := coordinator.GetSwap(ctx, swap.ID)
		require.NoError(t, err)
		switch got.Status {
		case domain.SwapStatusCompleted:
			require.Empty(t, got.RefundTxHash)
			require.Equal(t, secret, got.Secret)
			require.Equal(t, 1, sink.count(ports.NotificationSwapCompleted))
		case domain.SwapStatusRefunded:
			require.Empty(t, got.Secret)
			require.Zero(t, sink.count(ports.NotificationSwapCompleted))
		default:
			require.Failf(t, "non-terminal state", "status %s", got.Status)
		}
	}
}

func TestMarkFailed(t *testing.T) {
	ctx := context.Background()
	coordinator, _, sink := newTestCoordinator(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)

	require.NoError(t, coordinator.MarkFailed(ctx, swap.ID, "resolver gone"))
	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusFailed, got.Status)
	require.Equal(t, "resolver gone", got.Substatus)
	require.Equal(t, 1, sink.count(ports.NotificationSwapFailed))

	err = coordinator.MarkFailed(ctx, swap.ID, "again")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestNoteRetry(t *testing.T) {
	ctx := context.Background()
	coordinator, _, sink := newTestCoordinator(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	params := testSwapParams(secretHash)
	params.MaxRetries = 2
	swap, err := coordinator.Create(ctx, params)
	require.NoError(t, err)

	cause := context.DeadlineExceeded
	require.NoError(t, coordinator.NoteRetry(ctx, swap.ID, cause))
	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.RetryCount)
	require.Equal(t, domain.SwapStatusPending, got.Status)

	require.NoError(t, coordinator.NoteRetry(ctx, swap.ID, cause))
	got, err = coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStatusFailed, got.Status)
	require.Equal(t, 1, sink.count(ports.NotificationSwapFailed))
}

func TestAuctionFill(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	swap, err := coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))

	order, err := coordinator.CreateAuction(ctx, CreateAuctionParams{
		Seller:     "0xmaker",
		StartPrice: decimal.NewFromInt(10),
		EndPrice:   decimal.NewFromInt(4),
		Duration:   60 * time.Second,
		SecretHash: secretHash,
	})
	require.NoError(t, err)

	// The fill is priced at its block timestamp, halfway down the decay.
	ev := ports.RawEvent{
		ChainID:    "polygon",
		TxHash:     "0xfill",
		Type:       domain.EventTypeAuctionFill,
		SecretHash: secretHash,
		BlockTime:  order.CreatedAt.Add(30 * time.Second),
	}
	require.NoError(t, coordinator.Deliver(ctx, ev))

	got, err := coordinator.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, "0xfill", got.TargetTxHash)
	require.Contains(t, got.Substatus, "auction filled at 7")

	t.Run("invalid schedule rejected", func(t *testing.T) {
		_, otherHash, err := htlc.NewSecret()
		require.NoError(t, err)
		_, err = coordinator.CreateAuction(ctx, CreateAuctionParams{
			StartPrice: decimal.NewFromInt(4),
			EndPrice:   decimal.NewFromInt(10),
			Duration:   60 * time.Second,
			SecretHash: otherHash,
		})
		require.ErrorIs(t, err, domain.ErrInvalidParameters)
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	coordinator, _, _ := newTestCoordinator(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)
	_, err = coordinator.Create(ctx, testSwapParams(secretHash))
	require.NoError(t, err)
	require.NoError(t, coordinator.Deliver(ctx, lockEvent(secretHash, "0xlock")))

	stats, err := coordinator.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ActiveSwaps)
	require.Equal(t, int64(1), stats.ProcessedEvents)
}
