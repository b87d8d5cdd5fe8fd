package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/crossfusion/swapd/internal/core/domain"
	"github.com/crossfusion/swapd/internal/core/ports"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 500
	baseBackoff         = time.Second
	maxBackoff          = time.Minute
)

// MonitorStatus is the monitor's operational projection.
type MonitorStatus struct {
	IsRunning  bool              `json:"isRunning"`
	LastSync   map[string]uint64 `json:"lastSync"`
	QueueDepth int               `json:"processingQueueDepth"`
}

// MonitorOptions configure the event monitor.
type MonitorOptions struct {
	PollInterval time.Duration
	// BatchSize bounds the block span fetched per tick, which in turn
	// bounds per-tick memory and RPC cost.
	BatchSize uint64
	// StartBlock optionally pins the initial watermark per chain. Chains
	// without an entry start at the current safe height.
	StartBlock map[string]uint64
}

// Monitor drives one chain adapter per configured chain, advancing a
// per-chain watermark and forwarding deduplicated events to the
// coordinator. Chains are processed independently: one chain's failure
// never stalls another's progress.
type Monitor struct {
	adapters    []ports.ChainAdapter
	repo        ports.RepoManager
	coordinator *Coordinator

	pollInterval time.Duration
	batchSize    uint64
	startBlock   map[string]uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMonitor(
	repo ports.RepoManager, coordinator *Coordinator,
	adapters []ports.ChainAdapter, opts MonitorOptions,
) *Monitor {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	return &Monitor{
		adapters:     adapters,
		repo:         repo,
		coordinator:  coordinator,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		startBlock:   opts.StartBlock,
	}
}

// Start initializes the per-chain sync rows and launches one polling
// goroutine per chain. Within a chain, ticks are strictly sequential.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, adapter := range m.adapters {
		if err := m.initChain(runCtx, adapter); err != nil {
			cancel()
			return fmt.Errorf("failed to init chain %s: %w", adapter.ChainID(), err)
		}
	}

	m.cancel = cancel
	m.running = true
	for _, adapter := range m.adapters {
		m.wg.Add(1)
		go func(adapter ports.ChainAdapter) {
			defer m.wg.Done()
			m.runChain(runCtx, adapter)
		}(adapter)
	}
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// initChain creates the chain's sync row once at startup, leaving an
// existing watermark untouched so a restart resumes where it left off.
func (m *Monitor) initChain(ctx context.Context, adapter ports.ChainAdapter) error {
	chainID := adapter.ChainID()
	if _, err := m.repo.BlockSync().Get(ctx, chainID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrChainNotFound) {
		return err
	}

	start, pinned := m.startBlock[chainID]
	if !pinned {
		height, err := adapter.CurrentHeight(ctx)
		if err != nil {
			return fmt.Errorf("failed to read height of %s: %w", chainID, err)
		}
		confirmations := adapter.ConfirmationsRequired()
		if height > confirmations {
			start = height - confirmations
		}
	}

	return m.repo.BlockSync().Upsert(ctx, domain.BlockSyncStatus{
		ChainID:         chainID,
		LastSyncedBlock: start,
		Confirmations:   adapter.ConfirmationsRequired(),
		BatchSize:       m.batchSize,
		IsActive:        true,
		UpdatedAt:       time.Now().UTC(),
	})
}

// runChain polls one chain until the context is cancelled, backing off
// exponentially (capped) on transient failures and draining ahead without
// delay while batches come back full.
func (m *Monitor) runChain(ctx context.Context, adapter ports.ChainAdapter) {
	chainID := adapter.ChainID()
	backoff := time.Duration(0)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		more, err := m.tick(ctx, adapter)
		switch {
		case err == nil && more:
			backoff = 0
			timer.Reset(0)
		case err == nil:
			backoff = 0
			timer.Reset(m.pollInterval)
		case errors.Is(err, ports.ErrInvalidRange):
			// Fatal for this chain: it was marked inactive by tick and
			// needs operator intervention. Keep the goroutine alive so a
			// reactivated chain resumes on its own.
			log.WithError(err).WithField("chain", chainID).Error("chain sync halted")
			timer.Reset(m.pollInterval)
		default:
			if backoff == 0 {
				backoff = baseBackoff
			} else if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			log.WithError(err).WithFields(log.Fields{
				"chain": chainID, "backoff": backoff,
			}).Warn("chain sync tick failed, backing off")
			timer.Reset(backoff)
		}
	}
}

// tick runs one sync round for a chain. The watermark only advances after
// every event of the batch has been durably recorded and handed off, so a
// crash mid-batch resumes from the previous watermark and redelivers — the
// coordinator's idempotency absorbs the duplicates.
func (m *Monitor) tick(ctx context.Context, adapter ports.ChainAdapter) (more bool, err error) {
	chainID := adapter.ChainID()

	st, err := m.repo.BlockSync().Get(ctx, chainID)
	if err != nil {
		return false, err
	}
	if !st.IsActive {
		return false, nil
	}

	height, err := adapter.CurrentHeight(ctx)
	if err != nil {
		return false, m.noteChainError(ctx, st, fmt.Errorf("failed to read chain height: %w", err))
	}
	st.CurrentBlock = height

	confirmations := adapter.ConfirmationsRequired()
	if height < confirmations {
		return false, m.saveSync(ctx, st)
	}
	safeHeight := height - confirmations
	if safeHeight <= st.LastSyncedBlock {
		// Nothing confirmed beyond the watermark; never re-scan
		// unconfirmed or already-seen ranges.
		return false, m.saveSync(ctx, st)
	}

	from := st.LastSyncedBlock + 1
	to := min(safeHeight, st.LastSyncedBlock+st.BatchSize)

	events, err := adapter.GetLogs(ctx, from, to)
	if err != nil {
		if errors.Is(err, ports.ErrInvalidRange) {
			// Never silently advance past unexamined blocks: disable the
			// chain and surface the condition.
			st.IsActive = false
			st.ErrorCount++
			if saveErr := m.saveSync(ctx, st); saveErr != nil {
				log.WithError(saveErr).WithField("chain", chainID).Error("failed to persist chain deactivation")
			}
			return false, fmt.Errorf("range [%d, %d] rejected by %s: %w", from, to, chainID, err)
		}
		return false, m.noteChainError(ctx, st, fmt.Errorf("failed to fetch logs [%d, %d]: %w", from, to, err))
	}

	for i := range events {
		if err := m.handleEvent(ctx, &events[i]); err != nil {
			// Abort without advancing: the same range is re-fetched next
			// tick and already-processed events are skipped.
			return false, m.noteChainError(ctx, st, err)
		}
	}

	st.LastSyncedBlock = to
	st.ErrorCount = 0
	if err := m.saveSync(ctx, st); err != nil {
		return false, err
	}
	return to < safeHeight, nil
}

// handleEvent records the event idempotently and hands it to the
// coordinator. Events already applied are skipped; recorded-but-unapplied
// ones are redelivered.
func (m *Monitor) handleEvent(ctx context.Context, ev *ports.RawEvent) error {
	if err := ev.Validate(); err != nil {
		log.WithError(err).Warn("dropping malformed chain event")
		return nil
	}

	row := domain.EventLog{
		ChainID:     ev.ChainID,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		EventType:   ev.Type,
		SecretHash:  ev.SecretHash,
		Secret:      ev.Secret,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.BlockTime,
	}
	inserted, err := m.repo.Events().Record(ctx, row)
	if err != nil {
		return fmt.Errorf("failed to record event %s: %w", row.DedupKey(), err)
	}
	if !inserted {
		existing, err := m.repo.Events().Get(ctx, ev.ChainID, ev.TxHash, ev.LogIndex)
		if err != nil {
			return fmt.Errorf("failed to load event %s: %w", row.DedupKey(), err)
		}
		if existing.Processed {
			return nil
		}
	}

	if err := m.coordinator.Deliver(ctx, *ev); err != nil {
		return fmt.Errorf("failed to deliver event %s: %w", row.DedupKey(), err)
	}
	return nil
}

func (m *Monitor) noteChainError(ctx context.Context, st *domain.BlockSyncStatus, cause error) error {
	st.ErrorCount++
	if err := m.saveSync(ctx, st); err != nil {
		log.WithError(err).WithField("chain", st.ChainID).Error("failed to persist chain error count")
	}
	return cause
}

func (m *Monitor) saveSync(ctx context.Context, st *domain.BlockSyncStatus) error {
	st.UpdatedAt = time.Now().UTC()
	if err := m.repo.BlockSync().Upsert(ctx, *st); err != nil {
		return fmt.Errorf("failed to persist sync status of %s: %w", st.ChainID, err)
	}
	return nil
}

// Status reports whether the monitor runs, each chain's watermark and the
// depth of the coordinator's processing queue.
func (m *Monitor) Status(ctx context.Context) (MonitorStatus, error) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	statuses, err := m.repo.BlockSync().GetAll(ctx)
	if err != nil {
		return MonitorStatus{}, err
	}
	lastSync := make(map[string]uint64, len(statuses))
	for _, st := range statuses {
		lastSync[st.ChainID] = st.LastSyncedBlock
	}
	return MonitorStatus{
		IsRunning:  running,
		LastSync:   lastSync,
		QueueDepth: m.coordinator.QueueDepth(),
	}, nil
}
