package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/crossfusion/swapd/internal/core/domain"
	"github.com/crossfusion/swapd/internal/core/ports"
	"github.com/crossfusion/swapd/pkg/dutch"
	"github.com/crossfusion/swapd/pkg/htlc"
)

const (
	defaultMaxRetries = 3
	defaultQueueSize  = 256
	publishTimeout    = 5 * time.Second
)

// CreateSwapParams are the caller-supplied fields for a new swap.
type CreateSwapParams struct {
	ID      string // optional, generated when empty
	OrderID string
	Maker   string
	Taker   string

	MakingAmount decimal.Decimal
	TakingAmount decimal.Decimal
	MakingToken  string
	TakingToken  string

	SourceChain    string
	TargetChain    string
	SourceContract string
	TargetContract string

	SecretHash string
	TimeLock   time.Time
	MaxRetries int
}

// CreateAuctionParams describe a Dutch auction decay schedule tied to a
// swap by secret hash.
type CreateAuctionParams struct {
	ID             string
	Seller         string
	StartPrice     decimal.Decimal
	EndPrice       decimal.Decimal
	Duration       time.Duration
	SecretHash     string
	EscrowContract string
}

// Stats is the coordinator's operational projection.
type Stats struct {
	ActiveSwaps     int64 `json:"activeSwaps"`
	ProcessedEvents int64 `json:"processedEvents"`
	Errors          int64 `json:"errors"`
}

type envelope struct {
	ev   ports.RawEvent
	done chan error
}

// Coordinator is the swap state machine. It consumes normalized events from
// the event monitor through a bounded queue, applies transitions under a
// per-swap lock and persists before notifying. All errors inside one swap's
// transition are contained to that swap.
type Coordinator struct {
	repo     ports.RepoManager
	locker   ports.SwapLocker
	notifier ports.NotificationSink

	queue chan envelope

	processedEvents atomic.Int64
	errorCount      atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewCoordinator(
	repo ports.RepoManager, locker ports.SwapLocker, notifier ports.NotificationSink,
	queueSize int,
) *Coordinator {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Coordinator{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		queue:    make(chan envelope, queueSize),
	}
}

// Start launches the event consumer. Events are pulled explicitly from the
// queue and applied strictly in arrival order.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-c.queue:
					env.done <- c.process(ctx, env.ev)
				}
			}
		}()
	})
}

func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

// Deliver hands one normalized event to the coordinator and waits for it to
// be applied. The bounded queue provides backpressure to the monitor; the
// returned error signals the caller to redeliver (at-least-once), which is
// safe because application is idempotent.
func (c *Coordinator) Deliver(ctx context.Context, ev ports.RawEvent) error {
	env := envelope{ev: ev, done: make(chan error, 1)}
	select {
	case c.queue <- env:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of events waiting to be applied.
func (c *Coordinator) QueueDepth() int {
	return len(c.queue)
}

// process applies one event and records the outcome on its event log row.
// Integrity violations are logged and dropped without error: redelivering a
// malformed or mismatched event can never make it valid. A deferred reveal
// keeps its row unprocessed so activation can replay it from durable state,
// even across a restart.
func (c *Coordinator) process(ctx context.Context, ev ports.RawEvent) error {
	swapID, deferred, err := c.apply(ctx, ev)
	if err != nil {
		c.errorCount.Add(1)
		// Leave the event log row unprocessed so redelivery retries it.
		return err
	}
	if deferred {
		return nil
	}

	c.processedEvents.Add(1)
	if markErr := c.repo.Events().MarkProcessed(
		ctx, ev.ChainID, ev.TxHash, ev.LogIndex, swapID, "",
	); markErr != nil && !errors.Is(markErr, domain.ErrEventNotFound) {
		c.errorCount.Add(1)
		return fmt.Errorf("failed to mark event %s/%s processed: %w", ev.ChainID, ev.TxHash, markErr)
	}
	return nil
}

func (c *Coordinator) apply(ctx context.Context, ev ports.RawEvent) (swapID string, deferred bool, err error) {
	if err := ev.Validate(); err != nil {
		log.WithError(err).Warn("dropping malformed event")
		return "", false, nil
	}

	switch ev.Type {
	case domain.EventTypeSourceLock:
		swapID, err = c.observeSourceLock(ctx, ev)
	case domain.EventTypeTargetLock:
		swapID, err = c.observeTargetLock(ctx, ev)
	case domain.EventTypeSecretReveal:
		return c.observeReveal(ctx, ev)
	case domain.EventTypeRefund:
		swapID, err = c.observeRefund(ctx, ev)
	case domain.EventTypeAuctionFill:
		swapID, err = c.observeAuctionFill(ctx, ev)
	default:
		log.WithField("type", ev.Type).Warn("dropping event of unknown type")
	}
	return swapID, false, err
}

// Create validates the parameters and inserts a new swap in pending state.
func (c *Coordinator) Create(ctx context.Context, params CreateSwapParams) (*domain.Swap, error) {
	if err := validateCreate(params); err != nil {
		return nil, err
	}

	secretHash := normalizeHash(params.SecretHash)
	if _, err := c.repo.Swaps().GetBySecretHash(ctx, secretHash); err == nil {
		return nil, domain.ErrDuplicateSecretHash
	} else if !errors.Is(err, domain.ErrSwapNotFound) {
		return nil, err
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	swap := domain.Swap{
		ID:             id,
		OrderID:        params.OrderID,
		Maker:          params.Maker,
		Taker:          params.Taker,
		MakingAmount:   params.MakingAmount,
		TakingAmount:   params.TakingAmount,
		MakingToken:    params.MakingToken,
		TakingToken:    params.TakingToken,
		SourceChain:    params.SourceChain,
		TargetChain:    params.TargetChain,
		SourceContract: params.SourceContract,
		TargetContract: params.TargetContract,
		SecretHash:     secretHash,
		TimeLock:       params.TimeLock,
		Status:         domain.SwapStatusPending,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      params.TimeLock,
	}

	if err := c.repo.Swaps().Add(ctx, swap); err != nil {
		return nil, err
	}

	c.publish(ctx, ports.NotificationSwapCreated, swap, "")
	log.WithFields(log.Fields{
		"swap": swap.ID, "secretHash": swap.SecretHash,
	}).Info("swap created")
	return &swap, nil
}

// CreateAuction registers a Dutch auction decay schedule. The schedule is
// validated by pricing its start point; the price itself is never stored.
func (c *Coordinator) CreateAuction(ctx context.Context, params CreateAuctionParams) (*domain.AuctionOrder, error) {
	if _, err := dutch.Price(params.StartPrice, params.EndPrice, params.Duration, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	if !isHash(normalizeHash(params.SecretHash)) {
		return nil, fmt.Errorf("%w: malformed secret hash", domain.ErrInvalidParameters)
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	order := domain.AuctionOrder{
		ID:             id,
		Seller:         params.Seller,
		StartPrice:     params.StartPrice,
		EndPrice:       params.EndPrice,
		Duration:       params.Duration,
		SecretHash:     normalizeHash(params.SecretHash),
		EscrowContract: params.EscrowContract,
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.repo.Auctions().Add(ctx, order); err != nil {
		return nil, err
	}
	return &order, nil
}

// observeSourceLock moves a pending swap to active once its source escrow
// is confirmed. Already active or later swaps are left untouched.
func (c *Coordinator) observeSourceLock(ctx context.Context, ev ports.RawEvent) (string, error) {
	swap, err := c.repo.Swaps().GetBySecretHash(ctx, normalizeHash(ev.SecretHash))
	if err != nil {
		if errors.Is(err, domain.ErrSwapNotFound) {
			log.WithField("secretHash", ev.SecretHash).Warn("lock event does not match any swap, dropping")
			return "", nil
		}
		return "", err
	}

	release, err := c.locker.Acquire(ctx, swap.ID)
	if err != nil {
		return swap.ID, fmt.Errorf("failed to lock swap %s: %w", swap.ID, err)
	}
	defer release()

	swap, err = c.repo.Swaps().Get(ctx, swap.ID)
	if err != nil {
		return "", err
	}

	if swap.CanTransitionTo(domain.SwapStatusActive) {
		prev := swap.Status
		swap.Status = domain.SwapStatusActive
		swap.SourceTxHash = ev.TxHash
		swap.Substatus = "source escrow confirmed"
		if err := c.persistLocked(ctx, swap); err != nil {
			return swap.ID, err
		}
		c.publish(ctx, ports.NotificationSwapStatusChanged, *swap, prev)
		log.WithFields(log.Fields{"swap": swap.ID, "tx": ev.TxHash}).Info("swap activated")
	}

	// A reveal observed before activation was parked in the event log;
	// replay it now that the guard condition holds. Running this for
	// already-active swaps too makes a redelivered lock event retry a
	// replay that previously failed.
	if swap.Status == domain.SwapStatusActive {
		if err := c.drainReveal(ctx, swap); err != nil {
			return swap.ID, err
		}
	}
	return swap.ID, nil
}

// observeTargetLock records the resolver's escrow on the target chain. It
// does not change the lifecycle status.
func (c *Coordinator) observeTargetLock(ctx context.Context, ev ports.RawEvent) (string, error) {
	swap, err := c.repo.Swaps().GetBySecretHash(ctx, normalizeHash(ev.SecretHash))
	if err != nil {
		if errors.Is(err, domain.ErrSwapNotFound) {
			log.WithField("secretHash", ev.SecretHash).Warn("target lock does not match any swap, dropping")
			return "", nil
		}
		return "", err
	}

	release, err := c.locker.Acquire(ctx, swap.ID)
	if err != nil {
		return swap.ID, fmt.Errorf("failed to lock swap %s: %w", swap.ID, err)
	}
	defer release()

	swap, err = c.repo.Swaps().Get(ctx, swap.ID)
	if err != nil {
		return "", err
	}
	if swap.Status.IsTerminal() || swap.TargetTxHash != "" {
		return swap.ID, nil
	}

	swap.TargetTxHash = ev.TxHash
	swap.Substatus = "target escrow confirmed"
	if err := c.persistLocked(ctx, swap); err != nil {
		return swap.ID, err
	}
	return swap.ID, nil
}

// observeReveal handles a secret observed on either chain. The hash is
// always recomputed from the revealed secret; a mismatch is an integrity
// violation and never authorizes release. A reveal arriving before its swap
// is active is parked durably and reports deferred, so its event log row
// stays unprocessed until activation replays it.
func (c *Coordinator) observeReveal(ctx context.Context, ev ports.RawEvent) (string, bool, error) {
	recomputed, err := htlc.HashSecret(ev.Secret)
	if err != nil {
		log.WithError(err).Warn("reveal carries undecodable secret, dropping")
		return "", false, nil
	}

	swap, err := c.repo.Swaps().GetBySecretHash(ctx, recomputed)
	if err != nil {
		if errors.Is(err, domain.ErrSwapNotFound) {
			// The swap may not be visible yet; park the reveal until a
			// matching swap activates.
			return "", true, c.parkReveal(ctx, recomputed, ev)
		}
		return "", false, err
	}

	release, err := c.locker.Acquire(ctx, swap.ID)
	if err != nil {
		return swap.ID, false, fmt.Errorf("failed to lock swap %s: %w", swap.ID, err)
	}
	defer release()

	swap, err = c.repo.Swaps().Get(ctx, swap.ID)
	if err != nil {
		return "", false, err
	}

	switch swap.Status {
	case domain.SwapStatusCompleted:
		return swap.ID, false, nil // duplicate reveal, no-op
	case domain.SwapStatusPending:
		// Reveal raced ahead of the source lock confirmation: park it,
		// activation will replay it.
		return swap.ID, true, c.parkReveal(ctx, recomputed, ev)
	case domain.SwapStatusActive:
		return swap.ID, false, c.completeLocked(ctx, swap, ev)
	default:
		log.WithFields(log.Fields{
			"swap": swap.ID, "status": swap.Status,
		}).Warn("reveal observed for terminal swap, dropping")
		return swap.ID, false, nil
	}
}

// parkReveal records the reveal in the event log keyed by the recomputed
// secret hash, leaving it unprocessed. The row survives restarts, unlike any
// in-memory buffer, so a reveal can never be lost between being observed and
// its swap activating.
func (c *Coordinator) parkReveal(ctx context.Context, secretHash string, ev ports.RawEvent) error {
	row := domain.EventLog{
		ChainID:     ev.ChainID,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		EventType:   domain.EventTypeSecretReveal,
		SecretHash:  secretHash,
		Secret:      strings.TrimPrefix(ev.Secret, "0x"),
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.BlockTime,
	}
	if _, err := c.repo.Events().Record(ctx, row); err != nil {
		return fmt.Errorf("failed to park reveal %s: %w", row.DedupKey(), err)
	}
	return nil
}

// drainReveal replays parked reveals for the swap, marking each row
// processed as it goes, until one completes the swap or none remain. A row
// whose secret does not verify is marked with the mismatch so it cannot
// shadow a genuine reveal behind it. The caller holds the per-swap lock.
func (c *Coordinator) drainReveal(ctx context.Context, swap *domain.Swap) error {
	for {
		row, err := c.repo.Events().FindUnprocessedReveal(ctx, swap.SecretHash)
		if errors.Is(err, domain.ErrEventNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		ev := ports.RawEvent{
			ChainID:     row.ChainID,
			TxHash:      row.TxHash,
			LogIndex:    row.LogIndex,
			Type:        domain.EventTypeSecretReveal,
			Secret:      row.Secret,
			BlockNumber: row.BlockNumber,
			BlockTime:   row.Timestamp,
		}
		if err := c.completeLocked(ctx, swap, ev); err != nil {
			return err
		}

		errMsg := ""
		if swap.Status != domain.SwapStatusCompleted {
			errMsg = "revealed secret does not match committed hash"
		}
		if err := c.repo.Events().MarkProcessed(
			ctx, row.ChainID, row.TxHash, row.LogIndex, swap.ID, errMsg,
		); err != nil && !errors.Is(err, domain.ErrEventNotFound) {
			return err
		}
		if swap.Status == domain.SwapStatusCompleted {
			return nil
		}
	}
}

// completeLocked performs the exclusive active -> completed transition. The
// caller holds the per-swap lock and has verified the swap is active.
func (c *Coordinator) completeLocked(ctx context.Context, swap *domain.Swap, ev ports.RawEvent) error {
	if !swap.CanTransitionTo(domain.SwapStatusCompleted) {
		return nil
	}
	if !htlc.VerifySecret(ev.Secret, swap.SecretHash) {
		log.WithFields(log.Fields{
			"swap": swap.ID, "tx": ev.TxHash,
		}).Warn("revealed secret does not match committed hash, dropping")
		return nil
	}

	prev := swap.Status
	swap.Status = domain.SwapStatusCompleted
	swap.Secret = strings.TrimPrefix(ev.Secret, "0x")
	swap.Substatus = fmt.Sprintf("secret revealed on %s", ev.ChainID)
	if ev.ChainID == swap.TargetChain && swap.TargetTxHash == "" {
		swap.TargetTxHash = ev.TxHash
	}
	if err := c.persistLocked(ctx, swap); err != nil {
		return err
	}
	c.publish(ctx, ports.NotificationSwapCompleted, *swap, prev)
	log.WithFields(log.Fields{"swap": swap.ID, "tx": ev.TxHash}).Info("swap completed")
	return nil
}

// observeRefund records a confirmed on-chain refund. Completion always wins:
// a refund event for a completed swap is an integrity violation and is
// dropped.
func (c *Coordinator) observeRefund(ctx context.Context, ev ports.RawEvent) (string, error) {
	swap, err := c.repo.Swaps().GetBySecretHash(ctx, normalizeHash(ev.SecretHash))
	if err != nil {
		if errors.Is(err, domain.ErrSwapNotFound) {
			log.WithField("secretHash", ev.SecretHash).Warn("refund event does not match any swap, dropping")
			return "", nil
		}
		return "", err
	}

	release, err := c.locker.Acquire(ctx, swap.ID)
	if err != nil {
		return swap.ID, fmt.Errorf("failed to lock swap %s: %w", swap.ID, err)
	}
	defer release()

	swap, err = c.repo.Swaps().Get(ctx, swap.ID)
	if err != nil {
		return "", err
	}

	switch swap.Status {
	case domain.SwapStatusRefunded:
		if swap.RefundTxHash == "" {
			swap.RefundTxHash = ev.TxHash
			if err := c.persistLocked(ctx, swap); err != nil {
				return swap.ID, err
			}
		}
		return swap.ID, nil
	case domain.SwapStatusActive:
		if !swap.Expired(ev.BlockTime) {
			log.WithFields(log.Fields{
				"swap": swap.ID, "tx": ev.TxHash,
			}).Warn("refund observed before timelock expiry, dropping")
			return swap.ID, nil
		}
		prev := swap.Status
		swap.Status = domain.SwapStatusRefunded
		swap.RefundTxHash = ev.TxHash
		swap.Substatus = "refund confirmed on-chain"
		if err := c.persistLocked(ctx, swap); err != nil {
			return swap.ID, err
		}
		c.publish(ctx, ports.NotificationSwapStatusChanged, *swap, prev)
		log.WithFields(log.Fields{"swap": swap.ID, "tx": ev.TxHash}).Info("swap refunded")
		return swap.ID, nil
	default:
		log.WithFields(log.Fields{
			"swap": swap.ID, "status": swap.Status,
		}).Warn("refund event for swap outside refundable state, dropping")
		return swap.ID, nil
	}
}

// observeAuctionFill joins a Dutch auction settlement to its swap by secret
// hash and records the clearing price computed at the fill event's block
// timestamp.
func (c *Coordinator) observeAuctionFill(ctx context.Context, ev ports.RawEvent) (string, error) {
	order, err := c.repo.Auctions().GetBySecretHash(ctx, normalizeHash(ev.SecretHash))
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			log.WithField("secretHash", ev.SecretHash).Warn("auction fill does not match any order, dropping")
			return "", nil
		}
		return "", err
	}

	price, err := dutch.PriceAt(order.StartPrice, order.EndPrice, order.Duration, order.CreatedAt, ev.BlockTime)
	if err != nil {
		log.WithError(err).WithField("order", order.ID).Warn("unpriceable auction fill, dropping")
		return "", nil
	}

	swap, err := c.repo.Swaps().GetBySecretHash(ctx, order.SecretHash)
	if err != nil {
		if errors.Is(err, domain.ErrSwapNotFound) {
			log.WithField("order", order.ID).Warn("auction fill without matching swap, dropping")
			return "", nil
		}
		return "", err
	}

	release, err := c.locker.Acquire(ctx, swap.ID)
	if err != nil {
		return swap.ID, fmt.Errorf("failed to lock swap %s: %w", swap.ID, err)
	}
	defer release()

	swap, err = c.repo.Swaps().Get(ctx, swap.ID)
	if err != nil {
		return "", err
	}
	if swap.Status.IsTerminal() {
		return swap.ID, nil
	}

	if swap.TargetTxHash == "" {
		swap.TargetTxHash = ev.TxHash
	}
	swap.Substatus = fmt.Sprintf("auction filled at %s", price)
	if err := c.persistLocked(ctx, swap); err != nil {
		return swap.ID, err
	}
	log.WithFields(log.Fields{
		"swap": swap.ID, "order": order.ID, "price": price,
	}).Info("auction fill recorded")
	return swap.ID, nil
}

// CheckExpiry moves every active swap past its timelock to refunded. A swap
// completing concurrently wins: the persisted status is re-read under the
// per-swap lock before acting. This is the only cancellation path.
func (c *Coordinator) CheckExpiry(ctx context.Context, now time.Time) error {
	expired, err := c.repo.Swaps().ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list expired swaps: %w", err)
	}

	for i := range expired {
		if err := c.expireOne(ctx, expired[i].ID, now); err != nil {
			// One swap's failure must not block the rest of the sweep.
			c.errorCount.Add(1)
			log.WithError(err).WithField("swap", expired[i].ID).Error("expiry check failed")
		}
	}
	return nil
}

func (c *Coordinator) expireOne(ctx context.Context, swapID string, now time.Time) error {
	release, err := c.locker.Acquire(ctx, swapID)
	if err != nil {
		return fmt.Errorf("failed to lock swap %s: %w", swapID, err)
	}
	defer release()

	swap, err := c.repo.Swaps().Get(ctx, swapID)
	if err != nil {
		return err
	}
	if !swap.CanTransitionTo(domain.SwapStatusRefunded) || !swap.Expired(now) {
		return nil
	}

	// A durably parked reveal outranks expiry: if one exists it completes
	// the swap here instead of letting it refund.
	if err := c.drainReveal(ctx, swap); err != nil {
		return err
	}
	if swap.Status == domain.SwapStatusCompleted {
		return nil
	}

	prev := swap.Status
	swap.Status = domain.SwapStatusRefunded
	swap.Substatus = "timelock expired without completion"
	if err := c.persistLocked(ctx, swap); err != nil {
		return err
	}
	c.publish(ctx, ports.NotificationSwapStatusChanged, *swap, prev)
	log.WithField("swap", swap.ID).Info("swap refunded on expiry")
	return nil
}

// MarkFailed forces a non-terminal swap to failed. Used for unrecoverable
// conditions requiring manual remediation.
func (c *Coordinator) MarkFailed(ctx context.Context, swapID, reason string) error {
	release, err := c.locker.Acquire(ctx, swapID)
	if err != nil {
		return fmt.Errorf("failed to lock swap %s: %w", swapID, err)
	}
	defer release()

	swap, err := c.repo.Swaps().Get(ctx, swapID)
	if err != nil {
		return err
	}
	if !swap.CanTransitionTo(domain.SwapStatusFailed) {
		return fmt.Errorf("%w: swap %s is already %s", domain.ErrInvalidTransition, swapID, swap.Status)
	}

	prev := swap.Status
	swap.Status = domain.SwapStatusFailed
	swap.Substatus = reason
	if err := c.persistLocked(ctx, swap); err != nil {
		return err
	}
	c.publish(ctx, ports.NotificationSwapFailed, *swap, prev)
	log.WithFields(log.Fields{"swap": swap.ID, "reason": reason}).Warn("swap marked failed")
	return nil
}

// NoteRetry bumps the retry bookkeeping after a transient settlement
// failure. Once the budget is exhausted the swap is forced to failed and
// not retried further.
func (c *Coordinator) NoteRetry(ctx context.Context, swapID string, cause error) error {
	release, err := c.locker.Acquire(ctx, swapID)
	if err != nil {
		return fmt.Errorf("failed to lock swap %s: %w", swapID, err)
	}
	defer release()

	swap, err := c.repo.Swaps().Get(ctx, swapID)
	if err != nil {
		return err
	}
	if swap.Status.IsTerminal() {
		return nil
	}

	swap.RetryCount++
	swap.LastRetryAt = time.Now().UTC()
	swap.Substatus = fmt.Sprintf("retry %d/%d: %v", swap.RetryCount, swap.MaxRetries, cause)

	if swap.RetryCount >= swap.MaxRetries {
		prev := swap.Status
		swap.Status = domain.SwapStatusFailed
		swap.Substatus = fmt.Sprintf("retries exhausted: %v", cause)
		if err := c.persistLocked(ctx, swap); err != nil {
			return err
		}
		c.publish(ctx, ports.NotificationSwapFailed, *swap, prev)
		log.WithField("swap", swap.ID).Warn("swap failed after exhausting retries")
		return nil
	}
	return c.persistLocked(ctx, swap)
}

// GetSwap returns the last durably persisted state of a swap.
func (c *Coordinator) GetSwap(ctx context.Context, swapID string) (*domain.Swap, error) {
	return c.repo.Swaps().Get(ctx, swapID)
}

// ListSwaps pages through swaps matching the filter.
func (c *Coordinator) ListSwaps(ctx context.Context, filter domain.SwapFilter, page domain.Page) ([]domain.Swap, error) {
	return c.repo.Swaps().List(ctx, filter, page)
}

// Stats reports the coordinator's operational counters.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	active, err := c.repo.Swaps().CountByStatus(ctx, domain.SwapStatusActive)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ActiveSwaps:     active,
		ProcessedEvents: c.processedEvents.Load(),
		Errors:          c.errorCount.Load(),
	}, nil
}

// persistLocked stamps and stores the swap. The caller holds its lock.
func (c *Coordinator) persistLocked(ctx context.Context, swap *domain.Swap) error {
	swap.UpdatedAt = time.Now().UTC()
	if err := c.repo.Swaps().Update(ctx, *swap); err != nil {
		return fmt.Errorf("failed to persist swap %s: %w", swap.ID, err)
	}
	return nil
}

// publish sends a lifecycle notification. Persisted state is authoritative;
// a delivery failure is logged and never rolls back the transition.
func (c *Coordinator) publish(
	ctx context.Context, event ports.NotificationEvent,
	swap domain.Swap, prev domain.SwapStatus,
) {
	if c.notifier == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.notifier.Publish(pubCtx, ports.Notification{
		Event:          event,
		Swap:           swap,
		PreviousStatus: prev,
		At:             time.Now().UTC(),
	}); err != nil {
		c.errorCount.Add(1)
		log.WithError(err).WithFields(log.Fields{
			"swap": swap.ID, "event": event,
		}).Warn("failed to publish notification")
	}
}

func validateCreate(params CreateSwapParams) error {
	if !isHash(normalizeHash(params.SecretHash)) {
		return fmt.Errorf("%w: malformed secret hash", domain.ErrInvalidParameters)
	}
	if params.MakingAmount.Sign() <= 0 || params.TakingAmount.Sign() <= 0 {
		return fmt.Errorf("%w: amounts must be positive", domain.ErrInvalidParameters)
	}
	if params.Maker == "" {
		return fmt.Errorf("%w: missing maker", domain.ErrInvalidParameters)
	}
	if params.SourceChain == "" || params.TargetChain == "" {
		return fmt.Errorf("%w: missing chain ids", domain.ErrInvalidParameters)
	}
	if params.SourceChain == params.TargetChain {
		return fmt.Errorf("%w: source and target chain must differ", domain.ErrInvalidParameters)
	}
	if params.TimeLock.IsZero() || !params.TimeLock.After(time.Now()) {
		return fmt.Errorf("%w: timelock must be in the future", domain.ErrInvalidParameters)
	}
	return nil
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimPrefix(h, "0x"))
}

func isHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
