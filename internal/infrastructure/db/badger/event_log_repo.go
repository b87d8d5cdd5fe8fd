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

const eventDir = "event"

type eventLogRepository struct {
	store *badgerhold.Store
}

func NewEventLogRepository(baseDir string, logger badger.Logger) (domain.EventLogRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, eventDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log store: %s", err)
	}
	return &eventLogRepository{store}, nil
}

func (r *eventLogRepository) Record(ctx context.Context, event domain.EventLog) (bool, error) {
	data := toEventData(event)
	if err := r.store.Insert(event.DedupKey(), data); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return true, nil
}

func (r *eventLogRepository) Get(
	ctx context.Context, chainID, txHash string, logIndex uint,
) (*domain.EventLog, error) {
	key := (&domain.EventLog{ChainID: chainID, TxHash: txHash, LogIndex: logIndex}).DedupKey()
	var data eventData
	err := r.store.Get(key, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	event := data.toEventLog()
	return &event, nil
}

func (r *eventLogRepository) MarkProcessed(
	ctx context.Context, chainID, txHash string, logIndex uint, swapID, errorMessage string,
) error {
	key := (&domain.EventLog{ChainID: chainID, TxHash: txHash, LogIndex: logIndex}).DedupKey()
	var data eventData
	err := r.store.Get(key, &data)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return domain.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}

	data.Processed = true
	data.SwapID = swapID
	data.ErrorMessage = errorMessage
	return r.store.Update(key, data)
}

func (r *eventLogRepository) FindUnprocessedReveal(
	ctx context.Context, secretHash string,
) (*domain.EventLog, error) {
	var results []eventData
	query := badgerhold.Where("SecretHash").Eq(secretHash).
		And("EventType").Eq(string(domain.EventTypeSecretReveal)).
		And("Processed").Eq(false).
		SortBy("BlockNumber", "LogIndex")
	if err := r.store.Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to find unprocessed reveal: %w", err)
	}
	if len(results) == 0 {
		return nil, domain.ErrEventNotFound
	}
	event := results[0].toEventLog()
	return &event, nil
}

func (r *eventLogRepository) Close() {
	// nolint:all
	r.store.Close()
}

type eventData struct {
	ChainID      string
	TxHash       string
	LogIndex     uint
	SwapID       string
	EventType    string
	SecretHash   string `badgerhold:"index"`
	Secret       string
	BlockNumber  uint64
	Timestamp    int64
	Processed    bool
	ErrorMessage string
}

func toEventData(event domain.EventLog) eventData {
	return eventData{
		ChainID:      event.ChainID,
		TxHash:       event.TxHash,
		LogIndex:     event.LogIndex,
		SwapID:       event.SwapID,
		EventType:    string(event.EventType),
		SecretHash:   event.SecretHash,
		Secret:       event.Secret,
		BlockNumber:  event.BlockNumber,
		Timestamp:    toUnix(event.Timestamp),
		Processed:    event.Processed,
		ErrorMessage: event.ErrorMessage,
	}
}

func (e *eventData) toEventLog() domain.EventLog {
	return domain.EventLog{
		ChainID:      e.ChainID,
		TxHash:       e.TxHash,
		LogIndex:     e.LogIndex,
		SwapID:       e.SwapID,
		EventType:    domain.EventType(e.EventType),
		SecretHash:   e.SecretHash,
		Secret:       e.Secret,
		BlockNumber:  e.BlockNumber,
		Timestamp:    fromUnix(e.Timestamp),
		Processed:    e.Processed,
		ErrorMessage: e.ErrorMessage,
	}
}
