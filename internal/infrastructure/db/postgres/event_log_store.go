package postgresdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crossfusion/swapd/internal/core/domain"
)

type eventLogStore struct {
	pool *Pool
}

func NewEventLogStore(pool *Pool) domain.EventLogRepository {
	return &eventLogStore{pool}
}

func (s *eventLogStore) Record(ctx context.Context, event domain.EventLog) (bool, error) {
	query := `INSERT INTO event_logs (
		chain_id, tx_hash, log_index, swap_id, event_type, secret_hash, secret,
		block_number, ts, processed, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		event.ChainID, event.TxHash, int64(event.LogIndex),
		event.SwapID, string(event.EventType), event.SecretHash, event.Secret,
		int64(event.BlockNumber), event.Timestamp, event.Processed, event.ErrorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *eventLogStore) Get(
	ctx context.Context, chainID, txHash string, logIndex uint,
) (*domain.EventLog, error) {
	query := eventColumns + ` WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3`

	event, err := scanEvent(s.pool.QueryRow(ctx, query, chainID, txHash, int64(logIndex)))
	if isNotFoundError(err) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (s *eventLogStore) FindUnprocessedReveal(
	ctx context.Context, secretHash string,
) (*domain.EventLog, error) {
	query := eventColumns + ` WHERE secret_hash = $1 AND event_type = $2 AND NOT processed
	ORDER BY block_number, log_index LIMIT 1`

	event, err := scanEvent(s.pool.QueryRow(
		ctx, query, secretHash, string(domain.EventTypeSecretReveal),
	))
	if isNotFoundError(err) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unprocessed reveal: %w", err)
	}
	return event, nil
}

func (s *eventLogStore) MarkProcessed(
	ctx context.Context, chainID, txHash string, logIndex uint, swapID, errorMessage string,
) error {
	query := `UPDATE event_logs SET processed = TRUE, swap_id = $4, error_message = $5
	WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3`

	tag, err := s.pool.Exec(ctx, query, chainID, txHash, int64(logIndex), swapID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (s *eventLogStore) Close() {}

const eventColumns = `SELECT chain_id, tx_hash, log_index, swap_id, event_type,
	secret_hash, secret, block_number, ts, processed, error_message
FROM event_logs`

func scanEvent(row pgx.Row) (*domain.EventLog, error) {
	var (
		event     domain.EventLog
		logIdx    int64
		eventType string
	)
	err := row.Scan(
		&event.ChainID, &event.TxHash, &logIdx, &event.SwapID, &eventType,
		&event.SecretHash, &event.Secret,
		&event.BlockNumber, &event.Timestamp, &event.Processed, &event.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	event.LogIndex = uint(logIdx)
	event.EventType = domain.EventType(eventType)
	return &event, nil
}
