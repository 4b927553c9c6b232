package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) IsDuplicate(ctx context.Context, chatID, messageID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT message_id FROM inbound_dedup WHERE chat_id = $1 AND message_id = $2`, chatID, messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RecordInbound(ctx context.Context, chatID, messageID, senderID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (chat_id, message_id, sender_id, received_at) VALUES ($1, $2, $3, $4) ON CONFLICT (chat_id, message_id) DO NOTHING`,
		chatID, messageID, senderID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, chatID, messageID string, outcome Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = $1, outcome = $2 WHERE chat_id = $3 AND message_id = $4`,
		time.Now().UTC(), string(outcome), chatID, messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, chatID, messageID string) (*DedupRecord, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, sender_id, received_at, processed_at, outcome FROM inbound_dedup WHERE chat_id = $1 AND message_id = $2`,
		chatID, messageID,
	))
}
