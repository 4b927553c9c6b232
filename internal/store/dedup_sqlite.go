package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(ctx context.Context, chatID, messageID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT message_id FROM inbound_dedup WHERE chat_id = ? AND message_id = ?`, chatID, messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(ctx context.Context, chatID, messageID, senderID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (chat_id, message_id, sender_id, received_at) VALUES (?, ?, ?, ?)`,
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

func (s *SQLiteStore) MarkProcessed(ctx context.Context, chatID, messageID string, outcome Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = ?, outcome = ? WHERE chat_id = ? AND message_id = ?`,
		time.Now().UTC(), string(outcome), chatID, messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, chatID, messageID string) (*DedupRecord, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, sender_id, received_at, processed_at, outcome FROM inbound_dedup WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	))
}

// scanRecord scans a DedupRecord from a single row; a missing row yields nil.
func scanRecord(row *sql.Row) (*DedupRecord, error) {
	var rec DedupRecord
	var processedAt sql.NullTime
	var outcome sql.NullString
	err := row.Scan(&rec.ChatID, &rec.MessageID, &rec.SenderID, &rec.ReceivedAt, &processedAt, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan dedup record failed: %w", err)
	}
	if processedAt.Valid {
		rec.ProcessedAt = &processedAt.Time
	}
	rec.Outcome = Outcome(outcome.String)
	return &rec, nil
}
