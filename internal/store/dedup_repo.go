// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// Outcome records how a run for an inbound message ended.
type Outcome string

const (
	OutcomeReplied Outcome = "replied"
	OutcomeNoReply Outcome = "no_reply"
	OutcomeError   Outcome = "error"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	ChatID      string     `json:"chat_id"`
	MessageID   string     `json:"message_id"`
	SenderID    string     `json:"sender_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	Outcome     Outcome    `json:"outcome,omitempty"`
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// IsDuplicate checks if a message has already been recorded.
	IsDuplicate(ctx context.Context, chatID, messageID string) (bool, error)

	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, chatID, messageID, senderID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp and run outcome for a message.
	MarkProcessed(ctx context.Context, chatID, messageID string, outcome Outcome) error

	// Get returns the record for a message, or nil when unknown.
	Get(ctx context.Context, chatID, messageID string) (*DedupRecord, error)

	Close() error
}
