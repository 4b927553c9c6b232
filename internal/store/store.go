// Package store provides storage backends for AckPipe.
//
// The only persisted data is the inbound message log used to make message
// handling idempotent across redeliveries and restarts. Feedback session
// state is deliberately kept in memory.
package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Opts holds configuration options for the store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") || strings.Contains(dsn, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend matching dsn. An empty dsn yields an in-memory store.
func New(dsn string) (DedupRepo, error) {
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// Open applies opts and opens the matching backend.
func Open(opts ...Option) (DedupRepo, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg.DSN)
}

// InMemoryStore keeps the inbound log in a map; contents are lost on restart.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]DedupRecord
}

// Compile-time check that InMemoryStore implements DedupRepo.
var _ DedupRepo = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]DedupRecord)}
}

func dedupKey(chatID, messageID string) string {
	return chatID + "\x00" + messageID
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, chatID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[dedupKey(chatID, messageID)]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, chatID, messageID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(chatID, messageID)
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = DedupRecord{ChatID: chatID, MessageID: messageID, SenderID: senderID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, chatID, messageID string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(chatID, messageID)
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	rec.Outcome = outcome
	s.records[key] = rec
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, chatID, messageID string) (*DedupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[dedupKey(chatID, messageID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) Close() error { return nil }
