package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/edirooss/groundstation/internal/domain/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS telemetry_event (
	id       bigserial PRIMARY KEY,
	category text        NOT NULL,
	type     smallint    NOT NULL,
	severity smallint    NOT NULL DEFAULT 0,
	message  jsonb       NOT NULL,
	"time"   timestamptz NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS telemetry_event_time_idx ON telemetry_event ("time" DESC)`,
	`CREATE INDEX IF NOT EXISTS telemetry_event_category_time_idx ON telemetry_event (category, "time" DESC)`,
}

const insertEvent = `
INSERT INTO telemetry_event (category, type, severity, message, "time")
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

// DefaultLimit caps Find when the query sets no limit.
const DefaultLimit = 500

// MaxLimit is the largest limit Find honours.
const MaxLimit = 5000

// Query selects events. Zero fields do not filter.
type Query struct {
	Category string    `json:"category,omitempty"`
	From     time.Time `json:"from,omitempty"` // inclusive
	To       time.Time `json:"to,omitempty"`   // exclusive
	Limit    int       `json:"limit,omitempty"`
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// PostgresStore keeps telemetry events in the telemetry_event table.
type PostgresStore struct {
	log  *zap.Logger
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool for dsn. The pool connects lazily; call
// EnsureSchema to verify connectivity.
func NewPostgresStore(ctx context.Context, log *zap.Logger, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PostgresStore{log: log.Named("telemetry_store"), pool: pool}, nil
}

// EnsureSchema creates the event table and its indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.log.Info("schema ready")
	return nil
}

// Close releases the pool. It gives up waiting when ctx is done.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Add stores one event and returns its id.
func (s *PostgresStore) Add(ctx context.Context, ev domain.Event) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, insertEvent, insertArgs(ev)...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// AddBatch stores events in one round trip.
func (s *PostgresStore) AddBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEvent, insertArgs(ev)...)
	}
	br := s.pool.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// Write implements Writer.
func (s *PostgresStore) Write(ctx context.Context, events []domain.Event) error {
	return s.AddBatch(ctx, events)
}

// Find returns matching events, newest first.
func (s *PostgresStore) Find(ctx context.Context, q Query) ([]domain.Event, error) {
	var from, to *time.Time
	if !q.From.IsZero() {
		t := q.From.UTC()
		from = &t
	}
	if !q.To.IsZero() {
		t := q.To.UTC()
		to = &t
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, category, type, severity, message, "time"
FROM telemetry_event
WHERE ($1 = '' OR category = $1)
  AND ($2::timestamptz IS NULL OR "time" >= $2)
  AND ($3::timestamptz IS NULL OR "time" < $3)
ORDER BY "time" DESC, id DESC
LIMIT $4`, q.Category, from, to, q.limit())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Event, 0)
	for rows.Next() {
		var (
			ev       domain.Event
			typ, sev int16
			msg      []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Category, &typ, &sev, &msg, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.Type(typ)
		ev.Severity = int(sev)
		ev.Value = json.RawMessage(msg)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func insertArgs(ev domain.Event) []any {
	value := ev.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return []any{ev.Category, int16(ev.Type), int16(ev.Severity), value, at.UTC()}
}
