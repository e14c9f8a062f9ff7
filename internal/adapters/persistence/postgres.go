package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepipe/scorepipe/internal/domain/model"
)

// PostgresStore implements Store backed by PostgreSQL.
//
// Schema expected:
//
//	CREATE TABLE events (
//	    id            TEXT PRIMARY KEY,
//	    type          TEXT NOT NULL,
//	    tournament_id TEXT NOT NULL DEFAULT '',
//	    match_id      TEXT NOT NULL DEFAULT '',
//	    athlete_id    TEXT NOT NULL DEFAULT '',
//	    fields        JSONB NOT NULL DEFAULT '{}',
//	    raw           BYTEA NOT NULL,
//	    seq           BIGINT NOT NULL DEFAULT 0,
//	    status        TEXT NOT NULL,
//	    status_reason TEXT NOT NULL DEFAULT '',
//	    received_at   TIMESTAMPTZ NOT NULL,
//	    source_node   TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX events_match_idx ON events (match_id, received_at);
//
//	CREATE TABLE recognition_history (
//	    event_id    TEXT NOT NULL,
//	    prior_state TEXT NOT NULL,
//	    new_state   TEXT NOT NULL,
//	    reason      TEXT NOT NULL DEFAULT '',
//	    changed_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX recognition_history_event_idx ON recognition_history (event_id, changed_at);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store connected to the given DSN.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Connection pool configuration
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// UpsertEvent writes an event keyed by its ID. On conflict the row is replaced
// except for the original recognition status, which stays immutable.
func (s *PostgresStore) UpsertEvent(ctx context.Context, e model.DecodedEvent) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode event fields: %w", err)
	}

	query := `
		INSERT INTO events (id, type, tournament_id, match_id, athlete_id, fields, raw, seq, status, status_reason, received_at, source_node)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			tournament_id = EXCLUDED.tournament_id,
			match_id = EXCLUDED.match_id,
			athlete_id = EXCLUDED.athlete_id,
			fields = EXCLUDED.fields,
			raw = EXCLUDED.raw,
			seq = EXCLUDED.seq,
			received_at = EXCLUDED.received_at,
			source_node = EXCLUDED.source_node
	`

	_, err = s.pool.Exec(ctx, query,
		e.ID, string(e.Type), e.TournamentID, e.MatchID, e.AthleteID,
		fields, e.Raw, int64(e.Seq), string(e.Status), e.StatusReason,
		e.ReceivedAt, e.SourceNode,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}

	return nil
}

// RecordRecognitionChange appends a history entry.
func (s *PostgresStore) RecordRecognitionChange(ctx context.Context, entry model.RecognitionHistoryEntry) error {
	query := `
		INSERT INTO recognition_history (event_id, prior_state, new_state, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		entry.EventID, string(entry.PriorState), string(entry.NewState),
		entry.Reason, entry.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record recognition change: %w", err)
	}

	return nil
}

// QueryByMatch returns the events stored for a match ordered by receive time.
func (s *PostgresStore) QueryByMatch(ctx context.Context, matchID string) ([]model.DecodedEvent, error) {
	query := `
		SELECT id, type, tournament_id, match_id, athlete_id, fields, raw, seq, status, status_reason, received_at, source_node
		FROM events
		WHERE match_id = $1
		ORDER BY received_at ASC
	`

	rows, err := s.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []model.DecodedEvent{}
	for rows.Next() {
		var (
			e         model.DecodedEvent
			eventType string
			status    string
			fields    []byte
			seq       int64
		)
		if err := rows.Scan(
			&e.ID, &eventType, &e.TournamentID, &e.MatchID, &e.AthleteID,
			&fields, &e.Raw, &seq, &status, &e.StatusReason,
			&e.ReceivedAt, &e.SourceNode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = model.EventType(eventType)
		e.Status = model.RecognitionStatus(status)
		e.Seq = uint64(seq)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode event fields: %w", err)
			}
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

// RecognitionHistory returns the history entries for an event, oldest first.
func (s *PostgresStore) RecognitionHistory(ctx context.Context, eventID string) ([]model.RecognitionHistoryEntry, error) {
	query := `
		SELECT event_id, prior_state, new_state, reason, changed_at
		FROM recognition_history
		WHERE event_id = $1
		ORDER BY changed_at ASC
	`

	rows, err := s.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recognition history: %w", err)
	}
	defer rows.Close()

	entries := []model.RecognitionHistoryEntry{}
	for rows.Next() {
		var (
			entry model.RecognitionHistoryEntry
			prior string
			next  string
		)
		if err := rows.Scan(&entry.EventID, &prior, &next, &entry.Reason, &entry.At); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.PriorState = model.RecognitionStatus(prior)
		entry.NewState = model.RecognitionStatus(next)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}

// Count returns the number of events stored. Errors degrade to zero; callers
// use this for stats reporting only.
func (s *PostgresStore) Count(ctx context.Context) int {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0
	}
	return count
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
