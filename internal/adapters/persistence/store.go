// Package persistence defines the event store interface and errors.
package persistence

import (
	"context"

	"github.com/scorepipe/scorepipe/internal/domain/model"
)

// Store provides durable access to processed events and their recognition
// history. Implementations must be safe for concurrent use: the stream
// processor calls into the store from multiple workers.
type Store interface {
	// UpsertEvent writes an event keyed by its ID. Writing the same ID again
	// replaces the stored row; the recognition status of the original write
	// is preserved.
	UpsertEvent(ctx context.Context, e model.DecodedEvent) error

	// RecordRecognitionChange appends an entry to the recognition history.
	// History is append-only: entries are never updated or removed.
	RecordRecognitionChange(ctx context.Context, entry model.RecognitionHistoryEntry) error

	// QueryByMatch returns all stored events for a match ordered by receive
	// time ascending.
	QueryByMatch(ctx context.Context, matchID string) ([]model.DecodedEvent, error)

	// RecognitionHistory returns the history entries recorded for an event,
	// oldest first.
	RecognitionHistory(ctx context.Context, eventID string) ([]model.RecognitionHistoryEntry, error)

	// Count returns the number of events stored.
	Count(ctx context.Context) int

	// Close releases any resources held by the store.
	Close() error
}
