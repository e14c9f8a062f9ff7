// Package natsbridge republishes broadcast events onto NATS subjects so the
// external overlay/UI layer can consume them without linking the pipeline.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/pkg/logger"
)

// Default bridge configuration constants.
const (
	subjectPrefix  = "pss.events"
	subscriberName = "natsbridge"
)

// Config holds NATS connection configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "scorepipe-bridge",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Source is where the bridge gets its events, typically the stream broadcaster.
type Source interface {
	Subscribe(name string) (<-chan model.DecodedEvent, func())
}

// wireEvent is the JSON shape published for external consumers.
type wireEvent struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	TournamentID string            `json:"tournament_id,omitempty"`
	MatchID      string            `json:"match_id,omitempty"`
	AthleteID    string            `json:"athlete_id,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	Seq          uint64            `json:"seq"`
	Status       string            `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
	SourceNode   string            `json:"source_node,omitempty"`
}

// Bridge subscribes to the broadcaster and republishes each event as JSON on
// "pss.events.<matchID>" (or "pss.events.system" for matchless events).
type Bridge struct {
	conn   *nats.Conn
	source Source

	cancelSub func()
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	logger logger.Logger
}

// New connects to NATS and creates a bridge. The bridge does not consume
// events until Start.
func New(cfg Config, source Source) (*Bridge, error) {
	lg := logger.Get().Named("natsbridge")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				lg.Warn(context.Background(), "nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			lg.Info(context.Background(), "nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Bridge{
		conn:   conn,
		source: source,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: lg,
	}, nil
}

// Start subscribes to the source and republishes until ctx is canceled or
// Stop is called.
func (b *Bridge) Start(ctx context.Context) {
	events, cancel := b.source.Subscribe(subscriberName)
	b.cancelSub = cancel
	go b.run(ctx, events)
}

// Stop terminates republishing and drains the connection. Safe to call more
// than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		<-b.done
		if b.cancelSub != nil {
			b.cancelSub()
		}
		if err := b.conn.Drain(); err != nil {
			b.logger.Warn(context.Background(), "nats drain failed", logger.Error(err))
		}
	})
}

// IsConnected returns true if connected to NATS.
func (b *Bridge) IsConnected() bool {
	return b.conn.IsConnected()
}

func (b *Bridge) run(ctx context.Context, events <-chan model.DecodedEvent) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := b.publish(ctx, e); err != nil {
				b.logger.Error(ctx, "republish failed",
					logger.String("event_id", e.ID),
					logger.Error(err),
				)
			}
		}
	}
}

func (b *Bridge) publish(ctx context.Context, e model.DecodedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(wireEvent{
		ID:           e.ID,
		Type:         string(e.Type),
		TournamentID: e.TournamentID,
		MatchID:      e.MatchID,
		AthleteID:    e.AthleteID,
		Fields:       e.Fields,
		Seq:          e.Seq,
		Status:       string(e.Status),
		StatusReason: e.StatusReason,
		ReceivedAt:   e.ReceivedAt,
		SourceNode:   e.SourceNode,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return b.conn.Publish(Subject(e.MatchID), data)
}

// Subject returns the NATS subject for a match id. Matchless events publish
// on the system subject.
func Subject(matchID string) string {
	if matchID == "" {
		return subjectPrefix + ".system"
	}
	return subjectPrefix + "." + matchID
}
