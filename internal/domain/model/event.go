// Package model contains domain models passed between layers.
package model

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// EventType identifies one of the fixed PSS event kinds.
type EventType string

// The fixed enumerated set of PSS event types.
const (
	EventPoint        EventType = "point"
	EventHitLevel     EventType = "hit_level"
	EventWarning      EventType = "warning"
	EventInjuryTime   EventType = "injury_time"
	EventChallenge    EventType = "challenge"
	EventBreak        EventType = "break"
	EventRoundWinner  EventType = "round_winner"
	EventMatchWinner  EventType = "match_winner"
	EventAthleteInfo  EventType = "athlete_info"
	EventMatchConfig  EventType = "match_config"
	EventScore        EventType = "score"
	EventCurrentScore EventType = "current_score"
	EventClock        EventType = "clock"
	EventRound        EventType = "round"
	EventSystem       EventType = "system"
	// EventUnknown marks payloads whose code is outside the enumerated set.
	EventUnknown EventType = "unknown"
)

// RecognitionStatus classifies how well an incoming payload was understood.
type RecognitionStatus string

// Recognition statuses. Once written for an event instance the status is
// immutable; corrections are modeled as RecognitionHistoryEntry records.
const (
	StatusRecognized RecognitionStatus = "recognized"
	StatusUnknown    RecognitionStatus = "unknown"
	StatusPartial    RecognitionStatus = "partial"
	StatusDeprecated RecognitionStatus = "deprecated"
)

// RawDatagram is an inbound UDP payload before decoding. It is ephemeral and
// owned solely by the listener node that received it.
type RawDatagram struct {
	Source     *net.UDPAddr
	ReceivedAt time.Time
	Payload    []byte
}

// DecodedEvent is the unit flowing through the pipeline. Raw always retains the
// wire payload verbatim so that Unknown events can be reclassified later.
type DecodedEvent struct {
	ID           string            // unique instance id
	Type         EventType         // one of the enumerated event types
	TournamentID string
	MatchID      string
	AthleteID    string
	Fields       map[string]string // decoded key/value fields, order irrelevant
	Raw          []byte            // verbatim wire payload
	Seq          uint64            // source monotonic sequence number
	Status       RecognitionStatus
	StatusReason string // populated when Status is Partial or Unknown
	ReceivedAt   time.Time
	SourceNode   string // listener node that received the datagram
}

// NewEventID returns a fresh unique event instance id.
func NewEventID() string {
	return uuid.NewString()
}

// Scope returns the hierarchical cache/analytics scope key for the event,
// e.g. "tournament/T1/match/M1/athlete/A1". Empty components are omitted.
func (e *DecodedEvent) Scope() string {
	s := ""
	if e.TournamentID != "" {
		s += "tournament/" + e.TournamentID
	}
	if e.MatchID != "" {
		if s != "" {
			s += "/"
		}
		s += "match/" + e.MatchID
	}
	if e.AthleteID != "" {
		if s != "" {
			s += "/"
		}
		s += "athlete/" + e.AthleteID
	}
	if s == "" {
		s = "system"
	}
	return s
}

// MatchScope returns the scope key truncated at the match level, used for
// match-wide cache invalidation.
func (e *DecodedEvent) MatchScope() string {
	s := ""
	if e.TournamentID != "" {
		s += "tournament/" + e.TournamentID
	}
	if e.MatchID != "" {
		if s != "" {
			s += "/"
		}
		s += "match/" + e.MatchID
	}
	if s == "" {
		s = "system"
	}
	return s
}

// RecognitionHistoryEntry records a recognition status change. Append-only;
// prior entries are never mutated so the audit trail survives reclassification.
type RecognitionHistoryEntry struct {
	EventID    string
	PriorState RecognitionStatus
	NewState   RecognitionStatus
	Reason     string
	At         time.Time
}
