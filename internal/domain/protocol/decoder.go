// Package protocol decodes raw PSS datagrams into typed events.
//
// Decoding is pure and stateless. It never fails fatally and never discards
// data: payloads it cannot place in the enumerated event set come back with
// status Unknown and the raw bytes retained verbatim, so future protocol
// revisions can reclassify them without loss.
package protocol

import (
	"strconv"
	"strings"
	"time"

	"github.com/scorepipe/scorepipe/internal/domain/model"
)

// Wire field keys carried after the event code.
const (
	fieldMatch      = "m"
	fieldAthlete    = "a"
	fieldTournament = "t"
	fieldSequence   = "seq"
)

// codeTable maps wire event codes to event types.
var codeTable = map[string]model.EventType{
	"pt": model.EventPoint,
	"hl": model.EventHitLevel,
	"wg": model.EventWarning,
	"it": model.EventInjuryTime,
	"ch": model.EventChallenge,
	"br": model.EventBreak,
	"rw": model.EventRoundWinner,
	"mw": model.EventMatchWinner,
	"ai": model.EventAthleteInfo,
	"mc": model.EventMatchConfig,
	"sc": model.EventScore,
	"cs": model.EventCurrentScore,
	"ck": model.EventClock,
	"rd": model.EventRound,
	"sy": model.EventSystem,
}

// deprecatedCodes are codes the protocol still emits but has superseded.
// They decode normally and are flagged Deprecated for downstream consumers.
var deprecatedCodes = map[string]model.EventType{
	"p1": model.EventPoint, // per-judge point codes replaced by pt
	"p2": model.EventPoint,
}

// Decode parses a raw PSS payload into a DecodedEvent.
//
// The wire format is a leading event code followed by semicolon-separated
// key=value fields, e.g. "pt;m=M1;a=A1;v=2;seq=42". Decode always returns a
// usable event; it assigns a fresh instance id and preserves the payload in
// Raw regardless of the recognition outcome.
func Decode(payload []byte) model.DecodedEvent {
	e := model.DecodedEvent{
		ID:         model.NewEventID(),
		Type:       model.EventUnknown,
		Fields:     make(map[string]string),
		Raw:        append([]byte(nil), payload...),
		Status:     model.StatusRecognized,
		ReceivedAt: time.Now(),
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		e.Status = model.StatusUnknown
		e.StatusReason = "empty payload"
		return e
	}

	parts := strings.Split(text, ";")
	code := strings.TrimSpace(parts[0])

	eventType, known := codeTable[code]
	if !known {
		if deprType, depr := deprecatedCodes[code]; depr {
			eventType = deprType
			e.Status = model.StatusDeprecated
			e.StatusReason = "deprecated event code " + code
		} else {
			e.Status = model.StatusUnknown
			e.StatusReason = "unknown event code " + code
		}
	}
	if eventType != "" {
		e.Type = eventType
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			// Bare tokens are retained under their own name so nothing is lost.
			e.Fields[part] = ""
			continue
		}
		e.Fields[key] = value
	}

	e.TournamentID = e.Fields[fieldTournament]
	e.MatchID = e.Fields[fieldMatch]
	e.AthleteID = e.Fields[fieldAthlete]
	if raw, ok := e.Fields[fieldSequence]; ok {
		if seq, err := strconv.ParseUint(raw, 10, 64); err == nil {
			e.Seq = seq
		}
	}

	return e
}

// KnownCodes returns the wire codes of the enumerated event set, for tooling.
func KnownCodes() []string {
	codes := make([]string, 0, len(codeTable))
	for code := range codeTable {
		codes = append(codes, code)
	}
	return codes
}
