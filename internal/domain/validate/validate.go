// Package validate applies post-decode protocol invariants to events.
//
// Syntactic decode lives in the protocol package; this layer checks the
// decoded field map against protocol-declared ranges and references. It never
// rejects an event: violations downgrade the recognition status, and the event
// continues through the pipeline with its best-effort fields.
package validate

import (
	"fmt"
	"strconv"

	"github.com/scorepipe/scorepipe/internal/domain/model"
)

// Protocol-declared value ranges.
const (
	minPointValue = 1
	maxPointValue = 5
	minHitLevel   = 1
	maxHitLevel   = 100
	minRound      = 1
	maxRound      = 3
)

// Kind classifies an issue found during validation.
type Kind int

const (
	// KindValidation marks a protocol invariant violation; the event is
	// downgraded to Partial and processing continues with best-effort fields.
	KindValidation Kind = iota
	// KindData marks an internally inconsistent reference (e.g. an athlete the
	// pipeline has never seen); the event is logged and persisted as-is for
	// later reconciliation without a status downgrade.
	KindData
)

// Issue describes one finding against an event.
type Issue struct {
	Kind   Kind
	Reason string
}

// Option applies a configuration option to the Validator.
type Option func(*Validator)

// WithAthleteRegistry supplies the set of known athlete ids. References
// outside the set produce KindData issues. A nil or empty registry disables
// the reference check.
func WithAthleteRegistry(ids map[string]bool) Option {
	return func(v *Validator) {
		v.athletes = ids
	}
}

// Validator checks decoded events against protocol invariants.
type Validator struct {
	athletes map[string]bool
}

// New creates a Validator with the given options.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check evaluates an event and returns the recognition status it should carry
// plus any issues found. The input event is not mutated; callers apply the
// returned status and record the change as a history entry.
func (v *Validator) Check(e *model.DecodedEvent) (model.RecognitionStatus, []Issue) {
	status := e.Status
	var issues []Issue

	// Unknown and Deprecated classifications from decode stand as-is; range
	// checks only apply to events we claim to have recognized.
	if status != model.StatusRecognized {
		return status, nil
	}

	downgrade := func(reason string) {
		status = model.StatusPartial
		issues = append(issues, Issue{Kind: KindValidation, Reason: reason})
	}

	requireMatch := func() {
		if e.MatchID == "" {
			downgrade("missing match id")
		}
	}
	requireAthlete := func() {
		if e.AthleteID == "" {
			downgrade("missing athlete id")
		}
	}

	switch e.Type {
	case model.EventPoint:
		requireMatch()
		requireAthlete()
		checkIntRange(e, "v", minPointValue, maxPointValue, downgrade)
	case model.EventHitLevel:
		requireMatch()
		requireAthlete()
		checkIntRange(e, "v", minHitLevel, maxHitLevel, downgrade)
	case model.EventWarning, model.EventChallenge:
		requireMatch()
		requireAthlete()
	case model.EventRound, model.EventRoundWinner:
		requireMatch()
		checkIntRange(e, "r", minRound, maxRound, downgrade)
	case model.EventMatchWinner:
		requireMatch()
		requireAthlete()
	case model.EventAthleteInfo:
		requireAthlete()
	case model.EventMatchConfig, model.EventScore, model.EventCurrentScore,
		model.EventClock, model.EventInjuryTime, model.EventBreak:
		requireMatch()
	case model.EventSystem, model.EventUnknown:
		// No required fields.
	}

	// Reference check: an unregistered athlete is a data inconsistency, not a
	// protocol violation. Logged and reconciled later; status untouched.
	if len(v.athletes) > 0 && e.AthleteID != "" && !v.athletes[e.AthleteID] {
		issues = append(issues, Issue{
			Kind:   KindData,
			Reason: fmt.Sprintf("reference to unregistered athlete %s", e.AthleteID),
		})
	}

	return status, issues
}

// checkIntRange downgrades when the named field is present but not an integer
// in [lo, hi]. An absent field on a range-checked type is also a downgrade.
func checkIntRange(e *model.DecodedEvent, field string, lo, hi int, downgrade func(string)) {
	raw, ok := e.Fields[field]
	if !ok || raw == "" {
		downgrade(fmt.Sprintf("missing %s field", field))
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		downgrade(fmt.Sprintf("non-numeric %s field %q", field, raw))
		return
	}
	if n < lo || n > hi {
		downgrade(fmt.Sprintf("%s value %d outside [%d,%d]", field, n, lo, hi))
	}
}

// Reasons joins issue reasons into a single recorded reason string.
func Reasons(issues []Issue) string {
	s := ""
	for i, issue := range issues {
		if i > 0 {
			s += "; "
		}
		s += issue.Reason
	}
	return s
}
