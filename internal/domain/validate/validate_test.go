package validate

import (
	"testing"

	"github.com/scorepipe/scorepipe/internal/domain/model"
)

func event(t model.EventType, fields map[string]string) *model.DecodedEvent {
	e := &model.DecodedEvent{
		ID:     model.NewEventID(),
		Type:   t,
		Fields: fields,
		Status: model.StatusRecognized,
	}
	e.MatchID = fields["m"]
	e.AthleteID = fields["a"]
	return e
}

func TestCheck_ValidPoint(t *testing.T) {
	v := New()
	e := event(model.EventPoint, map[string]string{"m": "M1", "a": "A1", "v": "2"})

	status, issues := v.Check(e)
	if status != model.StatusRecognized {
		t.Errorf("expected recognized, got %s", status)
	}
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestCheck_PointValueOutOfRange(t *testing.T) {
	v := New()

	for _, val := range []string{"0", "6", "-1", "abc", ""} {
		e := event(model.EventPoint, map[string]string{"m": "M1", "a": "A1", "v": val})
		status, issues := v.Check(e)
		if status != model.StatusPartial {
			t.Errorf("v=%q: expected partial, got %s", val, status)
		}
		if len(issues) == 0 {
			t.Errorf("v=%q: expected issues", val)
		}
	}
}

func TestCheck_MissingMatchID(t *testing.T) {
	v := New()
	e := event(model.EventPoint, map[string]string{"a": "A1", "v": "2"})

	status, issues := v.Check(e)
	if status != model.StatusPartial {
		t.Errorf("expected partial, got %s", status)
	}
	if Reasons(issues) == "" {
		t.Error("expected recorded reason")
	}
}

func TestCheck_HitLevelRange(t *testing.T) {
	v := New()

	ok := event(model.EventHitLevel, map[string]string{"m": "M1", "a": "A1", "v": "55"})
	if status, _ := v.Check(ok); status != model.StatusRecognized {
		t.Errorf("expected recognized for in-range hit level, got %s", status)
	}

	bad := event(model.EventHitLevel, map[string]string{"m": "M1", "a": "A1", "v": "101"})
	if status, _ := v.Check(bad); status != model.StatusPartial {
		t.Errorf("expected partial for out-of-range hit level, got %s", status)
	}
}

func TestCheck_RoundRange(t *testing.T) {
	v := New()

	bad := event(model.EventRound, map[string]string{"m": "M1", "r": "4"})
	if status, _ := v.Check(bad); status != model.StatusPartial {
		t.Errorf("expected partial for round 4, got %s", status)
	}
}

func TestCheck_UnknownStatusStands(t *testing.T) {
	v := New()
	e := event(model.EventUnknown, map[string]string{})
	e.Status = model.StatusUnknown

	status, issues := v.Check(e)
	if status != model.StatusUnknown {
		t.Errorf("expected unknown to stand, got %s", status)
	}
	if len(issues) != 0 {
		t.Errorf("expected no issues for unknown event, got %v", issues)
	}
}

func TestCheck_DeprecatedStatusStands(t *testing.T) {
	v := New()
	e := event(model.EventPoint, map[string]string{"m": "M1", "a": "A1", "v": "2"})
	e.Status = model.StatusDeprecated

	status, _ := v.Check(e)
	if status != model.StatusDeprecated {
		t.Errorf("expected deprecated to stand, got %s", status)
	}
}

func TestCheck_UnregisteredAthleteIsDataIssue(t *testing.T) {
	v := New(WithAthleteRegistry(map[string]bool{"A1": true}))
	e := event(model.EventPoint, map[string]string{"m": "M1", "a": "A9", "v": "2"})

	status, issues := v.Check(e)
	// Data issues do not downgrade the recognition status.
	if status != model.StatusRecognized {
		t.Errorf("expected recognized, got %s", status)
	}
	if len(issues) != 1 || issues[0].Kind != KindData {
		t.Errorf("expected one data issue, got %v", issues)
	}
}

func TestCheck_RegisteredAthletePasses(t *testing.T) {
	v := New(WithAthleteRegistry(map[string]bool{"A1": true}))
	e := event(model.EventPoint, map[string]string{"m": "M1", "a": "A1", "v": "3"})

	_, issues := v.Check(e)
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestReasons(t *testing.T) {
	issues := []Issue{
		{Kind: KindValidation, Reason: "one"},
		{Kind: KindValidation, Reason: "two"},
	}
	if got := Reasons(issues); got != "one; two" {
		t.Errorf("unexpected reasons: %q", got)
	}
	if got := Reasons(nil); got != "" {
		t.Errorf("expected empty reasons, got %q", got)
	}
}
