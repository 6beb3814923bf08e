package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/devkdas/causeway/internal/models"
)

type fixedAdjuster struct {
	value float64
}

func (f fixedAdjuster) Adjust(component string, kind models.EventKind) float64 {
	return f.value
}

func criticalCheckoutIncident(ts time.Time) models.Incident {
	sig := models.Signal{
		ID: "sig-1", Type: models.SignalError, Component: "checkout",
		Severity: models.SeverityCritical, Timestamp: ts,
	}
	return models.Incident{
		ID:       "inc-1",
		Severity: models.MaxSeverity([]models.Signal{sig}),
		Signals:  []models.Signal{sig},
	}
}

func TestScoreDeployCandidate(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	incident := criticalCheckoutIncident(base.Add(100 * time.Second))
	deploy := models.ChangeEvent{
		ID: "evt-1", Kind: models.EventDeploy, Ref: "rev-42", Actor: "deploy-bot",
		Components: []string{"checkout"}, Timestamp: base.Add(90 * time.Second),
	}
	candidates := []models.Candidate{{Event: deploy, Proximity: 1 - 10.0/30.0}}

	analysis := NewScorer(nil, Weights{}, nil, nil).Score(incident, candidates)

	if analysis.Confidence <= 0.5 {
		t.Fatalf("expected confidence above 0.5, got %f", analysis.Confidence)
	}
	if analysis.Confidence > 1 {
		t.Fatalf("confidence out of range: %f", analysis.Confidence)
	}
	if !strings.Contains(analysis.RootCause, "checkout") || !strings.Contains(analysis.RootCause, "deploy") {
		t.Fatalf("root cause should mention the deploy and component: %q", analysis.RootCause)
	}
	if len(analysis.SuggestedActions) == 0 || !strings.Contains(analysis.SuggestedActions[0], "Roll back") {
		t.Fatalf("first suggestion should propose a rollback: %v", analysis.SuggestedActions)
	}
	if !strings.Contains(analysis.SuggestedActions[0], "rev-42") {
		t.Fatalf("rollback suggestion should name the revision: %q", analysis.SuggestedActions[0])
	}
}

func TestScoreZeroCandidatesIsLowBaseline(t *testing.T) {
	sig := models.Signal{
		ID: "sig-1", Type: models.SignalLatency, Component: "search",
		Severity: models.SeverityLow, Timestamp: time.Now(),
	}
	incident := models.Incident{ID: "inc-1", Severity: models.SeverityLow, Signals: []models.Signal{sig}}

	analysis := NewScorer(nil, Weights{}, nil, nil).Score(incident, nil)

	if analysis.Confidence >= 0.3 {
		t.Fatalf("expected baseline confidence below 0.3, got %f", analysis.Confidence)
	}
	if analysis.RootCause != "" {
		t.Fatalf("expected no root cause, got %q", analysis.RootCause)
	}
	if analysis.ImpactAssessment == "" {
		t.Fatalf("expected a generic note in the impact assessment")
	}
	if len(analysis.SuggestedActions) == 0 {
		t.Fatalf("expected fallback suggestions")
	}
}

func TestScoreZeroCandidatesAlwaysBelowCorroborated(t *testing.T) {
	scorer := NewScorer(nil, Weights{}, fixedAdjuster{value: -1}, nil)
	base := time.Unix(1000, 0).UTC()

	// Worst corroborated case: low severity, tiny proximity, hostile history.
	sig := models.Signal{ID: "sig-1", Component: "search", Severity: models.SeverityLow, Timestamp: base}
	weak := models.Incident{ID: "inc-w", Severity: models.SeverityLow, Signals: []models.Signal{sig}}
	corroborated := scorer.Score(weak, []models.Candidate{{
		Event:     models.ChangeEvent{ID: "evt-1", Kind: models.EventCommit, Components: []string{"search"}, Timestamp: base.Add(-time.Hour)},
		Proximity: 0.01,
	}})

	// Best baseline case: critical severity, zero candidates.
	strong := criticalCheckoutIncident(base)
	baseline := scorer.Score(strong, nil)

	if baseline.Confidence >= corroborated.Confidence {
		t.Fatalf("zero-candidate confidence %f should stay below corroborated %f",
			baseline.Confidence, corroborated.Confidence)
	}
}

func TestScoreHistoryAdjustsConfidence(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	incident := criticalCheckoutIncident(base.Add(100 * time.Second))
	candidates := []models.Candidate{{
		Event: models.ChangeEvent{
			ID: "evt-1", Kind: models.EventDeploy, Ref: "rev-42",
			Components: []string{"checkout"}, Timestamp: base.Add(90 * time.Second),
		},
		Proximity: 0.6,
	}}

	neutral := NewScorer(nil, Weights{}, fixedAdjuster{value: 0}, nil).Score(incident, candidates)
	boosted := NewScorer(nil, Weights{}, fixedAdjuster{value: 1}, nil).Score(incident, candidates)
	dampened := NewScorer(nil, Weights{}, fixedAdjuster{value: -1}, nil).Score(incident, candidates)

	if !(boosted.Confidence > neutral.Confidence) {
		t.Fatalf("confirmed history should boost: %f <= %f", boosted.Confidence, neutral.Confidence)
	}
	if !(dampened.Confidence < neutral.Confidence) {
		t.Fatalf("ruled-out history should dampen: %f >= %f", dampened.Confidence, neutral.Confidence)
	}
}

func TestScoreSeverityAmplifiesConfidence(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	candidates := []models.Candidate{{
		Event: models.ChangeEvent{
			ID: "evt-1", Kind: models.EventDeploy, Ref: "rev-1",
			Components: []string{"api"}, Timestamp: base.Add(-time.Minute),
		},
		Proximity: 0.8,
	}}
	scorer := NewScorer(nil, Weights{}, nil, nil)

	mk := func(severity models.Severity) models.Incident {
		sig := models.Signal{ID: "sig-1", Component: "api", Severity: severity, Timestamp: base}
		return models.Incident{ID: "inc-1", Severity: severity, Signals: []models.Signal{sig}}
	}

	low := scorer.Score(mk(models.SeverityLow), candidates)
	critical := scorer.Score(mk(models.SeverityCritical), candidates)
	if !(critical.Confidence > low.Confidence) {
		t.Fatalf("critical incidents should score higher: %f <= %f", critical.Confidence, low.Confidence)
	}
}

func TestScorePicksBestCompositeCandidate(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	incident := criticalCheckoutIncident(base)
	candidates := []models.Candidate{
		{
			// Higher proximity but touching an unrelated component.
			Event:     models.ChangeEvent{ID: "evt-far", Kind: models.EventCommit, Components: []string{"search"}, Timestamp: base.Add(-time.Minute)},
			Proximity: 0.9,
		},
		{
			Event:     models.ChangeEvent{ID: "evt-hit", Kind: models.EventDeploy, Ref: "rev-9", Components: []string{"checkout"}, Timestamp: base.Add(-5 * time.Minute)},
			Proximity: 0.7,
		},
	}

	analysis := NewScorer(nil, Weights{}, nil, nil).Score(incident, candidates)
	if !strings.Contains(analysis.RootCause, "checkout") {
		t.Fatalf("expected overlap to outweigh raw proximity, got %q", analysis.RootCause)
	}
}
