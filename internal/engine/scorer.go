package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/devkdas/causeway/internal/models"
)

// HistoryAdjuster supplies the learned adjustment for a (component, event
// kind) pairing, in [-1,1]: positive when past incidents confirmed such
// events as root causes, negative when they were ruled out.
type HistoryAdjuster interface {
	Adjust(component string, kind models.EventKind) float64
}

// Weights control how the composite candidate score is assembled. The three
// factor weights apply to proximity, component overlap, and the severity
// multiplier; History scales the learned adjustment applied on top.
type Weights struct {
	Proximity float64 `yaml:"proximity"`
	Overlap   float64 `yaml:"overlap"`
	Severity  float64 `yaml:"severity"`
	History   float64 `yaml:"history"`
}

// DefaultWeights returns the tuned default weighting.
func DefaultWeights() Weights {
	return Weights{Proximity: 0.45, Overlap: 0.30, Severity: 0.15, History: 0.30}
}

// saturationKnee shapes confidence = s/(s+knee) so no single factor can
// reach 1.0 on its own.
const saturationKnee = 0.25

// corroboratedFloor is the minimum confidence reported when at least one
// candidate with nonzero proximity exists, keeping any corroborated analysis
// above every zero-candidate baseline.
const corroboratedFloor = 0.25

// Scorer combines temporal proximity, component overlap, incident severity,
// and historical outcomes into a confidence-weighted root-cause hypothesis.
// Score is pure: it never mutates the incident and never calls external
// services.
type Scorer struct {
	weights Weights
	history HistoryAdjuster
	actions *ActionRules
	logger  *slog.Logger
}

// NewScorer constructs a Scorer. history may be nil (no learned adjustment)
// and actions may be nil (compiled-in defaults).
func NewScorer(logger *slog.Logger, weights Weights, history HistoryAdjuster, actions *ActionRules) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if actions == nil {
		actions = DefaultActionRules()
	}
	return &Scorer{weights: weights, history: history, actions: actions, logger: logger}
}

// Score produces the Analysis for an incident given its ranked candidates.
// With zero candidates it returns a low severity-derived baseline and no
// root cause; that outcome is informative, not an error.
func (s *Scorer) Score(incident models.Incident, candidates []models.Candidate) models.Analysis {
	analysis, _ := s.Evaluate(incident, candidates)
	return analysis
}

// Evaluate is Score plus the winning candidate, so callers can tie later
// feedback on the hypothesis back to the event that produced it. The
// candidate is nil when no root cause was identified.
func (s *Scorer) Evaluate(incident models.Incident, candidates []models.Candidate) (models.Analysis, *models.Candidate) {
	now := time.Now().UTC()

	if len(candidates) == 0 {
		return models.Analysis{
			Confidence:       baselineConfidence(incident.Severity),
			ImpactAssessment: fmt.Sprintf("%s severity signals on %s; no recent change events correlate", incident.Severity, componentList(incident)),
			SuggestedActions: s.actions.Fallback(),
			AnalyzedAt:       now,
		}, nil
	}

	components := incident.Components()
	var (
		top      models.Candidate
		topScore = -1.0
	)
	for _, cand := range candidates {
		score := s.composite(incident, components, cand)
		if score > topScore {
			topScore = score
			top = cand
		}
	}

	confidence := clamp(topScore/(topScore+saturationKnee), 0, 1)
	if top.Proximity > 0 && confidence < corroboratedFloor {
		confidence = corroboratedFloor
	}

	s.logger.Debug("scored incident",
		slog.String("incident_id", incident.ID),
		slog.String("event_id", top.Event.ID),
		slog.Float64("composite", topScore),
		slog.Float64("confidence", confidence),
	)

	winner := top
	return models.Analysis{
		Confidence:       confidence,
		RootCause:        describeRootCause(top.Event),
		ImpactAssessment: fmt.Sprintf("%s severity incident affecting %s (%d signals)", incident.Severity, componentList(incident), len(incident.Signals)),
		SuggestedActions: s.actions.For(top.Event),
		AnalyzedAt:       now,
	}, &winner
}

func (s *Scorer) composite(incident models.Incident, components []string, cand models.Candidate) float64 {
	overlap := overlapRatio(components, cand.Event.Components)
	severity := severityMultiplier(incident.Severity)

	score := s.weights.Proximity*cand.Proximity +
		s.weights.Overlap*overlap +
		s.weights.Severity*severity

	if s.history != nil {
		adj := clamp(s.history.Adjust(primaryComponent(cand.Event, components), cand.Event.Kind), -1, 1)
		score *= 1 + s.weights.History*adj
	}
	if score < 0 {
		score = 0
	}
	return score
}

// overlapRatio is the share of the incident's components that the change
// event touches.
func overlapRatio(incidentComponents, eventComponents []string) float64 {
	if len(incidentComponents) == 0 {
		return 0
	}
	touched := make(map[string]struct{}, len(eventComponents))
	for _, c := range eventComponents {
		touched[c] = struct{}{}
	}
	matches := 0
	for _, c := range incidentComponents {
		if _, ok := touched[c]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(incidentComponents))
}

// severityMultiplier amplifies confidence for high-blast-radius incidents.
func severityMultiplier(severity models.Severity) float64 {
	switch severity {
	case models.SeverityCritical:
		return 1.0
	case models.SeverityHigh:
		return 0.75
	case models.SeverityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// baselineConfidence is the severity-derived confidence used when no
// candidate cause exists. It tops out at 0.10, below corroboratedFloor.
func baselineConfidence(severity models.Severity) float64 {
	rank := severity.Rank()
	if rank < 0 {
		rank = 0
	}
	return 0.05 + 0.05*float64(rank)/3
}

func primaryComponent(event models.ChangeEvent, incidentComponents []string) string {
	for _, c := range incidentComponents {
		if event.Touches(c) {
			return c
		}
	}
	if len(event.Components) > 0 {
		return event.Components[0]
	}
	return ""
}

func describeRootCause(event models.ChangeEvent) string {
	actor := event.Actor
	if actor == "" {
		actor = "unknown actor"
	}
	return fmt.Sprintf("%s by %s on %s at %s", event.Kind, actor, componentNames(event.Components), event.Timestamp.UTC().Format(time.RFC3339))
}

func componentNames(components []string) string {
	if len(components) == 0 {
		return "unknown component"
	}
	out := components[0]
	for _, c := range components[1:] {
		out += ", " + c
	}
	return out
}

func componentList(incident models.Incident) string {
	return componentNames(incident.Components())
}
