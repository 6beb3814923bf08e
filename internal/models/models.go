package models

import "time"

// Severity captures impact levels, ordered low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of a severity (0 for low up to 3 for
// critical). Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// ParseSeverity maps a string onto a known severity. The second return value
// reports whether the input was recognised.
func ParseSeverity(raw string) (Severity, bool) {
	switch Severity(raw) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(raw), true
	default:
		return "", false
	}
}

// SignalType enumerates the observation categories the engine accepts.
type SignalType string

const (
	SignalError             SignalType = "error"
	SignalLatency           SignalType = "latency"
	SignalTestFailure       SignalType = "test-failure"
	SignalDeploymentFailure SignalType = "deployment-failure"
)

// ParseSignalType maps a string onto a known signal type.
func ParseSignalType(raw string) (SignalType, bool) {
	switch SignalType(raw) {
	case SignalError, SignalLatency, SignalTestFailure, SignalDeploymentFailure:
		return SignalType(raw), true
	default:
		return "", false
	}
}

// EventKind enumerates change event categories.
type EventKind string

const (
	EventDeploy EventKind = "deploy"
	EventCommit EventKind = "commit"
	EventTest   EventKind = "test"
)

// Signal is one normalised anomaly observation. Immutable once created.
type Signal struct {
	ID          string     `json:"id"`
	Type        SignalType `json:"type"`
	Timestamp   time.Time  `json:"timestamp"`
	Source      string     `json:"source"`
	Component   string     `json:"component"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description,omitempty"`
}

// ChangeEvent is one deployment, commit, or test-run record. Immutable once
// recorded; the registry evicts events past the retention horizon.
type ChangeEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Components []string  `json:"components"`
	Actor      string    `json:"actor,omitempty"`
	Kind       EventKind `json:"kind"`
	Ref        string    `json:"ref"`
}

// Touches reports whether the event lists the given component.
func (e ChangeEvent) Touches(component string) bool {
	for _, c := range e.Components {
		if c == component {
			return true
		}
	}
	return false
}

// Analysis is the output of correlating an incident against change events.
// Replaced wholesale on re-analysis, never patched in place.
type Analysis struct {
	Confidence       float64   `json:"confidence"`
	RootCause        string    `json:"root_cause,omitempty"`
	ImpactAssessment string    `json:"impact_assessment,omitempty"`
	SuggestedActions []string  `json:"suggested_actions,omitempty"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
}

// IncidentStatus is the lifecycle state machine position.
type IncidentStatus string

const (
	StatusOpen       IncidentStatus = "open"
	StatusAnalyzing  IncidentStatus = "analyzing"
	StatusMitigating IncidentStatus = "mitigating"
	StatusResolved   IncidentStatus = "resolved"
)

// Terminal reports whether the status admits no further transitions.
func (s IncidentStatus) Terminal() bool { return s == StatusResolved }

// Incident aggregates related signals through a lifecycle. The signal
// sequence is append-only and never empty; severity is the maximum across
// signals.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Confidence  float64        `json:"confidence"`
	Signals     []Signal       `json:"signals"`
	Analysis    *Analysis      `json:"analysis,omitempty"`
}

// Components returns the unique component names referenced by the incident's
// signals, in first-seen order.
func (in Incident) Components() []string {
	seen := make(map[string]struct{}, len(in.Signals))
	out := make([]string, 0, len(in.Signals))
	for _, sig := range in.Signals {
		if sig.Component == "" {
			continue
		}
		if _, ok := seen[sig.Component]; ok {
			continue
		}
		seen[sig.Component] = struct{}{}
		out = append(out, sig.Component)
	}
	return out
}

// EarliestSignal returns the timestamp of the oldest signal, or the zero time
// when the incident has no signals.
func (in Incident) EarliestSignal() time.Time {
	var earliest time.Time
	for _, sig := range in.Signals {
		if earliest.IsZero() || sig.Timestamp.Before(earliest) {
			earliest = sig.Timestamp
		}
	}
	return earliest
}

// MaxSeverity returns the highest severity across the given signals.
func MaxSeverity(signals []Signal) Severity {
	max := SeverityLow
	for _, sig := range signals {
		if sig.Severity.Rank() > max.Rank() {
			max = sig.Severity
		}
	}
	return max
}

// Candidate pairs a change event with its temporal proximity score in [0,1].
type Candidate struct {
	Event     ChangeEvent `json:"event"`
	Proximity float64     `json:"proximity"`
}

// LifecycleEventType labels outbound incident lifecycle notifications.
type LifecycleEventType string

const (
	IncidentCreated  LifecycleEventType = "created"
	IncidentUpdated  LifecycleEventType = "updated"
	IncidentResolved LifecycleEventType = "resolved"
)

// LifecycleEvent is the message emitted to downstream consumers whenever an
// incident changes.
type LifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	Incident  Incident           `json:"incident"`
	EmittedAt time.Time          `json:"emitted_at"`
}
