// Package normalize converts heterogeneous raw observations into uniform
// Signal records. Shapes the edge cannot recognise are rejected here and
// never propagate deeper into the engine.
package normalize

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devkdas/causeway/internal/models"
)

// RawObservation is the wire shape delivered by monitoring and webhook
// collaborators. All fields arrive as strings; validation happens in Signal.
type RawObservation struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source,omitempty"`
	Component   string `json:"component"`
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description,omitempty"`
}

// Signal validates a raw observation and returns the normalised Signal.
// It fails with *models.MalformedSignalError when the type is unrecognised
// or the timestamp is absent or unparsable. Unknown severities default to
// medium since severity is advisory.
func Signal(raw RawObservation) (models.Signal, error) {
	sigType, ok := models.ParseSignalType(strings.TrimSpace(raw.Type))
	if !ok {
		return models.Signal{}, &models.MalformedSignalError{Reason: "unrecognised type " + strings.TrimSpace(raw.Type)}
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return models.Signal{}, err
	}

	severity, ok := models.ParseSeverity(strings.ToLower(strings.TrimSpace(raw.Severity)))
	if !ok {
		severity = models.SeverityMedium
	}

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return models.Signal{
		ID:          id,
		Type:        sigType,
		Timestamp:   ts,
		Source:      strings.TrimSpace(raw.Source),
		Component:   strings.TrimSpace(raw.Component),
		Severity:    severity,
		Description: strings.TrimSpace(raw.Description),
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &models.MalformedSignalError{Reason: "timestamp is required"}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &models.MalformedSignalError{Reason: "unparsable timestamp " + raw}
}
