package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/devkdas/causeway/internal/models"
)

func TestSignalNormalises(t *testing.T) {
	sig, err := Signal(RawObservation{
		Type:        "error",
		Timestamp:   "2026-03-01T10:15:00Z",
		Source:      "api-monitor",
		Component:   "checkout",
		Severity:    "critical",
		Description: "NullPointerException in order flow",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.ID == "" {
		t.Fatalf("expected generated id")
	}
	if sig.Type != models.SignalError {
		t.Fatalf("unexpected type %s", sig.Type)
	}
	if sig.Severity != models.SeverityCritical {
		t.Fatalf("unexpected severity %s", sig.Severity)
	}
	want := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	if !sig.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", sig.Timestamp)
	}
}

func TestSignalRejectsUnknownType(t *testing.T) {
	_, err := Signal(RawObservation{Type: "vibes", Timestamp: "2026-03-01T10:15:00Z"})
	var malformed *models.MalformedSignalError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedSignalError, got %v", err)
	}
}

func TestSignalRejectsBadTimestamp(t *testing.T) {
	cases := []string{"", "yesterday", "13/37/2026"}
	for _, raw := range cases {
		_, err := Signal(RawObservation{Type: "latency", Timestamp: raw})
		var malformed *models.MalformedSignalError
		if !errors.As(err, &malformed) {
			t.Fatalf("timestamp %q: expected MalformedSignalError, got %v", raw, err)
		}
	}
}

func TestSignalDefaultsUnknownSeverityToMedium(t *testing.T) {
	sig, err := Signal(RawObservation{Type: "test-failure", Timestamp: "2026-03-01T10:15:00Z", Severity: "catastrophic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Severity != models.SeverityMedium {
		t.Fatalf("expected medium severity fallback, got %s", sig.Severity)
	}
}

func TestSignalKeepsProvidedID(t *testing.T) {
	sig, err := Signal(RawObservation{ID: "sig-1", Type: "error", Timestamp: "2026-03-01T10:15:00Z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.ID != "sig-1" {
		t.Fatalf("expected provided id, got %s", sig.ID)
	}
}
