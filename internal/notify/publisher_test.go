package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/devkdas/causeway/internal/models"
)

func TestBuildMessage(t *testing.T) {
	event := models.LifecycleEvent{
		Type: models.IncidentCreated,
		Incident: models.Incident{
			ID:         "inc-1",
			Severity:   models.SeverityCritical,
			Status:     models.StatusOpen,
			Confidence: 0.75,
			Signals:    []models.Signal{{ID: "sig-1", Component: "checkout"}},
		},
		EmittedAt: time.Now().UTC(),
	}

	msg, err := buildMessage("causeway", event)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.Subject != "causeway.incidents.created" {
		t.Fatalf("unexpected subject %s", msg.Subject)
	}
	if got := msg.Header.Get("x-incident-id"); got != "inc-1" {
		t.Fatalf("unexpected incident header %s", got)
	}
	if got := msg.Header.Get("x-severity"); got != "critical" {
		t.Fatalf("unexpected severity header %s", got)
	}

	var decoded models.LifecycleEvent
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded.Incident.ID != "inc-1" || decoded.Type != models.IncidentCreated {
		t.Fatalf("payload round-trip mismatch: %+v", decoded)
	}
}

func TestBuildMessageStampsEmittedAt(t *testing.T) {
	msg, err := buildMessage("causeway", models.LifecycleEvent{
		Type:     models.IncidentResolved,
		Incident: models.Incident{ID: "inc-2"},
	})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	var decoded models.LifecycleEvent
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EmittedAt.IsZero() {
		t.Fatalf("expected emitted_at to be stamped")
	}
}
