package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devkdas/causeway/internal/lifecycle"
	"github.com/devkdas/causeway/internal/models"
)

type fakeIncidentService struct {
	incidents map[string]models.Incident
	ingested  []models.Signal
	resolved  []string
	feedback  map[string]bool
}

func newFakeIncidentService() *fakeIncidentService {
	return &fakeIncidentService{
		incidents: make(map[string]models.Incident),
		feedback:  make(map[string]bool),
	}
}

func (f *fakeIncidentService) Ingest(sig models.Signal) (models.Incident, error) {
	f.ingested = append(f.ingested, sig)
	inc := models.Incident{
		ID:       "inc-1",
		Severity: sig.Severity,
		Status:   models.StatusAnalyzing,
		Signals:  []models.Signal{sig},
	}
	f.incidents[inc.ID] = inc
	return inc, nil
}

func (f *fakeIncidentService) Resolve(id string) (models.Incident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return models.Incident{}, models.ErrNotFound
	}
	if inc.Status == models.StatusResolved {
		return inc, models.ErrAlreadyResolved
	}
	inc.Status = models.StatusResolved
	f.incidents[id] = inc
	f.resolved = append(f.resolved, id)
	return inc, nil
}

func (f *fakeIncidentService) Get(id string) (models.Incident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return models.Incident{}, models.ErrNotFound
	}
	return inc, nil
}

func (f *fakeIncidentService) List(lifecycle.ListFilter) []models.Incident {
	out := make([]models.Incident, 0, len(f.incidents))
	for _, inc := range f.incidents {
		out = append(out, inc)
	}
	return out
}

func (f *fakeIncidentService) Reanalyze(id string) (models.Incident, error) {
	return f.Get(id)
}

func (f *fakeIncidentService) Feedback(_ context.Context, id string, confirmed bool) error {
	if _, ok := f.incidents[id]; !ok {
		return models.ErrNotFound
	}
	f.feedback[id] = confirmed
	return nil
}

type fakeChangeRecorder struct {
	events []models.ChangeEvent
	err    error
}

func (f *fakeChangeRecorder) Record(event models.ChangeEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newTestRouter(svc *fakeIncidentService, rec *fakeChangeRecorder) http.Handler {
	return NewHandler(nil, svc, rec).Routes()
}

func TestIngestSignalAccepted(t *testing.T) {
	svc := newFakeIncidentService()
	router := newTestRouter(svc, &fakeChangeRecorder{})

	body := `{"type":"error","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `","component":"payments","severity":"high"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.ingested) != 1 {
		t.Fatalf("expected one ingested signal, got %d", len(svc.ingested))
	}
	if svc.ingested[0].Component != "payments" {
		t.Fatalf("unexpected component: %s", svc.ingested[0].Component)
	}
}

func TestIngestSignalMalformed(t *testing.T) {
	router := newTestRouter(newFakeIncidentService(), &fakeChangeRecorder{})

	body := `{"type":"bogus","timestamp":"2026-01-02T15:04:05Z","component":"payments"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != errCodeValidationFailed {
		t.Fatalf("unexpected error code: %s", resp.Error.Code)
	}
}

func TestRecordChange(t *testing.T) {
	rec := &fakeChangeRecorder{}
	router := newTestRouter(newFakeIncidentService(), rec)

	body := `{"timestamp":"2026-01-02T15:04:05Z","components":["checkout"],"kind":"deploy","ref":"rev-42","actor":"deploy-bot"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/changes", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one recorded event, got %d", len(rec.events))
	}
	if rec.events[0].ID == "" {
		t.Fatal("expected an identifier to be assigned")
	}
	if rec.events[0].Kind != models.EventDeploy {
		t.Fatalf("unexpected kind: %s", rec.events[0].Kind)
	}
}

func TestRecordChangeValidation(t *testing.T) {
	router := newTestRouter(newFakeIncidentService(), &fakeChangeRecorder{})

	cases := []struct {
		name string
		body string
	}{
		{"bad kind", `{"timestamp":"2026-01-02T15:04:05Z","components":["a"],"kind":"merge","ref":"r"}`},
		{"bad timestamp", `{"timestamp":"yesterday","components":["a"],"kind":"deploy","ref":"r"}`},
		{"no components", `{"timestamp":"2026-01-02T15:04:05Z","components":[],"kind":"deploy","ref":"r"}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/changes", strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rr.Code)
		}
	}
}

func TestRecordChangeDuplicate(t *testing.T) {
	rec := &fakeChangeRecorder{err: models.ErrDuplicateEvent}
	router := newTestRouter(newFakeIncidentService(), rec)

	body := `{"timestamp":"2026-01-02T15:04:05Z","components":["checkout"],"kind":"deploy","ref":"rev-42"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/changes", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestIncidentLifecycleEndpoints(t *testing.T) {
	svc := newFakeIncidentService()
	router := newTestRouter(svc, &fakeChangeRecorder{})

	body := `{"type":"error","timestamp":"2026-01-02T15:04:05Z","component":"payments"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/inc-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/resolve", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/resolve", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("double resolve: expected 409, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/missing", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", rr.Code)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	svc := newFakeIncidentService()
	router := newTestRouter(svc, &fakeChangeRecorder{})

	body := `{"type":"error","timestamp":"2026-01-02T15:04:05Z","component":"payments"}`
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(body)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/feedback", strings.NewReader(`{"confirmed":true}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !svc.feedback["inc-1"] {
		t.Fatal("feedback not recorded")
	}
}

func TestListIncidentsFilterValidation(t *testing.T) {
	router := newTestRouter(newFakeIncidentService(), &fakeChangeRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents?severity=urgent", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown severity, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents?status=open", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(newFakeIncidentService(), &fakeChangeRecorder{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
