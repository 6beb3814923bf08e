package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/devkdas/causeway/internal/lifecycle"
	"github.com/devkdas/causeway/internal/metrics"
	"github.com/devkdas/causeway/internal/models"
	"github.com/devkdas/causeway/internal/normalize"
	"github.com/devkdas/causeway/internal/utils"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

// IncidentService is the lifecycle surface the handlers depend on.
type IncidentService interface {
	Ingest(sig models.Signal) (models.Incident, error)
	Resolve(id string) (models.Incident, error)
	Get(id string) (models.Incident, error)
	List(filter lifecycle.ListFilter) []models.Incident
	Reanalyze(id string) (models.Incident, error)
	Feedback(ctx context.Context, id string, confirmed bool) error
}

// ChangeRecorder is the registry surface the handlers depend on.
type ChangeRecorder interface {
	Record(event models.ChangeEvent) error
}

// Handler carries the HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	incidents IncidentService
	changes   ChangeRecorder
}

// NewHandler wires the endpoints to their collaborators.
func NewHandler(logger *slog.Logger, incidents IncidentService, changes ChangeRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, incidents: incidents, changes: changes}
}

// Routes builds the chi router for the API surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signals", h.ingestSignal)
		r.Post("/changes", h.recordChange)

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", h.listIncidents)
			r.Get("/{id}", h.getIncident)
			r.Post("/{id}/resolve", h.resolveIncident)
			r.Post("/{id}/reanalyze", h.reanalyzeIncident)
			r.Post("/{id}/feedback", h.recordFeedback)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ingestSignal(w http.ResponseWriter, r *http.Request) {
	var raw normalize.RawObservation
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	sig, err := normalize.Signal(raw)
	if err != nil {
		metrics.IncSignal(metrics.OutcomeMalformed)
		h.writeError(w, err)
		return
	}

	inc, err := h.incidents.Ingest(sig)
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonStatus(w, http.StatusAccepted, inc)
}

type changeEventRequest struct {
	ID         string   `json:"id,omitempty"`
	Timestamp  string   `json:"timestamp"`
	Components []string `json:"components"`
	Actor      string   `json:"actor,omitempty"`
	Kind       string   `json:"kind"`
	Ref        string   `json:"ref"`
}

func (h *Handler) recordChange(w http.ResponseWriter, r *http.Request) {
	var req changeEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	event, err := req.toEvent()
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.changes.Record(event); err != nil {
		metrics.IncChangeEvent(metrics.OutcomeDuplicate)
		h.writeError(w, err)
		return
	}
	metrics.IncChangeEvent(metrics.OutcomeRecorded)
	jsonStatus(w, http.StatusCreated, event)
}

func (req changeEventRequest) toEvent() (models.ChangeEvent, error) {
	kind := models.EventKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	switch kind {
	case models.EventDeploy, models.EventCommit, models.EventTest:
	default:
		return models.ChangeEvent{}, errors.New("kind must be deploy, commit, or test")
	}

	ts, err := utils.ParseRFC3339(strings.TrimSpace(req.Timestamp))
	if err != nil {
		return models.ChangeEvent{}, errors.New("timestamp must be RFC 3339")
	}
	if len(req.Components) == 0 {
		return models.ChangeEvent{}, errors.New("at least one component is required")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return models.ChangeEvent{
		ID:         id,
		Timestamp:  ts.UTC(),
		Components: req.Components,
		Actor:      strings.TrimSpace(req.Actor),
		Kind:       kind,
		Ref:        strings.TrimSpace(req.Ref),
	}, nil
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query().Get("status"), r.URL.Query().Get("severity"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	jsonStatus(w, http.StatusOK, h.incidents.List(filter))
}

func parseListFilter(status, severity string) (lifecycle.ListFilter, error) {
	var filter lifecycle.ListFilter
	if status != "" {
		switch models.IncidentStatus(status) {
		case models.StatusOpen, models.StatusAnalyzing, models.StatusMitigating, models.StatusResolved:
			filter.Status = models.IncidentStatus(status)
		default:
			return filter, errors.New("unknown status " + status)
		}
	}
	if severity != "" {
		sev, ok := models.ParseSeverity(severity)
		if !ok {
			return filter, errors.New("unknown severity " + severity)
		}
		filter.Severity = sev
	}
	return filter, nil
}

func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.incidents.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonStatus(w, http.StatusOK, inc)
}

func (h *Handler) resolveIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.incidents.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonStatus(w, http.StatusOK, inc)
}

func (h *Handler) reanalyzeIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.incidents.Reanalyze(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	jsonStatus(w, http.StatusAccepted, inc)
}

type feedbackRequest struct {
	Confirmed bool `json:"confirmed"`
}

func (h *Handler) recordFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if err := h.incidents.Feedback(r.Context(), chi.URLParam(r, "id"), req.Confirmed); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors to HTTP responses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var malformed *models.MalformedSignalError
	switch {
	case errors.As(err, &malformed):
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, malformed.Reason)
	case errors.Is(err, models.ErrNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "incident not found")
	case errors.Is(err, models.ErrAlreadyResolved):
		jsonError(w, http.StatusConflict, errCodeConflict, "incident already resolved")
	case errors.Is(err, models.ErrDuplicateEvent):
		jsonError(w, http.StatusConflict, errCodeConflict, "change event already recorded")
	case errors.Is(err, lifecycle.ErrNoHypothesis):
		jsonError(w, http.StatusConflict, errCodeConflict, "incident has no root-cause hypothesis")
	default:
		h.logger.Error("request failed", slog.Any("error", err))
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
	}
}
