package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenmind/crisis-engine/internal/crisis"
	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/escalation"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

const maxAnalyzeBody = 64 << 10

type crisisService interface {
	Analyze(ctx context.Context, req crisis.AnalyzeRequest) (crisis.AnalyzeResponse, error)
	HandleResponse(ctx context.Context, result detection.AnalysisResult, userRef, sessionID string, kind escalation.SessionKind) (crisis.HandleResult, error)
	Resolve(ctx context.Context, sessionID, actor string) (escalation.Snapshot, error)
	Session(sessionID string) (escalation.Snapshot, bool)
}

// CrisisHandler serves the analyze/respond/session endpoints.
type CrisisHandler struct {
	service crisisService
	logger  *logging.Logger
}

func NewCrisisHandler(service crisisService, logger *logging.Logger) *CrisisHandler {
	if service == nil {
		panic("handlers: crisis service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CrisisHandler{service: service, logger: logger.Component("http")}
}

// Analyze runs one input through detection, aggregation and escalation.
// POST /v1/analyze
func (h *CrisisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req crisis.AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.service.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RespondRequest feeds a pre-computed analysis result into escalation.
type RespondRequest struct {
	Result    detection.AnalysisResult `json:"result"`
	UserRef   string                   `json:"userRef"`
	SessionID string                   `json:"sessionId,omitempty"`
	Kind      escalation.SessionKind   `json:"kind,omitempty"`
}

// Respond handles a caller-supplied analysis result.
// POST /v1/respond
func (h *CrisisHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	handled, err := h.service.HandleResponse(r.Context(), req.Result, req.UserRef, req.SessionID, req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, handled)
}

// GetSession returns the live escalation snapshot.
// GET /v1/sessions/{sessionID}
func (h *CrisisHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snap, ok := h.service.Session(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ResolveRequest names who resolved the session.
type ResolveRequest struct {
	Actor string `json:"actor"`
}

// ResolveSession ends an active escalation.
// POST /v1/sessions/{sessionID}/resolve
func (h *CrisisHandler) ResolveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}
	snap, err := h.service.Resolve(r.Context(), sessionID, req.Actor)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Info("session resolved", "session_id", sessionID, "actor", req.Actor)
	writeJSON(w, http.StatusOK, snap)
}
