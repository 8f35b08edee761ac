package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/internal/http/middleware"
	"github.com/havenmind/crisis-engine/internal/ledger"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

type eventLister interface {
	ListByUser(ctx context.Context, userRef string, from, to time.Time) ([]events.CrisisEvent, error)
}

type auditQuerier interface {
	Query(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error)
}

type retentionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// AdminHandler serves the operator endpoints: event history, audit reads and
// on-demand retention purges.
type AdminHandler struct {
	events eventLister
	audit  auditQuerier
	purger retentionPurger
	logger *logging.Logger
}

func NewAdminHandler(events eventLister, audit auditQuerier, purger retentionPurger, logger *logging.Logger) *AdminHandler {
	if events == nil {
		panic("handlers: event repository required")
	}
	if audit == nil {
		panic("handlers: audit ledger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{events: events, audit: audit, purger: purger, logger: logger.Component("admin")}
}

// ListEvents returns a user's crisis event history within a time range.
// GET /admin/events?userRef=...&from=...&to=...
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userRef := r.URL.Query().Get("userRef")
	if userRef == "" {
		writeError(w, http.StatusBadRequest, "userRef is required")
		return
	}
	now := time.Now().UTC()
	from, ok := parseTimeParam(r, "from", now.AddDate(0, 0, -30))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	to, ok := parseTimeParam(r, "to", now)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}

	list, err := h.events.ListByUser(r.Context(), userRef, from, to)
	if err != nil {
		h.logger.Error("list events", "error", err, "user_ref", userRef)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

// QueryAudit returns audit entries newest first.
// GET /admin/audit?subjectRef=...&action=...&flagged=true&limit=...
func (h *AdminHandler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := ledger.Filter{
		SubjectRef:  q.Get("subjectRef"),
		Action:      ledger.Action(q.Get("action")),
		OnlyFlagged: q.Get("flagged") == "true",
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	} else {
		filter.Limit = 100
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}
	var ok bool
	if filter.StartTime, ok = parseTimeParam(r, "from", time.Time{}); !ok {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	if filter.EndTime, ok = parseTimeParam(r, "to", time.Time{}); !ok {
		writeError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}

	entries, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("query audit", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// Purge runs one retention pass immediately.
// POST /admin/purge
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if h.purger == nil {
		writeError(w, http.StatusNotImplemented, "retention purger not configured")
		return
	}
	operator, _ := middleware.OperatorFromContext(r.Context())
	purged, err := h.purger.PurgeExpired(r.Context())
	if err != nil {
		h.logger.Error("retention purge", "error", err, "operator", operator.Subject)
		writeError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	h.logger.Info("retention purge completed",
		"purged", purged,
		"operator", operator.Subject,
		"role", operator.Role,
	)
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
