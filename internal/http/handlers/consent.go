package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenmind/crisis-engine/internal/ledger"
	"github.com/havenmind/crisis-engine/internal/notify"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

type consentAPI interface {
	GetConsent(ctx context.Context, userRef string) (ledger.ConsentRecord, error)
	SetConsent(ctx context.Context, userRef string, granted bool) (ledger.ConsentRecord, error)
}

type contactsAPI interface {
	Contacts(ctx context.Context, userRef string) ([]notify.Contact, error)
	SaveContacts(ctx context.Context, userRef string, contacts []notify.Contact) error
}

// ConsentHandler serves consent reads/writes and the emergency contact list.
type ConsentHandler struct {
	consent  consentAPI
	contacts contactsAPI
	logger   *logging.Logger
}

func NewConsentHandler(consent consentAPI, contacts contactsAPI, logger *logging.Logger) *ConsentHandler {
	if consent == nil {
		panic("handlers: consent store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConsentHandler{consent: consent, contacts: contacts, logger: logger.Component("http")}
}

// GetConsent returns the user's data-sharing record. A user with no record
// reads as not consenting.
// GET /v1/consent/{userRef}
func (h *ConsentHandler) GetConsent(w http.ResponseWriter, r *http.Request) {
	userRef := chi.URLParam(r, "userRef")
	record, err := h.consent.GetConsent(r.Context(), userRef)
	if err != nil {
		h.logger.Error("get consent", "error", err, "user_ref", userRef)
		writeError(w, http.StatusInternalServerError, "failed to load consent")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// SetConsentRequest is the consent change payload.
type SetConsentRequest struct {
	DataSharing bool `json:"dataSharing"`
}

// SetConsent grants or revokes data-sharing consent.
// PUT /v1/consent/{userRef}
func (h *ConsentHandler) SetConsent(w http.ResponseWriter, r *http.Request) {
	userRef := chi.URLParam(r, "userRef")

	var req SetConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	record, err := h.consent.SetConsent(r.Context(), userRef, req.DataSharing)
	if err != nil {
		h.logger.Error("set consent", "error", err, "user_ref", userRef)
		writeError(w, http.StatusInternalServerError, "failed to update consent")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GetContacts returns the user's emergency contacts.
// GET /v1/contacts/{userRef}
func (h *ConsentHandler) GetContacts(w http.ResponseWriter, r *http.Request) {
	if h.contacts == nil {
		writeError(w, http.StatusNotImplemented, "contact storage not configured")
		return
	}
	userRef := chi.URLParam(r, "userRef")
	list, err := h.contacts.Contacts(r.Context(), userRef)
	if err != nil {
		h.logger.Error("get contacts", "error", err, "user_ref", userRef)
		writeError(w, http.StatusInternalServerError, "failed to load contacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": list})
}

// SaveContactsRequest replaces the user's emergency contact list.
type SaveContactsRequest struct {
	Contacts []notify.Contact `json:"contacts"`
}

// SaveContacts stores the user's emergency contacts.
// PUT /v1/contacts/{userRef}
func (h *ConsentHandler) SaveContacts(w http.ResponseWriter, r *http.Request) {
	if h.contacts == nil {
		writeError(w, http.StatusNotImplemented, "contact storage not configured")
		return
	}
	userRef := chi.URLParam(r, "userRef")

	var req SaveContactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, c := range req.Contacts {
		if c.Phone == "" && c.Email == "" {
			writeError(w, http.StatusBadRequest, "each contact needs a phone or email")
			return
		}
	}
	if err := h.contacts.SaveContacts(r.Context(), userRef, req.Contacts); err != nil {
		h.logger.Error("save contacts", "error", err, "user_ref", userRef)
		writeError(w, http.StatusInternalServerError, "failed to save contacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Contacts)})
}
