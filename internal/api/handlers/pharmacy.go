package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/dispense"
)

// PharmacyHandler exposes the dispense pipeline and the checkout queue.
type PharmacyHandler struct {
	pipeline *dispense.Pipeline
	checkout *dispense.Checkout
	logger   *zap.Logger
}

// NewPharmacyHandler creates a pharmacy handler.
func NewPharmacyHandler(p *dispense.Pipeline, c *dispense.Checkout, logger *zap.Logger) *PharmacyHandler {
	return &PharmacyHandler{pipeline: p, checkout: c, logger: logger}
}

// Routes returns the handler routes.
func (h *PharmacyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/dispenses", h.ListDispenses)
	r.Get("/dispenses/current", h.CurrentDispense)
	r.Post("/dispenses/confirm", h.ConfirmDispense)
	r.Post("/dispenses/{id}/begin", h.BeginDispense)
	r.Get("/dispenses/{id}/record", h.DispenseRecord)
	r.Get("/checkouts", h.ListCheckouts)
	r.Post("/checkouts/{id}/pay", h.Pay)
	return r
}

// ListDispenses handles GET /pharmacy/dispenses: it reloads the pending
// queue from the ledger so a restarted process sees the same queue.
func (h *PharmacyHandler) ListDispenses(w http.ResponseWriter, r *http.Request) {
	items, err := h.pipeline.LoadPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": items})
}

// CurrentDispense handles GET /pharmacy/dispenses/current.
func (h *PharmacyHandler) CurrentDispense(w http.ResponseWriter, r *http.Request) {
	item := h.pipeline.Current()
	if item == nil {
		writeError(w, http.StatusNotFound, "no dispense in progress")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// BeginDispense handles POST /pharmacy/dispenses/{id}/begin.
func (h *PharmacyHandler) BeginDispense(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	item, err := h.pipeline.Begin(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ConfirmDispense handles POST /pharmacy/dispenses/confirm. A result with
// completed=false carries the inventory warning; the dispense itself stands.
func (h *PharmacyHandler) ConfirmDispense(w http.ResponseWriter, r *http.Request) {
	res, err := h.pipeline.Confirm(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DispenseRecord handles GET /pharmacy/dispenses/{id}/record.
func (h *PharmacyHandler) DispenseRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	rec, found, err := h.pipeline.RecordOf(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no dispense record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListCheckouts handles GET /pharmacy/checkouts.
func (h *PharmacyHandler) ListCheckouts(w http.ResponseWriter, r *http.Request) {
	bills, err := h.checkout.LoadPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": bills})
}

// Pay handles POST /pharmacy/checkouts/{id}/pay.
func (h *PharmacyHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	if err := h.checkout.Pay(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": dispense.CheckoutPaid})
}
