package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/erp"
	"github.com/medidesk/clinicflow/internal/prescription"
	"github.com/medidesk/clinicflow/internal/registration"
)

func parseWireTime(v string) (time.Time, error) {
	return erp.ParseTime(v)
}

// RegistrationHandler exposes the visit queue and consultation prescriptions.
type RegistrationHandler struct {
	workflow *registration.Workflow
	scripts  *prescription.Store
	logger   *zap.Logger
}

// NewRegistrationHandler creates a registration handler.
func NewRegistrationHandler(wf *registration.Workflow, scripts *prescription.Store, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{workflow: wf, scripts: scripts, logger: logger}
}

// Routes returns the handler routes.
func (h *RegistrationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/{id}/call", h.transition(h.workflow.Call))
	r.Post("/{id}/consult", h.transition(h.workflow.StartConsultation))
	r.Post("/{id}/complete", h.transition(h.workflow.Complete))
	r.Post("/{id}/cancel", h.transition(h.workflow.Cancel))
	r.Post("/{id}/confirm", h.transition(h.workflow.Confirm))
	r.Get("/{id}/status", h.Status)
	r.Get("/{id}/prescription", h.GetPrescription)
	r.Put("/{id}/prescription", h.PutPrescription)
	r.Post("/{id}/prescription/complete", h.CompletePrescription)
	return r
}

// List handles GET /registrations?date=2006-01-02. The date defaults to
// today; the queue is refreshed against the store and merged with local
// state before rendering.
func (h *RegistrationHandler) List(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.ParseInLocation("2006-01-02", q, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.Local)
	to := from.AddDate(0, 0, 1)

	regs, err := h.workflow.Refresh(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": regs})
}

// CreateRequest is the body of POST /registrations. From and To use the
// store's wire time format.
type CreateRequest struct {
	DoctorID    int    `json:"doctor_id"`
	PatientName string `json:"patient_name"`
	TaxID       string `json:"tax_id"`
	Kind        string `json:"kind"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// Create handles POST /registrations.
func (h *RegistrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := registration.RegisterInput{
		DoctorID:    req.DoctorID,
		PatientName: req.PatientName,
		TaxID:       req.TaxID,
		Kind:        registration.Kind(req.Kind),
	}
	var err error
	if req.From != "" {
		if in.From, err = parseWireTime(req.From); err != nil {
			writeError(w, http.StatusBadRequest, "from: "+err.Error())
			return
		}
	}
	if req.To != "" {
		if in.To, err = parseWireTime(req.To); err != nil {
			writeError(w, http.StatusBadRequest, "to: "+err.Error())
			return
		}
	}

	reg, err := h.workflow.Register(r.Context(), in)
	if err != nil {
		h.logger.Warn("registration failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// Status handles GET /registrations/{id}/status.
func (h *RegistrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	status, err := h.workflow.StatusOf(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

// GetPrescription handles GET /registrations/{id}/prescription.
func (h *RegistrationHandler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	p, found, err := h.scripts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no prescription recorded")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutPrescription handles PUT /registrations/{id}/prescription. Quantities
// are recomputed server-side; client values are ignored.
func (h *RegistrationHandler) PutPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	p := &prescription.Prescription{}
	if err := json.NewDecoder(r.Body).Decode(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.RegistrationID = id
	if err := h.scripts.Save(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CompletePrescription handles POST /registrations/{id}/prescription/complete.
func (h *RegistrationHandler) CompletePrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	if err := h.scripts.Complete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": prescription.StatusCompleted})
}

func (h *RegistrationHandler) transition(fn func(ctx context.Context, id int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r)
		if !ok {
			return
		}
		if err := fn(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		status, err := h.workflow.StatusOf(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
	}
}

func urlID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
