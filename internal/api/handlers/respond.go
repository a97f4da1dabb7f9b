// Package handlers provides HTTP handlers for the clinic API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medidesk/clinicflow/internal/dispense"
	"github.com/medidesk/clinicflow/internal/erp"
	"github.com/medidesk/clinicflow/internal/prescription"
	"github.com/medidesk/clinicflow/internal/registration"
	"github.com/medidesk/clinicflow/internal/session"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeDomainError maps known domain errors onto status codes; anything
// unrecognized is a 502 because the failure came from the record store.
func writeDomainError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, erp.ErrUnauthorized), errors.Is(err, session.ErrNoTenants):
		code = http.StatusUnauthorized
	case errors.Is(err, erp.ErrNotFound),
		errors.Is(err, registration.ErrUnknownRegistration),
		errors.Is(err, prescription.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidStep),
		errors.Is(err, session.ErrCannotGoBack),
		errors.Is(err, registration.ErrTerminalStatus),
		errors.Is(err, registration.ErrInvalidTransition),
		errors.Is(err, dispense.ErrNotPending),
		errors.Is(err, dispense.ErrNoCurrent),
		errors.Is(err, dispense.ErrNoWarehouse),
		errors.Is(err, dispense.ErrNotPayable):
		code = http.StatusConflict
	case errors.Is(err, prescription.ErrEmptyLines):
		code = http.StatusUnprocessableEntity
	}
	writeError(w, code, err.Error())
}
