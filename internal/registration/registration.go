package registration

import "time"

// Kind distinguishes how the patient entered the queue.
type Kind string

const (
	KindWalkIn      Kind = "walk-in"
	KindAppointment Kind = "appointment"
)

// Registration is one patient's visit-queue entry for one doctor. It joins
// the assignment record in the store with the queue status resolved from the
// ledger.
type Registration struct {
	ID           int       `json:"id"`
	DoctorID     int       `json:"doctor_id"`
	DoctorName   string    `json:"doctor_name"`
	Sequence     int       `json:"sequence"`
	PatientID    int       `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	PatientTaxID string    `json:"patient_tax_id"`
	TimeFrom     time.Time `json:"time_from"`
	TimeTo       time.Time `json:"time_to"`
	IsConfirmed  bool      `json:"is_confirmed"`
	Status       Status    `json:"status"`
	Kind         Kind      `json:"kind"`
}
