package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/erp"
	"github.com/medidesk/clinicflow/internal/events"
	"github.com/medidesk/clinicflow/internal/ledger"
	"github.com/medidesk/clinicflow/internal/observability/metrics"
)

// Store collections used by the workflow.
const (
	collectionAssignment = "s_resourceassignment"
	collectionPartner    = "c_bpartner"
)

// Workflow errors.
var (
	ErrUnknownRegistration = errors.New("registration: not in local queue")
	ErrTerminalStatus      = errors.New("registration: status is terminal")
	ErrInvalidTransition   = errors.New("registration: transition out of order")
)

// Publisher is the audit sink the workflow reports to. Nil-checked at call
// sites; the queue works without a stream.
type Publisher interface {
	Publish(ctx context.Context, eventType string, subjectID int, payload any)
}

// Workflow owns the in-memory patient queue and its status state machine.
// The ledger write is the transition of record: in-memory state is only
// mutated after the ledger accepted the new value, so the UI can never show
// a transition that did not durably occur.
type Workflow struct {
	store   erp.Store
	ledger  ledger.Ledger
	events  Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu   sync.Mutex
	regs []*Registration
}

// NewWorkflow creates a registration workflow.
func NewWorkflow(store erp.Store, led ledger.Ledger, pub Publisher, m *metrics.Metrics, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		store:   store,
		ledger:  led,
		events:  pub,
		metrics: m,
		logger:  logger,
	}
}

// RegisterInput describes a new visit.
type RegisterInput struct {
	DoctorID    int
	PatientName string
	TaxID       string
	Kind        Kind
	From        time.Time
	To          time.Time
}

// Register creates a visit-queue entry: the patient is found by tax id or
// created, an assignment record is written, and the entry starts in the
// implicit WAITING state (no ledger row yet).
func (w *Workflow) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	if in.DoctorID <= 0 {
		return nil, errors.New("registration: doctor is required")
	}
	if in.PatientName == "" && in.TaxID == "" {
		return nil, errors.New("registration: patient name or tax id is required")
	}
	if in.Kind == "" {
		in.Kind = KindWalkIn
	}
	if in.From.IsZero() {
		in.From = time.Now()
	}
	if !in.To.After(in.From) {
		in.To = in.From.Add(15 * time.Minute)
	}

	patientID, patientName, err := w.findOrCreatePatient(ctx, in.PatientName, in.TaxID)
	if err != nil {
		return nil, err
	}

	seq, err := w.nextSequence(ctx, in.DoctorID, in.From)
	if err != nil {
		return nil, err
	}

	rec, err := w.store.Create(ctx, collectionAssignment, erp.Record{
		"S_Resource_ID":  in.DoctorID,
		"C_BPartner_ID":  patientID,
		"Name":           patientName,
		"Description":    string(in.Kind),
		"AssignDateFrom": erp.FormatTime(in.From),
		"AssignDateTo":   erp.FormatTime(in.To),
		"IsConfirmed":    false,
		"Qty":            seq,
	})
	if err != nil {
		return nil, fmt.Errorf("registration: create assignment: %w", err)
	}

	reg := &Registration{
		ID:           rec.ID(),
		DoctorID:     in.DoctorID,
		Sequence:     seq,
		PatientID:    patientID,
		PatientName:  patientName,
		PatientTaxID: in.TaxID,
		TimeFrom:     in.From,
		TimeTo:       in.To,
		Status:       StatusWaiting,
		Kind:         in.Kind,
	}

	w.mu.Lock()
	w.regs = append(w.regs, reg)
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.RegistrationsCreated.Inc()
	}
	if w.events != nil {
		w.events.Publish(ctx, events.TypeRegistrationCreated, reg.ID, reg)
	}
	w.logger.Info("patient registered",
		zap.Int("registration_id", reg.ID),
		zap.Int("doctor_id", in.DoctorID),
		zap.Int("sequence", seq))

	snapshot := *reg
	return &snapshot, nil
}

// Call moves a registration to CALLING.
func (w *Workflow) Call(ctx context.Context, id int) error {
	return w.transition(ctx, id, StatusCalling)
}

// StartConsultation moves a registration to CONSULTING.
func (w *Workflow) StartConsultation(ctx context.Context, id int) error {
	return w.transition(ctx, id, StatusConsulting)
}

// Complete moves a registration to COMPLETED.
func (w *Workflow) Complete(ctx context.Context, id int) error {
	return w.transition(ctx, id, StatusCompleted)
}

// Cancel diverts a registration to CANCELLED from any non-terminal state.
func (w *Workflow) Cancel(ctx context.Context, id int) error {
	return w.transition(ctx, id, StatusCancelled)
}

// Confirm marks the registration confirmed on the store, then locally.
func (w *Workflow) Confirm(ctx context.Context, id int) error {
	reg := w.find(id)
	if reg == nil {
		return ErrUnknownRegistration
	}
	if err := w.store.Update(ctx, collectionAssignment, id, erp.Record{"IsConfirmed": true}); err != nil {
		return fmt.Errorf("registration: confirm %d: %w", id, err)
	}
	w.mu.Lock()
	reg.IsConfirmed = true
	w.mu.Unlock()
	return nil
}

// StatusOf resolves one registration's status from the ledger; a missing
// row is WAITING, not an error.
func (w *Workflow) StatusOf(ctx context.Context, id int) (Status, error) {
	v, found, err := w.ledger.Get(ctx, ledger.Key(ledger.PrefixQueueStatus, id))
	if err != nil {
		return StatusWaiting, err
	}
	if !found {
		return StatusWaiting, nil
	}
	return ParseStatus(v), nil
}

// Refresh re-fetches the registration list for a time window, resolves every
// status with one batched ledger scan, and merges the result against local
// state. The merge keeps this safe against interleaved refreshes; see Merge.
func (w *Workflow) Refresh(ctx context.Context, from, to time.Time) ([]*Registration, error) {
	recs, err := w.store.List(ctx, collectionAssignment, erp.ListQuery{
		Filter:  erp.Between("AssignDateFrom", erp.FormatTime(from), erp.FormatTime(to)),
		OrderBy: "AssignDateFrom",
		Expand:  "C_BPartner_ID",
	})
	if err != nil {
		return nil, fmt.Errorf("registration: fetch window: %w", err)
	}

	statuses, err := w.ledger.ScanPrefix(ctx, ledger.PrefixQueueStatus)
	if err != nil {
		return nil, fmt.Errorf("registration: resolve statuses: %w", err)
	}

	fetched := make([]*Registration, 0, len(recs))
	for i, rec := range recs {
		reg := recordToRegistration(rec)
		if reg.Sequence == 0 {
			reg.Sequence = i + 1
		}
		reg.Status = ParseStatus(statuses[reg.ID])
		fetched = append(fetched, reg)
	}

	w.mu.Lock()
	w.regs = Merge(w.regs, fetched)
	out := snapshot(w.regs)
	w.mu.Unlock()
	return out, nil
}

// Registrations returns a copy of the local queue.
func (w *Workflow) Registrations() []*Registration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshot(w.regs)
}

func (w *Workflow) transition(ctx context.Context, id int, target Status) error {
	reg := w.find(id)
	if reg == nil {
		return ErrUnknownRegistration
	}

	w.mu.Lock()
	current := reg.Status
	w.mu.Unlock()

	if current.Terminal() {
		return ErrTerminalStatus
	}
	if target != StatusCancelled && target.Rank() != current.Rank()+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}

	// Ledger first. A failed write leaves the local status untouched.
	key := ledger.Key(ledger.PrefixQueueStatus, id)
	if err := w.ledger.Upsert(ctx, key, string(target), "queue status"); err != nil {
		return fmt.Errorf("registration: transition %d to %s: %w", id, target, err)
	}

	w.mu.Lock()
	reg.Status = target
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.QueueTransitions.WithLabelValues(string(target)).Inc()
	}
	if w.events != nil {
		w.events.Publish(ctx, events.TypeQueueTransition, id, map[string]any{
			"from": current, "to": target,
		})
	}
	w.logger.Info("queue transition",
		zap.Int("registration_id", id),
		zap.String("from", string(current)),
		zap.String("to", string(target)))
	return nil
}

func (w *Workflow) find(id int) *Registration {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.regs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (w *Workflow) findOrCreatePatient(ctx context.Context, name, taxID string) (int, string, error) {
	if taxID != "" {
		recs, err := w.store.List(ctx, collectionPartner, erp.ListQuery{
			Filter: erp.Eq("TaxID", taxID),
			Top:    1,
		})
		if err != nil {
			return 0, "", fmt.Errorf("registration: find patient: %w", err)
		}
		if len(recs) > 0 {
			existing := recs[0].String("Name")
			if existing == "" {
				existing = name
			}
			return recs[0].ID(), existing, nil
		}
	}

	rec, err := w.store.Create(ctx, collectionPartner, erp.Record{
		"Name":       name,
		"TaxID":      taxID,
		"IsCustomer": true,
	})
	if err != nil {
		return 0, "", fmt.Errorf("registration: create patient: %w", err)
	}
	return rec.ID(), name, nil
}

// nextSequence counts the doctor's assignments on the visit day.
func (w *Workflow) nextSequence(ctx context.Context, doctorID int, at time.Time) (int, error) {
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	recs, err := w.store.List(ctx, collectionAssignment, erp.ListQuery{
		Filter: erp.And(
			erp.EqInt("S_Resource_ID", doctorID),
			erp.Between("AssignDateFrom", erp.FormatTime(dayStart), erp.FormatTime(dayEnd)),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("registration: count queue: %w", err)
	}
	return len(recs) + 1, nil
}

func recordToRegistration(rec erp.Record) *Registration {
	reg := &Registration{
		ID:          rec.ID(),
		DoctorID:    rec.RefID("S_Resource_ID"),
		DoctorName:  rec.RefName("S_Resource_ID"),
		PatientID:   rec.RefID("C_BPartner_ID"),
		PatientName: rec.String("Name"),
		Sequence:    rec.Int("Qty"),
		IsConfirmed: rec.Bool("IsConfirmed"),
		Kind:        parseKind(rec.String("Description")),
	}
	if partner, ok := rec["C_BPartner_ID"].(map[string]any); ok {
		reg.PatientTaxID = erp.Record(partner).String("TaxID")
	}
	if t, err := erp.ParseTime(rec.String("AssignDateFrom")); err == nil {
		reg.TimeFrom = t
	}
	if t, err := erp.ParseTime(rec.String("AssignDateTo")); err == nil {
		reg.TimeTo = t
	}
	return reg
}

func parseKind(v string) Kind {
	if Kind(v) == KindAppointment {
		return KindAppointment
	}
	return KindWalkIn
}

func snapshot(regs []*Registration) []*Registration {
	out := make([]*Registration, len(regs))
	for i, r := range regs {
		c := *r
		out[i] = &c
	}
	return out
}
