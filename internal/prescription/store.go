package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/ledger"
)

// Store errors.
var (
	ErrNotFound   = errors.New("prescription: none recorded for registration")
	ErrEmptyLines = errors.New("prescription: at least one line is required")
)

// Store persists prescriptions through the ledger.
type Store struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewStore creates a prescription store.
func NewStore(led ledger.Ledger, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{ledger: led, logger: logger}
}

// Save writes the prescription for its registration id, normalizing derived
// fields first. Saving twice updates in place.
func (s *Store) Save(ctx context.Context, p *Prescription) error {
	if p.RegistrationID <= 0 {
		return errors.New("prescription: registration id is required")
	}
	p.Normalize()

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("prescription: marshal: %w", err)
	}
	key := ledger.Key(ledger.PrefixPrescription, p.RegistrationID)
	if err := s.ledger.Upsert(ctx, key, string(payload), "prescription"); err != nil {
		return fmt.Errorf("prescription: save: %w", err)
	}
	return nil
}

// Get loads the prescription for a registration. found is false when none
// has been recorded yet.
func (s *Store) Get(ctx context.Context, registrationID int) (*Prescription, bool, error) {
	key := ledger.Key(ledger.PrefixPrescription, registrationID)
	v, found, err := s.ledger.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	p := &Prescription{}
	if err := json.Unmarshal([]byte(v), p); err != nil {
		return nil, false, fmt.Errorf("prescription: decode %d: %w", registrationID, err)
	}
	return p, true, nil
}

// Complete marks the prescription COMPLETED. It is rejected locally, before
// any write, when no prescription exists or it has no lines.
func (s *Store) Complete(ctx context.Context, registrationID int) error {
	p, found, err := s.Get(ctx, registrationID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if len(p.Lines) == 0 {
		return ErrEmptyLines
	}
	p.Status = StatusCompleted
	return s.Save(ctx, p)
}

// ListCompleted returns every completed prescription, keyed off a single
// prefix scan.
func (s *Store) ListCompleted(ctx context.Context) ([]*Prescription, error) {
	rows, err := s.ledger.ScanPrefix(ctx, ledger.PrefixPrescription)
	if err != nil {
		return nil, err
	}

	out := make([]*Prescription, 0, len(rows))
	for id, v := range rows {
		p := &Prescription{}
		if err := json.Unmarshal([]byte(v), p); err != nil {
			s.logger.Warn("undecodable prescription skipped",
				zap.Int("registration_id", id), zap.Error(err))
			continue
		}
		if p.Status == StatusCompleted {
			out = append(out, p)
		}
	}
	return out, nil
}
