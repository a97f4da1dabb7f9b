// Package ledger implements generic named-value records on top of the record
// store. The store has no native workflow column, so every status concept in
// the clinic (queue, dispense, checkout, prescriptions, dispense history) is
// externalized as one uniquely named value row here. Absence of a row is a
// valid initial condition, never an error.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/erp"
)

// Collection is the store table backing the ledger.
const Collection = "ad_sysconfig"

// Name prefixes for the derived ledgers. Subject ids are appended directly,
// e.g. QUEUE_STATUS_1000023.
const (
	PrefixQueueStatus    = "QUEUE_STATUS_"
	PrefixDispenseStatus = "DISPENSE_STATUS_"
	PrefixCheckoutStatus = "CHECKOUT_STATUS_"
	PrefixPrescription   = "PRESCRIPTION_"
	PrefixDispenseRecord = "DISPENSE_RECORD_"
)

// Key builds a derived ledger name from a prefix and subject id.
func Key(prefix string, subjectID int) string {
	return prefix + strconv.Itoa(subjectID)
}

// Ledger is the name→value substrate every state machine in the service is
// built on.
type Ledger interface {
	// Get returns the value for name. found is false when no row exists.
	Get(ctx context.Context, name string) (value string, found bool, err error)
	// Upsert writes value under name, creating the row on first use and
	// updating it afterwards. Re-running the same upsert never duplicates.
	Upsert(ctx context.Context, name, value, description string) error
	// Delete removes the row for name. Deleting a missing row is a no-op.
	Delete(ctx context.Context, name string) error
	// ScanPrefix resolves every row whose name starts with prefix, keyed by
	// the numeric subject id parsed back out of the name. One store call,
	// regardless of how many subjects exist.
	ScanPrefix(ctx context.Context, prefix string) (map[int]string, error)
}

// Store is the gateway-backed Ledger implementation.
type Store struct {
	store  erp.Store
	logger *zap.Logger
}

// NewStore creates a ledger over the record gateway.
func NewStore(store erp.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{store: store, logger: logger}
}

// Get implements Ledger.
func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	rec, err := s.find(ctx, name)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	return rec.String("Value"), true, nil
}

// Upsert implements Ledger.
func (s *Store) Upsert(ctx context.Context, name, value, description string) error {
	rec, err := s.find(ctx, name)
	if err != nil {
		return err
	}

	if rec != nil {
		fields := erp.Record{"Value": value}
		if description != "" {
			fields["Description"] = description
		}
		if err := s.store.Update(ctx, Collection, rec.ID(), fields); err != nil {
			return fmt.Errorf("ledger: update %s: %w", name, err)
		}
		return nil
	}

	_, err = s.store.Create(ctx, Collection, erp.Record{
		"AD_Org_ID":          0,
		"Name":               name,
		"Value":              value,
		"Description":        description,
		"ConfigurationLevel": "S",
	})
	if err != nil {
		return fmt.Errorf("ledger: create %s: %w", name, err)
	}
	return nil
}

// Delete implements Ledger.
func (s *Store) Delete(ctx context.Context, name string) error {
	rec, err := s.find(ctx, name)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := s.store.Delete(ctx, Collection, rec.ID()); err != nil {
		return fmt.Errorf("ledger: delete %s: %w", name, err)
	}
	return nil
}

// ScanPrefix implements Ledger.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) (map[int]string, error) {
	recs, err := s.store.List(ctx, Collection, erp.ListQuery{
		Filter: erp.Contains("Name", prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: scan %s: %w", prefix, err)
	}

	out := make(map[int]string, len(recs))
	for _, rec := range recs {
		name := rec.String("Name")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id, err := strconv.Atoi(name[len(prefix):])
		if err != nil {
			s.logger.Debug("ledger row with non-numeric suffix skipped",
				zap.String("name", name))
			continue
		}
		out[id] = rec.String("Value")
	}
	return out, nil
}

func (s *Store) find(ctx context.Context, name string) (erp.Record, error) {
	recs, err := s.store.List(ctx, Collection, erp.ListQuery{
		Filter: erp.Eq("Name", name),
		Top:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup %s: %w", name, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}
