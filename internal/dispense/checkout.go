package dispense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/events"
	"github.com/medidesk/clinicflow/internal/ledger"
	"github.com/medidesk/clinicflow/internal/observability/metrics"
	"github.com/medidesk/clinicflow/internal/prescription"
)

// ErrNotPayable means the registration has not been dispensed yet, or was
// already paid.
var ErrNotPayable = errors.New("checkout: registration is not awaiting payment")

// Bill is one payable visit: a dispensed registration with its line items.
type Bill struct {
	RegistrationID int                 `json:"registration_id"`
	PatientName    string              `json:"patient_name"`
	Lines          []prescription.Line `json:"lines"`
	Total          float64             `json:"total"`
}

// Checkout owns the payment queue. Dispensed registrations become payable;
// payment flips their checkout flag to PAID and retires them.
type Checkout struct {
	ledger  ledger.Ledger
	events  Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[int]*Bill
}

// NewCheckout creates a checkout queue.
func NewCheckout(led ledger.Ledger, pub Publisher, m *metrics.Metrics, logger *zap.Logger) *Checkout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkout{
		ledger:  led,
		events:  pub,
		metrics: m,
		logger:  logger,
		pending: make(map[int]*Bill),
	}
}

// LoadPending rebuilds the payment queue from the ledger: registrations whose
// dispense reached DISPENSED and whose checkout flag is not yet PAID. The
// bill lines come from the dispense record; a registration whose record is
// missing or undecodable is skipped with a warning.
func (c *Checkout) LoadPending(ctx context.Context) ([]*Bill, error) {
	dispensed, err := c.ledger.ScanPrefix(ctx, ledger.PrefixDispenseStatus)
	if err != nil {
		return nil, fmt.Errorf("checkout: resolve dispense statuses: %w", err)
	}
	paid, err := c.ledger.ScanPrefix(ctx, ledger.PrefixCheckoutStatus)
	if err != nil {
		return nil, fmt.Errorf("checkout: resolve checkout statuses: %w", err)
	}
	records, err := c.ledger.ScanPrefix(ctx, ledger.PrefixDispenseRecord)
	if err != nil {
		return nil, fmt.Errorf("checkout: resolve dispense records: %w", err)
	}

	bills := make(map[int]*Bill)
	for id, v := range dispensed {
		if ParseStatus(v) != StatusDispensed {
			continue
		}
		if ParseCheckoutStatus(paid[id]) == CheckoutPaid {
			continue
		}
		raw, ok := records[id]
		if !ok {
			c.logger.Warn("dispensed registration has no dispense record",
				zap.Int("registration_id", id))
			continue
		}
		rec := &Record{}
		if err := json.Unmarshal([]byte(raw), rec); err != nil {
			c.logger.Warn("undecodable dispense record skipped",
				zap.Int("registration_id", id), zap.Error(err))
			continue
		}
		bill := &Bill{
			RegistrationID: id,
			PatientName:    rec.PatientName,
			Lines:          rec.Lines,
		}
		for _, line := range rec.Lines {
			bill.Total += line.Quantity
		}
		bills[id] = bill
	}

	c.mu.Lock()
	c.pending = bills
	c.mu.Unlock()
	return c.Pending(), nil
}

// Pay marks one pending bill PAID. The ledger write happens first; the bill
// leaves the queue only after it succeeds.
func (c *Checkout) Pay(ctx context.Context, registrationID int) error {
	c.mu.Lock()
	bill, ok := c.pending[registrationID]
	c.mu.Unlock()
	if !ok {
		return ErrNotPayable
	}

	key := ledger.Key(ledger.PrefixCheckoutStatus, registrationID)
	if err := c.ledger.Upsert(ctx, key, string(CheckoutPaid), "checkout status"); err != nil {
		return fmt.Errorf("checkout: mark paid: %w", err)
	}

	c.mu.Lock()
	delete(c.pending, registrationID)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CheckoutsPaid.Inc()
	}
	if c.events != nil {
		c.events.Publish(ctx, events.TypeCheckoutPaid, registrationID, bill)
	}
	c.logger.Info("checkout paid", zap.Int("registration_id", registrationID))
	return nil
}

// StatusOf resolves one registration's checkout status; a missing ledger row
// is PENDING.
func (c *Checkout) StatusOf(ctx context.Context, registrationID int) (CheckoutStatus, error) {
	v, found, err := c.ledger.Get(ctx, ledger.Key(ledger.PrefixCheckoutStatus, registrationID))
	if err != nil {
		return CheckoutPending, err
	}
	if !found {
		return CheckoutPending, nil
	}
	return ParseCheckoutStatus(v), nil
}

// Pending returns the payable bills ordered by registration id.
func (c *Checkout) Pending() []*Bill {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Bill, 0, len(c.pending))
	for _, b := range c.pending {
		copy := *b
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegistrationID < out[j].RegistrationID
	})
	return out
}
