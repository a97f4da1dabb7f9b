package dispense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/erp"
	"github.com/medidesk/clinicflow/internal/events"
	"github.com/medidesk/clinicflow/internal/ledger"
	"github.com/medidesk/clinicflow/internal/observability/metrics"
	"github.com/medidesk/clinicflow/internal/prescription"
	"github.com/medidesk/clinicflow/internal/session"
	"github.com/medidesk/clinicflow/pkg/workerpool"
)

// Store collections used by the pipeline.
const (
	collectionInventory     = "m_inventory"
	collectionInventoryLine = "m_inventoryline"
	collectionStock         = "m_storageonhand"
	collectionAssignment    = "s_resourceassignment"
)

// docBaseTypeInternalUse selects the document type of the compensating
// inventory-deduction document.
const docBaseTypeInternalUse = "MMI"

// Pipeline errors.
var (
	ErrNotPending  = errors.New("dispense: registration is not in the pending queue")
	ErrNoCurrent   = errors.New("dispense: no dispense in progress")
	ErrNoWarehouse = errors.New("dispense: session has no warehouse scope")
)

// Stage names how far a confirm attempt got. Stages are durable one by one;
// there is no transaction across them.
type Stage string

const (
	StageDispensing Stage = "dispensing"
	StageDispensed  Stage = "dispensed"
	StageInventory  Stage = "inventory"
	StageRecorded   Stage = "recorded"
)

// Record is the durable dispense audit row, written whether or not the
// inventory posting succeeded so dispensing history stays queryable.
type Record struct {
	RegistrationID int                 `json:"registration_id"`
	PatientName    string              `json:"patient_name"`
	DispensedAt    time.Time           `json:"dispensed_at"`
	Lines          []prescription.Line `json:"lines"`
	InventoryDocID int                 `json:"inventory_doc_id,omitempty"`
}

// Result reports a confirm attempt. Completed is false when the compensating
// document could not be created or posted; Warning then carries the reason.
// A warning never fails the pipeline.
type Result struct {
	Stage          Stage   `json:"stage"`
	Completed      bool    `json:"completed"`
	Warning        string  `json:"warning,omitempty"`
	InventoryDocID int     `json:"inventory_doc_id,omitempty"`
	Record         *Record `json:"record,omitempty"`
}

// Item is one pending dispense.
type Item struct {
	RegistrationID int                       `json:"registration_id"`
	PatientName    string                    `json:"patient_name"`
	Prescription   *prescription.Prescription `json:"prescription"`
	// StockLevels holds on-hand quantity per product id, display only.
	StockLevels map[int]float64 `json:"stock_levels,omitempty"`

	// inventoryDocID survives a failed confirm attempt so a user-initiated
	// retry resumes the existing document instead of deducting twice.
	inventoryDocID int
}

// Lookups is the slice of the lookup cache the pipeline needs.
type Lookups interface {
	DocTypeForBaseType(ctx context.Context, baseType string) (int, error)
	DefaultLocator(ctx context.Context, warehouseID int) (int, error)
}

// Scope exposes the negotiated session context.
type Scope interface {
	CurrentContext() *session.Context
}

// Publisher is the audit sink; nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, eventType string, subjectID int, payload any)
}

// Pipeline owns the pharmacy pending queue and the staged dispense flow.
type Pipeline struct {
	store   erp.Store
	ledger  ledger.Ledger
	scripts *prescription.Store
	lookups Lookups
	scope   Scope
	pool    *workerpool.Pool
	events  Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending []*Item
	current *Item
}

// NewPipeline creates a dispense pipeline. workers bounds the parallel stock
// lookups; workers <= 0 falls back to the pool default.
func NewPipeline(store erp.Store, led ledger.Ledger, scripts *prescription.Store, lookups Lookups, scope Scope, pub Publisher, workers int, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:   store,
		ledger:  led,
		scripts: scripts,
		lookups: lookups,
		scope:   scope,
		pool:    workerpool.New(workers, logger),
		events:  pub,
		metrics: m,
		logger:  logger,
	}
}

// LoadPending rebuilds the pending queue: completed prescriptions whose
// dispense status has not reached DISPENSED yet.
func (p *Pipeline) LoadPending(ctx context.Context) ([]*Item, error) {
	scripts, err := p.scripts.ListCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispense: list prescriptions: %w", err)
	}
	statuses, err := p.ledger.ScanPrefix(ctx, ledger.PrefixDispenseStatus)
	if err != nil {
		return nil, fmt.Errorf("dispense: resolve statuses: %w", err)
	}

	items := make([]*Item, 0, len(scripts))
	for _, script := range scripts {
		if ParseStatus(statuses[script.RegistrationID]) == StatusDispensed {
			continue
		}
		items = append(items, &Item{
			RegistrationID: script.RegistrationID,
			PatientName:    p.patientName(ctx, script.RegistrationID),
			Prescription:   script,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].RegistrationID < items[j].RegistrationID
	})

	p.mu.Lock()
	p.pending = items
	p.mu.Unlock()
	return p.Pending(), nil
}

// Begin starts dispensing one pending registration: the status flag moves to
// DISPENSING and the stock level of every prescribed product is fetched for
// display. Stock lookups fail soft to zero.
func (p *Pipeline) Begin(ctx context.Context, registrationID int) (*Item, error) {
	item := p.findPending(registrationID)
	if item == nil {
		return nil, ErrNotPending
	}

	key := ledger.Key(ledger.PrefixDispenseStatus, registrationID)
	if err := p.ledger.Upsert(ctx, key, string(StatusDispensing), "dispense status"); err != nil {
		return nil, fmt.Errorf("dispense: mark dispensing: %w", err)
	}

	item.StockLevels = p.fetchStockLevels(ctx, item.Prescription.Lines)

	p.mu.Lock()
	p.current = item
	p.mu.Unlock()

	snapshot := *item
	return &snapshot, nil
}

// Confirm runs the remaining stages for the current item:
//
//	2. status flag → DISPENSED (the point of no return for the queue)
//	3. compensating inventory document, created and posted; failure here is
//	   recorded as a warning, never rolled back
//	4. durable dispense record, written regardless of stage 3's outcome
//	5. removal from the pending queue
func (p *Pipeline) Confirm(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	item := p.current
	p.mu.Unlock()
	if item == nil {
		return nil, ErrNoCurrent
	}

	sc := p.scope.CurrentContext()
	if sc == nil || sc.WarehouseID == nil {
		return nil, ErrNoWarehouse
	}

	res := &Result{Stage: StageDispensing}

	key := ledger.Key(ledger.PrefixDispenseStatus, item.RegistrationID)
	if err := p.ledger.Upsert(ctx, key, string(StatusDispensed), "dispense status"); err != nil {
		return res, fmt.Errorf("dispense: mark dispensed: %w", err)
	}
	res.Stage = StageDispensed

	if err := p.postInventoryDoc(ctx, item, *sc.WarehouseID); err != nil {
		res.Warning = err.Error()
		if p.metrics != nil {
			p.metrics.DispenseWarnings.Inc()
		}
		p.logger.Warn("inventory deduction failed, dispense stands",
			zap.Int("registration_id", item.RegistrationID),
			zap.Error(err))
	} else {
		res.Completed = true
		res.Stage = StageInventory
	}
	res.InventoryDocID = item.inventoryDocID

	record := &Record{
		RegistrationID: item.RegistrationID,
		PatientName:    item.PatientName,
		DispensedAt:    time.Now(),
		Lines:          item.Prescription.Lines,
		InventoryDocID: item.inventoryDocID,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return res, fmt.Errorf("dispense: marshal record: %w", err)
	}
	recordKey := ledger.Key(ledger.PrefixDispenseRecord, item.RegistrationID)
	if err := p.ledger.Upsert(ctx, recordKey, string(payload), "dispense record"); err != nil {
		// The item stays queued; a retry resumes safely because the status
		// upserts are idempotent and the inventory document id is retained.
		return res, fmt.Errorf("dispense: write record: %w", err)
	}
	res.Record = record
	res.Stage = StageRecorded

	p.mu.Lock()
	p.removePending(item.RegistrationID)
	p.current = nil
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.DispensesCompleted.Inc()
	}
	if p.events != nil {
		p.events.Publish(ctx, events.TypeDispenseCompleted, item.RegistrationID, res)
	}
	p.logger.Info("dispense finished",
		zap.Int("registration_id", item.RegistrationID),
		zap.Bool("inventory_posted", res.Completed))
	return res, nil
}

// StatusOf resolves one registration's dispense status; a missing ledger row
// is PENDING.
func (p *Pipeline) StatusOf(ctx context.Context, registrationID int) (Status, error) {
	v, found, err := p.ledger.Get(ctx, ledger.Key(ledger.PrefixDispenseStatus, registrationID))
	if err != nil {
		return StatusPending, err
	}
	if !found {
		return StatusPending, nil
	}
	return ParseStatus(v), nil
}

// RecordOf loads the dispense audit record for a registration.
func (p *Pipeline) RecordOf(ctx context.Context, registrationID int) (*Record, bool, error) {
	v, found, err := p.ledger.Get(ctx, ledger.Key(ledger.PrefixDispenseRecord, registrationID))
	if err != nil || !found {
		return nil, false, err
	}
	rec := &Record{}
	if err := json.Unmarshal([]byte(v), rec); err != nil {
		return nil, false, fmt.Errorf("dispense: decode record %d: %w", registrationID, err)
	}
	return rec, true, nil
}

// Pending returns a copy of the pending queue.
func (p *Pipeline) Pending() []*Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Item, len(p.pending))
	for i, it := range p.pending {
		c := *it
		out[i] = &c
	}
	return out
}

// Current returns the item being dispensed, or nil.
func (p *Pipeline) Current() *Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	c := *p.current
	return &c
}

// postInventoryDoc creates the compensating inventory-deduction document and
// asks the store to complete it. Lines with zero or negative quantity are
// silently skipped. A document created by an earlier failed attempt is
// reused, not duplicated.
func (p *Pipeline) postInventoryDoc(ctx context.Context, item *Item, warehouseID int) error {
	if item.inventoryDocID == 0 {
		docTypeID, err := p.lookups.DocTypeForBaseType(ctx, docBaseTypeInternalUse)
		if err != nil {
			return fmt.Errorf("resolve document type: %w", err)
		}
		locatorID, err := p.lookups.DefaultLocator(ctx, warehouseID)
		if err != nil {
			return fmt.Errorf("resolve locator: %w", err)
		}

		header, err := p.store.Create(ctx, collectionInventory, erp.Record{
			"C_DocType_ID":   docTypeID,
			"M_Warehouse_ID": warehouseID,
			"MovementDate":   erp.FormatTime(time.Now()),
			"Description":    "Dispense for registration " + strconv.Itoa(item.RegistrationID),
		})
		if err != nil {
			return fmt.Errorf("create inventory document: %w", err)
		}
		item.inventoryDocID = header.ID()

		lineNo := 0
		for _, line := range item.Prescription.Lines {
			if line.Quantity <= 0 {
				continue
			}
			lineNo += 10
			_, err := p.store.Create(ctx, collectionInventoryLine, erp.Record{
				"M_Inventory_ID": item.inventoryDocID,
				"M_Product_ID":   line.ProductID,
				"M_Locator_ID":   locatorID,
				"QtyInternalUse": line.Quantity,
				"Line":           lineNo,
			})
			if err != nil {
				return fmt.Errorf("create inventory line for product %d: %w", line.ProductID, err)
			}
		}
	}

	if err := p.store.Update(ctx, collectionInventory, item.inventoryDocID, erp.Record{
		"doc-action": "CO",
	}); err != nil {
		return fmt.Errorf("complete inventory document: %w", err)
	}
	return nil
}

// fetchStockLevels resolves on-hand quantity per product with bounded
// parallelism. Failures degrade to zero; this data is display only.
func (p *Pipeline) fetchStockLevels(ctx context.Context, lines []prescription.Line) map[int]float64 {
	var warehouseID int
	if sc := p.scope.CurrentContext(); sc != nil && sc.WarehouseID != nil {
		warehouseID = *sc.WarehouseID
	}

	tasks := make([]workerpool.Task, len(lines))
	for i, line := range lines {
		productID := line.ProductID
		tasks[i] = workerpool.Task{
			ID: strconv.Itoa(productID),
			Fn: func(ctx context.Context) (any, error) {
				filter := erp.EqInt("M_Product_ID", productID)
				if warehouseID != 0 {
					filter = erp.And(filter, erp.EqInt("M_Warehouse_ID", warehouseID))
				}
				recs, err := p.store.List(ctx, collectionStock, erp.ListQuery{Filter: filter})
				if err != nil {
					return 0.0, err
				}
				var total float64
				for _, rec := range recs {
					total += rec.Float("QtyOnHand")
				}
				return total, nil
			},
		}
	}

	levels := make(map[int]float64, len(lines))
	for _, result := range p.pool.Run(ctx, tasks) {
		id, _ := strconv.Atoi(result.TaskID)
		if result.Err != nil {
			levels[id] = 0
			continue
		}
		if qty, ok := result.Data.(float64); ok {
			levels[id] = qty
		}
	}
	return levels
}

func (p *Pipeline) findPending(registrationID int) *Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range p.pending {
		if it.RegistrationID == registrationID {
			return it
		}
	}
	return nil
}

func (p *Pipeline) removePending(registrationID int) {
	for i, it := range p.pending {
		if it.RegistrationID == registrationID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

func (p *Pipeline) patientName(ctx context.Context, registrationID int) string {
	rec, err := p.store.Get(ctx, collectionAssignment, registrationID)
	if err != nil {
		p.logger.Debug("patient name lookup failed",
			zap.Int("registration_id", registrationID), zap.Error(err))
		return ""
	}
	return rec.String("Name")
}
