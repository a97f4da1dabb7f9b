package dispense

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/medidesk/clinicflow/internal/erp"
	"github.com/medidesk/clinicflow/internal/ledger"
	"github.com/medidesk/clinicflow/internal/prescription"
	"github.com/medidesk/clinicflow/internal/session"
)

// fakeStore emulates the collections the pipeline touches. failUpdate makes
// the document completion call fail, which is the classic partial-failure
// case: the deduction document exists but cannot be posted.
type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]map[int]erp.Record
	nextID     int
	failUpdate bool
	failCreate string // collection whose Create fails
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[int]erp.Record), nextID: 2000000}
}

func (f *fakeStore) List(_ context.Context, collection string, q erp.ListQuery) ([]erp.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []erp.Record
	for _, rec := range f.rows[collection] {
		if strings.Contains(q.Filter, "M_Product_ID eq ") {
			// crude but sufficient: match on the product id literal
			want := "M_Product_ID eq " + strconv.Itoa(rec.Int("M_Product_ID"))
			if !strings.Contains(q.Filter+" ", want+" ") && !strings.HasSuffix(q.Filter, want) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, collection string, id int) (erp.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[collection][id]
	if !ok {
		return nil, erp.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Create(_ context.Context, collection string, fields erp.Record) (erp.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate == collection {
		return nil, errors.New("store rejected create")
	}
	f.nextID++
	rec := erp.Record{"id": f.nextID}
	for k, v := range fields {
		rec[k] = v
	}
	if f.rows[collection] == nil {
		f.rows[collection] = make(map[int]erp.Record)
	}
	f.rows[collection][f.nextID] = rec
	return rec, nil
}

func (f *fakeStore) Update(_ context.Context, collection string, id int, fields erp.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate && collection == collectionInventory {
		return errors.New("document completion rejected")
	}
	rec, ok := f.rows[collection][id]
	if !ok {
		return erp.ErrNotFound
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, collection string, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows[collection], id)
	return nil
}

type fakeLookups struct{}

func (fakeLookups) DocTypeForBaseType(context.Context, string) (int, error) { return 500, nil }
func (fakeLookups) DefaultLocator(context.Context, int) (int, error)        { return 600, nil }

type fakeScope struct{ sc *session.Context }

func (f fakeScope) CurrentContext() *session.Context { return f.sc }

func scopeWithWarehouse(id int) fakeScope {
	wh := id
	return fakeScope{sc: &session.Context{WarehouseID: &wh}}
}

func seedCompletedPrescription(t *testing.T, scripts *prescription.Store, regID int) {
	t.Helper()
	p := &prescription.Prescription{
		RegistrationID: regID,
		Diagnosis:      "common cold",
		Lines: []prescription.Line{
			{ProductID: 10, ProductName: "Paracetamol", Dose: 1, Frequency: prescription.FreqThrice, Days: 3},
		},
	}
	if err := scripts.Save(context.Background(), p); err != nil {
		t.Fatalf("save prescription: %v", err)
	}
	if err := scripts.Complete(context.Background(), regID); err != nil {
		t.Fatalf("complete prescription: %v", err)
	}
}

func newTestPipeline(store *fakeStore, led ledger.Ledger) (*Pipeline, *prescription.Store) {
	scripts := prescription.NewStore(led, nil)
	p := NewPipeline(store, led, scripts, fakeLookups{}, scopeWithWarehouse(77), nil, 2, nil, nil)
	return p, scripts
}

func TestFullDispenseFlow(t *testing.T) {
	store := newFakeStore()
	led := ledger.NewMemory()
	pipe, scripts := newTestPipeline(store, led)
	ctx := context.Background()
	seedCompletedPrescription(t, scripts, 1)

	// Stock on hand for display.
	store.Create(ctx, collectionStock, erp.Record{"M_Product_ID": 10, "QtyOnHand": 40.0})
	store.Create(ctx, collectionStock, erp.Record{"M_Product_ID": 10, "QtyOnHand": 2.0})

	items, err := pipe.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(items) != 1 || items[0].RegistrationID != 1 {
		t.Fatalf("pending = %+v", items)
	}

	item, err := pipe.Begin(ctx, 1)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got, _ := pipe.StatusOf(ctx, 1); got != StatusDispensing {
		t.Errorf("status after begin = %s", got)
	}
	if item.StockLevels[10] != 42 {
		t.Errorf("stock level = %v, want summed 42", item.StockLevels[10])
	}

	res, err := pipe.Confirm(ctx)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !res.Completed || res.Warning != "" {
		t.Fatalf("result = %+v, want clean completion", res)
	}
	if res.Stage != StageRecorded {
		t.Errorf("stage = %s", res.Stage)
	}

	if got, _ := pipe.StatusOf(ctx, 1); got != StatusDispensed {
		t.Errorf("status = %s, want DISPENSED", got)
	}

	// The compensating document: one header, one line with the computed
	// quantity, completed through the reserved doc-action field.
	if len(store.rows[collectionInventory]) != 1 {
		t.Fatalf("inventory docs = %d", len(store.rows[collectionInventory]))
	}
	for _, doc := range store.rows[collectionInventory] {
		if doc.String("doc-action") != "CO" {
			t.Errorf("doc-action = %q, want CO", doc.String("doc-action"))
		}
		if doc.Int("M_Warehouse_ID") != 77 {
			t.Errorf("warehouse = %d", doc.Int("M_Warehouse_ID"))
		}
	}
	if len(store.rows[collectionInventoryLine]) != 1 {
		t.Fatalf("inventory lines = %d", len(store.rows[collectionInventoryLine]))
	}
	for _, line := range store.rows[collectionInventoryLine] {
		if line.Float("QtyInternalUse") != 9 {
			t.Errorf("line qty = %v, want 9", line.Float("QtyInternalUse"))
		}
	}

	rec, found, err := pipe.RecordOf(ctx, 1)
	if err != nil || !found {
		t.Fatalf("RecordOf: found=%v err=%v", found, err)
	}
	if len(rec.Lines) != 1 || rec.Lines[0].Quantity != 9 {
		t.Errorf("record lines = %+v", rec.Lines)
	}
	if rec.InventoryDocID != res.InventoryDocID || rec.InventoryDocID == 0 {
		t.Errorf("record doc id = %d, result doc id = %d", rec.InventoryDocID, res.InventoryDocID)
	}

	if len(pipe.Pending()) != 0 {
		t.Error("item must leave the queue after a recorded dispense")
	}
	if pipe.Current() != nil {
		t.Error("current must be cleared")
	}
}

func TestInventoryFailureIsSoft(t *testing.T) {
	store := newFakeStore()
	store.failUpdate = true
	led := ledger.NewMemory()
	pipe, scripts := newTestPipeline(store, led)
	ctx := context.Background()
	seedCompletedPrescription(t, scripts, 1)

	if _, err := pipe.LoadPending(ctx); err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if _, err := pipe.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	res, err := pipe.Confirm(ctx)
	if err != nil {
		t.Fatalf("Confirm: %v, inventory failure must not fail the pipeline", err)
	}
	if res.Completed {
		t.Error("Completed must be false when the document cannot be posted")
	}
	if res.Warning == "" {
		t.Error("the failure must travel in Warning")
	}

	// The dispense itself stands.
	if got, _ := pipe.StatusOf(ctx, 1); got != StatusDispensed {
		t.Errorf("status = %s, want DISPENSED despite the warning", got)
	}
	rec, found, _ := pipe.RecordOf(ctx, 1)
	if !found {
		t.Fatal("dispense record must be written regardless of the posting outcome")
	}
	if rec.InventoryDocID == 0 {
		t.Error("record should carry the created document id for later reconciliation")
	}
	if len(pipe.Pending()) != 0 {
		t.Error("a recorded dispense leaves the queue even with a warning")
	}
}

func TestBeginRequiresPendingItem(t *testing.T) {
	pipe, _ := newTestPipeline(newFakeStore(), ledger.NewMemory())
	if _, err := pipe.Begin(context.Background(), 99); !errors.Is(err, ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestConfirmRequiresCurrentAndScope(t *testing.T) {
	pipe, _ := newTestPipeline(newFakeStore(), ledger.NewMemory())
	if _, err := pipe.Confirm(context.Background()); !errors.Is(err, ErrNoCurrent) {
		t.Errorf("err = %v, want ErrNoCurrent", err)
	}

	store := newFakeStore()
	led := ledger.NewMemory()
	scripts := prescription.NewStore(led, nil)
	noScope := NewPipeline(store, led, scripts, fakeLookups{}, fakeScope{}, nil, 0, nil, nil)
	seedCompletedPrescription(t, scripts, 1)
	ctx := context.Background()
	if _, err := noScope.LoadPending(ctx); err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if _, err := noScope.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := noScope.Confirm(ctx); !errors.Is(err, ErrNoWarehouse) {
		t.Errorf("err = %v, want ErrNoWarehouse", err)
	}
}

func TestZeroQuantityLinesSkipped(t *testing.T) {
	store := newFakeStore()
	led := ledger.NewMemory()
	pipe, scripts := newTestPipeline(store, led)
	ctx := context.Background()

	p := &prescription.Prescription{
		RegistrationID: 1,
		Lines: []prescription.Line{
			{ProductID: 10, Dose: 1, Frequency: prescription.FreqOnceDaily, Days: 2},
			{ProductID: 11, Dose: 0, Frequency: prescription.FreqOnceDaily, Days: 2},
		},
	}
	if err := scripts.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := scripts.Complete(ctx, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := pipe.LoadPending(ctx); err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if _, err := pipe.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := pipe.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if len(store.rows[collectionInventoryLine]) != 1 {
		t.Errorf("inventory lines = %d, zero-quantity lines must be skipped",
			len(store.rows[collectionInventoryLine]))
	}
}

func TestDispensedItemsLeaveThePendingQueue(t *testing.T) {
	store := newFakeStore()
	led := ledger.NewMemory()
	pipe, scripts := newTestPipeline(store, led)
	ctx := context.Background()
	seedCompletedPrescription(t, scripts, 1)
	seedCompletedPrescription(t, scripts, 2)

	led.Upsert(ctx, ledger.Key(ledger.PrefixDispenseStatus, 2), string(StatusDispensed), "")

	items, err := pipe.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(items) != 1 || items[0].RegistrationID != 1 {
		t.Errorf("pending = %+v, dispensed registrations must be excluded", items)
	}
}
