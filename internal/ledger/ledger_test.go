package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/medidesk/clinicflow/internal/erp"
)

// fakeStore emulates the ad_sysconfig collection with just enough filter
// parsing for the ledger's queries.
type fakeStore struct {
	rows    map[int]erp.Record
	nextID  int
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int]erp.Record), nextID: 1000000}
}

func (f *fakeStore) List(_ context.Context, collection string, q erp.ListQuery) ([]erp.Record, error) {
	if f.failing {
		return nil, errors.New("store down")
	}
	var out []erp.Record
	for _, rec := range f.rows {
		name := rec.String("Name")
		switch {
		case strings.HasPrefix(q.Filter, "Name eq '"):
			want := strings.TrimSuffix(strings.TrimPrefix(q.Filter, "Name eq '"), "'")
			if name == want {
				out = append(out, rec)
			}
		case strings.HasPrefix(q.Filter, "contains(Name,'"):
			want := strings.TrimSuffix(strings.TrimPrefix(q.Filter, "contains(Name,'"), "')")
			if strings.Contains(name, want) {
				out = append(out, rec)
			}
		default:
			out = append(out, rec)
		}
		if q.Top > 0 && len(out) == q.Top {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, collection string, id int) (erp.Record, error) {
	rec, ok := f.rows[id]
	if !ok {
		return nil, erp.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Create(_ context.Context, collection string, fields erp.Record) (erp.Record, error) {
	if f.failing {
		return nil, errors.New("store down")
	}
	f.nextID++
	rec := erp.Record{"id": f.nextID}
	for k, v := range fields {
		rec[k] = v
	}
	f.rows[f.nextID] = rec
	return rec, nil
}

func (f *fakeStore) Update(_ context.Context, collection string, id int, fields erp.Record) error {
	rec, ok := f.rows[id]
	if !ok {
		return erp.ErrNotFound
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, collection string, id int) error {
	if _, ok := f.rows[id]; !ok {
		return erp.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	fake := newFakeStore()
	led := NewStore(fake, nil)
	ctx := context.Background()

	if err := led.Upsert(ctx, "QUEUE_STATUS_7", "CALLING", "queue status"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if len(fake.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(fake.rows))
	}

	if err := led.Upsert(ctx, "QUEUE_STATUS_7", "CONSULTING", ""); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if len(fake.rows) != 1 {
		t.Fatalf("second upsert duplicated the row: %d rows", len(fake.rows))
	}

	v, found, err := led.Get(ctx, "QUEUE_STATUS_7")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if v != "CONSULTING" {
		t.Errorf("value = %q, want CONSULTING", v)
	}
}

func TestGetMissingRow(t *testing.T) {
	led := NewStore(newFakeStore(), nil)

	v, found, err := led.Get(context.Background(), "QUEUE_STATUS_404")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found || v != "" {
		t.Errorf("missing row: found=%v value=%q, want not found", found, v)
	}
}

func TestDeleteMissingRowIsNoop(t *testing.T) {
	led := NewStore(newFakeStore(), nil)
	if err := led.Delete(context.Background(), "QUEUE_STATUS_404"); err != nil {
		t.Fatalf("Delete of missing row: %v", err)
	}
}

func TestScanPrefix(t *testing.T) {
	fake := newFakeStore()
	led := NewStore(fake, nil)
	ctx := context.Background()

	for _, row := range []struct{ name, value string }{
		{"QUEUE_STATUS_1", "CALLING"},
		{"QUEUE_STATUS_2", "WAITING"},
		{"QUEUE_STATUS_LEGACY", "junk"},
		{"DISPENSE_STATUS_1", "DISPENSED"},
	} {
		if err := led.Upsert(ctx, row.name, row.value, ""); err != nil {
			t.Fatalf("seed %s: %v", row.name, err)
		}
	}

	got, err := led.ScanPrefix(ctx, "QUEUE_STATUS_")
	if err != nil {
		t.Fatalf("ScanPrefix: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ScanPrefix = %v, want 2 numeric entries", got)
	}
	if got[1] != "CALLING" || got[2] != "WAITING" {
		t.Errorf("ScanPrefix = %v", got)
	}
}

func TestKey(t *testing.T) {
	if got := Key(PrefixDispenseStatus, 1000023); got != "DISPENSE_STATUS_1000023" {
		t.Errorf("Key = %q", got)
	}
}
