// Package lookup memoizes slow-changing reference-data identifiers resolved
// from the record store. Entries live for the process lifetime of a session;
// the whole cache is dropped on session teardown or switch, because a cached
// id from another tenant is a correctness bug.
package lookup

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/erp"
)

// Reference collections.
const (
	collectionUOM          = "c_uom"
	collectionDocType      = "c_doctype"
	collectionTax          = "c_tax"
	collectionLocator      = "m_locator"
	collectionResourceType = "s_resourcetype"
)

// DefaultResourceTypeValue is the search key of the resource type the clinic
// assigns to doctors. It is created on first use when the tenant does not
// have it yet.
const DefaultResourceTypeValue = "CLINIC_DOCTOR"

// Cache is the process-lifetime key→id memo.
type Cache struct {
	store  erp.Store
	logger *zap.Logger

	mu  sync.Mutex
	ids map[string]int
}

// New creates an empty cache over the record gateway.
func New(store erp.Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:  store,
		logger: logger,
		ids:    make(map[string]int),
	}
}

// Invalidate drops every memoized id. Must be called exactly on session
// teardown or context switch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.ids = make(map[string]int)
	c.mu.Unlock()
	c.logger.Debug("lookup cache invalidated")
}

// DefaultUOM resolves the default unit of measure.
func (c *Cache) DefaultUOM(ctx context.Context) (int, error) {
	return c.resolve(ctx, "uom:default", func(ctx context.Context) (int, error) {
		return c.firstID(ctx, collectionUOM, erp.Eq("IsDefault", "Y"), "C_UOM_ID")
	})
}

// DocTypeForBaseType resolves the document type for a document base type,
// e.g. "MMI" for internal material movements.
func (c *Cache) DocTypeForBaseType(ctx context.Context, baseType string) (int, error) {
	return c.resolve(ctx, "doctype:"+baseType, func(ctx context.Context) (int, error) {
		return c.firstID(ctx, collectionDocType, erp.Eq("DocBaseType", baseType), "C_DocType_ID")
	})
}

// DefaultTax resolves the default tax rate.
func (c *Cache) DefaultTax(ctx context.Context) (int, error) {
	return c.resolve(ctx, "tax:default", func(ctx context.Context) (int, error) {
		return c.firstID(ctx, collectionTax, erp.Eq("IsDefault", "Y"), "C_Tax_ID")
	})
}

// DefaultLocator resolves the default locator of a warehouse.
func (c *Cache) DefaultLocator(ctx context.Context, warehouseID int) (int, error) {
	key := "locator:" + strconv.Itoa(warehouseID)
	return c.resolve(ctx, key, func(ctx context.Context) (int, error) {
		filter := erp.And(
			erp.EqInt("M_Warehouse_ID", warehouseID),
			erp.Eq("IsDefault", "Y"),
		)
		return c.firstID(ctx, collectionLocator, filter, "M_Locator_ID")
	})
}

// DefaultResourceType resolves the doctor resource type, creating it on
// first use when the tenant has none. Look up first, create only when the
// lookup returned nothing.
func (c *Cache) DefaultResourceType(ctx context.Context) (int, error) {
	return c.resolve(ctx, "resourcetype:default", func(ctx context.Context) (int, error) {
		recs, err := c.store.List(ctx, collectionResourceType, erp.ListQuery{
			Filter: erp.Eq("Value", DefaultResourceTypeValue),
			Top:    1,
		})
		if err != nil {
			return 0, err
		}
		if len(recs) > 0 {
			return recs[0].ID(), nil
		}

		uomID, err := c.DefaultUOM(ctx)
		if err != nil {
			return 0, fmt.Errorf("resolve uom for resource type: %w", err)
		}
		created, err := c.store.Create(ctx, collectionResourceType, erp.Record{
			"AD_Org_ID": 0,
			"Value":     DefaultResourceTypeValue,
			"Name":      "Clinic Doctor",
			"C_UOM_ID":  uomID,
		})
		if err != nil {
			return 0, fmt.Errorf("create default resource type: %w", err)
		}
		c.logger.Info("created default resource type",
			zap.Int("id", created.ID()))
		return created.ID(), nil
	})
}

// resolve returns the memoized id for key, populating it with fetch on the
// first use.
func (c *Cache) resolve(ctx context.Context, key string, fetch func(context.Context) (int, error)) (int, error) {
	c.mu.Lock()
	if id, ok := c.ids[key]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id, err := fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", key, err)
	}

	c.mu.Lock()
	c.ids[key] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Cache) firstID(ctx context.Context, collection, filter, idColumn string) (int, error) {
	recs, err := c.store.List(ctx, collection, erp.ListQuery{Filter: filter, Top: 1})
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		// Fall back to the first row of the collection; reference data with
		// no explicit default still needs a usable id.
		recs, err = c.store.List(ctx, collection, erp.ListQuery{Top: 1, OrderBy: idColumn})
		if err != nil {
			return 0, err
		}
		if len(recs) == 0 {
			return 0, erp.ErrNotFound
		}
	}
	return recs[0].ID(), nil
}
