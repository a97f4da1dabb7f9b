// Package erp provides the record gateway for the external ERP store.
// The store is schema-agnostic: every table is addressed by collection name
// and every row travels as an untyped field map. All network traffic of the
// service passes through this package.
package erp

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors surfaced by the gateway.
var (
	// ErrNotFound is returned when a record id does not exist. Callers that
	// have a documented default must treat this as "not yet", never as failure.
	ErrNotFound = errors.New("erp: record not found")
	// ErrUnauthorized is returned when the store rejects the session token.
	// The gateway has already invalidated the local session when this is seen.
	ErrUnauthorized = errors.New("erp: unauthorized")
)

// Record is one row of a named collection.
type Record map[string]any

// ID returns the record id, or 0 when absent.
func (r Record) ID() int { return r.Int("id") }

// Int reads an integer field, tolerating the float64 and json.Number forms
// the JSON decoder produces.
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Float reads a numeric field as float64.
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// String reads a string field, or "" when absent.
func (r Record) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// Bool reads a boolean field. The store also encodes booleans as "Y"/"N".
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		return v == "Y" || v == "true"
	}
	return false
}

// RefID returns the id of a foreign-key field, which the store renders as a
// nested {"id": ..., "identifier": ...} object.
func (r Record) RefID(key string) int {
	if ref, ok := r[key].(map[string]any); ok {
		return Record(ref).Int("id")
	}
	return r.Int(key)
}

// RefName returns the display identifier of a foreign-key field.
func (r Record) RefName(key string) string {
	if ref, ok := r[key].(map[string]any); ok {
		return Record(ref).String("identifier")
	}
	return ""
}

// ListQuery narrows a collection listing.
type ListQuery struct {
	Filter  string
	OrderBy string
	Top     int
	Expand  string
}

// Store is the verb surface of the record store. Client implements it;
// workflow packages depend on this interface so tests can substitute an
// in-memory store.
type Store interface {
	List(ctx context.Context, collection string, q ListQuery) ([]Record, error)
	Get(ctx context.Context, collection string, id int) (Record, error)
	Create(ctx context.Context, collection string, fields Record) (Record, error)
	Update(ctx context.Context, collection string, id int, fields Record) error
	Delete(ctx context.Context, collection string, id int) error
}
