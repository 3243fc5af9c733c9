// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"fmt"
	"time"
)

// Op identifies the kind of local mutation a record or queue entry carries.
type Op string

const (
	OpNone   Op = ""
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// FieldMap holds the business fields of a record, keyed by column name.
type FieldMap map[string]any

// Clone returns a shallow copy of the field map.
func (f FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// EntityType declares one managed entity type: its local table, the business
// columns the store persists for it, and the natural key that must be unique
// among active (non-deleted) records.
//
// Insert/update/merge behavior is derived from this declaration generically,
// so adding an entity type is a registration, not new SQL.
type EntityType struct {
	Name       string   // logical name used in queue entries and remote calls, e.g. "category"
	Table      string   // local table name; defaults to Name when empty
	Columns    []string // business columns
	NaturalKey []string // subset of Columns enforced unique among active records
}

func (e EntityType) table() string {
	if e.Table != "" {
		return e.Table
	}
	return e.Name
}

func (e EntityType) validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity type requires a name")
	}
	if len(e.Columns) == 0 {
		return fmt.Errorf("entity type %s requires at least one column", e.Name)
	}
	cols := make(map[string]bool, len(e.Columns))
	for _, c := range e.Columns {
		if c == "" {
			return fmt.Errorf("entity type %s has an empty column name", e.Name)
		}
		if reservedColumns[c] {
			return fmt.Errorf("entity type %s uses reserved column %q", e.Name, c)
		}
		if cols[c] {
			return fmt.Errorf("entity type %s declares column %q twice", e.Name, c)
		}
		cols[c] = true
	}
	for _, k := range e.NaturalKey {
		if !cols[k] {
			return fmt.Errorf("entity type %s natural key column %q is not a declared column", e.Name, k)
		}
	}
	return nil
}

// reservedColumns are owned by the store's sync metadata and may not be used
// as business columns.
var reservedColumns = map[string]bool{
	"local_id":   true,
	"uuid":       true,
	"remote_id":  true,
	"is_synced":  true,
	"pending_op": true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

// Registry holds the managed entity types in registration order. The
// registration order is the deterministic order pull cycles process types in.
type Registry struct {
	order []string
	types map[string]EntityType
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]EntityType)}
}

// Register adds an entity type. Registering the same name twice is an error.
func (r *Registry) Register(et EntityType) error {
	if err := et.validate(); err != nil {
		return err
	}
	if _, ok := r.types[et.Name]; ok {
		return fmt.Errorf("entity type %s already registered", et.Name)
	}
	r.types[et.Name] = et
	r.order = append(r.order, et.Name)
	return nil
}

// MustRegister is Register for static setup code.
func (r *Registry) MustRegister(et EntityType) {
	if err := r.Register(et); err != nil {
		panic(err)
	}
}

// Get returns the entity type by logical name.
func (r *Registry) Get(name string) (EntityType, bool) {
	et, ok := r.types[name]
	return et, ok
}

// Names returns entity type names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Record is one locally persisted row of a managed entity type, including the
// sync metadata the store owns.
type Record struct {
	LocalID   int64
	UUID      string
	RemoteID  string // empty until assigned by the remote backend
	Fields    FieldMap
	IsSynced  bool
	PendingOp Op
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time // non-nil = soft-deleted
}

// Deleted reports whether the record carries a local tombstone.
func (r *Record) Deleted() bool { return r.DeletedAt != nil }
