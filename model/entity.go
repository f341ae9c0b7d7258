package model

import (
	"fmt"
	"strconv"
	"sync/atomic"
)

// EphemeralPrefix marks internal identifiers that denote entities without a
// persisted identifier ("~42" is the entity with OID 42).
const EphemeralPrefix = "~"

// OID is an ephemeral, process-local identity. It is assigned at
// construction and never reused.
type OID uint64

func (o OID) String() string {
	return strconv.FormatUint(uint64(o), 10)
}

var oidSeq atomic.Uint64

func nextOID() OID {
	return OID(oidSeq.Add(1))
}

// Ref points at an entity of a given table by ephemeral identity.
type Ref struct {
	Table string
	OID   OID
}

type link struct {
	oids   []OID
	loaded bool
}

// Entity is one mapped record. It is not safe for concurrent use.
type Entity struct {
	oid    OID
	table  *Table
	id     string
	exists bool

	baseline map[string]any
	values   map[string]any
	modified map[string]any

	links   map[string]*link
	pending map[string]Ref

	repo *Repository
}

// NewEntity creates an unsaved entity with the table's default values.
// Defaults are part of the baseline, so a fresh entity reports no modified fields.
func NewEntity(t *Table) *Entity {
	values := t.defaults()
	return &Entity{
		oid:      nextOID(),
		table:    t,
		baseline: cloneValues(values),
		values:   values,
		modified: make(map[string]any),
		links:    make(map[string]*link),
		pending:  make(map[string]Ref),
	}
}

// Hydrate creates an existing entity from a stored row. Values are normalised
// to the declared field types and become the baseline. Columns the table does
// not declare are ignored.
func Hydrate(t *Table, id string, row map[string]any) (*Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("hydrate %s: empty identifier", t.Name)
	}
	e := NewEntity(t)
	for _, f := range t.fields {
		raw, ok := row[f.Name]
		if !ok {
			continue
		}
		v, err := f.Type.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("hydrate %s.%s: %w", t.Name, f.Name, err)
		}
		e.values[f.Name] = v
	}
	e.id = id
	e.exists = true
	e.baseline = cloneValues(e.values)
	return e, nil
}

// OID returns the ephemeral identity.
func (e *Entity) OID() OID { return e.oid }

// Table returns the entity's table.
func (e *Entity) Table() *Table { return e.table }

// ID returns the persisted identifier, or "" before the first insert.
func (e *Entity) ID() string { return e.id }

// Exists reports whether the entity has a persisted identifier and is known to the store.
func (e *Entity) Exists() bool { return e.exists && e.id != "" }

// InternalID returns the persisted identifier for existing entities and an
// EphemeralPrefix-marked OID otherwise.
func (e *Entity) InternalID() string {
	if e.Exists() {
		return e.id
	}
	return EphemeralPrefix + e.oid.String()
}

// Ref returns a table-qualified reference to the entity.
func (e *Entity) Ref() Ref { return Ref{Table: e.table.Name, OID: e.oid} }

// Tracked reports whether a repository owns the entity.
func (e *Entity) Tracked() bool { return e.repo != nil }

// MarkPersisted records the identifier assigned by an insert and takes a new
// baseline. The owning repository must be told via RefreshIdentity.
func (e *Entity) MarkPersisted(id string) {
	e.id = id
	e.exists = true
	e.Commit()
}

// MarkDeleted clears existence after a confirmed delete. The identifier is
// kept for reference but no longer counts as persisted.
func (e *Entity) MarkDeleted() {
	e.exists = false
}

// Get returns the current value of field, or nil if the table does not declare it.
func (e *Entity) Get(field string) any {
	return e.values[field]
}

// Values returns a copy of the current field values.
func (e *Entity) Values() map[string]any {
	return cloneValues(e.values)
}

// Baseline returns a copy of the values as last loaded or saved.
func (e *Entity) Baseline() map[string]any {
	return cloneValues(e.baseline)
}

// Set assigns a field value. Before-set hooks may rewrite or veto it. The
// field counts as modified while its value differs from the baseline.
func (e *Entity) Set(field string, value any) error {
	f, ok := e.table.Field(field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, e.table.Name, field)
	}
	v, err := f.Type.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", e.table.Name, field, err)
	}
	for _, h := range e.table.beforeSet {
		if v, err = h(e, field, v); err != nil {
			return fmt.Errorf("set %s.%s: %w", e.table.Name, field, err)
		}
	}
	if v, err = f.Type.Normalize(v); err != nil {
		return fmt.Errorf("set %s.%s: %w", e.table.Name, field, err)
	}

	old := e.values[field]
	e.values[field] = v
	e.track(f)

	for _, h := range e.table.afterSet {
		h(e, field, old, v)
	}
	return nil
}

func (e *Entity) track(f Field) {
	base := e.baseline[f.Name]
	if f.Type.Equal(base, e.values[f.Name]) {
		delete(e.modified, f.Name)
		return
	}
	if _, ok := e.modified[f.Name]; !ok {
		e.modified[f.Name] = base
	}
}

// IsModified reports whether any field differs from the baseline, or a
// foreign key still waits for its referenced entity to be inserted.
func (e *Entity) IsModified() bool {
	return len(e.modified) > 0 || len(e.pending) > 0
}

// IsFieldModified reports whether field differs from the baseline or is a
// pending foreign key.
func (e *Entity) IsFieldModified(field string) bool {
	if _, ok := e.modified[field]; ok {
		return true
	}
	_, ok := e.pending[field]
	return ok
}

// onlyModified reports whether nothing but field differs from the baseline.
func (e *Entity) onlyModified(field string) bool {
	if len(e.pending) > 0 {
		return false
	}
	for name := range e.modified {
		if name != field {
			return false
		}
	}
	return true
}

// Modified returns the modified fields mapped to their baseline values.
func (e *Entity) Modified() map[string]any {
	return cloneValues(e.modified)
}

// Changes returns the modified fields mapped to their current values.
func (e *Entity) Changes() map[string]any {
	changes := make(map[string]any, len(e.modified))
	for name := range e.modified {
		changes[name] = e.values[name]
	}
	return changes
}

// Commit takes the current values as the new baseline.
func (e *Entity) Commit() {
	e.baseline = cloneValues(e.values)
	e.modified = make(map[string]any)
}

// Revert restores the baseline values and drops pending foreign keys.
// Hooks do not run.
func (e *Entity) Revert() {
	e.values = cloneValues(e.baseline)
	e.modified = make(map[string]any)
	e.pending = make(map[string]Ref)
}

// Checkpoint is a copy of an entity's identity and field state, taken so a
// failed unit of work can put the entity back.
type Checkpoint struct {
	oid      OID
	id       string
	exists   bool
	baseline map[string]any
	values   map[string]any
	modified map[string]any
	pending  map[string]Ref
	links    map[string]*link
}

// Checkpoint captures the current identity, values, baseline, pending foreign
// keys and the relation links held by e. Links held by other entities are
// not captured.
func (e *Entity) Checkpoint() Checkpoint {
	pending := make(map[string]Ref, len(e.pending))
	for k, v := range e.pending {
		pending[k] = v
	}
	return Checkpoint{
		oid:      e.oid,
		id:       e.id,
		exists:   e.exists,
		baseline: cloneValues(e.baseline),
		values:   cloneValues(e.values),
		modified: cloneValues(e.modified),
		pending:  pending,
		links:    cloneLinks(e.links),
	}
}

// Restore puts e back into the state captured by cp. A checkpoint of another
// entity is ignored. Hooks do not run, and the owning repository must be told
// via RefreshIdentity.
func (e *Entity) Restore(cp Checkpoint) {
	if cp.oid != e.oid {
		return
	}
	e.id = cp.id
	e.exists = cp.exists
	e.baseline = cloneValues(cp.baseline)
	e.values = cloneValues(cp.values)
	e.modified = cloneValues(cp.modified)
	e.pending = make(map[string]Ref, len(cp.pending))
	for k, v := range cp.pending {
		e.pending[k] = v
	}
	e.links = cloneLinks(cp.links)
}

// Related returns the ephemeral identities held by the named relation and
// whether it has been loaded or assigned.
func (e *Entity) Related(name string) ([]OID, bool) {
	l, ok := e.links[name]
	if !ok || !l.loaded {
		return nil, false
	}
	return append([]OID(nil), l.oids...), true
}

// SetRelated assigns the single related entity of a to-one relation. On the
// owning side the foreign key follows the target: immediately if the target
// exists, otherwise once it is inserted. A nil target clears the relation.
func (e *Entity) SetRelated(name string, target *Entity) error {
	rel, err := e.relation(name)
	if err != nil {
		return err
	}
	if rel.IsCollection() {
		return fmt.Errorf("%w: %s.%s is a collection", ErrCardinality, e.table.Name, name)
	}
	if target != nil && target.table.Name != rel.Target {
		return fmt.Errorf("%w: %s.%s expects %s, got %s", ErrTableMismatch, e.table.Name, name, rel.Target, target.table.Name)
	}

	if target == nil {
		e.links[name] = &link{loaded: true}
		if rel.Side == Owning {
			return e.bindForeignKey(rel, nil)
		}
		return nil
	}

	e.links[name] = &link{oids: []OID{target.oid}, loaded: true}
	inv := rel.inverse
	switch rel.Side {
	case Owning:
		if l, ok := target.links[inv.Name]; ok && l.loaded {
			if inv.IsCollection() {
				l.oids = appendUnique(l.oids, e.oid)
			} else {
				l.oids = []OID{e.oid}
			}
		}
		return e.bindForeignKey(rel, target)
	default:
		target.links[inv.Name] = &link{oids: []OID{e.oid}, loaded: true}
		return target.bindForeignKey(inv, e)
	}
}

// AddRelated appends members to a one-to-many collection and points each
// member's foreign key at e.
func (e *Entity) AddRelated(name string, members ...*Entity) error {
	rel, err := e.relation(name)
	if err != nil {
		return err
	}
	if !rel.IsCollection() {
		return fmt.Errorf("%w: %s.%s is not a collection", ErrCardinality, e.table.Name, name)
	}
	l, ok := e.links[name]
	if !ok {
		l = &link{}
		e.links[name] = l
	}
	l.loaded = true
	for _, m := range members {
		if m.table.Name != rel.Target {
			return fmt.Errorf("%w: %s.%s expects %s, got %s", ErrTableMismatch, e.table.Name, name, rel.Target, m.table.Name)
		}
		l.oids = appendUnique(l.oids, m.oid)
		m.links[rel.inverse.Name] = &link{oids: []OID{e.oid}, loaded: true}
		if err := m.bindForeignKey(rel.inverse, e); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRelated drops members from a loaded collection. The members' foreign
// keys are not touched.
func (e *Entity) RemoveRelated(name string, members ...*Entity) error {
	rel, err := e.relation(name)
	if err != nil {
		return err
	}
	if !rel.IsCollection() {
		return fmt.Errorf("%w: %s.%s is not a collection", ErrCardinality, e.table.Name, name)
	}
	l, ok := e.links[name]
	if !ok {
		return nil
	}
	for _, m := range members {
		for i, oid := range l.oids {
			if oid == m.oid {
				l.oids = append(l.oids[:i], l.oids[i+1:]...)
				break
			}
		}
	}
	return nil
}

// MarkLoaded records that a relation has been fetched, with the given members.
// Unlike SetRelated and AddRelated it never touches foreign keys; hydration
// code uses it to attach what the store returned.
func (e *Entity) MarkLoaded(name string, oids ...OID) error {
	if _, err := e.relation(name); err != nil {
		return err
	}
	e.links[name] = &link{oids: append([]OID(nil), oids...), loaded: true}
	return nil
}

// PendingForeignKeys returns the foreign key fields waiting for their
// referenced entity to receive an identifier.
func (e *Entity) PendingForeignKeys() map[string]Ref {
	pending := make(map[string]Ref, len(e.pending))
	for k, v := range e.pending {
		pending[k] = v
	}
	return pending
}

// ResolveForeignKey assigns the identifier of a now persisted referenced
// entity to a pending foreign key field.
func (e *Entity) ResolveForeignKey(field, id string) error {
	delete(e.pending, field)
	return e.Set(field, id)
}

func (e *Entity) bindForeignKey(rel *Relation, target *Entity) error {
	if target == nil {
		delete(e.pending, rel.ForeignKey)
		return e.Set(rel.ForeignKey, nil)
	}
	if target.Exists() {
		delete(e.pending, rel.ForeignKey)
		return e.Set(rel.ForeignKey, target.ID())
	}
	e.pending[rel.ForeignKey] = target.Ref()
	return nil
}

func (e *Entity) relation(name string) (*Relation, error) {
	rel, ok := e.table.Relation(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, e.table.Name, name)
	}
	return rel, nil
}

func (e *Entity) String() string {
	return e.table.Name + "#" + e.InternalID()
}

func appendUnique(oids []OID, oid OID) []OID {
	for _, o := range oids {
		if o == oid {
			return oids
		}
	}
	return append(oids, oid)
}

func cloneValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneLinks(m map[string]*link) map[string]*link {
	out := make(map[string]*link, len(m))
	for k, l := range m {
		out[k] = &link{oids: append([]OID(nil), l.oids...), loaded: l.loaded}
	}
	return out
}
