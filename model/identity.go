package model

import "fmt"

// IdentityMap groups the repositories of one unit of work. It is the entity
// factory: new and hydrated entities are always tracked by their table's
// repository.
type IdentityMap struct {
	registry *Registry
	repos    map[string]*Repository
}

// NewIdentityMap creates an empty identity map over the registry's tables.
func NewIdentityMap(reg *Registry) *IdentityMap {
	return &IdentityMap{
		registry: reg,
		repos:    make(map[string]*Repository),
	}
}

// Registry returns the schema the map was built over.
func (m *IdentityMap) Registry() *Registry {
	return m.registry
}

// Repository returns the repository for table, creating it on first use.
func (m *IdentityMap) Repository(table string) (*Repository, error) {
	if r, ok := m.repos[table]; ok {
		return r, nil
	}
	t, ok := m.registry.Table(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	r := NewRepository(t)
	m.repos[table] = r
	return r, nil
}

// New creates and tracks an unsaved entity.
func (m *IdentityMap) New(table string) (*Entity, error) {
	r, err := m.Repository(table)
	if err != nil {
		return nil, err
	}
	e := NewEntity(r.table)
	if err := r.Add(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Track adds an entity created elsewhere to its table's repository.
func (m *IdentityMap) Track(e *Entity) error {
	r, err := m.Repository(e.table.Name)
	if err != nil {
		return err
	}
	return r.Add(e)
}

// Untrack removes e from its table's repository.
func (m *IdentityMap) Untrack(e *Entity) {
	if r, ok := m.repos[e.table.Name]; ok {
		r.Remove(e)
	}
}

// Refresh re-indexes e after its existence changed.
func (m *IdentityMap) Refresh(e *Entity) {
	if r, ok := m.repos[e.table.Name]; ok {
		r.RefreshIdentity(e)
	}
}

// Hydrate returns the tracked instance for row, creating and tracking one
// from the row values if the identifier is not known yet. An already tracked
// instance keeps its in-memory state.
func (m *IdentityMap) Hydrate(row Row) (*Entity, error) {
	r, err := m.Repository(row.Table)
	if err != nil {
		return nil, err
	}
	if e, ok := r.GetByInternalID(row.ID); ok {
		return e, nil
	}
	e, err := Hydrate(r.table, row.ID, row.Values)
	if err != nil {
		return nil, err
	}
	if err := r.Add(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Resolve returns the tracked entity of table with the given ephemeral identity.
func (m *IdentityMap) Resolve(table string, oid OID) (*Entity, error) {
	r, err := m.Repository(table)
	if err != nil {
		return nil, err
	}
	return r.GetByOID(oid)
}

// Lookup resolves a persisted or ephemeral internal identifier. Unknown
// identifiers are a soft miss.
func (m *IdentityMap) Lookup(table, iid string) (*Entity, bool) {
	r, ok := m.repos[table]
	if !ok {
		return nil, false
	}
	return r.GetByInternalID(iid)
}
