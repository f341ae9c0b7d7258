// Package memstore is an in-memory store for sessions. It applies the same
// NULL semantics to unique indexes as SQL databases do and is safe for
// concurrent use.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/model"
	"github.com/jacentio/arbor/unique"
)

type table struct {
	rows  map[string]map[string]any
	order []string
}

// Store keeps rows per table in insertion order.
type Store struct {
	mu       sync.RWMutex
	registry *model.Registry
	tables   map[string]*table
}

// New creates an empty store for the registry's tables.
func New(reg *model.Registry) *Store {
	return &Store{
		registry: reg,
		tables:   make(map[string]*table),
	}
}

func (s *Store) schema(name string) (*model.Table, error) {
	t, ok := s.registry.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownTable, name)
	}
	return t, nil
}

// lookup returns the rows of a table without creating it. Callers hold at least the read lock.
func (s *Store) lookup(name string) *table {
	if tbl, ok := s.tables[name]; ok {
		return tbl
	}
	return &table{}
}

// table returns the rows of a table, creating it. Callers hold the write lock.
func (s *Store) table(name string) *table {
	tbl, ok := s.tables[name]
	if !ok {
		tbl = &table{rows: make(map[string]map[string]any)}
		s.tables[name] = tbl
	}
	return tbl
}

// Load returns the row with the given identifier.
func (s *Store) Load(_ context.Context, tableName, id string) (model.Row, bool, error) {
	if _, err := s.schema(tableName); err != nil {
		return model.Row{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.lookup(tableName).rows[id]
	if !ok {
		return model.Row{}, false, nil
	}
	return model.Row{Table: tableName, ID: id, Values: clone(values)}, true, nil
}

// FetchOneWhere returns the first row, in insertion order, whose field equals the value.
func (s *Store) FetchOneWhere(_ context.Context, cond model.Condition) (model.Row, bool, error) {
	t, err := s.schema(cond.Table)
	if err != nil {
		return model.Row{}, false, err
	}
	pred := model.Predicate{Terms: []model.Term{{Field: cond.Field, Value: cond.Value, IsNull: cond.Value == nil}}}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl := s.lookup(cond.Table)
	for _, id := range tbl.order {
		if pred.Matches(t, tbl.rows[id]) {
			return model.Row{Table: cond.Table, ID: id, Values: clone(tbl.rows[id])}, true, nil
		}
	}
	return model.Row{}, false, nil
}

// ExistsMatchingAny reports whether a row other than criteria.ExcludeID
// satisfies any of the predicates.
func (s *Store) ExistsMatchingAny(_ context.Context, c model.Criteria) (bool, error) {
	t, err := s.schema(c.Table)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl := s.lookup(c.Table)
	for _, id := range tbl.order {
		if id == c.ExcludeID {
			continue
		}
		for _, p := range c.Any {
			if p.Matches(t, tbl.rows[id]) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Insert stores the entity's values under a new identifier and returns it.
func (s *Store) Insert(_ context.Context, e *model.Entity) (string, error) {
	t := e.Table()
	values := e.Values()

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := s.table(t.Name)
	if idx, ok := conflict(t, tbl, values, ""); ok {
		return "", &unique.ViolationError{Table: t.Name, Index: idx}
	}
	id := uuid.NewString()
	tbl.rows[id] = values
	tbl.order = append(tbl.order, id)
	return id, nil
}

// Update replaces the stored values of an existing entity.
func (s *Store) Update(_ context.Context, e *model.Entity) error {
	t := e.Table()
	values := e.Values()

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := s.table(t.Name)
	if _, ok := tbl.rows[e.ID()]; !ok {
		return &model.NotFoundError{Table: t.Name, Key: e.ID()}
	}
	if idx, ok := conflict(t, tbl, values, e.ID()); ok {
		return &unique.ViolationError{Table: t.Name, Index: idx}
	}
	tbl.rows[e.ID()] = values
	return nil
}

// Delete removes the entity's row.
func (s *Store) Delete(_ context.Context, e *model.Entity) error {
	name := e.Table().Name

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := s.table(name)
	if _, ok := tbl.rows[e.ID()]; !ok {
		return &model.NotFoundError{Table: name, Key: e.ID()}
	}
	delete(tbl.rows, e.ID())
	for i, id := range tbl.order {
		if id == e.ID() {
			tbl.order = append(tbl.order[:i], tbl.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of rows stored for a table.
func (s *Store) Len(tableName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tbl, ok := s.tables[tableName]; ok {
		return len(tbl.rows)
	}
	return 0
}

// conflict returns the first unique index of t on which values collide with
// a stored row other than selfID.
func conflict(t *model.Table, tbl *table, values map[string]any, selfID string) (string, bool) {
	for _, idx := range t.UniqueIndexes() {
		pred := model.Predicate{Index: idx.Name}
		exempt := false
		for _, f := range idx.Fields {
			v := values[f]
			if v == nil && !idx.NullConstrained {
				exempt = true
				break
			}
			pred.Terms = append(pred.Terms, model.Term{Field: f, Value: v, IsNull: v == nil})
		}
		if exempt {
			continue
		}
		for _, id := range tbl.order {
			if id != selfID && pred.Matches(t, tbl.rows[id]) {
				return idx.Name, true
			}
		}
	}
	return "", false
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
