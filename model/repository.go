package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Repository owns the live instances of one table, indexed by ephemeral
// identity and, for existing entities, by persisted identifier.
type Repository struct {
	table *Table
	byOID map[OID]*Entity
	byID  map[string]OID
	idOf  map[OID]string
}

// NewRepository creates an empty repository for t.
func NewRepository(t *Table) *Repository {
	return &Repository{
		table: t,
		byOID: make(map[OID]*Entity),
		byID:  make(map[string]OID),
		idOf:  make(map[OID]string),
	}
}

// Table returns the repository's table.
func (r *Repository) Table() *Table { return r.table }

// Add tracks e by ephemeral identity, and by persisted identifier when it exists.
func (r *Repository) Add(e *Entity) error {
	if e.table != r.table {
		return fmt.Errorf("%w: %s into %s repository", ErrTableMismatch, e.table.Name, r.table.Name)
	}
	if e.repo != nil && e.repo != r {
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, e)
	}
	if e.Exists() {
		if other, ok := r.byID[e.id]; ok && other != e.oid {
			return fmt.Errorf("%w: %s.%s", ErrIdentityConflict, r.table.Name, e.id)
		}
	}
	r.byOID[e.oid] = e
	e.repo = r
	r.RefreshIdentity(e)
	return nil
}

// Remove stops tracking e. Untracked entities are ignored.
func (r *Repository) Remove(e *Entity) {
	if r.byOID[e.oid] != e {
		return
	}
	if id, ok := r.idOf[e.oid]; ok {
		delete(r.byID, id)
		delete(r.idOf, e.oid)
	}
	delete(r.byOID, e.oid)
	e.repo = nil
}

// RefreshIdentity re-indexes e after an insert assigned its identifier or a
// delete cleared its existence. Untracked entities are ignored.
func (r *Repository) RefreshIdentity(e *Entity) {
	if r.byOID[e.oid] != e {
		return
	}
	if old, ok := r.idOf[e.oid]; ok && (!e.Exists() || old != e.id) {
		if r.byID[old] == e.oid {
			delete(r.byID, old)
		}
		delete(r.idOf, e.oid)
	}
	if !e.Exists() {
		return
	}
	if prev, ok := r.byID[e.id]; ok && prev != e.oid {
		delete(r.idOf, prev)
	}
	r.byID[e.id] = e.oid
	r.idOf[e.oid] = e.id
}

// GetByOID returns the tracked instance with the given ephemeral identity.
// An unknown identity is an error: callers only hold identities they were given.
func (r *Repository) GetByOID(oid OID) (*Entity, error) {
	e, ok := r.byOID[oid]
	if !ok {
		return nil, &NotFoundError{Table: r.table.Name, Key: EphemeralPrefix + oid.String()}
	}
	return e, nil
}

// GetByInternalID resolves a persisted identifier, or an EphemeralPrefix-marked
// OID for entities not yet inserted. Unknown identifiers are a soft miss.
func (r *Repository) GetByInternalID(iid string) (*Entity, bool) {
	if strings.HasPrefix(iid, EphemeralPrefix) {
		n, err := strconv.ParseUint(iid[len(EphemeralPrefix):], 10, 64)
		if err != nil {
			return nil, false
		}
		e, ok := r.byOID[OID(n)]
		return e, ok
	}
	oid, ok := r.byID[iid]
	if !ok {
		return nil, false
	}
	return r.byOID[oid], true
}

// Contains reports whether e is tracked here.
func (r *Repository) Contains(e *Entity) bool {
	return r.byOID[e.oid] == e
}

// Len returns the number of tracked instances.
func (r *Repository) Len() int {
	return len(r.byOID)
}

// All returns the tracked instances in no particular order.
func (r *Repository) All() []*Entity {
	all := make([]*Entity, 0, len(r.byOID))
	for _, e := range r.byOID {
		all = append(all, e)
	}
	return all
}
