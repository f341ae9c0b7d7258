package model

import (
	"fmt"
	"strings"
)

// Row is a stored record as returned by a store collaborator.
type Row struct {
	Table  string
	ID     string
	Values map[string]any
}

// Condition selects rows of Table whose Field equals Value.
type Condition struct {
	Table string
	Field string
	Value any
}

// Term is one field test inside a Predicate: Field = Value, or Field IS NULL.
type Term struct {
	Field  string
	Value  any
	IsNull bool
}

// Predicate is a conjunction of terms built from one unique index.
type Predicate struct {
	Index string
	Terms []Term
}

func (p Predicate) String() string {
	parts := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		if t.IsNull {
			parts[i] = t.Field + " IS NULL"
		} else {
			parts[i] = fmt.Sprintf("%s = %v", t.Field, t.Value)
		}
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// Criteria is a disjunction of predicates over one table. ExcludeID, when
// set, removes the row with that identifier from consideration.
type Criteria struct {
	Table     string
	Any       []Predicate
	ExcludeID string
}

func (c Criteria) String() string {
	parts := make([]string, len(c.Any))
	for i, p := range c.Any {
		parts[i] = p.String()
	}
	s := c.Table + ": " + strings.Join(parts, " OR ")
	if c.ExcludeID != "" {
		s += " EXCEPT " + c.ExcludeID
	}
	return s
}

// Matches reports whether values satisfy every term, comparing with the
// table's field types. Used by in-memory stores.
func (p Predicate) Matches(t *Table, values map[string]any) bool {
	for _, term := range p.Terms {
		v := values[term.Field]
		if term.IsNull {
			if v != nil {
				return false
			}
			continue
		}
		if v == nil {
			return false
		}
		f, ok := t.Field(term.Field)
		if !ok || !f.Type.Equal(v, term.Value) {
			return false
		}
	}
	return true
}
