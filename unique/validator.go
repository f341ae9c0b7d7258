// Package unique decides whether saving an entity would violate one of its
// table's unique indexes.
//
// Only indexes touched by the entity's pending changes are checked, and all
// of them are folded into a single existence query against the store. A NULL
// in an index that is not null-constrained never collides, so such an index
// is skipped.
package unique

import (
	"context"

	"github.com/jacentio/arbor/model"
)

// Querier answers whether any row of criteria.Table, other than
// criteria.ExcludeID, satisfies at least one of the predicates.
type Querier interface {
	ExistsMatchingAny(ctx context.Context, criteria model.Criteria) (bool, error)
}

// Validator checks unique indexes through a Querier.
type Validator struct {
	querier Querier
}

// New creates a Validator.
func New(q Querier) *Validator {
	return &Validator{querier: q}
}

// Validate reports whether e can be saved without violating a unique index.
// An existing, unmodified entity is valid without a query.
func (v *Validator) Validate(ctx context.Context, e *model.Entity) (bool, error) {
	preds, err := Predicates(e)
	if err != nil {
		return false, err
	}
	if len(preds) == 0 {
		return true, nil
	}
	found, err := v.querier.ExistsMatchingAny(ctx, criteria(e, preds))
	if err != nil {
		return false, err
	}
	return !found, nil
}

// Violations returns the names of the indexes e collides on, issuing one
// query per index that requires a check.
func (v *Validator) Violations(ctx context.Context, e *model.Entity) ([]string, error) {
	preds, err := Predicates(e)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range preds {
		found, err := v.querier.ExistsMatchingAny(ctx, criteria(e, []model.Predicate{p}))
		if err != nil {
			return nil, err
		}
		if found {
			names = append(names, p.Index)
		}
	}
	return names, nil
}

// Predicates returns one predicate per unique index of e's table that needs
// checking, in index declaration order.
func Predicates(e *model.Entity) ([]model.Predicate, error) {
	if e.Exists() && !e.IsModified() {
		return nil, nil
	}

	var preds []model.Predicate
	for _, idx := range e.Table().UniqueIndexes() {
		if !requiresCheck(e, idx) {
			continue
		}
		p, err := predicate(e, idx)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func requiresCheck(e *model.Entity, idx model.UniqueIndex) bool {
	changed := false
	for _, f := range idx.Fields {
		if !e.Exists() || e.IsFieldModified(f) {
			changed = true
			break
		}
	}
	if !changed {
		return false
	}
	if idx.NullConstrained {
		return true
	}
	for _, f := range idx.Fields {
		if e.Get(f) == nil {
			return false
		}
	}
	return true
}

func predicate(e *model.Entity, idx model.UniqueIndex) (model.Predicate, error) {
	p := model.Predicate{Index: idx.Name, Terms: make([]model.Term, 0, len(idx.Fields))}
	for _, f := range idx.Fields {
		val := e.Get(f)
		if val == nil {
			if !idx.NullConstrained {
				return model.Predicate{}, &model.ConfigurationError{
					Table:  e.Table().Name,
					Index:  idx.Name,
					Field:  f,
					Reason: "NULL value checked in an index that is not null-constrained",
				}
			}
			p.Terms = append(p.Terms, model.Term{Field: f, IsNull: true})
			continue
		}
		p.Terms = append(p.Terms, model.Term{Field: f, Value: val})
	}
	return p, nil
}

func criteria(e *model.Entity, preds []model.Predicate) model.Criteria {
	c := model.Criteria{Table: e.Table().Name, Any: preds}
	if e.Exists() {
		c.ExcludeID = e.ID()
	}
	return c
}
