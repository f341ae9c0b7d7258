package changeset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/arbor/model"
)

var (
	// ErrHasDependents is returned when a restrict relation still has live dependents.
	ErrHasDependents = errors.New("arbor: entity has dependents")

	// ErrNoFetcher is returned when a one-to-one dependent must be fetched but no Fetcher is configured.
	ErrNoFetcher = errors.New("arbor: no fetcher configured")
)

// Fetcher resolves the single row matching a condition. It is consulted for
// one-to-one dependents during engine-enforced deletes.
type Fetcher interface {
	FetchOneWhere(ctx context.Context, cond model.Condition) (model.Row, bool, error)
}

// Engine computes change-sets against one identity map. It holds no
// per-call state; concurrent calls on disjoint graphs are safe only if the
// identity map and fetcher are synchronised by the caller.
type Engine struct {
	ids     *model.IdentityMap
	fetcher Fetcher
	logger  *slog.Logger
}

// New creates an Engine. fetcher may be nil when no engine-enforced delete
// crosses a one-to-one relation.
func New(ids *model.IdentityMap, fetcher Fetcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ids:     ids,
		fetcher: fetcher,
		logger:  logger,
	}
}

type step struct {
	entity   *model.Entity
	schedule bool
}

// rewrite is a set-null or set-default detach deferred until the delete walk
// has found no restricting dependent.
type rewrite struct {
	dep *model.Entity
	rel *model.Relation
}

// ComputeSave walks the graph reachable from root and schedules inserts for
// entities without a persisted identifier and updates for modified existing
// ones. mode is recorded on the result; it does not change the walk.
func (en *Engine) ComputeSave(root *model.Entity, mode model.ConstraintMode) (*ChangeSet, error) {
	cs := newChangeSet(mode)
	visited := make(map[model.OID]struct{})
	stack := []step{{entity: root}}

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if st.schedule {
			cs.scheduleSave(st.entity)
			continue
		}

		e := st.entity
		if _, seen := visited[e.OID()]; seen {
			continue
		}
		visited[e.OID()] = struct{}{}

		before, after, err := en.neighbours(e)
		if err != nil {
			return nil, err
		}

		// Popped order: before..., e, after...
		for i := len(after) - 1; i >= 0; i-- {
			stack = append(stack, step{entity: after[i]})
		}
		stack = append(stack, step{entity: e, schedule: true})
		for i := len(before) - 1; i >= 0; i-- {
			stack = append(stack, step{entity: before[i]})
		}
	}

	en.logger.Debug("computed save change-set",
		"root", root.String(),
		"visited", len(visited),
		"inserts", len(cs.inserts),
		"updates", len(cs.updates),
	)
	return cs, nil
}

// neighbours splits the loaded relations of e into the entities e depends on
// (e holds their foreign key) and the entities depending on e.
func (en *Engine) neighbours(e *model.Entity) (before, after []*model.Entity, err error) {
	for _, rel := range e.Table().Relations() {
		oids, loaded := rel.Related(e)
		if !loaded {
			continue
		}
		for _, oid := range oids {
			target, err := en.ids.Resolve(rel.Target, oid)
			if err != nil {
				return nil, nil, err
			}
			if rel.Side == model.Owning {
				before = append(before, target)
			} else {
				after = append(after, target)
			}
		}
	}
	return before, after, nil
}

// ComputeDelete schedules root for deletion, after handling its dependents
// per delete action when mode is EngineEnforced. Entities that do not exist
// in the store are never scheduled.
//
// Set-null and set-default dependents are rewritten only once the whole walk
// succeeded, so a failed call leaves every entity untouched. Restrict and
// cascade relations of one-to-one cardinality each cost one Fetcher call.
func (en *Engine) ComputeDelete(ctx context.Context, root *model.Entity, mode model.ConstraintMode) (*ChangeSet, error) {
	cs := newChangeSet(mode)
	visited := make(map[model.OID]struct{})
	stack := []step{{entity: root}}
	var rewrites []rewrite

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if st.schedule {
			cs.deletes = append(cs.deletes, st.entity)
			continue
		}

		e := st.entity
		if _, seen := visited[e.OID()]; seen {
			continue
		}
		visited[e.OID()] = struct{}{}

		if !e.Exists() {
			continue
		}
		stack = append(stack, step{entity: e, schedule: true})
		if mode == model.StoreEnforced {
			continue
		}

		for _, rel := range e.Table().Relations() {
			if rel.Side != model.Referenced {
				continue
			}
			switch rel.OnDelete {
			case model.Cascade:
				deps, err := en.dependents(ctx, e, rel)
				if err != nil {
					return nil, err
				}
				for i := len(deps) - 1; i >= 0; i-- {
					stack = append(stack, step{entity: deps[i]})
				}

			case model.SetNull, model.SetDefault:
				deps, err := en.dependents(ctx, e, rel)
				if err != nil {
					return nil, err
				}
				for _, dep := range deps {
					rewrites = append(rewrites, rewrite{dep: dep, rel: rel})
				}

			case model.Restrict:
				deps, err := en.dependents(ctx, e, rel)
				if err != nil {
					return nil, err
				}
				for _, dep := range deps {
					if dep.Exists() {
						return nil, fmt.Errorf("%w: %s is referenced by %s through %s",
							ErrHasDependents, e, dep, rel.ForeignKey)
					}
				}
			}
		}
	}

	for _, rw := range rewrites {
		cs.remember(rw.dep)
		if err := en.detachDependent(cs, rw.dep, rw.rel); err != nil {
			cs.Discard()
			return nil, err
		}
	}

	en.logger.Debug("computed delete change-set",
		"root", root.String(),
		"mode", mode.String(),
		"updates", len(cs.updates),
		"deletes", len(cs.deletes),
	)
	return cs, nil
}

// dependents returns the entities whose foreign key through rel points at e.
// Collections come from the loaded in-memory snapshot; one-to-one dependents
// are fetched from the store and hydrated through the identity map.
func (en *Engine) dependents(ctx context.Context, e *model.Entity, rel *model.Relation) ([]*model.Entity, error) {
	if rel.IsCollection() {
		oids, loaded := rel.Related(e)
		if !loaded {
			en.logger.Debug("skipping unloaded collection", "entity", e.String(), "relation", rel.Name)
			return nil, nil
		}
		deps := make([]*model.Entity, 0, len(oids))
		for _, oid := range oids {
			dep, err := en.ids.Resolve(rel.Target, oid)
			if err != nil {
				return nil, err
			}
			deps = append(deps, dep)
		}
		return deps, nil
	}

	if en.fetcher == nil {
		return nil, fmt.Errorf("%w: resolving %s", ErrNoFetcher, rel)
	}
	row, ok, err := en.fetcher.FetchOneWhere(ctx, model.Condition{
		Table: rel.Target,
		Field: rel.ForeignKey,
		Value: e.ID(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if row.Table == "" {
		row.Table = rel.Target
	}
	dep, err := en.ids.Hydrate(row)
	if err != nil {
		return nil, err
	}
	return []*model.Entity{dep}, nil
}

// detachDependent rewrites dep's foreign key to NULL or the field default and
// schedules the update.
func (en *Engine) detachDependent(cs *ChangeSet, dep *model.Entity, rel *model.Relation) error {
	if rel.OnDelete == model.SetNull {
		if err := dep.SetRelated(rel.Inverse().Name, nil); err != nil {
			return err
		}
	} else {
		f, _ := dep.Table().Field(rel.ForeignKey)
		if err := dep.Set(rel.ForeignKey, f.Default); err != nil {
			return err
		}
		if err := dep.MarkLoaded(rel.Inverse().Name); err != nil {
			return err
		}
	}
	if dep.Exists() && dep.IsModified() {
		cs.scheduleUpdate(dep)
	}
	return nil
}
