package changeset

import (
	"fmt"

	"github.com/jacentio/arbor/model"
)

// ChangeSet is the result of one compute call. It is never reused: every
// call returns a fresh one.
type ChangeSet struct {
	mode    model.ConstraintMode
	inserts []*model.Entity
	updates []*model.Entity
	deletes []*model.Entity

	// state of entities before the computation rewrote them
	before map[model.OID]saved
}

type saved struct {
	entity *model.Entity
	state  model.Checkpoint
}

func newChangeSet(mode model.ConstraintMode) *ChangeSet {
	return &ChangeSet{mode: mode, before: make(map[model.OID]saved)}
}

// Mode returns the constraint mode the change-set was computed with.
func (c *ChangeSet) Mode() model.ConstraintMode { return c.mode }

// Inserts returns the entities to insert, in dependency order.
func (c *ChangeSet) Inserts() []*model.Entity { return c.inserts }

// Updates returns the entities to update.
func (c *ChangeSet) Updates() []*model.Entity { return c.updates }

// Deletes returns the entities to delete, dependents before the entities they reference.
func (c *ChangeSet) Deletes() []*model.Entity { return c.deletes }

// Checkpoint returns the state e had before the computation rewrote it.
// Only dependents detached by a delete are rewritten.
func (c *ChangeSet) Checkpoint(e *model.Entity) (model.Checkpoint, bool) {
	s, ok := c.before[e.OID()]
	return s.state, ok
}

func (c *ChangeSet) remember(e *model.Entity) {
	if _, ok := c.before[e.OID()]; !ok {
		c.before[e.OID()] = saved{entity: e, state: e.Checkpoint()}
	}
}

// Discard puts every rewritten entity back into its state before the
// computation. Callers use it when the change-set is not applied.
func (c *ChangeSet) Discard() {
	for _, s := range c.before {
		s.entity.Restore(s.state)
	}
}

// Len returns the total number of scheduled operations.
func (c *ChangeSet) Len() int {
	return len(c.inserts) + len(c.updates) + len(c.deletes)
}

// IsEmpty reports whether nothing was scheduled.
func (c *ChangeSet) IsEmpty() bool { return c.Len() == 0 }

func (c *ChangeSet) String() string {
	return fmt.Sprintf("changeset(%s: %d inserts, %d updates, %d deletes)",
		c.mode, len(c.inserts), len(c.updates), len(c.deletes))
}

func (c *ChangeSet) scheduleSave(e *model.Entity) {
	if !e.Exists() {
		c.inserts = append(c.inserts, e)
		return
	}
	if e.IsModified() {
		c.updates = append(c.updates, e)
	}
}

func (c *ChangeSet) scheduleUpdate(e *model.Entity) {
	for _, u := range c.updates {
		if u == e {
			return
		}
	}
	c.updates = append(c.updates, e)
}
