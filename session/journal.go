package session

import "github.com/jacentio/arbor/model"

// journal records the state of the entities a unit of work writes, so that a
// failed apply can bring memory back in line with the store.
type journal struct {
	entries []entry
	applied map[model.OID]struct{}
}

type entry struct {
	entity *model.Entity
	state  model.Checkpoint
}

func newJournal() *journal {
	return &journal{applied: make(map[model.OID]struct{})}
}

func (j *journal) record(e *model.Entity, state model.Checkpoint) {
	j.entries = append(j.entries, entry{entity: e, state: state})
}

// done marks the write of e as having reached the store.
func (j *journal) done(e *model.Entity) {
	j.applied[e.OID()] = struct{}{}
}

func (j *journal) wasApplied(e *model.Entity) bool {
	_, ok := j.applied[e.OID()]
	return ok
}

// rollback restores recorded entities and re-indexes them. When the store
// rolled back every write is undone; otherwise only writes that never
// reached the store are.
func (j *journal) rollback(ids *model.IdentityMap, storeRolledBack bool) int {
	n := 0
	for i := len(j.entries) - 1; i >= 0; i-- {
		en := j.entries[i]
		if !storeRolledBack && j.wasApplied(en.entity) {
			continue
		}
		en.entity.Restore(en.state)
		ids.Refresh(en.entity)
		n++
	}
	return n
}
