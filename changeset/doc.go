// Package changeset computes what a save or delete of an entity graph has to
// write: ordered lists of entities to insert, update and delete.
//
// Traversal is depth-first over the loaded relations of the graph, with a
// visited-set per call, so cyclic graphs terminate and every entity is
// scheduled at most once. The walk uses an explicit stack and never recurses.
//
// # Save
//
// Entities the current entity depends on (targets of its foreign keys) are
// visited first, then the entity itself is scheduled, then the entities that
// depend on it. A new referenced entity therefore precedes the new entity
// referencing it in the insert list. Existing entities are scheduled for
// update only when modified. Relations that were never loaded or assigned are
// skipped; computing a change-set never loads anything.
//
// # Delete
//
// In [model.EngineEnforced] mode dependents are handled per delete action
// before the root is scheduled:
//
//   - Cascade: dependents are deleted first (collections from the in-memory
//     snapshot, one-to-one dependents fetched from the store)
//   - SetNull, SetDefault: the dependent's foreign key is rewritten and the
//     dependent scheduled for update
//   - Restrict: a live dependent fails the computation with [ErrHasDependents]
//   - NoAction: left to the store
//
// Rewrites are applied only after the walk finished without error, so a
// failed computation changes no entity. [ChangeSet.Checkpoint] returns the
// state a rewritten dependent had before, and [ChangeSet.Discard] restores it
// when the change-set is dropped.
//
// In [model.StoreEnforced] mode only the root is scheduled.
package changeset
