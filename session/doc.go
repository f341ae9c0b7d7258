// Package session is the unit of work: it owns an identity map, computes
// change-sets for save and delete calls and applies them to a store.
//
// # Usage
//
//	reg, _ := schema.LoadFile("schema.yaml")
//	sess := session.New(reg, memstore.New(reg), session.WithLogger(logger))
//
//	author, _ := sess.New("author")
//	_ = author.Set("name", "Ann")
//	article, _ := sess.New("article")
//	_ = author.AddRelated("articles", article)
//
//	// Inserts author, then article with author_id set.
//	err := sess.Save(ctx, author, model.EngineEnforced)
//
// # Apply order
//
// Save applies inserts in change-set order, resolving foreign keys that
// waited for a referenced entity, then updates. Delete applies updates
// (set-null and set-default rewrites) before deletes. When the store
// implements [Transactor] each apply runs in one transaction.
//
// A failed apply puts entities back in line with the store. With a
// [Transactor] every entity written in the call returns to its state before
// the call, including set-null rewrites made by the delete computation.
// Without one, writes that reached the store are kept and the rest are undone.
//
// # Errors
//
//   - [ErrDuplicateValue]: a unique index would be violated
//   - [ErrUnsavedReference]: a foreign key points at an entity that was not inserted
//   - [model.ErrNotFound]: Find or a store write found no row
//   - [changeset.ErrHasDependents]: a restrict relation blocked a delete
package session
