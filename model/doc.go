// Package model holds the in-memory half of arbor: entities and their change
// tracking, table and relation metadata, and the identity repositories that
// keep exactly one live instance per stored row.
//
// # Entities
//
// An [Entity] is a mutable record of field values belonging to one [Table].
// Every instance gets an ephemeral [OID] at construction. Once inserted it
// also carries a persisted identifier, returned by [Entity.ID]:
//
//	art, _ := ids.New("article")
//	_ = art.Set("title", "Hello")
//	art.IsModified()          // true
//	art.IsFieldModified("title") // true
//
// Modification is measured against the snapshot taken when the entity was
// loaded or last saved. Setting a field back to that value clears it.
//
// # Relations
//
// A [Relationship] is declared once on the [Registry]: the owning table holds
// the foreign key, the referenced table is pointed at. The registry derives
// one [Relation] view per side and attaches it to each table:
//
//	reg.Register(model.Relationship{
//	    Name:        "author",
//	    Owner:       "article",
//	    ForeignKey:  "author_id",
//	    Referenced:  "author",
//	    InverseName: "articles",
//	    Cardinality: model.OneToMany,
//	    OnDelete:    model.Cascade,
//	})
//
// # Identity
//
// A [Repository] owns the live instances of one table. An [IdentityMap] groups
// the repositories of one unit of work and doubles as the entity factory.
// Repositories are never process-wide singletons.
//
// # Errors
//
//   - [ErrNotFound] - unknown ephemeral identity (see [NotFoundError])
//   - [ErrConfiguration] - malformed schema metadata (see [ConfigurationError])
//   - [ErrUnknownTable], [ErrUnknownField], [ErrUnknownRelation]
//   - [ErrAlreadyTracked], [ErrTableMismatch], [ErrIdentityConflict]
package model
