// Package store persists sessions to DynamoDB.
//
// Each model table maps to one DynamoDB table keyed by the table's primary
// key attribute. Besides the declared fields every item carries ORM-managed
// attributes:
//
//   - entity_ref: "table#id", used by stream handlers
//   - version: incremented on every write
//   - created_at, updated_at: ISO 8601 timestamps
//   - ttl: set when the entity is deleted
//   - _unique_pks: the guard rows owned by the entity
//
// # Unique Indexes
//
// DynamoDB has no secondary unique indexes, so every applicable unique index
// entry is written as a guard row to the unique constraints table inside the
// same transaction as the entity. The guard's partition key hashes the table,
// index and values (see [Config.UniqueTable]). A write that would take an
// existing guard is cancelled and reported as a *unique.ViolationError.
// Lookups made by the unique validator read the guard rows directly.
//
// # Deletes
//
// Delete is a soft delete: the entity's TTL is set to now and its guard rows
// are removed. DynamoDB's TTL process removes the item later. Reads treat
// items with an expired TTL as missing (see [IsDeleted]).
//
// # Foreign Key Lookups
//
// Dependents are found by querying a global secondary index on the foreign
// key field, named by [Config.IndexNameFormat].
//
// # Errors
//
//   - [ErrNotFound] - entity doesn't exist or is deleted
//   - [ErrAlreadyExists] - entity with ID already exists
//   - [ErrAlreadyDeleted] - entity already carries a TTL
//   - [ErrDuplicateValue] - unique guard row taken
package store
