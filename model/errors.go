package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an ephemeral identity is not tracked.
	ErrNotFound = errors.New("arbor: entity not found")

	// ErrConfiguration is returned when schema metadata is malformed.
	ErrConfiguration = errors.New("arbor: configuration error")

	// ErrUnknownTable is returned when a table name is not registered.
	ErrUnknownTable = errors.New("arbor: unknown table")

	// ErrUnknownField is returned when setting a field the table does not declare.
	ErrUnknownField = errors.New("arbor: unknown field")

	// ErrUnknownRelation is returned when a relation name is not defined on the table.
	ErrUnknownRelation = errors.New("arbor: unknown relation")

	// ErrCardinality is returned when a to-one operation targets a collection or vice versa.
	ErrCardinality = errors.New("arbor: relation cardinality mismatch")

	// ErrTableMismatch is returned when an entity is handed to a repository or relation of another table.
	ErrTableMismatch = errors.New("arbor: entity belongs to another table")

	// ErrAlreadyTracked is returned when an entity already lives in another repository.
	ErrAlreadyTracked = errors.New("arbor: entity is tracked by another repository")

	// ErrIdentityConflict is returned when a persisted identifier is already mapped to another instance.
	ErrIdentityConflict = errors.New("arbor: identifier already mapped to another instance")
)

// NotFoundError reports a lookup of an ephemeral identity that no repository tracks.
// It usually means the caller holds a stale or foreign identity.
type NotFoundError struct {
	Table string
	Key   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("arbor: %s %s not found", e.Table, e.Key)
}

// Is reports ErrNotFound equivalence.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConfigurationError reports schema metadata that cannot be honoured.
// It is never retried.
type ConfigurationError struct {
	Table  string
	Index  string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	msg := "arbor: configuration error"
	if e.Table != "" {
		msg += " on " + e.Table
	}
	if e.Index != "" {
		msg += " index " + e.Index
	}
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports ErrConfiguration equivalence.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
