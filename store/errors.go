package store

import (
	"errors"

	"github.com/jacentio/arbor/model"
	"github.com/jacentio/arbor/unique"
)

var (
	// ErrNotFound is returned when an entity doesn't exist or is deleted (has TTL <= now).
	ErrNotFound = model.ErrNotFound

	// ErrAlreadyExists is returned when attempting to create an entity with an existing ID.
	ErrAlreadyExists = errors.New("arbor: entity already exists")

	// ErrDuplicateValue is returned when a unique index guard row is already taken.
	ErrDuplicateValue = unique.ErrDuplicateValue

	// ErrAlreadyDeleted is returned when attempting to delete an already-deleted entity.
	ErrAlreadyDeleted = errors.New("arbor: entity is already deleted")

	// ErrUnsupportedPredicate is returned for uniqueness predicates that name no index.
	ErrUnsupportedPredicate = errors.New("arbor: predicate has no unique index")
)
