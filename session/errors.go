package session

import (
	"errors"

	"github.com/jacentio/arbor/unique"
)

var (
	// ErrDuplicateValue is returned when a save would violate a unique index.
	ErrDuplicateValue = unique.ErrDuplicateValue

	// ErrUnsavedReference is returned when a foreign key still points at an entity without an identifier.
	ErrUnsavedReference = errors.New("arbor: reference to unsaved entity")
)
