package unique

import (
	"errors"
	"fmt"
)

// ErrDuplicateValue is matched by every unique index violation, whether found
// by the validator or reported by a store.
var ErrDuplicateValue = errors.New("arbor: duplicate value for unique index")

// ViolationError names the index a write collided on.
type ViolationError struct {
	Table string
	Index string
}

func (e *ViolationError) Error() string {
	if e.Index == "" {
		return fmt.Sprintf("%s: %s", ErrDuplicateValue, e.Table)
	}
	return fmt.Sprintf("%s: %s.%s", ErrDuplicateValue, e.Table, e.Index)
}

func (e *ViolationError) Is(target error) bool {
	return target == ErrDuplicateValue
}
