package model

import (
	"strings"
	"time"
)

// BeforeSetHook runs before a value is assigned. It may return a replacement
// value, or an error to veto the assignment.
type BeforeSetHook func(e *Entity, field string, value any) (any, error)

// AfterSetHook runs after a value is assigned and change tracking is updated.
type AfterSetHook func(e *Entity, field string, old, value any)

// TouchTimestamp returns a hook that stamps field with now() whenever another
// field of the entity changes value. Assigning an equal value stamps nothing,
// and once every other field is back at its baseline the stamp is dropped too.
func TouchTimestamp(field string, now func() time.Time) AfterSetHook {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return func(e *Entity, name string, old, value any) {
		if name == field || !e.table.HasField(field) {
			return
		}
		if f, ok := e.table.Field(name); ok && f.Type.Equal(old, value) {
			return
		}
		if e.onlyModified(field) {
			if _, stamped := e.modified[field]; stamped {
				_ = e.Set(field, e.baseline[field])
			}
			return
		}
		_ = e.Set(field, now())
	}
}

// TrimStrings returns a hook that trims surrounding whitespace from string
// values of the listed fields.
func TrimStrings(fields ...string) BeforeSetHook {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return func(_ *Entity, field string, value any) (any, error) {
		s, ok := value.(string)
		if _, want := set[field]; !ok || !want {
			return value, nil
		}
		return strings.TrimSpace(s), nil
	}
}
