package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// FieldType is the declared type of a field. It decides how values are
// normalised and when two values count as equal.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeBytes
	TypeJSON
)

var fieldTypeNames = map[FieldType]string{
	TypeString: "string",
	TypeInt:    "int",
	TypeFloat:  "float",
	TypeBool:   "bool",
	TypeTime:   "time",
	TypeBytes:  "bytes",
	TypeJSON:   "json",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// ParseFieldType maps a schema name ("string", "int", ...) to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range fieldTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown field type %q", ErrConfiguration, s)
}

// Field describes one column of a table.
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool

	// Default is assigned to new entities and used by SetDefault delete actions.
	Default any
}

// Normalize coerces v into the Go representation of the field type:
// string, int64, float64, bool, time.Time, []byte, or any for JSON.
// nil passes through.
func (t FieldType) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
	case TypeInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return time.Parse(time.RFC3339Nano, x)
		}
	case TypeBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	case TypeJSON:
		return v, nil
	}
	return nil, fmt.Errorf("arbor: cannot use %T as %s", v, t)
}

// Equal reports whether a and b are the same value under the field type.
func (t FieldType) Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, errA := t.Normalize(a)
	nb, errB := t.Normalize(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	switch t {
	case TypeTime:
		return na.(time.Time).Equal(nb.(time.Time))
	case TypeBytes:
		return bytes.Equal(na.([]byte), nb.([]byte))
	case TypeJSON:
		return jsonEqual(na, nb)
	}
	return na == nb
}

func jsonEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}
