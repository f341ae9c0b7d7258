package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jacentio/arbor/model"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

type dialect struct {
	name     string
	numbered bool
}

var (
	sqliteDialect   = dialect{name: DriverSQLite}
	postgresDialect = dialect{name: DriverPostgres, numbered: true}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect, nil
	case DriverPostgres, "postgres":
		return postgresDialect, nil
	}
	return dialect{}, fmt.Errorf("%w: unsupported driver %q", model.ErrConfiguration, driver)
}

// placeholder returns the n-th (1-based) bind parameter.
func (d dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d dialect) columnType(t model.FieldType) string {
	pg := d.numbered
	switch t {
	case model.TypeInt:
		if pg {
			return "BIGINT"
		}
		return "INTEGER"
	case model.TypeFloat:
		if pg {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case model.TypeBool:
		if pg {
			return "BOOLEAN"
		}
		return "INTEGER"
	case model.TypeTime:
		if pg {
			return "TIMESTAMPTZ"
		}
		return "TEXT"
	case model.TypeBytes:
		if pg {
			return "BYTEA"
		}
		return "BLOB"
	case model.TypeJSON:
		if pg {
			return "JSONB"
		}
		return "TEXT"
	}
	return "TEXT"
}

func onDeleteClause(a model.DeleteAction) string {
	switch a {
	case model.Restrict:
		return "RESTRICT"
	case model.Cascade:
		return "CASCADE"
	case model.SetNull:
		return "SET NULL"
	case model.SetDefault:
		return "SET DEFAULT"
	}
	return "NO ACTION"
}

// builder accumulates SQL text and bind arguments.
type builder struct {
	d    dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(s string) *builder {
	b.sb.WriteString(s)
	return b
}

func (b *builder) bind(v any) *builder {
	b.args = append(b.args, v)
	b.sb.WriteString(b.d.placeholder(len(b.args)))
	return b
}

func (b *builder) String() string {
	return b.sb.String()
}
