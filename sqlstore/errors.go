package sqlstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jacentio/arbor/model"
	"github.com/jacentio/arbor/unique"
)

// ErrAlreadyExists is returned when an insert collides on the primary key.
var ErrAlreadyExists = errors.New("arbor: row already exists")

const pgUniqueViolation = "23505"

// mapExecError translates driver unique violations into *unique.ViolationError.
func mapExecError(t *model.Table, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if strings.HasSuffix(pgErr.ConstraintName, "_pkey") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, t.Name)
		}
		return &unique.ViolationError{Table: t.Name, Index: pgErr.ConstraintName}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		msg := liteErr.Error()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(msg, "UNIQUE constraint failed") {
			cols := failedColumns(msg)
			if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || (len(cols) == 1 && cols[0] == t.PrimaryKey) {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, t.Name)
			}
			return &unique.ViolationError{Table: t.Name, Index: indexFor(t, cols)}
		}
	}
	return fmt.Errorf("exec %s: %w", t.Name, err)
}

// failedColumns extracts the column names from a SQLite message such as
// "UNIQUE constraint failed: author.email, author.team (2067)".
func failedColumns(msg string) []string {
	i := strings.LastIndex(msg, "failed: ")
	if i < 0 {
		return nil
	}
	list := msg[i+len("failed: "):]
	if j := strings.Index(list, " ("); j >= 0 {
		list = list[:j]
	}
	var cols []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if dot := strings.LastIndex(part, "."); dot >= 0 {
			part = part[dot+1:]
		}
		cols = append(cols, part)
	}
	return cols
}

// indexFor returns the unique index of t over exactly cols.
func indexFor(t *model.Table, cols []string) string {
	want := append([]string(nil), cols...)
	sort.Strings(want)
	for _, idx := range t.UniqueIndexes() {
		fields := append([]string(nil), idx.Fields...)
		sort.Strings(fields)
		if strings.Join(fields, ",") == strings.Join(want, ",") {
			return idx.Name
		}
	}
	return ""
}
