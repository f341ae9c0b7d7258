// Package sqlstore is a database/sql store for sessions. It speaks SQLite
// (modernc.org/sqlite, driver "sqlite") and PostgreSQL (pgx, driver "pgx").
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/jacentio/arbor/model"
)

// Store maps tables of a registry onto SQL tables with a TEXT primary key.
type Store struct {
	db       *sql.DB
	registry *model.Registry
	dialect  dialect
	logger   *slog.Logger
}

// Open connects to a database. SQLite connections are limited to one so
// that in-memory databases and PRAGMA settings are shared by every call.
func Open(driver, dsn string, reg *model.Registry, logger *slog.Logger) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d == sqliteDialect {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	return New(db, driver, reg, logger)
}

// New wraps an open database.
func New(db *sql.DB, driver string, reg *model.Registry, logger *slog.Logger) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		registry: reg,
		dialect:  d,
		logger:   logger,
	}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) schema(name string) (*model.Table, error) {
	t, ok := s.registry.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *Store) selectColumns(t *model.Table) string {
	cols := quote(t.PrimaryKey)
	for _, f := range t.Fields() {
		cols += ", " + quote(f.Name)
	}
	return cols
}

// Load returns the row with the given identifier.
func (s *Store) Load(ctx context.Context, table, id string) (model.Row, bool, error) {
	t, err := s.schema(table)
	if err != nil {
		return model.Row{}, false, err
	}
	b := &builder{d: s.dialect}
	b.write("SELECT " + s.selectColumns(t) + " FROM " + quote(t.Name) + " WHERE " + quote(t.PrimaryKey) + " = ").bind(id)
	return s.queryRow(ctx, t, b)
}

// FetchOneWhere returns one row whose field equals the value.
func (s *Store) FetchOneWhere(ctx context.Context, cond model.Condition) (model.Row, bool, error) {
	t, err := s.schema(cond.Table)
	if err != nil {
		return model.Row{}, false, err
	}
	f, ok := t.Field(cond.Field)
	if !ok {
		return model.Row{}, false, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, t.Name, cond.Field)
	}
	b := &builder{d: s.dialect}
	b.write("SELECT " + s.selectColumns(t) + " FROM " + quote(t.Name) + " WHERE " + quote(f.Name))
	if cond.Value == nil {
		b.write(" IS NULL")
	} else {
		b.write(" = ").bind(s.encode(f, cond.Value))
	}
	b.write(" LIMIT 1")
	return s.queryRow(ctx, t, b)
}

// ExistsMatchingAny runs one existence query with the predicates OR-ed together.
func (s *Store) ExistsMatchingAny(ctx context.Context, c model.Criteria) (bool, error) {
	t, err := s.schema(c.Table)
	if err != nil {
		return false, err
	}
	if len(c.Any) == 0 {
		return false, nil
	}

	b := &builder{d: s.dialect}
	b.write("SELECT 1 FROM " + quote(t.Name) + " WHERE (")
	for i, p := range c.Any {
		if i > 0 {
			b.write(" OR ")
		}
		b.write("(")
		for j, term := range p.Terms {
			f, ok := t.Field(term.Field)
			if !ok {
				return false, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, t.Name, term.Field)
			}
			if j > 0 {
				b.write(" AND ")
			}
			if term.IsNull {
				b.write(quote(f.Name) + " IS NULL")
			} else {
				b.write(quote(f.Name) + " = ").bind(s.encode(f, term.Value))
			}
		}
		b.write(")")
	}
	b.write(")")
	if c.ExcludeID != "" {
		b.write(" AND " + quote(t.PrimaryKey) + " <> ").bind(c.ExcludeID)
	}
	b.write(" LIMIT 1")

	var one int
	err = s.conn(ctx).QueryRowContext(ctx, b.String(), b.args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query %s: %w", t.Name, err)
	}
	return true, nil
}

// Insert writes a new row under a generated identifier.
func (s *Store) Insert(ctx context.Context, e *model.Entity) (string, error) {
	t := e.Table()
	id := uuid.NewString()

	b := &builder{d: s.dialect}
	b.write("INSERT INTO " + quote(t.Name) + " (" + s.selectColumns(t) + ") VALUES (").bind(id)
	for _, f := range t.Fields() {
		b.write(", ").bind(s.encode(f, e.Get(f.Name)))
	}
	b.write(")")

	if err := s.exec(ctx, t, b, false); err != nil {
		return "", err
	}
	return id, nil
}

// Update writes the modified fields of an existing entity, or every field
// when nothing is marked modified.
func (s *Store) Update(ctx context.Context, e *model.Entity) error {
	t := e.Table()
	changes := e.Changes()

	b := &builder{d: s.dialect}
	b.write("UPDATE " + quote(t.Name) + " SET ")
	n := 0
	for _, f := range t.Fields() {
		if _, ok := changes[f.Name]; !ok && len(changes) > 0 {
			continue
		}
		if n > 0 {
			b.write(", ")
		}
		b.write(quote(f.Name) + " = ").bind(s.encode(f, e.Get(f.Name)))
		n++
	}
	if n == 0 {
		return nil
	}
	b.write(" WHERE " + quote(t.PrimaryKey) + " = ").bind(e.ID())

	if err := s.exec(ctx, t, b, true); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &model.NotFoundError{Table: t.Name, Key: e.ID()}
		}
		return err
	}
	return nil
}

// Delete removes an existing entity's row.
func (s *Store) Delete(ctx context.Context, e *model.Entity) error {
	t := e.Table()
	b := &builder{d: s.dialect}
	b.write("DELETE FROM " + quote(t.Name) + " WHERE " + quote(t.PrimaryKey) + " = ").bind(e.ID())

	if err := s.exec(ctx, t, b, true); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &model.NotFoundError{Table: t.Name, Key: e.ID()}
		}
		return err
	}
	return nil
}

func (s *Store) exec(ctx context.Context, t *model.Table, b *builder, wantRow bool) error {
	s.logger.Debug("exec", "query", b.String())
	res, err := s.conn(ctx).ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return mapExecError(t, err)
	}
	if !wantRow {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) queryRow(ctx context.Context, t *model.Table, b *builder) (model.Row, bool, error) {
	s.logger.Debug("query", "query", b.String())
	fields := t.Fields()
	dest := make([]any, len(fields)+1)
	var id string
	dest[0] = &id
	raw := make([]any, len(fields))
	for i := range fields {
		dest[i+1] = &raw[i]
	}

	err := s.conn(ctx).QueryRowContext(ctx, b.String(), b.args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Row{}, false, nil
	}
	if err != nil {
		return model.Row{}, false, fmt.Errorf("query %s: %w", t.Name, err)
	}

	values := make(map[string]any, len(fields))
	for i, f := range fields {
		v, err := decode(f, raw[i])
		if err != nil {
			return model.Row{}, false, fmt.Errorf("decode %s.%s: %w", t.Name, f.Name, err)
		}
		values[f.Name] = v
	}
	return model.Row{Table: t.Name, ID: id, Values: values}, true, nil
}

// encode converts a normalised field value into a bind argument.
func (s *Store) encode(f model.Field, v any) any {
	if v == nil {
		return nil
	}
	switch f.Type {
	case model.TypeTime:
		if tm, ok := v.(time.Time); ok && s.dialect == sqliteDialect {
			return tm.UTC().Format(time.RFC3339Nano)
		}
	case model.TypeBool:
		if b, ok := v.(bool); ok && s.dialect == sqliteDialect {
			if b {
				return int64(1)
			}
			return int64(0)
		}
	case model.TypeJSON:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return v
}

// decode converts a scanned column into a value Hydrate can normalise.
func decode(f model.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Type {
	case model.TypeJSON:
		var data []byte
		switch x := raw.(type) {
		case string:
			data = []byte(x)
		case []byte:
			data = x
		default:
			return x, nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case model.TypeBytes:
		return raw, nil
	}
	if b, ok := raw.([]byte); ok {
		return string(b), nil
	}
	return raw, nil
}
