package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jacentio/arbor/model"
)

// CreateTables creates every registered table and its unique indexes if they
// do not exist. Foreign keys carry the relationship's delete action so the
// database can enforce it for store-enforced deletes.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, stmt := range s.dialect.ddl(s.registry) {
		s.logger.Debug("applying ddl", "statement", stmt)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}
	return nil
}

func (d dialect) ddl(reg *model.Registry) []string {
	fks := make(map[string]map[string]model.Relationship)
	for _, rel := range reg.AllRelationships() {
		if fks[rel.Owner] == nil {
			fks[rel.Owner] = make(map[string]model.Relationship)
		}
		fks[rel.Owner][rel.ForeignKey] = rel
	}

	var stmts []string
	for _, t := range creationOrder(reg) {
		cols := []string{quote(t.PrimaryKey) + " TEXT PRIMARY KEY"}
		for _, f := range t.Fields() {
			col := quote(f.Name) + " " + d.columnType(f.Type)
			if !f.Nullable {
				col += " NOT NULL"
			}
			if rel, ok := fks[t.Name][f.Name]; ok {
				target, _ := reg.Table(rel.Referenced)
				col += fmt.Sprintf(" REFERENCES %s (%s) ON DELETE %s",
					quote(rel.Referenced), quote(target.PrimaryKey), onDeleteClause(rel.OnDelete))
			}
			cols = append(cols, col)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.Name), strings.Join(cols, ", ")))

		for _, idx := range t.UniqueIndexes() {
			fields := make([]string, len(idx.Fields))
			for i, f := range idx.Fields {
				fields[i] = quote(f)
			}
			stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote(idx.Name), quote(t.Name), strings.Join(fields, ", "))
			// SQLite always treats NULLs as distinct; the validator covers the rest.
			if idx.NullConstrained && d.numbered {
				stmt += " NULLS NOT DISTINCT"
			}
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// creationOrder lists referenced tables before the tables pointing at them.
// Tables on a reference cycle keep registration order.
func creationOrder(reg *model.Registry) []*model.Table {
	tables := reg.Tables()
	deps := make(map[string]map[string]bool, len(tables))
	for _, rel := range reg.AllRelationships() {
		if rel.Owner == rel.Referenced {
			continue
		}
		if deps[rel.Owner] == nil {
			deps[rel.Owner] = make(map[string]bool)
		}
		deps[rel.Owner][rel.Referenced] = true
	}

	done := make(map[string]bool, len(tables))
	ordered := make([]*model.Table, 0, len(tables))
	for len(ordered) < len(tables) {
		progressed := false
		for _, t := range tables {
			if done[t.Name] {
				continue
			}
			ready := true
			for dep := range deps[t.Name] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[t.Name] = true
				ordered = append(ordered, t)
				progressed = true
			}
		}
		if !progressed {
			for _, t := range tables {
				if !done[t.Name] {
					done[t.Name] = true
					ordered = append(ordered, t)
				}
			}
		}
	}
	return ordered
}
