package changeset_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jacentio/arbor/changeset"
	"github.com/jacentio/arbor/model"
)

// libraryRegistry builds:
//
//	author   <- article  (one-to-many, cascade)
//	category <- article  (one-to-many, restrict)
//	article  <- comment  (one-to-many, set-null)
//	user     <- profile  (one-to-one, cascade)
//	user     <- badge    (one-to-many, set-default)
//	user     <- note     (one-to-many, set-null)
//	user     <- ticket   (one-to-many, restrict)
//	node     <- node     (one-to-many, cascade)
//	tag                  (no relations)
func libraryRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()

	tables := []*model.Table{
		model.NewTable("author", model.Field{Name: "name", Type: model.TypeString}),
		model.NewTable("category", model.Field{Name: "name", Type: model.TypeString}),
		model.NewTable("article",
			model.Field{Name: "title", Type: model.TypeString},
			model.Field{Name: "author_id", Type: model.TypeString, Nullable: true},
			model.Field{Name: "category_id", Type: model.TypeString, Nullable: true},
		),
		model.NewTable("comment",
			model.Field{Name: "body", Type: model.TypeString},
			model.Field{Name: "article_id", Type: model.TypeString, Nullable: true},
		),
		model.NewTable("user", model.Field{Name: "login", Type: model.TypeString}),
		model.NewTable("profile",
			model.Field{Name: "bio", Type: model.TypeString},
			model.Field{Name: "user_id", Type: model.TypeString},
		),
		model.NewTable("badge",
			model.Field{Name: "label", Type: model.TypeString},
			model.Field{Name: "owner_id", Type: model.TypeString, Default: "system"},
		),
		model.NewTable("node",
			model.Field{Name: "label", Type: model.TypeString},
			model.Field{Name: "parent_id", Type: model.TypeString, Nullable: true},
		),
		model.NewTable("note",
			model.Field{Name: "text", Type: model.TypeString},
			model.Field{Name: "owner_id", Type: model.TypeString, Nullable: true},
		),
		model.NewTable("ticket",
			model.Field{Name: "title", Type: model.TypeString},
			model.Field{Name: "user_id", Type: model.TypeString},
		),
		model.NewTable("tag", model.Field{Name: "name", Type: model.TypeString}),
	}
	for _, tbl := range tables {
		if err := reg.RegisterTable(tbl); err != nil {
			t.Fatalf("register table %s: %v", tbl.Name, err)
		}
	}

	rels := []model.Relationship{
		{Name: "author", Owner: "article", ForeignKey: "author_id", Referenced: "author",
			InverseName: "articles", Cardinality: model.OneToMany, OnDelete: model.Cascade},
		{Name: "category", Owner: "article", ForeignKey: "category_id", Referenced: "category",
			InverseName: "articles", Cardinality: model.OneToMany, OnDelete: model.Restrict},
		{Name: "article", Owner: "comment", ForeignKey: "article_id", Referenced: "article",
			InverseName: "comments", Cardinality: model.OneToMany, OnDelete: model.SetNull},
		{Name: "user", Owner: "profile", ForeignKey: "user_id", Referenced: "user",
			InverseName: "profile", Cardinality: model.OneToOne, OnDelete: model.Cascade},
		{Name: "owner", Owner: "badge", ForeignKey: "owner_id", Referenced: "user",
			InverseName: "badges", Cardinality: model.OneToMany, OnDelete: model.SetDefault},
		{Name: "owner", Owner: "note", ForeignKey: "owner_id", Referenced: "user",
			InverseName: "notes", Cardinality: model.OneToMany, OnDelete: model.SetNull},
		{Name: "user", Owner: "ticket", ForeignKey: "user_id", Referenced: "user",
			InverseName: "tickets", Cardinality: model.OneToMany, OnDelete: model.Restrict},
		{Name: "parent", Owner: "node", ForeignKey: "parent_id", Referenced: "node",
			InverseName: "children", Cardinality: model.OneToMany, OnDelete: model.Cascade},
	}
	for _, rel := range rels {
		if err := reg.Register(rel); err != nil {
			t.Fatalf("register relationship %s.%s: %v", rel.Owner, rel.Name, err)
		}
	}
	return reg
}

func newEngine(t *testing.T, fetcher changeset.Fetcher) (*changeset.Engine, *model.IdentityMap) {
	t.Helper()
	ids := model.NewIdentityMap(libraryRegistry(t))
	return changeset.New(ids, fetcher, nil), ids
}

func mustNew(t *testing.T, ids *model.IdentityMap, table string) *model.Entity {
	t.Helper()
	e, err := ids.New(table)
	if err != nil {
		t.Fatalf("new %s: %v", table, err)
	}
	return e
}

func mustHydrate(t *testing.T, ids *model.IdentityMap, table, id string, values map[string]any) *model.Entity {
	t.Helper()
	e, err := ids.Hydrate(model.Row{Table: table, ID: id, Values: values})
	if err != nil {
		t.Fatalf("hydrate %s#%s: %v", table, id, err)
	}
	return e
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// persist applies the inserts and updates of cs the way a session would,
// assigning sequential identifiers.
func persist(t *testing.T, ids *model.IdentityMap, cs *changeset.ChangeSet) {
	t.Helper()
	for i, e := range cs.Inserts() {
		for field, ref := range e.PendingForeignKeys() {
			target, err := ids.Resolve(ref.Table, ref.OID)
			must(t, err)
			must(t, e.ResolveForeignKey(field, target.ID()))
		}
		e.MarkPersisted(fmt.Sprintf("%s-%d", e.Table().Name, i+1))
		ids.Refresh(e)
	}
	for _, e := range cs.Updates() {
		for field, ref := range e.PendingForeignKeys() {
			target, err := ids.Resolve(ref.Table, ref.OID)
			must(t, err)
			must(t, e.ResolveForeignKey(field, target.ID()))
		}
		e.Commit()
	}
}

func names(entities []*model.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.String()
	}
	return out
}

func indexOf(entities []*model.Entity, e *model.Entity) int {
	for i, x := range entities {
		if x == e {
			return i
		}
	}
	return -1
}

type fakeFetcher struct {
	rows  map[model.Condition]model.Row
	err   error
	calls []model.Condition
}

func (f *fakeFetcher) FetchOneWhere(_ context.Context, cond model.Condition) (model.Row, bool, error) {
	f.calls = append(f.calls, cond)
	if f.err != nil {
		return model.Row{}, false, f.err
	}
	row, ok := f.rows[cond]
	return row, ok, nil
}
