package session_test

import (
	"testing"

	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/model"
	"github.com/jacentio/arbor/session"
)

func blogRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()

	author := model.NewTable("author",
		model.Field{Name: "name", Type: model.TypeString},
		model.Field{Name: "email", Type: model.TypeString, Nullable: true},
	)
	if err := author.AddUniqueIndex(model.UniqueIndex{Name: "author_email", Fields: []string{"email"}}); err != nil {
		t.Fatalf("add index: %v", err)
	}
	user := model.NewTable("user", model.Field{Name: "login", Type: model.TypeString})
	if err := user.AddUniqueIndex(model.UniqueIndex{Name: "user_login", Fields: []string{"login"}}); err != nil {
		t.Fatalf("add index: %v", err)
	}
	tables := []*model.Table{
		author,
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
		user,
		model.NewTable("profile",
			model.Field{Name: "bio", Type: model.TypeString},
			model.Field{Name: "user_id", Type: model.TypeString},
		),
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
	}
	for _, rel := range rels {
		if err := reg.Register(rel); err != nil {
			t.Fatalf("register relationship %s.%s: %v", rel.Owner, rel.Name, err)
		}
	}
	return reg
}

func newSession(t *testing.T, opts ...session.Option) (*session.Session, *memstore.Store, *model.Registry) {
	t.Helper()
	reg := blogRegistry(t)
	store := memstore.New(reg)
	return session.New(reg, store, opts...), store, reg
}

func mustNew(t *testing.T, s *session.Session, table string, values map[string]any) *model.Entity {
	t.Helper()
	e, err := s.New(table)
	if err != nil {
		t.Fatalf("new %s: %v", table, err)
	}
	for k, v := range values {
		if err := e.Set(k, v); err != nil {
			t.Fatalf("set %s.%s: %v", table, k, err)
		}
	}
	return e
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
