package model_test

import (
	"testing"

	"github.com/jacentio/arbor/model"
)

// blogRegistry builds author <- article (one-to-many, cascade) and
// user <- profile (one-to-one, cascade).
func blogRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()

	author := model.NewTable("author",
		model.Field{Name: "name", Type: model.TypeString},
		model.Field{Name: "email", Type: model.TypeString, Nullable: true},
	)
	article := model.NewTable("article",
		model.Field{Name: "title", Type: model.TypeString},
		model.Field{Name: "views", Type: model.TypeInt, Default: int64(0)},
		model.Field{Name: "author_id", Type: model.TypeString, Nullable: true},
	)
	user := model.NewTable("user", model.Field{Name: "login", Type: model.TypeString})
	profile := model.NewTable("profile",
		model.Field{Name: "bio", Type: model.TypeString},
		model.Field{Name: "user_id", Type: model.TypeString},
	)

	for _, tbl := range []*model.Table{author, article, user, profile} {
		if err := reg.RegisterTable(tbl); err != nil {
			t.Fatalf("register table %s: %v", tbl.Name, err)
		}
	}
	rels := []model.Relationship{
		{
			Name: "author", Owner: "article", ForeignKey: "author_id",
			Referenced: "author", InverseName: "articles",
			Cardinality: model.OneToMany, OnDelete: model.Cascade,
		},
		{
			Name: "user", Owner: "profile", ForeignKey: "user_id",
			Referenced: "user", InverseName: "profile",
			Cardinality: model.OneToOne, OnDelete: model.Cascade,
		},
	}
	for _, rel := range rels {
		if err := reg.Register(rel); err != nil {
			t.Fatalf("register relationship %s: %v", rel.Name, err)
		}
	}
	return reg
}

func mustNew(t *testing.T, ids *model.IdentityMap, table string) *model.Entity {
	t.Helper()
	e, err := ids.New(table)
	if err != nil {
		t.Fatalf("new %s: %v", table, err)
	}
	return e
}

func mustSet(t *testing.T, e *model.Entity, field string, value any) {
	t.Helper()
	if err := e.Set(field, value); err != nil {
		t.Fatalf("set %s: %v", field, err)
	}
}
