package schema_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jacentio/arbor/model"
	"github.com/jacentio/arbor/schema"
)

func TestLoadFile(t *testing.T) {
	reg, err := schema.LoadFile("testdata/blog.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := len(reg.Tables()); got != 4 {
		t.Fatalf("expected 4 tables, got %d", got)
	}

	article, _ := reg.Table("article")
	views, ok := article.Field("views")
	if !ok || views.Type != model.TypeInt || views.Default != int64(0) {
		t.Errorf("unexpected views field %+v", views)
	}

	user, _ := reg.Table("user")
	if user.PrimaryKey != "user_id" {
		t.Errorf("expected primary key user_id, got %s", user.PrimaryKey)
	}
	idx := user.UniqueIndexes()
	if len(idx) != 1 || !idx[0].NullConstrained || len(idx[0].Fields) != 2 {
		t.Errorf("unexpected unique indexes %+v", idx)
	}

	author, _ := reg.Table("author")
	articles, ok := author.Relation("articles")
	if !ok {
		t.Fatal("expected author.articles relation")
	}
	if articles.Side != model.Referenced || !articles.IsCollection() || articles.OnDelete != model.Cascade {
		t.Errorf("unexpected relation %s", articles)
	}

	profile, ok := user.Relation("profile")
	if !ok || profile.Cardinality != model.OneToOne || profile.OnDelete != model.Restrict {
		t.Errorf("unexpected user.profile relation %v", profile)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown field type",
			doc: `
tables:
  - name: t
    fields:
      - {name: a, type: decimal}
`,
			want: model.ErrConfiguration,
		},
		{
			name: "duplicate table",
			doc: `
tables:
  - name: t
  - name: t
`,
			want: model.ErrConfiguration,
		},
		{
			name: "duplicate field",
			doc: `
tables:
  - name: t
    fields:
      - {name: a, type: string}
      - {name: a, type: int}
`,
			want: model.ErrConfiguration,
		},
		{
			name: "index on unknown field",
			doc: `
tables:
  - name: t
    fields:
      - {name: a, type: string}
    unique:
      - {name: t_b, fields: [b]}
`,
			want: model.ErrConfiguration,
		},
		{
			name: "relationship to unknown table",
			doc: `
tables:
  - name: t
    fields:
      - {name: other_id, type: string}
relationships:
  - {name: other, owner: t, foreign_key: other_id, references: nope}
`,
			want: model.ErrUnknownTable,
		},
		{
			name: "bad delete action",
			doc: `
tables:
  - name: a
  - name: b
    fields:
      - {name: a_id, type: string}
relationships:
  - {name: a, owner: b, foreign_key: a_id, references: a, on_delete: explode}
`,
			want: model.ErrConfiguration,
		},
		{
			name: "bad default",
			doc: `
tables:
  - name: t
    fields:
      - {name: n, type: int, default: lots}
`,
			want: model.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Parse([]byte(tt.doc))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := schema.Load(strings.NewReader("tables:\n  - name: t\n    colums: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParse_Empty(t *testing.T) {
	reg, err := schema.Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(reg.Tables()) != 0 {
		t.Errorf("expected no tables, got %d", len(reg.Tables()))
	}
}
