package changeset_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jacentio/arbor/changeset"
	"github.com/jacentio/arbor/model"
)

func TestComputeSave_NewGraphInsertsReferencedFirst(t *testing.T) {
	tests := []struct {
		name string
		root string
	}{
		{"from referencing entity", "article"},
		{"from referenced entity", "author"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			en, ids := newEngine(t, nil)
			author := mustNew(t, ids, "author")
			art := mustNew(t, ids, "article")
			must(t, author.AddRelated("articles", art))

			root := art
			if tt.root == "author" {
				root = author
			}
			cs, err := en.ComputeSave(root, model.EngineEnforced)
			must(t, err)

			inserts := cs.Inserts()
			if len(inserts) != 2 {
				t.Fatalf("expected 2 inserts, got %v", names(inserts))
			}
			if indexOf(inserts, author) > indexOf(inserts, art) {
				t.Errorf("expected author before article, got %v", names(inserts))
			}
			if len(cs.Updates()) != 0 || len(cs.Deletes()) != 0 {
				t.Errorf("expected only inserts, got %s", cs)
			}
		})
	}
}

func TestComputeSave_UnmodifiedExistingNotScheduled(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustHydrate(t, ids, "author", "a1", map[string]any{"name": "Ann"})
	art := mustHydrate(t, ids, "article", "r1", map[string]any{"title": "T", "author_id": "a1"})
	must(t, author.MarkLoaded("articles", art.OID()))
	must(t, art.MarkLoaded("author", author.OID()))

	cs, err := en.ComputeSave(author, model.EngineEnforced)
	must(t, err)
	if !cs.IsEmpty() {
		t.Errorf("expected empty change-set, got %s", cs)
	}
}

func TestComputeSave_ModifiedReachedTwiceUpdatedOnce(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustHydrate(t, ids, "author", "a1", map[string]any{"name": "Ann"})
	r1 := mustHydrate(t, ids, "article", "r1", map[string]any{"title": "One", "author_id": "a1"})
	r2 := mustHydrate(t, ids, "article", "r2", map[string]any{"title": "Two", "author_id": "a1"})
	must(t, author.MarkLoaded("articles", r1.OID(), r2.OID()))
	must(t, r1.MarkLoaded("author", author.OID()))
	must(t, r2.MarkLoaded("author", author.OID()))

	must(t, author.Set("name", "Bob"))

	cs, err := en.ComputeSave(r1, model.EngineEnforced)
	must(t, err)
	if len(cs.Updates()) != 1 || cs.Updates()[0] != author {
		t.Errorf("expected exactly one update of author, got %v", names(cs.Updates()))
	}
	if len(cs.Inserts()) != 0 {
		t.Errorf("expected no inserts, got %v", names(cs.Inserts()))
	}
}

func TestComputeSave_SecondRunIsEmpty(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustNew(t, ids, "author")
	must(t, author.Set("name", "Ann"))
	r1 := mustNew(t, ids, "article")
	r2 := mustNew(t, ids, "article")
	must(t, author.AddRelated("articles", r1, r2))
	c1 := mustNew(t, ids, "comment")
	must(t, r1.AddRelated("comments", c1))

	cs, err := en.ComputeSave(author, model.EngineEnforced)
	must(t, err)
	if len(cs.Inserts()) != 4 {
		t.Fatalf("expected 4 inserts, got %v", names(cs.Inserts()))
	}
	persist(t, ids, cs)

	if got := r1.Get("author_id"); got != author.ID() {
		t.Errorf("expected author_id %q, got %v", author.ID(), got)
	}
	if got := c1.Get("article_id"); got != r1.ID() {
		t.Errorf("expected article_id %q, got %v", r1.ID(), got)
	}

	again, err := en.ComputeSave(author, model.EngineEnforced)
	must(t, err)
	if !again.IsEmpty() {
		t.Errorf("expected empty change-set after persisting, got %s", again)
	}
}

func TestComputeSave_ExistingRepointedAtNewTarget(t *testing.T) {
	en, ids := newEngine(t, nil)
	art := mustHydrate(t, ids, "article", "r1", map[string]any{"title": "T", "author_id": "a1"})
	fresh := mustNew(t, ids, "author")
	must(t, art.SetRelated("author", fresh))

	cs, err := en.ComputeSave(art, model.EngineEnforced)
	must(t, err)
	if len(cs.Inserts()) != 1 || cs.Inserts()[0] != fresh {
		t.Errorf("expected new author inserted, got %v", names(cs.Inserts()))
	}
	if len(cs.Updates()) != 1 || cs.Updates()[0] != art {
		t.Errorf("expected article updated, got %v", names(cs.Updates()))
	}
}

func TestComputeSave_CycleTerminates(t *testing.T) {
	en, ids := newEngine(t, nil)
	n1 := mustNew(t, ids, "node")
	n2 := mustNew(t, ids, "node")
	must(t, n1.SetRelated("parent", n2))
	must(t, n2.SetRelated("parent", n1))
	must(t, n1.MarkLoaded("children", n2.OID()))
	must(t, n2.MarkLoaded("children", n1.OID()))

	cs, err := en.ComputeSave(n1, model.EngineEnforced)
	must(t, err)
	if len(cs.Inserts()) != 2 {
		t.Fatalf("expected each node inserted once, got %v", names(cs.Inserts()))
	}
	if cs.Inserts()[0] == cs.Inserts()[1] {
		t.Error("expected two distinct inserts")
	}
}

func TestComputeSave_UnloadedRelationsIgnored(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustHydrate(t, ids, "author", "a1", map[string]any{"name": "Ann"})
	// Tracked but unreachable: nothing links it to author.
	mustNew(t, ids, "article")
	must(t, author.Set("name", "Bob"))

	cs, err := en.ComputeSave(author, model.EngineEnforced)
	must(t, err)
	if cs.Len() != 1 || len(cs.Updates()) != 1 {
		t.Errorf("expected only the author update, got %s", cs)
	}
}

func TestComputeSave_RevertedEntityNotScheduled(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustHydrate(t, ids, "author", "a1", map[string]any{"name": "Ann"})
	must(t, author.Set("name", "Bob"))
	must(t, author.Set("name", "Ann"))

	cs, err := en.ComputeSave(author, model.EngineEnforced)
	must(t, err)
	if !cs.IsEmpty() {
		t.Errorf("expected empty change-set, got %s", cs)
	}
}

func TestComputeSave_NoRelations(t *testing.T) {
	en, ids := newEngine(t, nil)
	tag := mustNew(t, ids, "tag")

	cs, err := en.ComputeSave(tag, model.StoreEnforced)
	must(t, err)
	if len(cs.Inserts()) != 1 || cs.Inserts()[0] != tag {
		t.Errorf("expected tag inserted, got %v", names(cs.Inserts()))
	}
	if cs.Mode() != model.StoreEnforced {
		t.Errorf("expected mode store-enforced, got %s", cs.Mode())
	}
}

func TestComputeSave_UnknownRelatedEntity(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustHydrate(t, ids, "author", "a1", map[string]any{"name": "Ann"})
	must(t, author.MarkLoaded("articles", model.OID(1<<62)))

	_, err := en.ComputeSave(author, model.EngineEnforced)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestComputeSave_FreshChangeSetPerCall(t *testing.T) {
	en, ids := newEngine(t, nil)
	tag := mustNew(t, ids, "tag")

	first, err := en.ComputeSave(tag, model.EngineEnforced)
	must(t, err)
	second, err := en.ComputeSave(tag, model.EngineEnforced)
	must(t, err)
	if first == second {
		t.Fatal("expected a new change-set per call")
	}
	if len(second.Inserts()) != 1 {
		t.Errorf("expected 1 insert, got %d", len(second.Inserts()))
	}
}

func TestComputeDelete_CascadeDeletesDependentsFirst(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustHydrate(t, ids, "author", "a1", map[string]any{"name": "Ann"})
	r1 := mustHydrate(t, ids, "article", "r1", map[string]any{"title": "One", "author_id": "a1"})
	r2 := mustHydrate(t, ids, "article", "r2", map[string]any{"title": "Two", "author_id": "a1"})
	must(t, author.MarkLoaded("articles", r1.OID(), r2.OID()))

	cs, err := en.ComputeDelete(context.Background(), author, model.EngineEnforced)
	must(t, err)

	deletes := cs.Deletes()
	if len(deletes) != 3 {
		t.Fatalf("expected 3 deletes, got %v", names(deletes))
	}
	if deletes[2] != author {
		t.Errorf("expected author deleted last, got %v", names(deletes))
	}
	if deletes[0] != r1 || deletes[1] != r2 {
		t.Errorf("expected articles in collection order, got %v", names(deletes))
	}
}

func TestComputeDelete_StoreEnforcedSchedulesOnlyRoot(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustHydrate(t, ids, "author", "a1", map[string]any{"name": "Ann"})
	r1 := mustHydrate(t, ids, "article", "r1", map[string]any{"title": "One", "author_id": "a1"})
	must(t, author.MarkLoaded("articles", r1.OID()))

	cs, err := en.ComputeDelete(context.Background(), author, model.StoreEnforced)
	must(t, err)
	if len(cs.Deletes()) != 1 || cs.Deletes()[0] != author {
		t.Errorf("expected only author, got %v", names(cs.Deletes()))
	}
}

func TestComputeDelete_NewEntityNotScheduled(t *testing.T) {
	en, ids := newEngine(t, nil)
	author := mustNew(t, ids, "author")

	cs, err := en.ComputeDelete(context.Background(), author, model.EngineEnforced)
	must(t, err)
	if !cs.IsEmpty() {
		t.Errorf("expected empty change-set, got %s", cs)
	}
}

func TestComputeDelete_NoRelations(t *testing.T) {
	en, ids := newEngine(t, nil)
	tag := mustHydrate(t, ids, "tag", "t1", map[string]any{"name": "go"})

	cs, err := en.ComputeDelete(context.Background(), tag, model.EngineEnforced)
	must(t, err)
	if len(cs.Deletes()) != 1 || cs.Deletes()[0] != tag {
		t.Errorf("expected tag deleted, got %v", names(cs.Deletes()))
	}
}

func TestComputeDelete_SetNullUpdatesDependent(t *testing.T) {
	en, ids := newEngine(t, nil)
	art := mustHydrate(t, ids, "article", "r1", map[string]any{"title": "T"})
	c1 := mustHydrate(t, ids, "comment", "c1", map[string]any{"body": "hi", "article_id": "r1"})
	must(t, art.MarkLoaded("comments", c1.OID()))

	cs, err := en.ComputeDelete(context.Background(), art, model.EngineEnforced)
	must(t, err)

	if len(cs.Updates()) != 1 || cs.Updates()[0] != c1 {
		t.Fatalf("expected comment update, got %v", names(cs.Updates()))
	}
	if got := c1.Get("article_id"); got != nil {
		t.Errorf("expected article_id nil, got %v", got)
	}
	if len(cs.Deletes()) != 1 || cs.Deletes()[0] != art {
		t.Errorf("expected only article deleted, got %v", names(cs.Deletes()))
	}

	cs.Discard()
	if got := c1.Get("article_id"); got != "r1" {
		t.Errorf("expected discard to restore article_id 'r1', got %v", got)
	}
	if c1.IsModified() {
		t.Error("expected discarded comment to be clean")
	}
}

func TestComputeDelete_RestrictFailureLeavesDependentsUntouched(t *testing.T) {
	en, ids := newEngine(t, &fakeFetcher{})
	user := mustHydrate(t, ids, "user", "u1", map[string]any{"login": "ann"})
	note := mustHydrate(t, ids, "note", "n1", map[string]any{"text": "x", "owner_id": "u1"})
	ticket := mustHydrate(t, ids, "ticket", "t1", map[string]any{"title": "bug", "user_id": "u1"})
	must(t, user.MarkLoaded("notes", note.OID()))
	must(t, user.MarkLoaded("tickets", ticket.OID()))

	_, err := en.ComputeDelete(context.Background(), user, model.EngineEnforced)
	if !errors.Is(err, changeset.ErrHasDependents) {
		t.Fatalf("expected ErrHasDependents, got %v", err)
	}
	if got := note.Get("owner_id"); got != "u1" {
		t.Errorf("expected owner_id to stay 'u1', got %v", got)
	}
	if note.IsModified() {
		t.Errorf("expected note unmodified, got %v", note.Modified())
	}

	cs, err := en.ComputeSave(note, model.EngineEnforced)
	must(t, err)
	if !cs.IsEmpty() {
		t.Errorf("expected nothing to save, got %s", cs)
	}
}

func TestComputeDelete_SetDefaultUpdatesDependent(t *testing.T) {
	fetcher := &fakeFetcher{}
	en, ids := newEngine(t, fetcher)
	user := mustHydrate(t, ids, "user", "u1", map[string]any{"login": "ann"})
	b1 := mustHydrate(t, ids, "badge", "b1", map[string]any{"label": "gold", "owner_id": "u1"})
	must(t, user.MarkLoaded("badges", b1.OID()))

	cs, err := en.ComputeDelete(context.Background(), user, model.EngineEnforced)
	must(t, err)

	if got := b1.Get("owner_id"); got != "system" {
		t.Errorf("expected owner_id reset to 'system', got %v", got)
	}
	if len(cs.Updates()) != 1 || cs.Updates()[0] != b1 {
		t.Errorf("expected badge update, got %v", names(cs.Updates()))
	}
}

func TestComputeDelete_Restrict(t *testing.T) {
	t.Run("live dependent fails", func(t *testing.T) {
		en, ids := newEngine(t, nil)
		cat := mustHydrate(t, ids, "category", "k1", map[string]any{"name": "news"})
		art := mustHydrate(t, ids, "article", "r1", map[string]any{"title": "T", "category_id": "k1"})
		must(t, cat.MarkLoaded("articles", art.OID()))

		_, err := en.ComputeDelete(context.Background(), cat, model.EngineEnforced)
		if !errors.Is(err, changeset.ErrHasDependents) {
			t.Errorf("expected ErrHasDependents, got %v", err)
		}
	})

	t.Run("no dependents succeeds", func(t *testing.T) {
		en, ids := newEngine(t, nil)
		cat := mustHydrate(t, ids, "category", "k1", map[string]any{"name": "news"})
		must(t, cat.MarkLoaded("articles"))

		cs, err := en.ComputeDelete(context.Background(), cat, model.EngineEnforced)
		must(t, err)
		if len(cs.Deletes()) != 1 {
			t.Errorf("expected 1 delete, got %v", names(cs.Deletes()))
		}
	})

	t.Run("unsaved dependent ignored", func(t *testing.T) {
		en, ids := newEngine(t, nil)
		cat := mustHydrate(t, ids, "category", "k1", map[string]any{"name": "news"})
		art := mustNew(t, ids, "article")
		must(t, cat.MarkLoaded("articles", art.OID()))

		_, err := en.ComputeDelete(context.Background(), cat, model.EngineEnforced)
		must(t, err)
	})
}

func TestComputeDelete_OneToOneCascadeFetchesDependent(t *testing.T) {
	cond := model.Condition{Table: "profile", Field: "user_id", Value: "u1"}
	fetcher := &fakeFetcher{rows: map[model.Condition]model.Row{
		cond: {Table: "profile", ID: "p1", Values: map[string]any{"bio": "hi", "user_id": "u1"}},
	}}
	en, ids := newEngine(t, fetcher)
	user := mustHydrate(t, ids, "user", "u1", map[string]any{"login": "ann"})

	cs, err := en.ComputeDelete(context.Background(), user, model.EngineEnforced)
	must(t, err)

	if len(fetcher.calls) != 1 || fetcher.calls[0] != cond {
		t.Errorf("expected one fetch for %v, got %v", cond, fetcher.calls)
	}
	profile, ok := ids.Lookup("profile", "p1")
	if !ok {
		t.Fatal("expected fetched profile to be tracked")
	}
	deletes := cs.Deletes()
	if len(deletes) != 2 || deletes[0] != profile || deletes[1] != user {
		t.Errorf("expected [profile user], got %v", names(deletes))
	}
}

func TestComputeDelete_FetchReusesTrackedInstance(t *testing.T) {
	cond := model.Condition{Table: "profile", Field: "user_id", Value: "u1"}
	fetcher := &fakeFetcher{rows: map[model.Condition]model.Row{
		cond: {Table: "profile", ID: "p1", Values: map[string]any{"bio": "stale", "user_id": "u1"}},
	}}
	en, ids := newEngine(t, fetcher)
	user := mustHydrate(t, ids, "user", "u1", map[string]any{"login": "ann"})
	tracked := mustHydrate(t, ids, "profile", "p1", map[string]any{"bio": "hi", "user_id": "u1"})

	cs, err := en.ComputeDelete(context.Background(), user, model.EngineEnforced)
	must(t, err)
	if cs.Deletes()[0] != tracked {
		t.Errorf("expected tracked profile instance, got %v", names(cs.Deletes()))
	}
	if got := tracked.Get("bio"); got != "hi" {
		t.Errorf("expected in-memory bio kept, got %v", got)
	}
}

func TestComputeDelete_FetcherErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	en, ids := newEngine(t, &fakeFetcher{err: boom})
	user := mustHydrate(t, ids, "user", "u1", map[string]any{"login": "ann"})

	_, err := en.ComputeDelete(context.Background(), user, model.EngineEnforced)
	if err != boom {
		t.Errorf("expected fetcher error unchanged, got %v", err)
	}
}

func TestComputeDelete_NoFetcher(t *testing.T) {
	en, ids := newEngine(t, nil)
	user := mustHydrate(t, ids, "user", "u1", map[string]any{"login": "ann"})

	_, err := en.ComputeDelete(context.Background(), user, model.EngineEnforced)
	if !errors.Is(err, changeset.ErrNoFetcher) {
		t.Errorf("expected ErrNoFetcher, got %v", err)
	}
}

func TestComputeDelete_CycleTerminates(t *testing.T) {
	en, ids := newEngine(t, nil)
	n1 := mustHydrate(t, ids, "node", "n1", map[string]any{"label": "a", "parent_id": "n2"})
	n2 := mustHydrate(t, ids, "node", "n2", map[string]any{"label": "b", "parent_id": "n1"})
	must(t, n1.MarkLoaded("children", n2.OID()))
	must(t, n2.MarkLoaded("children", n1.OID()))

	cs, err := en.ComputeDelete(context.Background(), n1, model.EngineEnforced)
	must(t, err)
	deletes := cs.Deletes()
	if len(deletes) != 2 || deletes[0] != n2 || deletes[1] != n1 {
		t.Errorf("expected [n2 n1], got %v", names(deletes))
	}
}
