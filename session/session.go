package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/arbor/changeset"
	"github.com/jacentio/arbor/model"
	"github.com/jacentio/arbor/unique"
)

// Store is the persistence backend of a session.
type Store interface {
	unique.Querier
	changeset.Fetcher

	// Load returns the row of table with the given identifier.
	Load(ctx context.Context, table, id string) (model.Row, bool, error)

	// Insert writes a new row and returns its identifier.
	Insert(ctx context.Context, e *model.Entity) (string, error)

	// Update writes the current values of an existing entity.
	Update(ctx context.Context, e *model.Entity) error

	// Delete removes an existing entity.
	Delete(ctx context.Context, e *model.Entity) error
}

// Transactor is implemented by stores that can run several writes atomically.
// The context passed to fn carries the transaction; store calls made with it
// take part in the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Session is a single-writer unit of work.
type Session struct {
	ids       *model.IdentityMap
	store     Store
	engine    *changeset.Engine
	validator *unique.Validator
	config    Config
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics enables metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithConfig replaces DefaultConfig.
func WithConfig(c Config) Option {
	return func(s *Session) {
		s.config = c
	}
}

// New creates a session over the registry's tables.
func New(reg *model.Registry, store Store, opts ...Option) *Session {
	s := &Session{
		ids:    model.NewIdentityMap(reg),
		store:  store,
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.config.validate()
	s.engine = changeset.New(s.ids, store, s.logger)
	s.validator = unique.New(store)
	return s
}

// IdentityMap returns the session's identity map.
func (s *Session) IdentityMap() *model.IdentityMap {
	return s.ids
}

// New creates and tracks an unsaved entity of table.
func (s *Session) New(table string) (*model.Entity, error) {
	return s.ids.New(table)
}

// Find returns the entity of table with the given identifier, loading it
// from the store unless it is already tracked.
func (s *Session) Find(ctx context.Context, table, id string) (*model.Entity, error) {
	if e, ok := s.ids.Lookup(table, id); ok {
		return e, nil
	}
	row, ok, err := s.store.Load(ctx, table, id)
	if err != nil {
		return nil, fmt.Errorf("load %s#%s: %w", table, id, err)
	}
	if !ok {
		return nil, &model.NotFoundError{Table: table, Key: id}
	}
	if row.Table == "" {
		row.Table = table
	}
	if row.ID == "" {
		row.ID = id
	}
	return s.ids.Hydrate(row)
}

// LoadRelated loads a to-one relation of an existing entity and links both
// sides. It is a no-op when the relation is already loaded.
func (s *Session) LoadRelated(ctx context.Context, e *model.Entity, name string) error {
	rel, ok := e.Table().Relation(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", model.ErrUnknownRelation, e.Table().Name, name)
	}
	if rel.IsCollection() {
		return fmt.Errorf("%w: %s.%s is a collection", model.ErrCardinality, e.Table().Name, name)
	}
	if _, loaded := e.Related(name); loaded {
		return nil
	}

	var target *model.Entity
	switch rel.Side {
	case model.Owning:
		fk, _ := e.Get(rel.ForeignKey).(string)
		if fk != "" {
			t, err := s.Find(ctx, rel.Target, fk)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
			target = t
		}
	default:
		if !e.Exists() {
			break
		}
		row, ok, err := s.store.FetchOneWhere(ctx, model.Condition{Table: rel.Target, Field: rel.ForeignKey, Value: e.ID()})
		if err != nil {
			return fmt.Errorf("load %s: %w", rel, err)
		}
		if ok {
			if row.Table == "" {
				row.Table = rel.Target
			}
			if target, err = s.ids.Hydrate(row); err != nil {
				return err
			}
		}
	}

	if target == nil {
		return e.MarkLoaded(name)
	}
	if err := e.MarkLoaded(name, target.OID()); err != nil {
		return err
	}
	inv := rel.Inverse()
	if inv.IsCollection() {
		oids, loaded := target.Related(inv.Name)
		if !loaded {
			return nil
		}
		for _, oid := range oids {
			if oid == e.OID() {
				return nil
			}
		}
		return target.MarkLoaded(inv.Name, append(oids, e.OID())...)
	}
	return target.MarkLoaded(inv.Name, e.OID())
}

// Save writes the graph reachable from root.
func (s *Session) Save(ctx context.Context, root *model.Entity, mode model.ConstraintMode) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("save", start, err) }()

	cs, err := s.engine.ComputeSave(root, mode)
	if err != nil {
		return err
	}
	if cs.IsEmpty() {
		return nil
	}
	s.metrics.schedule("insert", len(cs.Inserts()))
	s.metrics.schedule("update", len(cs.Updates()))

	j := newJournal()
	for _, e := range cs.Inserts() {
		j.record(e, e.Checkpoint())
	}
	for _, e := range cs.Updates() {
		j.record(e, e.Checkpoint())
	}

	err = s.run(ctx, func(ctx context.Context) error {
		for _, e := range cs.Inserts() {
			if err := s.insert(ctx, e, cs.Mode()); err != nil {
				return err
			}
			j.done(e)
		}
		for _, e := range cs.Updates() {
			if err := s.update(ctx, e, cs.Mode()); err != nil {
				return err
			}
			j.done(e)
		}
		return nil
	})
	if err != nil {
		restored := j.rollback(s.ids, s.transactional())
		s.logger.Error("save failed", "root", root.String(), "restored", restored, "error", err)
		return err
	}

	s.logger.Info("saved entity graph",
		"root", root.String(),
		"inserts", len(cs.Inserts()),
		"updates", len(cs.Updates()),
	)
	return nil
}

// SaveDefault is Save with the configured default mode.
func (s *Session) SaveDefault(ctx context.Context, root *model.Entity) error {
	return s.Save(ctx, root, s.config.DefaultMode)
}

// Delete removes root, handling its dependents as the change-set dictates.
// Deleted entities leave the identity map.
func (s *Session) Delete(ctx context.Context, root *model.Entity, mode model.ConstraintMode) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("delete", start, err) }()

	cs, err := s.engine.ComputeDelete(ctx, root, mode)
	if err != nil {
		return err
	}
	if cs.IsEmpty() {
		return nil
	}
	s.metrics.schedule("update", len(cs.Updates()))
	s.metrics.schedule("delete", len(cs.Deletes()))

	j := newJournal()
	for _, e := range cs.Updates() {
		state, ok := cs.Checkpoint(e)
		if !ok {
			state = e.Checkpoint()
		}
		j.record(e, state)
	}

	err = s.run(ctx, func(ctx context.Context) error {
		for _, e := range cs.Updates() {
			if err := s.update(ctx, e, model.StoreEnforced); err != nil {
				return err
			}
			j.done(e)
		}
		for _, e := range cs.Deletes() {
			if err := s.store.Delete(ctx, e); err != nil {
				return fmt.Errorf("delete %s: %w", e, err)
			}
			j.done(e)
		}
		return nil
	})
	if err != nil {
		rolledBack := s.transactional()
		restored := j.rollback(s.ids, rolledBack)
		if !rolledBack {
			for _, e := range cs.Deletes() {
				if j.wasApplied(e) {
					s.forget(e)
				}
			}
		}
		s.logger.Error("delete failed", "root", root.String(), "restored", restored, "error", err)
		return err
	}

	for _, e := range cs.Deletes() {
		s.forget(e)
	}

	s.logger.Info("deleted entity graph",
		"root", root.String(),
		"updates", len(cs.Updates()),
		"deletes", len(cs.Deletes()),
	)
	return nil
}

// DeleteDefault is Delete with the configured default mode.
func (s *Session) DeleteDefault(ctx context.Context, root *model.Entity) error {
	return s.Delete(ctx, root, s.config.DefaultMode)
}

// Detach stops tracking e. Later saves of graphs still linking to e fail
// with model.ErrNotFound until the link is removed.
func (s *Session) Detach(e *model.Entity) {
	s.ids.Untrack(e)
}

// Evict detaches the tracked entity of table with the given identifier and
// reports whether there was one. Relations pointing at it are unlinked.
func (s *Session) Evict(table, id string) bool {
	e, ok := s.ids.Lookup(table, id)
	if !ok {
		return false
	}
	s.unlink(e)
	s.ids.Untrack(e)
	s.logger.Debug("evicted entity", "entity", e.String())
	return true
}

// forget drops a deleted entity from memory.
func (s *Session) forget(e *model.Entity) {
	e.MarkDeleted()
	s.ids.Refresh(e)
	s.unlink(e)
	s.ids.Untrack(e)
}

// transactional reports whether a failed apply is rolled back by the store.
func (s *Session) transactional() bool {
	_, ok := s.store.(Transactor)
	return ok
}

func (s *Session) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := s.store.(Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(ctx)
}

func (s *Session) insert(ctx context.Context, e *model.Entity, mode model.ConstraintMode) error {
	if err := s.resolveForeignKeys(e); err != nil {
		return err
	}
	if err := s.checkUnique(ctx, e, mode); err != nil {
		return err
	}
	id, err := s.store.Insert(ctx, e)
	if err != nil {
		return s.storeError("insert", e, err)
	}
	e.MarkPersisted(id)
	s.ids.Refresh(e)
	return nil
}

func (s *Session) update(ctx context.Context, e *model.Entity, mode model.ConstraintMode) error {
	if err := s.resolveForeignKeys(e); err != nil {
		return err
	}
	if err := s.checkUnique(ctx, e, mode); err != nil {
		return err
	}
	if err := s.store.Update(ctx, e); err != nil {
		return s.storeError("update", e, err)
	}
	e.Commit()
	return nil
}

func (s *Session) resolveForeignKeys(e *model.Entity) error {
	for field, ref := range e.PendingForeignKeys() {
		target, err := s.ids.Resolve(ref.Table, ref.OID)
		if err != nil {
			return err
		}
		if !target.Exists() {
			return fmt.Errorf("%w: %s.%s -> %s", ErrUnsavedReference, e.Table().Name, field, target)
		}
		if err := e.ResolveForeignKey(field, target.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) checkUnique(ctx context.Context, e *model.Entity, mode model.ConstraintMode) error {
	if mode != model.EngineEnforced || !s.config.ValidateUnique {
		return nil
	}
	ok, err := s.validator.Validate(ctx, e)
	if err != nil {
		return fmt.Errorf("validate %s: %w", e, err)
	}
	if ok {
		return nil
	}
	violation := &unique.ViolationError{Table: e.Table().Name}
	if names, err := s.validator.Violations(ctx, e); err == nil && len(names) > 0 {
		violation.Index = names[0]
	}
	s.metrics.violation(violation.Table)
	s.logger.Warn("unique index violated", "entity", e.String(), "index", violation.Index)
	return violation
}

func (s *Session) storeError(op string, e *model.Entity, err error) error {
	if errors.Is(err, ErrDuplicateValue) {
		s.metrics.violation(e.Table().Name)
	}
	return fmt.Errorf("%s %s: %w", op, e, err)
}

// unlink removes e from the loaded relations of the entities it is linked to.
func (s *Session) unlink(e *model.Entity) {
	for _, rel := range e.Table().Relations() {
		oids, loaded := rel.Related(e)
		if !loaded {
			continue
		}
		inv := rel.Inverse()
		for _, oid := range oids {
			other, err := s.ids.Resolve(rel.Target, oid)
			if err != nil {
				continue
			}
			if inv.IsCollection() {
				_ = other.RemoveRelated(inv.Name, e)
				continue
			}
			if linked, ok := other.Related(inv.Name); ok && len(linked) == 1 && linked[0] == e.OID() {
				_ = other.MarkLoaded(inv.Name)
			}
		}
	}
}
