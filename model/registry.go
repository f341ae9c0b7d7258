package model

import "fmt"

// Registry holds every table and relationship known to a unit of work.
type Registry struct {
	tables        map[string]*Table
	order         []string
	relationships []Relationship
	dependents    map[string][]*Relation
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:        make(map[string]*Table),
		relationships: []Relationship{},
		dependents:    make(map[string][]*Relation),
	}
}

// RegisterTable adds a table. Tables must be registered before the
// relationships that mention them.
func (r *Registry) RegisterTable(t *Table) error {
	if t == nil || t.Name == "" {
		return &ConfigurationError{Reason: "table has no name"}
	}
	if _, ok := r.tables[t.Name]; ok {
		return &ConfigurationError{Table: t.Name, Reason: "table registered twice"}
	}
	if t.PrimaryKey == "" {
		t.PrimaryKey = DefaultPrimaryKey
	}
	r.tables[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Register adds a relationship and attaches its two views to the owning and
// referenced tables.
func (r *Registry) Register(rel Relationship) error {
	owner, ok := r.tables[rel.Owner]
	if !ok {
		return fmt.Errorf("%w: %s (owner of %s)", ErrUnknownTable, rel.Owner, rel.Name)
	}
	referenced, ok := r.tables[rel.Referenced]
	if !ok {
		return fmt.Errorf("%w: %s (referenced by %s.%s)", ErrUnknownTable, rel.Referenced, rel.Owner, rel.Name)
	}
	if rel.Name == "" {
		return &ConfigurationError{Table: rel.Owner, Field: rel.ForeignKey, Reason: "relationship has no name"}
	}
	if !owner.HasField(rel.ForeignKey) {
		return &ConfigurationError{Table: rel.Owner, Field: rel.ForeignKey, Reason: "foreign key is not a declared field"}
	}
	if rel.OnDelete == SetNull {
		if f, _ := owner.Field(rel.ForeignKey); !f.Nullable {
			return &ConfigurationError{Table: rel.Owner, Field: rel.ForeignKey, Reason: "set-null on a non-nullable foreign key"}
		}
	}

	owning, ref := rel.views()
	if err := owner.attach(owning); err != nil {
		return err
	}
	if err := referenced.attach(ref); err != nil {
		delete(owner.relIdx, owning.Name)
		owner.relations = owner.relations[:len(owner.relations)-1]
		return err
	}

	r.relationships = append(r.relationships, rel)
	r.dependents[rel.Referenced] = append(r.dependents[rel.Referenced], ref)
	return nil
}

// Table returns the registered table.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns the registered tables in registration order.
func (r *Registry) Tables() []*Table {
	tables := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		tables = append(tables, r.tables[name])
	}
	return tables
}

// DependentsOf returns the referenced-side views of every relationship whose
// foreign key points at table.
func (r *Registry) DependentsOf(table string) []*Relation {
	return r.dependents[table]
}

// HasDependents returns true if any relationship points at table.
func (r *Registry) HasDependents(table string) bool {
	return len(r.dependents[table]) > 0
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}
