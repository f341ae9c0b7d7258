package model

// DefaultPrimaryKey is the identifier column used when a table does not name one.
const DefaultPrimaryKey = "id"

// UniqueIndex declares a set of fields whose combined values must be unique.
type UniqueIndex struct {
	Name   string
	Fields []string

	// NullConstrained indexes compare NULL like any other value, so two rows
	// with NULL in every indexed field collide. Otherwise a NULL in any
	// indexed field exempts the row from the index.
	NullConstrained bool
}

// Table is the schema-level definition of an entity type.
type Table struct {
	Name       string
	PrimaryKey string

	fields    []Field
	fieldIdx  map[string]int
	indexes   []UniqueIndex
	relations []*Relation
	relIdx    map[string]*Relation

	beforeSet []BeforeSetHook
	afterSet  []AfterSetHook
}

// NewTable creates a table with the given fields and the default primary key.
func NewTable(name string, fields ...Field) *Table {
	t := &Table{
		Name:       name,
		PrimaryKey: DefaultPrimaryKey,
		fieldIdx:   make(map[string]int),
		relIdx:     make(map[string]*Relation),
	}
	for _, f := range fields {
		t.AddField(f)
	}
	return t
}

// AddField appends a field. A field with an existing name replaces it.
func (t *Table) AddField(f Field) *Table {
	if i, ok := t.fieldIdx[f.Name]; ok {
		t.fields[i] = f
		return t
	}
	t.fieldIdx[f.Name] = len(t.fields)
	t.fields = append(t.fields, f)
	return t
}

// AddUniqueIndex declares a unique index. Every field must already exist.
func (t *Table) AddUniqueIndex(idx UniqueIndex) error {
	if len(idx.Fields) == 0 {
		return &ConfigurationError{Table: t.Name, Index: idx.Name, Reason: "unique index has no fields"}
	}
	for _, f := range idx.Fields {
		if !t.HasField(f) {
			return &ConfigurationError{Table: t.Name, Index: idx.Name, Field: f, Reason: "unique index references unknown field"}
		}
	}
	for _, existing := range t.indexes {
		if existing.Name == idx.Name {
			return &ConfigurationError{Table: t.Name, Index: idx.Name, Reason: "duplicate unique index name"}
		}
	}
	t.indexes = append(t.indexes, idx)
	return nil
}

// Fields returns the declared fields in declaration order.
func (t *Table) Fields() []Field {
	return t.fields
}

// Field returns the named field.
func (t *Table) Field(name string) (Field, bool) {
	i, ok := t.fieldIdx[name]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// HasField reports whether the table declares name.
func (t *Table) HasField(name string) bool {
	_, ok := t.fieldIdx[name]
	return ok
}

// FieldNames returns the declared field names in declaration order.
func (t *Table) FieldNames() []string {
	names := make([]string, len(t.fields))
	for i, f := range t.fields {
		names[i] = f.Name
	}
	return names
}

// UniqueIndexes returns the declared unique indexes.
func (t *Table) UniqueIndexes() []UniqueIndex {
	return t.indexes
}

// Relations returns every relation view attached to the table, owning and
// referenced sides alike, in registration order.
func (t *Table) Relations() []*Relation {
	return t.relations
}

// Relation returns the relation view with the given accessor name.
func (t *Table) Relation(name string) (*Relation, bool) {
	r, ok := t.relIdx[name]
	return r, ok
}

// OnBeforeSet registers a hook run before a field value is assigned.
func (t *Table) OnBeforeSet(h BeforeSetHook) {
	t.beforeSet = append(t.beforeSet, h)
}

// OnAfterSet registers a hook run after a field value is assigned.
func (t *Table) OnAfterSet(h AfterSetHook) {
	t.afterSet = append(t.afterSet, h)
}

func (t *Table) attach(r *Relation) error {
	if _, ok := t.relIdx[r.Name]; ok {
		return &ConfigurationError{Table: t.Name, Reason: "duplicate relation name " + r.Name}
	}
	if t.HasField(r.Name) {
		return &ConfigurationError{Table: t.Name, Field: r.Name, Reason: "relation name shadows a field"}
	}
	t.relIdx[r.Name] = r
	t.relations = append(t.relations, r)
	return nil
}

func (t *Table) defaults() map[string]any {
	values := make(map[string]any, len(t.fields))
	for _, f := range t.fields {
		values[f.Name] = f.Default
	}
	return values
}
