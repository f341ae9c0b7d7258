package model

import (
	"fmt"
	"strings"
)

// Cardinality is the multiplicity of the referenced side of a relationship.
type Cardinality int

const (
	// OneToOne: at most one owning row points at each referenced row.
	OneToOne Cardinality = iota
	// OneToMany: any number of owning rows point at each referenced row.
	OneToMany
)

func (c Cardinality) String() string {
	if c == OneToMany {
		return "one-to-many"
	}
	return "one-to-one"
}

// Side says which end of a relationship a table sits on.
type Side int

const (
	// Owning tables hold the foreign key column.
	Owning Side = iota
	// Referenced tables are pointed at by the owning side's foreign key.
	Referenced
)

func (s Side) String() string {
	if s == Referenced {
		return "referenced"
	}
	return "owning"
}

// DeleteAction is what happens to owning rows when the row they reference is deleted.
type DeleteAction int

const (
	NoAction DeleteAction = iota
	Restrict
	Cascade
	SetNull
	SetDefault
)

var deleteActionNames = map[DeleteAction]string{
	NoAction:   "no-action",
	Restrict:   "restrict",
	Cascade:    "cascade",
	SetNull:    "set-null",
	SetDefault: "set-default",
}

func (a DeleteAction) String() string {
	if s, ok := deleteActionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("DeleteAction(%d)", int(a))
}

// ParseDeleteAction accepts the names printed by DeleteAction.String, case
// insensitively, with either dashes, underscores or spaces.
func ParseDeleteAction(s string) (DeleteAction, error) {
	norm := normalizeEnum(s)
	if norm == "" {
		return NoAction, nil
	}
	for a, name := range deleteActionNames {
		if name == norm {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown delete action %q", ErrConfiguration, s)
}

// ParseCardinality accepts "one-to-one" and "one-to-many".
func ParseCardinality(s string) (Cardinality, error) {
	switch normalizeEnum(s) {
	case "one-to-one", "":
		return OneToOne, nil
	case "one-to-many":
		return OneToMany, nil
	}
	return 0, fmt.Errorf("%w: unknown cardinality %q", ErrConfiguration, s)
}

// ConstraintMode selects who enforces relationship integrity for one operation.
type ConstraintMode int

const (
	// EngineEnforced: the engine walks relations and applies delete actions,
	// and sessions validate unique indexes before writing.
	EngineEnforced ConstraintMode = iota
	// StoreEnforced: the store's own foreign keys and unique indexes are trusted.
	StoreEnforced
)

func (m ConstraintMode) String() string {
	if m == StoreEnforced {
		return "store-enforced"
	}
	return "engine-enforced"
}

// ParseConstraintMode accepts "engine-enforced" (or "engine") and "store-enforced" (or "store").
func ParseConstraintMode(s string) (ConstraintMode, error) {
	switch normalizeEnum(s) {
	case "engine-enforced", "engine", "":
		return EngineEnforced, nil
	case "store-enforced", "store":
		return StoreEnforced, nil
	}
	return 0, fmt.Errorf("%w: unknown constraint mode %q", ErrConfiguration, s)
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}

// Relationship declares a foreign key from Owner.ForeignKey to Referenced.
// Declaring relationships instead of sides means exactly one side is owning.
type Relationship struct {
	// Name is the accessor on the owning table (e.g. "author").
	Name string

	// Owner is the table holding the foreign key (e.g. "article").
	Owner string

	// ForeignKey is the owning table's field storing the referenced identifier.
	ForeignKey string

	// Referenced is the table the foreign key points at (e.g. "author").
	Referenced string

	// InverseName is the accessor on the referenced table (e.g. "articles").
	// When empty the referenced side is reachable only by the delete engine.
	InverseName string

	Cardinality Cardinality
	OnDelete    DeleteAction
}

// Relation is one side's view of a Relationship.
type Relation struct {
	Name        string
	Table       string
	Target      string
	Side        Side
	Cardinality Cardinality
	ForeignKey  string
	OnDelete    DeleteAction

	inverse *Relation
}

// Inverse returns the view from the other side.
func (r *Relation) Inverse() *Relation {
	return r.inverse
}

// IsCollection reports whether the relation yields many entities per instance.
func (r *Relation) IsCollection() bool {
	return r.Side == Referenced && r.Cardinality == OneToMany
}

// Related reads the relation's current value off e: the ephemeral identities
// of the related entities, and whether the relation has been loaded or assigned.
func (r *Relation) Related(e *Entity) ([]OID, bool) {
	return e.Related(r.Name)
}

func (r *Relation) String() string {
	return fmt.Sprintf("%s.%s (%s, %s -> %s)", r.Table, r.Name, r.Side, r.Cardinality, r.Target)
}

func (rel Relationship) views() (*Relation, *Relation) {
	inverseName := rel.InverseName
	if inverseName == "" {
		inverseName = rel.Owner + "." + rel.ForeignKey
	}
	owning := &Relation{
		Name:        rel.Name,
		Table:       rel.Owner,
		Target:      rel.Referenced,
		Side:        Owning,
		Cardinality: rel.Cardinality,
		ForeignKey:  rel.ForeignKey,
		OnDelete:    rel.OnDelete,
	}
	referenced := &Relation{
		Name:        inverseName,
		Table:       rel.Referenced,
		Target:      rel.Owner,
		Side:        Referenced,
		Cardinality: rel.Cardinality,
		ForeignKey:  rel.ForeignKey,
		OnDelete:    rel.OnDelete,
	}
	owning.inverse = referenced
	referenced.inverse = owning
	return owning, referenced
}
