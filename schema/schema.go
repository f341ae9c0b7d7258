// Package schema loads table and relationship declarations from YAML.
//
//	tables:
//	  - name: author
//	    fields:
//	      - {name: name, type: string}
//	      - {name: email, type: string, nullable: true}
//	    unique:
//	      - {name: author_email, fields: [email]}
//	  - name: article
//	    fields:
//	      - {name: title, type: string}
//	      - {name: author_id, type: string, nullable: true}
//	relationships:
//	  - name: author
//	    owner: article
//	    foreign_key: author_id
//	    references: author
//	    inverse: articles
//	    cardinality: one-to-many
//	    on_delete: cascade
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/arbor/model"
)

// Document is the YAML layout.
type Document struct {
	Tables        []TableSpec        `yaml:"tables"`
	Relationships []RelationshipSpec `yaml:"relationships"`
}

// TableSpec declares one table.
type TableSpec struct {
	Name       string      `yaml:"name"`
	PrimaryKey string      `yaml:"primary_key,omitempty"`
	Fields     []FieldSpec `yaml:"fields"`
	Unique     []IndexSpec `yaml:"unique,omitempty"`
}

// FieldSpec declares one field. Type is one of string, int, float, bool,
// time, bytes, json.
type FieldSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable,omitempty"`
	Default  any    `yaml:"default,omitempty"`
}

// IndexSpec declares a unique index.
type IndexSpec struct {
	Name            string   `yaml:"name"`
	Fields          []string `yaml:"fields"`
	NullConstrained bool     `yaml:"null_constrained,omitempty"`
}

// RelationshipSpec declares a foreign key from Owner.ForeignKey to References.
type RelationshipSpec struct {
	Name        string `yaml:"name"`
	Owner       string `yaml:"owner"`
	ForeignKey  string `yaml:"foreign_key"`
	References  string `yaml:"references"`
	Inverse     string `yaml:"inverse,omitempty"`
	Cardinality string `yaml:"cardinality,omitempty"`
	OnDelete    string `yaml:"on_delete,omitempty"`
}

// LoadFile reads a schema file.
func LoadFile(path string) (*model.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Load reads a schema document from r.
func Load(r io.Reader) (*model.Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Parse decodes a schema document. Unknown keys are rejected.
func Parse(data []byte) (*model.Registry, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return doc.Registry()
}

// Registry builds and validates the registry the document describes.
func (d *Document) Registry() (*model.Registry, error) {
	reg := model.NewRegistry()

	for _, ts := range d.Tables {
		t, err := ts.table()
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterTable(t); err != nil {
			return nil, err
		}
	}

	for _, rs := range d.Relationships {
		rel, err := rs.relationship()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(rel); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (ts TableSpec) table() (*model.Table, error) {
	if ts.Name == "" {
		return nil, &model.ConfigurationError{Reason: "table has no name"}
	}
	t := model.NewTable(ts.Name)
	if ts.PrimaryKey != "" {
		t.PrimaryKey = ts.PrimaryKey
	}

	for _, fs := range ts.Fields {
		if fs.Name == "" {
			return nil, &model.ConfigurationError{Table: ts.Name, Reason: "field has no name"}
		}
		if fs.Name == t.PrimaryKey {
			return nil, &model.ConfigurationError{Table: ts.Name, Field: fs.Name, Reason: "field shadows the primary key"}
		}
		if t.HasField(fs.Name) {
			return nil, &model.ConfigurationError{Table: ts.Name, Field: fs.Name, Reason: "duplicate field"}
		}
		typ, err := model.ParseFieldType(fs.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", ts.Name, fs.Name, err)
		}
		def, err := typ.Normalize(fs.Default)
		if err != nil {
			return nil, &model.ConfigurationError{Table: ts.Name, Field: fs.Name, Reason: "default: " + err.Error()}
		}
		t.AddField(model.Field{Name: fs.Name, Type: typ, Nullable: fs.Nullable, Default: def})
	}

	for _, is := range ts.Unique {
		if err := t.AddUniqueIndex(model.UniqueIndex{
			Name:            is.Name,
			Fields:          is.Fields,
			NullConstrained: is.NullConstrained,
		}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (rs RelationshipSpec) relationship() (model.Relationship, error) {
	card, err := model.ParseCardinality(rs.Cardinality)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("relationship %s.%s: %w", rs.Owner, rs.Name, err)
	}
	action, err := model.ParseDeleteAction(rs.OnDelete)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("relationship %s.%s: %w", rs.Owner, rs.Name, err)
	}
	return model.Relationship{
		Name:        rs.Name,
		Owner:       rs.Owner,
		ForeignKey:  rs.ForeignKey,
		Referenced:  rs.References,
		InverseName: rs.Inverse,
		Cardinality: card,
		OnDelete:    action,
	}, nil
}
