/* Copyright 2025 Venuecrm Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package schema describes the entities of the CRM as data: their fields,
// value kinds, uniqueness, defaults and relations. The store validates every
// call against it.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Kind is the value kind of a scalar field
type Kind int

const (
	// KindString is a text field
	KindString Kind = iota + 1
	// KindInt is an integer field
	KindInt
	// KindFloat is a floating point field
	KindFloat
	// KindBool is a boolean field
	KindBool
	// KindDateTime is a timestamp field
	KindDateTime
	// KindEnum is a text field restricted to a set of values
	KindEnum
	// KindJSON is an opaque JSON document
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Boolean"
	case KindDateTime:
		return "DateTime"
	case KindEnum:
		return "Enum"
	case KindJSON:
		return "Json"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Numeric reports whether the kind supports arithmetic aggregates
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// Comparable reports whether the kind supports ordering and min/max
func (k Kind) Comparable() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindDateTime, KindEnum:
		return true
	}
	return false
}

// Field is a scalar column of a model
type Field struct {
	Name   string
	Column string
	Kind   Kind

	Nullable      bool
	Unique        bool
	ID            bool
	AutoIncrement bool
	Enum          []string

	// Default is applied on create when the field is omitted
	Default interface{}
	// DefaultNow applies the current time on create when the field is omitted
	DefaultNow bool
	// CreatedAt and UpdatedAt mark the timestamps the store maintains
	CreatedAt bool
	UpdatedAt bool

	index []int
}

// HasDefault reports whether create can omit the field
func (f *Field) HasDefault() bool {
	return f.Default != nil || f.DefaultNow || f.CreatedAt || f.UpdatedAt || f.AutoIncrement || f.Nullable
}

// ValidEnum reports whether v is a member of the field's enum
func (f *Field) ValidEnum(v string) bool {
	for _, e := range f.Enum {
		if e == v {
			return true
		}
	}
	return false
}

// Value returns the field of the given struct value
func (f *Field) Value(record reflect.Value) reflect.Value {
	return reflect.Indirect(record).FieldByIndex(f.index)
}

// RelationKind tells whether a relation resolves to one record or many
type RelationKind int

const (
	// ToOne relations hold the foreign key on the owning model
	ToOne RelationKind = iota + 1
	// ToMany relations hold the foreign key on the target model
	ToMany
)

// Policy is what happens to related rows when a parent is deleted
type Policy int

const (
	// Restrict refuses to delete a parent that still has children
	Restrict Policy = iota + 1
	// Cascade deletes the children with the parent
	Cascade
	// SetNull clears the children's foreign key
	SetNull
)

func (p Policy) String() string {
	switch p {
	case Restrict:
		return "RESTRICT"
	case Cascade:
		return "CASCADE"
	case SetNull:
		return "SET NULL"
	}
	return "NO ACTION"
}

// Relation links a model to another.
//
// For ToOne, Local is the foreign key field on this model and Foreign the
// primary key of the target. For ToMany, Local is this model's primary key
// and Foreign the foreign key field on the target.
type Relation struct {
	Name    string
	Kind    RelationKind
	Target  string
	Local   string
	Foreign string
	// Required is set on ToOne relations whose foreign key is not nullable
	Required bool
	// OnDelete applies to ToMany relations when the owning row is deleted
	OnDelete Policy

	model  *Model
	target *Model
	index  []int
}

// TargetModel returns the related model
func (r *Relation) TargetModel() *Model {
	return r.target
}

// Owner returns the model declaring the relation
func (r *Relation) Owner() *Model {
	return r.model
}

// Value returns the relation field of the given struct value
func (r *Relation) Value(record reflect.Value) reflect.Value {
	return reflect.Indirect(record).FieldByIndex(r.index)
}

// Constraint returns the name of the foreign key constraint backing the relation
func (r *Relation) Constraint() string {
	switch r.Kind {
	case ToOne:
		f, _ := r.model.Field(r.Local)
		return fmt.Sprintf("fk_%s_%s", r.model.Table, f.Column)
	default:
		f, _ := r.target.Field(r.Foreign)
		return fmt.Sprintf("fk_%s_%s", r.target.Table, f.Column)
	}
}

// Model is an entity of the CRM
type Model struct {
	Name      string
	Table     string
	Type      reflect.Type
	Fields    []*Field
	Relations []*Relation

	pk        *Field
	fields    map[string]*Field
	columns   map[string]*Field
	relations map[string]*Relation
}

// PK returns the primary key field
func (m *Model) PK() *Field {
	return m.pk
}

// Field looks up a scalar field by name
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// FieldByColumn looks up a scalar field by column name
func (m *Model) FieldByColumn(column string) (*Field, bool) {
	f, ok := m.columns[column]
	return f, ok
}

// Relation looks up a relation by name
func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// UniqueFields returns the primary key followed by the unique fields
func (m *Model) UniqueFields() []*Field {
	ret := []*Field{m.pk}
	for _, f := range m.Fields {
		if f.Unique && !f.ID {
			ret = append(ret, f)
		}
	}
	return ret
}

// UpdatedAtField returns the field maintained on every mutation, if any
func (m *Model) UpdatedAtField() *Field {
	for _, f := range m.Fields {
		if f.UpdatedAt {
			return f
		}
	}
	return nil
}

// UniqueConstraint returns the name of the unique index on the field
func (m *Model) UniqueConstraint(f *Field) string {
	if f.ID {
		return m.Table + "_pkey"
	}
	return fmt.Sprintf("uq_%s_%s", m.Table, f.Column)
}

// New allocates a zero record of the model
func (m *Model) New() reflect.Value {
	return reflect.New(m.Type)
}

// NewSlice allocates a pointer to an empty slice of records
func (m *Model) NewSlice() reflect.Value {
	return reflect.New(reflect.SliceOf(m.Type))
}

// Registry holds every model by name
type Registry struct {
	models []*Model
	byName map[string]*Model
}

// Models returns the models in declaration order
func (r *Registry) Models() []*Model {
	return r.models
}

// Model looks up a model by name, case-insensitively
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.byName[strings.ToLower(name)]
	return m, ok
}

// MustModel looks up a model and panics if it is not registered
func (r *Registry) MustModel(name string) *Model {
	m, ok := r.Model(name)
	if !ok {
		panic(fmt.Sprintf("unknown model %s", name))
	}
	return m
}

// ModelOf returns the model whose record type is t
func (r *Registry) ModelOf(t reflect.Type) (*Model, bool) {
	for _, m := range r.models {
		if m.Type == t {
			return m, true
		}
	}
	return nil, false
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	jsonByteType = reflect.TypeOf([]byte(nil))
)

// kindMatches checks the Go type of a struct field against the declared kind
func kindMatches(k Kind, t reflect.Type, nullable bool) bool {
	if nullable {
		if t.Kind() != reflect.Ptr {
			return false
		}
		t = t.Elem()
	}

	switch k {
	case KindString, KindEnum:
		return t.Kind() == reflect.String
	case KindInt:
		return t.Kind() == reflect.Int || t.Kind() == reflect.Int64
	case KindFloat:
		return t.Kind() == reflect.Float64
	case KindBool:
		return t.Kind() == reflect.Bool
	case KindDateTime:
		return t == timeType
	case KindJSON:
		return t.ConvertibleTo(jsonByteType)
	}
	return false
}

// NewRegistry links the given models together. It resolves every field and
// relation against the record types and returns an error on any mismatch.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{byName: map[string]*Model{}}

	for _, m := range models {
		if _, dup := r.byName[strings.ToLower(m.Name)]; dup {
			return nil, fmt.Errorf("duplicate model %s", m.Name)
		}

		columns := map[string][]int{}
		jsonNames := map[string][]int{}
		for i := 0; i < m.Type.NumField(); i++ {
			sf := m.Type.Field(i)
			for _, part := range strings.Split(sf.Tag.Get("gorm"), ";") {
				if c, ok := strings.CutPrefix(part, "column:"); ok {
					columns[c] = sf.Index
				}
			}
			name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if name != "" {
				jsonNames[name] = sf.Index
			}
		}

		m.fields = map[string]*Field{}
		m.columns = map[string]*Field{}
		m.relations = map[string]*Relation{}
		for _, f := range m.Fields {
			idx, ok := columns[f.Column]
			if !ok {
				return nil, fmt.Errorf("%s.%s: no struct field with column %s", m.Name, f.Name, f.Column)
			}
			if !kindMatches(f.Kind, m.Type.FieldByIndex(idx).Type, f.Nullable) {
				return nil, fmt.Errorf("%s.%s: struct field type %s does not hold %s", m.Name, f.Name, m.Type.FieldByIndex(idx).Type, f.Kind)
			}
			f.index = idx
			m.fields[f.Name] = f
			m.columns[f.Column] = f
			if f.ID {
				m.pk = f
			}
		}
		if m.pk == nil {
			return nil, fmt.Errorf("%s: no primary key", m.Name)
		}

		for _, rel := range m.Relations {
			idx, ok := jsonNames[rel.Name]
			if !ok {
				return nil, fmt.Errorf("%s.%s: no struct field for relation", m.Name, rel.Name)
			}
			if _, clash := m.fields[rel.Name]; clash {
				return nil, fmt.Errorf("%s.%s: relation shadows a field", m.Name, rel.Name)
			}
			rel.index = idx
			rel.model = m
			m.relations[rel.Name] = rel
		}

		r.byName[strings.ToLower(m.Name)] = m
		r.models = append(r.models, m)
	}

	for _, m := range r.models {
		for _, rel := range m.Relations {
			target, ok := r.Model(rel.Target)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown target %s", m.Name, rel.Name, rel.Target)
			}
			rel.target = target

			var local, foreign *Field
			local, ok = m.Field(rel.Local)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown local field %s", m.Name, rel.Name, rel.Local)
			}
			foreign, ok = target.Field(rel.Foreign)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown foreign field %s", m.Name, rel.Name, rel.Foreign)
			}

			ft := m.Type.FieldByIndex(rel.index).Type
			switch rel.Kind {
			case ToOne:
				if ft != reflect.PtrTo(target.Type) {
					return nil, fmt.Errorf("%s.%s: want *%s, got %s", m.Name, rel.Name, target.Type.Name(), ft)
				}
				rel.Required = !local.Nullable
			case ToMany:
				if ft != reflect.SliceOf(target.Type) {
					return nil, fmt.Errorf("%s.%s: want []%s, got %s", m.Name, rel.Name, target.Type.Name(), ft)
				}
				if rel.OnDelete == 0 {
					if foreign.Nullable {
						rel.OnDelete = SetNull
					} else {
						rel.OnDelete = Restrict
					}
				}
				if rel.OnDelete == SetNull && !foreign.Nullable {
					return nil, fmt.Errorf("%s.%s: SET NULL on required foreign key %s", m.Name, rel.Name, rel.Foreign)
				}
			default:
				return nil, fmt.Errorf("%s.%s: unknown relation kind", m.Name, rel.Name)
			}
		}
	}

	return r, nil
}
