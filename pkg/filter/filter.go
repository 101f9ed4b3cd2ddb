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

// Package filter provides the query predicates of the store: typed scalar
// conditions, logical composition, relation conditions, unique lookups,
// ordering and group filters. Values are plain data and carry no behavior;
// the store compiles them against the schema.
package filter

import (
	"time"
)

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// Mode selects case sensitivity of string conditions
type Mode string

const (
	// ModeDefault compares strings as stored
	ModeDefault Mode = ""
	// ModeInsensitive compares strings case-insensitively
	ModeInsensitive Mode = "insensitive"
)

// Condition is a predicate on a single field or relation
type Condition interface {
	isCondition()
}

// String filters a String field
type String struct {
	Equals     *string
	In         []string
	NotIn      []string
	Lt         *string
	Lte        *string
	Gt         *string
	Gte        *string
	Contains   *string
	StartsWith *string
	EndsWith   *string
	Mode       Mode
	// IsNull matches missing values when true and present values when false
	IsNull *bool
	Not    *String
}

// Number filters an Int or Float field
type Number[N int64 | float64] struct {
	Equals *N
	In     []N
	NotIn  []N
	Lt     *N
	Lte    *N
	Gt     *N
	Gte    *N
	IsNull *bool
	Not    *Number[N]
}

// Int filters an Int field
type Int = Number[int64]

// Float filters a Float field
type Float = Number[float64]

// DateTime filters a DateTime field
type DateTime struct {
	Equals *time.Time
	In     []time.Time
	NotIn  []time.Time
	Lt     *time.Time
	Lte    *time.Time
	Gt     *time.Time
	Gte    *time.Time
	IsNull *bool
	Not    *DateTime
}

// Bool filters a Boolean field
type Bool struct {
	Equals *bool
	IsNull *bool
	Not    *Bool
}

// Enum filters an Enum field
type Enum struct {
	Equals *string
	In     []string
	NotIn  []string
	IsNull *bool
	Not    *Enum
}

// JSON filters a Json field. Path addresses a nested key; an empty path
// compares the whole document.
type JSON struct {
	Path []string
	// Equals compares the value at Path with a JSON value
	Equals interface{}
	// StringContains matches string values at Path containing the substring
	StringContains *string
	// HasKey matches documents where Path exists
	HasKey bool
	IsNull *bool
}

// Equals is a shorthand equality on any scalar field. A nil Value matches
// missing values.
type Equals struct {
	Value interface{}
}

// Relation filters a to-one relation
type Relation struct {
	Is    *Where
	IsNot *Where
	// IsNull matches rows without a related record when true
	IsNull *bool
}

// List filters a to-many relation
type List struct {
	Some  *Where
	Every *Where
	None  *Where
}

func (String) isCondition()    {}
func (Number[N]) isCondition() {}
func (DateTime) isCondition()  {}
func (Bool) isCondition()      {}
func (Enum) isCondition()      {}
func (JSON) isCondition()      {}
func (Equals) isCondition()    {}
func (Relation) isCondition()  {}
func (List) isCondition()      {}

// Where is a predicate over one model. Every member must hold: each entry of
// Fields, every AND element, at least one OR element when OR is non-nil and
// no NOT element.
type Where struct {
	Fields map[string]Condition
	AND    []Where
	OR     []Where
	NOT    []Where
}

// Field returns a Where with a single condition
func Field(name string, c Condition) *Where {
	return &Where{Fields: map[string]Condition{name: c}}
}

// And combines predicates so all must hold
func And(ws ...Where) *Where {
	return &Where{AND: ws}
}

// Or combines predicates so at least one must hold
func Or(ws ...Where) *Where {
	return &Where{OR: ws}
}

// Not negates each predicate
func Not(ws ...Where) *Where {
	return &Where{NOT: ws}
}

// Unique pinpoints at most one row. It must name the primary key or a unique
// field; additional fields narrow the match further.
type Unique map[string]interface{}

// Direction is a sort direction
type Direction string

const (
	// Asc sorts in ascending order
	Asc Direction = "asc"
	// Desc sorts in descending order
	Desc Direction = "desc"
)

// Nulls places missing values in a sort
type Nulls string

const (
	// NullsDefault sorts missing values as the smallest
	NullsDefault Nulls = ""
	// NullsFirst sorts missing values before all others
	NullsFirst Nulls = "first"
	// NullsLast sorts missing values after all others
	NullsLast Nulls = "last"
)

// OrderBy is one sort key. Exactly one of Field, Relation or Aggregate is set.
//
// Relation sorts by the number of related records of a to-many relation.
// Aggregate sorts groups by an aggregate ("_count", "_avg", "_sum", "_min",
// "_max") of Field and is only valid in group queries.
type OrderBy struct {
	Field     string
	Relation  string
	Aggregate string
	Direction Direction
	Nulls     Nulls
}

// AscBy returns an ascending sort on field
func AscBy(field string) OrderBy {
	return OrderBy{Field: field, Direction: Asc}
}

// DescBy returns a descending sort on field
func DescBy(field string) OrderBy {
	return OrderBy{Field: field, Direction: Desc}
}

// Aggregate names
const (
	AggCount = "_count"
	AggAvg   = "_avg"
	AggSum   = "_sum"
	AggMin   = "_min"
	AggMax   = "_max"
)

// HavingCondition filters a group on one field. Scalar applies to the group
// value itself and requires the field to be grouped; the aggregate conditions
// apply to the aggregate of the field over the group.
type HavingCondition struct {
	Scalar Condition
	Count  Condition
	Avg    Condition
	Sum    Condition
	Min    Condition
	Max    Condition
}

// Having is a predicate over grouped rows
type Having struct {
	Fields map[string]HavingCondition
	AND    []Having
	OR     []Having
	NOT    []Having
}
