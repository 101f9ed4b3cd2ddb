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

package store

import (
	"github.com/venuecrm/venuecrm/pkg/filter"
)

// Projection shapes the records returned by a call. It is one of AllFields,
// FieldSubset or WithRelations.
type Projection interface {
	projection()
}

// AllFields returns every scalar field and no relation
type AllFields struct{}

// FieldSubset returns only the named scalar fields. The others are left at
// their zero value in typed results and omitted by Project.
type FieldSubset []string

// WithRelations returns every scalar field plus the named relations
type WithRelations map[string]*Nested

func (AllFields) projection()     {}
func (FieldSubset) projection()   {}
func (WithRelations) projection() {}

// Nested configures one included relation. Where, OrderBy, Take and Skip only
// apply to to-many relations. A nil *Nested includes the relation with all
// fields.
type Nested struct {
	Where   *filter.Where
	OrderBy []filter.OrderBy
	Take    *int
	Skip    int
	Select  FieldSubset
	Include WithRelations
}

// Window selects a range of matching rows
type Window struct {
	Where   *filter.Where
	OrderBy []filter.OrderBy
	// Cursor pinpoints the row the window starts from, inclusive
	Cursor filter.Unique
	// Take is the number of rows. Negative values take rows before the cursor.
	Take *int
	Skip int
}

// FindUniqueArgs are the arguments of FindUnique and FindUniqueOrThrow
type FindUniqueArgs struct {
	Where   filter.Unique
	Select  FieldSubset
	Include WithRelations
}

// FindManyArgs are the arguments of FindFirst and FindMany
type FindManyArgs struct {
	Window
	// Distinct keeps the first row of each combination of these fields
	Distinct []string
	Select   FieldSubset
	Include  WithRelations
}

// Data is the set of field values of a write, keyed by field name. Values of
// update data may be a NumberOp.
type Data map[string]interface{}

// NumberOp is an atomic update of a numeric field
type NumberOp struct {
	Op    string
	Value interface{}
}

// Number operations
const (
	OpSet       = "set"
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpMultiply  = "multiply"
	OpDivide    = "divide"
)

// Set replaces the field value
func Set(v interface{}) NumberOp { return NumberOp{Op: OpSet, Value: v} }

// Increment adds v to the field
func Increment(v interface{}) NumberOp { return NumberOp{Op: OpIncrement, Value: v} }

// Decrement subtracts v from the field
func Decrement(v interface{}) NumberOp { return NumberOp{Op: OpDecrement, Value: v} }

// Multiply multiplies the field by v
func Multiply(v interface{}) NumberOp { return NumberOp{Op: OpMultiply, Value: v} }

// Divide divides the field by v
func Divide(v interface{}) NumberOp { return NumberOp{Op: OpDivide, Value: v} }

// CreateArgs are the arguments of Create
type CreateArgs struct {
	Data    Data
	Select  FieldSubset
	Include WithRelations
}

// CreateManyArgs are the arguments of CreateMany and CreateManyAndReturn
type CreateManyArgs struct {
	Data []Data
	// SkipDuplicates omits rows that violate a unique constraint
	SkipDuplicates bool
	Select         FieldSubset
}

// UpdateArgs are the arguments of Update
type UpdateArgs struct {
	Where   filter.Unique
	Data    Data
	Select  FieldSubset
	Include WithRelations
}

// UpdateManyArgs are the arguments of UpdateMany and UpdateManyAndReturn
type UpdateManyArgs struct {
	Where *filter.Where
	Data  Data
	// Limit updates at most this many rows, lowest primary key first
	Limit  *int
	Select FieldSubset
}

// UpsertArgs are the arguments of Upsert
type UpsertArgs struct {
	Where   filter.Unique
	Create  Data
	Update  Data
	Select  FieldSubset
	Include WithRelations
}

// DeleteArgs are the arguments of Delete
type DeleteArgs struct {
	Where   filter.Unique
	Select  FieldSubset
	Include WithRelations
}

// DeleteManyArgs are the arguments of DeleteMany
type DeleteManyArgs struct {
	Where *filter.Where
	// Limit deletes at most this many rows, lowest primary key first
	Limit *int
}

// BatchPayload is the result of a bulk write
type BatchPayload struct {
	Count int64 `json:"count"`
}

// CountAll names the row count in CountFields and aggregates
const CountAll = "_all"

// AggregateArgs are the arguments of Aggregate. Each list names the fields to
// aggregate; Count also accepts CountAll.
type AggregateArgs struct {
	Window
	Count []string
	Avg   []string
	Sum   []string
	Min   []string
	Max   []string
}

// GroupByArgs are the arguments of GroupBy
type GroupByArgs struct {
	By      []string
	Where   *filter.Where
	Having  *filter.Having
	OrderBy []filter.OrderBy
	Take    *int
	Skip    int
	Count   []string
	Avg     []string
	Sum     []string
	Min     []string
	Max     []string
}

// projectionOf validates that select and include are exclusive
func projectionOf(model string, sel FieldSubset, inc WithRelations) (Projection, error) {
	switch {
	case sel != nil && inc != nil:
		return nil, validationf(model, "", "select and include cannot be used together")
	case sel != nil:
		return sel, nil
	case inc != nil:
		return inc, nil
	}
	return AllFields{}, nil
}

func (n *Nested) shape(model string) (Projection, error) {
	if n == nil {
		return AllFields{}, nil
	}
	return projectionOf(model, n.Select, n.Include)
}
