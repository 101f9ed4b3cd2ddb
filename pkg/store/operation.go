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
	"context"
	"reflect"

	"github.com/venuecrm/venuecrm/pkg/schema"
)

// Actions of an Operation
const (
	ActionFindUnique          = "findUnique"
	ActionFindUniqueOrThrow   = "findUniqueOrThrow"
	ActionFindFirst           = "findFirst"
	ActionFindFirstOrThrow    = "findFirstOrThrow"
	ActionFindMany            = "findMany"
	ActionCreate              = "create"
	ActionCreateMany          = "createMany"
	ActionCreateManyAndReturn = "createManyAndReturn"
	ActionUpdate              = "update"
	ActionUpdateMany          = "updateMany"
	ActionUpdateManyAndReturn = "updateManyAndReturn"
	ActionUpsert              = "upsert"
	ActionDelete              = "delete"
	ActionDeleteMany          = "deleteMany"
	ActionCount               = "count"
	ActionAggregate           = "aggregate"
	ActionGroupBy             = "groupBy"
)

// CountArgs are the arguments of a count operation. Without Fields it counts
// rows, otherwise it counts the non-null values of each field.
type CountArgs struct {
	Window
	Fields []string
}

// Operation is one delegate call described as data, as used by Batch and
// the HTTP gateway. Args holds the argument struct of the action, such as
// FindManyArgs for findMany and CountArgs for count.
type Operation struct {
	Model  string
	Action string
	Args   interface{}
}

// argsTypes maps every action to the type of its arguments
var argsTypes = map[string]reflect.Type{
	ActionFindUnique:          reflect.TypeOf(FindUniqueArgs{}),
	ActionFindUniqueOrThrow:   reflect.TypeOf(FindUniqueArgs{}),
	ActionFindFirst:           reflect.TypeOf(FindManyArgs{}),
	ActionFindFirstOrThrow:    reflect.TypeOf(FindManyArgs{}),
	ActionFindMany:            reflect.TypeOf(FindManyArgs{}),
	ActionCreate:              reflect.TypeOf(CreateArgs{}),
	ActionCreateMany:          reflect.TypeOf(CreateManyArgs{}),
	ActionCreateManyAndReturn: reflect.TypeOf(CreateManyArgs{}),
	ActionUpdate:              reflect.TypeOf(UpdateArgs{}),
	ActionUpdateMany:          reflect.TypeOf(UpdateManyArgs{}),
	ActionUpdateManyAndReturn: reflect.TypeOf(UpdateManyArgs{}),
	ActionUpsert:              reflect.TypeOf(UpsertArgs{}),
	ActionDelete:              reflect.TypeOf(DeleteArgs{}),
	ActionDeleteMany:          reflect.TypeOf(DeleteManyArgs{}),
	ActionCount:               reflect.TypeOf(CountArgs{}),
	ActionAggregate:           reflect.TypeOf(AggregateArgs{}),
	ActionGroupBy:             reflect.TypeOf(GroupByArgs{}),
}

// validate checks the model, the action and the argument type
func (op Operation) validate(reg *schema.Registry) error {
	m, ok := reg.Model(op.Model)
	if !ok {
		return &Error{Kind: KindValidation, Model: op.Model, Op: op.Action, Message: "unknown model"}
	}
	want, ok := argsTypes[op.Action]
	if !ok {
		return &Error{Kind: KindValidation, Model: m.Name, Op: op.Action, Message: "unknown action"}
	}
	if op.Args != nil && reflect.TypeOf(op.Args) != want {
		return &Error{Kind: KindValidation, Model: m.Name, Op: op.Action, Message: "arguments must be " + want.Name() + ", got " + reflect.TypeOf(op.Args).String()}
	}
	return nil
}

// args returns the arguments of the operation, zero when omitted
func args[A any](op Operation) A {
	if op.Args == nil {
		var zero A
		return zero
	}
	return op.Args.(A)
}

func record(rv reflect.Value) interface{} {
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func records(rv reflect.Value) interface{} {
	return rv.Elem().Interface()
}

// execute runs one operation. Records are returned as *T or []T of the model
// record type.
func execute(ctx context.Context, r runner, reg *schema.Registry, op Operation) (interface{}, error) {
	if err := op.validate(reg); err != nil {
		return nil, err
	}
	m, _ := reg.Model(op.Model)

	return call(ctx, r, m, op.Action, func(s *session) (interface{}, error) {
		switch op.Action {
		case ActionFindUnique, ActionFindUniqueOrThrow:
			rv, err := s.findUnique(m, args[FindUniqueArgs](op))
			if err != nil {
				return nil, err
			}
			if !rv.IsValid() && op.Action == ActionFindUniqueOrThrow {
				return nil, notFound(m.Name, "")
			}
			return record(rv), nil
		case ActionFindFirst, ActionFindFirstOrThrow:
			rv, err := s.findFirst(m, args[FindManyArgs](op))
			if err != nil {
				return nil, err
			}
			if !rv.IsValid() && op.Action == ActionFindFirstOrThrow {
				return nil, &Error{Kind: KindNotFound, Model: m.Name, Message: "no record matches the filter"}
			}
			return record(rv), nil
		case ActionFindMany:
			rv, err := s.findMany(m, args[FindManyArgs](op))
			if err != nil {
				return nil, err
			}
			return records(rv), nil
		case ActionCreate:
			rv, err := s.create(m, args[CreateArgs](op))
			if err != nil {
				return nil, err
			}
			return record(rv), nil
		case ActionCreateMany, ActionCreateManyAndReturn:
			andReturn := op.Action == ActionCreateManyAndReturn
			n, rv, err := s.createMany(m, args[CreateManyArgs](op), andReturn)
			if err != nil {
				return nil, err
			}
			if andReturn {
				return records(rv), nil
			}
			return BatchPayload{Count: n}, nil
		case ActionUpdate:
			rv, err := s.update(m, args[UpdateArgs](op))
			if err != nil {
				return nil, err
			}
			return record(rv), nil
		case ActionUpdateMany, ActionUpdateManyAndReturn:
			andReturn := op.Action == ActionUpdateManyAndReturn
			n, rv, err := s.updateMany(m, args[UpdateManyArgs](op), andReturn)
			if err != nil {
				return nil, err
			}
			if andReturn {
				return records(rv), nil
			}
			return BatchPayload{Count: n}, nil
		case ActionUpsert:
			rv, err := s.upsert(m, args[UpsertArgs](op))
			if err != nil {
				return nil, err
			}
			return record(rv), nil
		case ActionDelete:
			rv, err := s.delete(m, args[DeleteArgs](op))
			if err != nil {
				return nil, err
			}
			return record(rv), nil
		case ActionDeleteMany:
			n, err := s.deleteMany(m, args[DeleteManyArgs](op))
			if err != nil {
				return nil, err
			}
			return BatchPayload{Count: n}, nil
		case ActionCount:
			a := args[CountArgs](op)
			if a.Fields != nil {
				return s.countFields(m, a.Window, a.Fields)
			}
			return s.count(m, a.Window)
		case ActionAggregate:
			return s.aggregate(m, args[AggregateArgs](op))
		case ActionGroupBy:
			return s.groupBy(m, args[GroupByArgs](op))
		}
		return nil, &Error{Kind: KindValidation, Message: "unknown action"}
	})
}

// Execute runs one operation outside a transaction
func (c *Client) Execute(ctx context.Context, op Operation) (interface{}, error) {
	return execute(ctx, c, c.reg, op)
}

// Execute runs one operation in the transaction
func (t *Tx) Execute(ctx context.Context, op Operation) (interface{}, error) {
	return execute(ctx, t, t.c.reg, op)
}
