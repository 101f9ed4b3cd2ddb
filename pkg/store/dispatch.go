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
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"

	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
)

// rawArgs is the JSON document of the arguments of any action
type rawArgs struct {
	Where          json.RawMessage `json:"where"`
	OrderBy        json.RawMessage `json:"orderBy"`
	Cursor         json.RawMessage `json:"cursor"`
	Take           *int            `json:"take"`
	Skip           int             `json:"skip"`
	Distinct       json.RawMessage `json:"distinct"`
	Select         json.RawMessage `json:"select"`
	Include        json.RawMessage `json:"include"`
	Data           json.RawMessage `json:"data"`
	SkipDuplicates bool            `json:"skipDuplicates"`
	Limit          *int            `json:"limit"`
	Create         json.RawMessage `json:"create"`
	Update         json.RawMessage `json:"update"`
	By             json.RawMessage `json:"by"`
	Having         json.RawMessage `json:"having"`
	Count          json.RawMessage `json:"_count"`
	Avg            json.RawMessage `json:"_avg"`
	Sum            json.RawMessage `json:"_sum"`
	Min            json.RawMessage `json:"_min"`
	Max            json.RawMessage `json:"_max"`
}

// decodeErr turns a malformed argument document into a ValidationError
func decodeErr(m *schema.Model, action string, err error) error {
	model := ""
	if m != nil {
		model = m.Name
	}
	return &Error{Kind: KindValidation, Model: model, Op: action, Message: err.Error(), Err: err}
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && string(raw) != "null"
}

// fieldList decodes a field name or a list of field names
func fieldList(raw json.RawMessage, path string) ([]string, error) {
	if !present(raw) {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &filter.DecodeError{Path: path, Message: "expected a field name or a list of field names"}
	}
	return list, nil
}

// fieldSet decodes {"field": true, ...} into the sorted names set to true
func fieldSet(raw json.RawMessage, path string) ([]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &filter.DecodeError{Path: path, Message: "expected an object of field flags"}
	}

	ret := []string{}
	for k, v := range obj {
		var on bool
		if err := json.Unmarshal(v, &on); err != nil {
			return nil, &filter.DecodeError{Path: path + "." + k, Message: "expected true or false"}
		}
		if on {
			ret = append(ret, k)
		}
	}
	sort.Strings(ret)
	return ret, nil
}

// decodeSelect decodes a field selection
func decodeSelect(raw json.RawMessage, path string) (FieldSubset, error) {
	if !present(raw) {
		return nil, nil
	}
	fields, err := fieldSet(raw, path)
	if err != nil {
		return nil, err
	}
	return FieldSubset(fields), nil
}

// decodeInclude decodes {"relation": true | {where, orderBy, take, skip,
// select, include}}
func decodeInclude(m *schema.Model, raw json.RawMessage, path string) (WithRelations, error) {
	if !present(raw) {
		return nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &filter.DecodeError{Path: path, Message: "expected an object of relations"}
	}

	ret := WithRelations{}
	for name, v := range obj {
		p := path + "." + name
		rel, ok := m.Relation(name)
		if !ok {
			return nil, &filter.DecodeError{Path: p, Message: "unknown relation"}
		}

		var on bool
		if err := json.Unmarshal(v, &on); err == nil {
			if on {
				ret[name] = nil
			}
			continue
		}

		nested, err := decodeNested(rel.TargetModel(), v, p)
		if err != nil {
			return nil, err
		}
		ret[name] = nested
	}
	return ret, nil
}

func decodeNested(m *schema.Model, raw json.RawMessage, path string) (*Nested, error) {
	var doc struct {
		Where   json.RawMessage `json:"where"`
		OrderBy json.RawMessage `json:"orderBy"`
		Take    *int            `json:"take"`
		Skip    int             `json:"skip"`
		Select  json.RawMessage `json:"select"`
		Include json.RawMessage `json:"include"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &filter.DecodeError{Path: path, Message: err.Error()}
	}

	n := &Nested{Take: doc.Take, Skip: doc.Skip}
	var err error
	if n.Where, err = filter.DecodeWhere(m, doc.Where); err != nil {
		return nil, err
	}
	if n.OrderBy, err = filter.DecodeOrderBy(m, doc.OrderBy); err != nil {
		return nil, err
	}
	if n.Select, err = decodeSelect(doc.Select, path+".select"); err != nil {
		return nil, err
	}
	if n.Include, err = decodeInclude(m, doc.Include, path+".include"); err != nil {
		return nil, err
	}
	return n, nil
}

// numberOps are the keys of an atomic number update document
var numberOps = map[string]bool{OpSet: true, OpIncrement: true, OpDecrement: true, OpMultiply: true, OpDivide: true}

// decodeData decodes a write document. With ops, numeric fields accept
// {"increment": n} and the other number operations.
func decodeData(m *schema.Model, raw json.RawMessage, path string, ops bool) (Data, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &filter.DecodeError{Path: path, Message: "expected an object"}
	}

	data := Data{}
	for k, v := range obj {
		f, ok := m.Field(k)
		switch {
		case ok && f.Kind == schema.KindJSON:
			if !present(v) {
				data[k] = nil
			} else {
				data[k] = json.RawMessage(v)
			}
			continue
		case ok && ops && f.Kind.Numeric() && bytes.HasPrefix(bytes.TrimSpace(v), []byte("{")):
			var op map[string]json.RawMessage
			if err := json.Unmarshal(v, &op); err != nil || len(op) != 1 {
				return nil, &filter.DecodeError{Path: path + "." + k, Message: "expected one number operation"}
			}
			for name, arg := range op {
				if !numberOps[name] {
					return nil, &filter.DecodeError{Path: path + "." + k, Message: "unknown number operation " + name}
				}
				x, err := filter.DecodeValue(arg)
				if err != nil {
					return nil, &filter.DecodeError{Path: path + "." + k + "." + name, Message: "invalid value"}
				}
				data[k] = NumberOp{Op: name, Value: x}
			}
			continue
		}

		x, err := filter.DecodeValue(v)
		if err != nil {
			return nil, &filter.DecodeError{Path: path + "." + k, Message: "invalid value"}
		}
		data[k] = x
	}
	return data, nil
}

// decodeAggregates decodes the _count, _avg, _sum, _min and _max selectors
func decodeAggregates(ra *rawArgs) (count, avg, sum, mins, maxs []string, err error) {
	if present(ra.Count) {
		var all bool
		if json.Unmarshal(ra.Count, &all) == nil {
			if all {
				count = []string{CountAll}
			}
		} else if count, err = fieldSet(ra.Count, filter.AggCount); err != nil {
			return
		}
	}

	for _, sel := range []struct {
		raw  json.RawMessage
		name string
		dst  *[]string
	}{
		{ra.Avg, filter.AggAvg, &avg},
		{ra.Sum, filter.AggSum, &sum},
		{ra.Min, filter.AggMin, &mins},
		{ra.Max, filter.AggMax, &maxs},
	} {
		if !present(sel.raw) {
			continue
		}
		if *sel.dst, err = fieldSet(sel.raw, sel.name); err != nil {
			return
		}
	}
	return
}

func decodeWindow(m *schema.Model, ra *rawArgs) (Window, error) {
	w := Window{Take: ra.Take, Skip: ra.Skip}
	var err error
	if w.Where, err = filter.DecodeWhere(m, ra.Where); err != nil {
		return w, err
	}
	if w.OrderBy, err = filter.DecodeOrderBy(m, ra.OrderBy); err != nil {
		return w, err
	}
	if present(ra.Cursor) {
		if w.Cursor, err = filter.DecodeUnique(ra.Cursor); err != nil {
			return w, err
		}
	}
	return w, nil
}

// DecodeOperation builds an operation from the JSON arguments of an action
func DecodeOperation(reg *schema.Registry, model, action string, raw json.RawMessage) (Operation, error) {
	op := Operation{Model: model, Action: action}
	m, ok := reg.Model(model)
	if !ok {
		return op, &Error{Kind: KindValidation, Model: model, Op: action, Message: "unknown model"}
	}
	op.Model = m.Name
	if _, ok := argsTypes[action]; !ok {
		return op, &Error{Kind: KindValidation, Model: m.Name, Op: action, Message: "unknown action"}
	}

	var ra rawArgs
	if present(raw) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ra); err != nil {
			return op, decodeErr(m, action, err)
		}
	}

	a, err := decodeArgs(m, action, &ra)
	if err != nil {
		return op, decodeErr(m, action, err)
	}
	op.Args = a
	return op, nil
}

func decodeArgs(m *schema.Model, action string, ra *rawArgs) (interface{}, error) {
	sel, err := decodeSelect(ra.Select, "select")
	if err != nil && action != ActionCount {
		return nil, err
	}
	inc, err := decodeInclude(m, ra.Include, "include")
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionFindUnique, ActionFindUniqueOrThrow:
		u, err := filter.DecodeUnique(ra.Where)
		if err != nil {
			return nil, err
		}
		return FindUniqueArgs{Where: u, Select: sel, Include: inc}, nil
	case ActionFindFirst, ActionFindFirstOrThrow, ActionFindMany:
		w, err := decodeWindow(m, ra)
		if err != nil {
			return nil, err
		}
		distinct, err := fieldList(ra.Distinct, "distinct")
		if err != nil {
			return nil, err
		}
		return FindManyArgs{Window: w, Distinct: distinct, Select: sel, Include: inc}, nil
	case ActionCreate:
		data, err := decodeData(m, ra.Data, "data", false)
		if err != nil {
			return nil, err
		}
		return CreateArgs{Data: data, Select: sel, Include: inc}, nil
	case ActionCreateMany, ActionCreateManyAndReturn:
		var items []json.RawMessage
		if err := json.Unmarshal(ra.Data, &items); err != nil {
			return nil, &filter.DecodeError{Path: "data", Message: "expected a list of objects"}
		}
		args := CreateManyArgs{SkipDuplicates: ra.SkipDuplicates, Select: sel}
		for i, item := range items {
			data, err := decodeData(m, item, "data["+strconv.Itoa(i)+"]", false)
			if err != nil {
				return nil, err
			}
			args.Data = append(args.Data, data)
		}
		return args, nil
	case ActionUpdate:
		u, err := filter.DecodeUnique(ra.Where)
		if err != nil {
			return nil, err
		}
		data, err := decodeData(m, ra.Data, "data", true)
		if err != nil {
			return nil, err
		}
		return UpdateArgs{Where: u, Data: data, Select: sel, Include: inc}, nil
	case ActionUpdateMany, ActionUpdateManyAndReturn:
		w, err := filter.DecodeWhere(m, ra.Where)
		if err != nil {
			return nil, err
		}
		data, err := decodeData(m, ra.Data, "data", true)
		if err != nil {
			return nil, err
		}
		return UpdateManyArgs{Where: w, Data: data, Limit: ra.Limit, Select: sel}, nil
	case ActionUpsert:
		u, err := filter.DecodeUnique(ra.Where)
		if err != nil {
			return nil, err
		}
		create, err := decodeData(m, ra.Create, "create", false)
		if err != nil {
			return nil, err
		}
		update, err := decodeData(m, ra.Update, "update", true)
		if err != nil {
			return nil, err
		}
		return UpsertArgs{Where: u, Create: create, Update: update, Select: sel, Include: inc}, nil
	case ActionDelete:
		u, err := filter.DecodeUnique(ra.Where)
		if err != nil {
			return nil, err
		}
		return DeleteArgs{Where: u, Select: sel, Include: inc}, nil
	case ActionDeleteMany:
		w, err := filter.DecodeWhere(m, ra.Where)
		if err != nil {
			return nil, err
		}
		return DeleteManyArgs{Where: w, Limit: ra.Limit}, nil
	case ActionCount:
		w, err := decodeWindow(m, ra)
		if err != nil {
			return nil, err
		}
		args := CountArgs{Window: w}
		if present(ra.Select) {
			var all bool
			if json.Unmarshal(ra.Select, &all) != nil {
				if args.Fields, err = fieldSet(ra.Select, "select"); err != nil {
					return nil, err
				}
			}
		}
		return args, nil
	case ActionAggregate:
		w, err := decodeWindow(m, ra)
		if err != nil {
			return nil, err
		}
		args := AggregateArgs{Window: w}
		if args.Count, args.Avg, args.Sum, args.Min, args.Max, err = decodeAggregates(ra); err != nil {
			return nil, err
		}
		return args, nil
	case ActionGroupBy:
		args := GroupByArgs{Take: ra.Take, Skip: ra.Skip}
		if args.By, err = fieldList(ra.By, "by"); err != nil {
			return nil, err
		}
		if args.Where, err = filter.DecodeWhere(m, ra.Where); err != nil {
			return nil, err
		}
		if args.Having, err = filter.DecodeHaving(m, ra.Having); err != nil {
			return nil, err
		}
		if args.OrderBy, err = filter.DecodeOrderBy(m, ra.OrderBy); err != nil {
			return nil, err
		}
		if args.Count, args.Avg, args.Sum, args.Min, args.Max, err = decodeAggregates(ra); err != nil {
			return nil, err
		}
		return args, nil
	}

	return nil, &filter.DecodeError{Message: "unknown action " + action}
}

// projectionOfArgs returns the projection requested by operation arguments
func projectionOfArgs(a interface{}) Projection {
	var sel FieldSubset
	var inc WithRelations
	switch a := a.(type) {
	case FindUniqueArgs:
		sel, inc = a.Select, a.Include
	case FindManyArgs:
		sel, inc = a.Select, a.Include
	case CreateArgs:
		sel, inc = a.Select, a.Include
	case CreateManyArgs:
		sel = a.Select
	case UpdateArgs:
		sel, inc = a.Select, a.Include
	case UpdateManyArgs:
		sel = a.Select
	case UpsertArgs:
		sel, inc = a.Select, a.Include
	case DeleteArgs:
		sel, inc = a.Select, a.Include
	}
	if sel != nil {
		return sel
	}
	if inc != nil {
		return inc
	}
	return AllFields{}
}

// Project renders a record as a JSON-ready map holding only the projected
// fields and relations. record is a *T or T of the model record type.
func Project(m *schema.Model, record interface{}, proj Projection) map[string]interface{} {
	rv := reflect.ValueOf(record)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
	} else {
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		rv = p
	}

	out := map[string]interface{}{}
	keep := map[string]bool{}
	if sel, ok := proj.(FieldSubset); ok {
		for _, name := range sel {
			keep[name] = true
		}
	}
	for _, f := range m.Fields {
		if len(keep) > 0 && !keep[f.Name] {
			continue
		}
		out[f.Name] = fieldValue(rv, f)
	}

	inc, ok := proj.(WithRelations)
	if !ok {
		return out
	}
	for name, nested := range inc {
		rel, ok := m.Relation(name)
		if !ok {
			continue
		}
		target := rel.TargetModel()
		var sub Projection = AllFields{}
		if nested != nil {
			if nested.Select != nil {
				sub = nested.Select
			} else if nested.Include != nil {
				sub = nested.Include
			}
		}

		v := rel.Value(rv)
		if rel.Kind == schema.ToOne {
			if v.IsNil() {
				out[name] = nil
			} else {
				out[name] = Project(target, v.Interface(), sub)
			}
			continue
		}

		list := make([]map[string]interface{}, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			list = append(list, Project(target, v.Index(i).Addr().Interface(), sub))
		}
		out[name] = list
	}
	return out
}

// presentResult renders an operation result for JSON output
func presentResult(m *schema.Model, result interface{}, proj Projection) interface{} {
	if result == nil {
		return nil
	}
	rv := reflect.ValueOf(result)
	switch {
	case rv.Kind() == reflect.Ptr && rv.Elem().Type() == m.Type:
		return Project(m, result, proj)
	case rv.Kind() == reflect.Slice && rv.Type().Elem() == m.Type:
		list := make([]map[string]interface{}, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			list = append(list, Project(m, rv.Index(i).Addr().Interface(), proj))
		}
		return list
	}
	return result
}

// Dispatch decodes and runs one operation given as JSON. Records in the
// result are rendered as maps holding the projected fields.
func (c *Client) Dispatch(ctx context.Context, model, action string, raw json.RawMessage) (interface{}, error) {
	op, err := DecodeOperation(c.reg, model, action, raw)
	if err != nil {
		return nil, err
	}

	ret, err := c.Execute(ctx, op)
	if err != nil {
		return nil, err
	}

	m, _ := c.reg.Model(op.Model)
	return presentResult(m, ret, projectionOfArgs(op.Args)), nil
}

// Present renders the results of Batch for JSON output
func (c *Client) Present(ops []Operation, results []interface{}) []interface{} {
	ret := make([]interface{}, len(results))
	for i, r := range results {
		m, ok := c.reg.Model(ops[i].Model)
		if !ok {
			ret[i] = r
			continue
		}
		ret[i] = presentResult(m, r, projectionOfArgs(ops[i].Args))
	}
	return ret
}
