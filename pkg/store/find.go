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
	"fmt"
	"reflect"

	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
)

// includeChunk bounds the parent keys bound in one relation query
const includeChunk = 500

// scan runs a query into a new slice of records of m
func (s *session) scan(m *schema.Model, b *builder) (reflect.Value, error) {
	out := m.NewSlice()
	if err := s.raw(b).Scan(out.Interface()).Error; err != nil {
		return reflect.Value{}, classify(err, m, "")
	}

	list := out.Elem()
	for i := 0; i < list.Len(); i++ {
		normalize(m, list.Index(i).Addr())
	}
	return out, nil
}

// fetchUnique returns a pointer to the record matched by u, or an invalid
// value
func (s *session) fetchUnique(m *schema.Model, u filter.Unique) (reflect.Value, error) {
	b := s.builder()
	where := b.sub()
	if err := where.uniqueWhere(m, rowAlias, u); err != nil {
		return reflect.Value{}, err
	}

	b.write("SELECT ", b.columns(m, rowAlias), " FROM ", b.table(m.Table), " ", rowAlias, " WHERE ")
	b.append(where)

	out, err := s.scan(m, b)
	if err != nil {
		return reflect.Value{}, err
	}
	if out.Elem().Len() == 0 {
		return reflect.Value{}, nil
	}
	return out.Elem().Index(0).Addr(), nil
}

// fetchByPK returns a pointer to the record with the given primary key
func (s *session) fetchByPK(m *schema.Model, id interface{}) (reflect.Value, error) {
	return s.fetchUnique(m, filter.Unique{m.PK().Name: id})
}

func (s *session) findUnique(m *schema.Model, args FindUniqueArgs) (reflect.Value, error) {
	proj, err := projectionOf(m.Name, args.Select, args.Include)
	if err != nil {
		return reflect.Value{}, err
	}

	record, err := s.fetchUnique(m, args.Where)
	if err != nil || !record.IsValid() {
		return record, err
	}

	if err := s.shapeOne(m, record, proj); err != nil {
		return reflect.Value{}, err
	}
	return record, nil
}

func (s *session) findFirst(m *schema.Model, args FindManyArgs) (reflect.Value, error) {
	// a negative take reads the window backwards, so its one row is the last
	if args.Take != nil && *args.Take < 0 {
		args.Take = filter.Ptr(-1)
	} else {
		args.Take = filter.Ptr(1)
	}

	out, err := s.findMany(m, args)
	if err != nil {
		return reflect.Value{}, err
	}
	if out.Elem().Len() == 0 {
		return reflect.Value{}, nil
	}
	return out.Elem().Index(0).Addr(), nil
}

func (s *session) findMany(m *schema.Model, args FindManyArgs) (reflect.Value, error) {
	proj, err := projectionOf(m.Name, args.Select, args.Include)
	if err != nil {
		return reflect.Value{}, err
	}

	var distinct []*schema.Field
	for _, name := range args.Distinct {
		f, ok := m.Field(name)
		if !ok {
			return reflect.Value{}, validationf(m.Name, name, "unknown distinct field")
		}
		distinct = append(distinct, f)
	}

	w, err := s.window(m, args.Window, func(b *builder) string {
		return b.columns(m, rowAlias)
	}, len(distinct) == 0)
	if err != nil {
		return reflect.Value{}, err
	}
	if w.empty {
		return m.NewSlice(), nil
	}

	out, err := s.scan(m, w.b)
	if err != nil {
		return reflect.Value{}, err
	}
	if w.reversed {
		reverse(out.Elem())
	}
	if len(distinct) > 0 {
		out = paginate(dedupe(out, distinct), args.Take, args.Skip)
	}

	if err := s.shape(m, out.Elem(), proj); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func reverse(list reflect.Value) {
	swap := reflect.Swapper(list.Interface())
	for i, j := 0, list.Len()-1; i < j; i, j = i+1, j-1 {
		swap(i, j)
	}
}

// distinctKey renders the values of fields of a record as a comparable key
func distinctKey(record reflect.Value, fields []*schema.Field) string {
	key := ""
	for _, f := range fields {
		v := fieldValue(record, f)
		key += fmt.Sprintf("%T:%v\x00", v, v)
	}
	return key
}

// dedupe keeps the first record of each distinct key, in order
func dedupe(out reflect.Value, fields []*schema.Field) reflect.Value {
	list := out.Elem()
	ret := reflect.New(list.Type())
	kept := reflect.MakeSlice(list.Type(), 0, list.Len())

	seen := map[string]bool{}
	for i := 0; i < list.Len(); i++ {
		key := distinctKey(list.Index(i).Addr(), fields)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = reflect.Append(kept, list.Index(i))
	}

	ret.Elem().Set(kept)
	return ret
}

// paginate applies skip and a signed take to an ordered list. A negative take
// counts from the end.
func paginate(out reflect.Value, take *int, skip int) reflect.Value {
	list := out.Elem()
	n := list.Len()

	lo, hi := 0, n
	switch {
	case take != nil && *take < 0:
		hi = n - skip
		lo = hi + *take
	default:
		lo = skip
		if take != nil {
			hi = lo + *take
		}
	}
	lo = max(0, min(lo, n))
	hi = max(lo, min(hi, n))

	ret := reflect.New(list.Type())
	ret.Elem().Set(list.Slice(lo, hi))
	return ret
}

// shapeOne applies a projection to a single record
func (s *session) shapeOne(m *schema.Model, record reflect.Value, proj Projection) error {
	list := reflect.MakeSlice(reflect.SliceOf(m.Type), 1, 1)
	list.Index(0).Set(record.Elem())
	if err := s.shape(m, list, proj); err != nil {
		return err
	}
	record.Elem().Set(list.Index(0))
	return nil
}

// shape loads included relations or narrows fields of every record in list
func (s *session) shape(m *schema.Model, list reflect.Value, proj Projection) error {
	switch p := proj.(type) {
	case nil, AllFields:
		return nil
	case FieldSubset:
		keep, err := subset(m, p)
		if err != nil {
			return err
		}
		for i := 0; i < list.Len(); i++ {
			narrow(m, list.Index(i).Addr(), keep)
		}
		return nil
	case WithRelations:
		for _, name := range sortedKeys(p) {
			rel, ok := m.Relation(name)
			if !ok {
				return validationf(m.Name, name, "unknown relation")
			}
			if err := s.include(m, rel, list, p[name]); err != nil {
				return err
			}
		}
		return nil
	}

	return validationf(m.Name, "", "unknown projection %T", proj)
}

// subset validates a field selection
func subset(m *schema.Model, sel FieldSubset) (map[string]bool, error) {
	if len(sel) == 0 {
		return nil, validationf(m.Name, "", "select must name at least one field")
	}

	keep := map[string]bool{}
	for _, name := range sel {
		if _, ok := m.Field(name); !ok {
			if _, isRel := m.Relation(name); isRel {
				return nil, validationf(m.Name, name, "relations are loaded with include")
			}
			return nil, validationf(m.Name, name, "unknown field")
		}
		keep[name] = true
	}
	return keep, nil
}

// narrow zeroes the fields of a record that are not kept
func narrow(m *schema.Model, record reflect.Value, keep map[string]bool) {
	for _, f := range m.Fields {
		if !keep[f.Name] {
			setField(record, f, nil)
		}
	}
}

// include loads one relation of every record in list
func (s *session) include(m *schema.Model, rel *schema.Relation, list reflect.Value, nested *Nested) error {
	target := rel.TargetModel()
	proj, err := nested.shape(target.Name)
	if err != nil {
		return err
	}

	var where *filter.Where
	var orderBy []filter.OrderBy
	var take *int
	var skip int
	if nested != nil {
		where, orderBy, take, skip = nested.Where, nested.OrderBy, nested.Take, nested.Skip
		if rel.Kind == schema.ToOne && (where != nil || orderBy != nil || take != nil || skip != 0) {
			return validationf(m.Name, rel.Name, "to-one includes take no where, orderBy, take or skip")
		}
	}
	if skip < 0 {
		return validationf(m.Name, rel.Name, "skip must not be negative")
	}

	local, _ := m.Field(rel.Local)
	foreign, _ := target.Field(rel.Foreign)

	var keys []interface{}
	seen := map[interface{}]bool{}
	for i := 0; i < list.Len(); i++ {
		v := fieldValue(list.Index(i).Addr(), local)
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		keys = append(keys, v)
	}

	children := reflect.MakeSlice(reflect.SliceOf(target.Type), 0, 0)
	for _, chunk := range chunks(keys, includeChunk) {
		b := s.builder()
		ks, err := b.orderKeys(target, rowAlias, orderBy)
		if err != nil {
			return err
		}
		pred := b.sub()
		if err := pred.where(target, rowAlias, where); err != nil {
			return err
		}

		b.write("SELECT ", b.columns(target, rowAlias), " FROM ", b.table(target.Table), " ", rowAlias)
		b.write(" WHERE ", b.col(rowAlias, foreign.Column), " IN ")
		b.bindList(chunk)
		b.write(" AND (")
		b.append(pred)
		b.write(") ORDER BY ", orderClause(ks))

		out, err := s.scan(target, b)
		if err != nil {
			return err
		}
		children = reflect.AppendSlice(children, out.Elem())
	}

	if err := s.shape(target, children, proj); err != nil {
		return err
	}

	groups := map[interface{}][]int{}
	for i := 0; i < children.Len(); i++ {
		v := fieldValue(children.Index(i).Addr(), foreign)
		groups[v] = append(groups[v], i)
	}

	for i := 0; i < list.Len(); i++ {
		parent := list.Index(i).Addr()
		idx := groups[fieldValue(parent, local)]
		fv := rel.Value(parent)

		if rel.Kind == schema.ToOne {
			if len(idx) == 0 {
				fv.Set(reflect.Zero(fv.Type()))
				continue
			}
			child := reflect.New(target.Type)
			child.Elem().Set(children.Index(idx[0]))
			fv.Set(child)
			continue
		}

		related := reflect.MakeSlice(fv.Type(), 0, len(idx))
		for _, j := range idx {
			related = reflect.Append(related, children.Index(j))
		}
		ptr := reflect.New(fv.Type())
		ptr.Elem().Set(related)
		fv.Set(paginate(ptr, take, skip).Elem())
	}

	return nil
}
