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
	"encoding/json"
	"strconv"
	"strings"

	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
)

// derivedAlias names the window when aggregated as a derived table
const derivedAlias = "w"

// AggregateResult holds the requested aggregates keyed by field name. Count
// also holds CountAll when requested.
type AggregateResult struct {
	Count map[string]int64       `json:"_count,omitempty"`
	Avg   map[string]interface{} `json:"_avg,omitempty"`
	Sum   map[string]interface{} `json:"_sum,omitempty"`
	Min   map[string]interface{} `json:"_min,omitempty"`
	Max   map[string]interface{} `json:"_max,omitempty"`
}

// GroupRow is one group of a GroupBy: the values of the grouped fields and
// the aggregates of the group
type GroupRow struct {
	Keys map[string]interface{}
	AggregateResult
}

// MarshalJSON flattens the grouped fields next to the aggregates
func (r GroupRow) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range r.Keys {
		out[k] = v
	}
	if r.Count != nil {
		out[filter.AggCount] = r.Count
	}
	if r.Avg != nil {
		out[filter.AggAvg] = r.Avg
	}
	if r.Sum != nil {
		out[filter.AggSum] = r.Sum
	}
	if r.Min != nil {
		out[filter.AggMin] = r.Min
	}
	if r.Max != nil {
		out[filter.AggMax] = r.Max
	}
	return json.Marshal(out)
}

// aggSpec is one requested aggregate. field is nil for a row count.
type aggSpec struct {
	agg   string
	field *schema.Field
}

func (a aggSpec) name() string {
	if a.field == nil {
		return CountAll
	}
	return a.field.Name
}

// kind is the value kind of the aggregate
func (a aggSpec) kind() schema.Kind {
	switch a.agg {
	case filter.AggCount:
		return schema.KindInt
	case filter.AggAvg:
		return schema.KindFloat
	}
	return a.field.Kind
}

func (b *builder) aggExpr(alias string, a aggSpec) string {
	var fn string
	switch a.agg {
	case filter.AggCount:
		if a.field == nil {
			return "COUNT(*)"
		}
		fn = "COUNT"
	case filter.AggAvg:
		fn = "AVG"
	case filter.AggSum:
		fn = "SUM"
	case filter.AggMin:
		fn = "MIN"
	case filter.AggMax:
		fn = "MAX"
	}
	return fn + "(" + b.col(alias, a.field.Column) + ")"
}

// aggField validates that the aggregate applies to the field
func aggField(m *schema.Model, agg, name string) (*schema.Field, error) {
	if agg == filter.AggCount && name == CountAll {
		return nil, nil
	}

	f, ok := m.Field(name)
	if !ok {
		if _, isRel := m.Relation(name); isRel {
			return nil, validationf(m.Name, name, "relations cannot be aggregated")
		}
		return nil, validationf(m.Name, name, "unknown field")
	}

	switch agg {
	case filter.AggCount:
	case filter.AggAvg, filter.AggSum:
		if !f.Kind.Numeric() {
			return nil, validationf(m.Name, f.Name, "%s needs a numeric field, got %s", agg, f.Kind)
		}
	case filter.AggMin, filter.AggMax:
		if !f.Kind.Comparable() {
			return nil, validationf(m.Name, f.Name, "%s needs a numeric, string or datetime field, got %s", agg, f.Kind)
		}
	default:
		return nil, validationf(m.Name, f.Name, "unknown aggregate %q", agg)
	}
	return f, nil
}

// aggSpecs validates the requested aggregates
func aggSpecs(m *schema.Model, count, avg, sum, mins, maxs []string) ([]aggSpec, error) {
	var ret []aggSpec
	for _, group := range []struct {
		agg    string
		fields []string
	}{
		{filter.AggCount, count},
		{filter.AggAvg, avg},
		{filter.AggSum, sum},
		{filter.AggMin, mins},
		{filter.AggMax, maxs},
	} {
		for _, name := range group.fields {
			f, err := aggField(m, group.agg, name)
			if err != nil {
				return nil, err
			}
			ret = append(ret, aggSpec{agg: group.agg, field: f})
		}
	}
	return ret, nil
}

// collect stores scanned aggregate values into a result
func collect(specs []aggSpec, vals []interface{}) AggregateResult {
	var r AggregateResult
	put := func(m *map[string]interface{}, k string, v interface{}) {
		if *m == nil {
			*m = map[string]interface{}{}
		}
		(*m)[k] = v
	}

	for i, a := range specs {
		v := fromDB(a.kind(), vals[i])
		switch a.agg {
		case filter.AggCount:
			if r.Count == nil {
				r.Count = map[string]int64{}
			}
			n, _ := v.(int64)
			r.Count[a.name()] = n
		case filter.AggAvg:
			put(&r.Avg, a.name(), v)
		case filter.AggSum:
			put(&r.Sum, a.name(), v)
		case filter.AggMin:
			put(&r.Min, a.name(), v)
		case filter.AggMax:
			put(&r.Max, a.name(), v)
		}
	}
	return r
}

// aggregateWindow runs aggregates over the rows of a window
func (s *session) aggregateWindow(m *schema.Model, w Window, specs []aggSpec) (AggregateResult, error) {
	win, err := s.window(m, w, func(b *builder) string {
		return b.columns(m, rowAlias)
	}, true)
	if err != nil {
		return AggregateResult{}, err
	}
	if win.empty {
		return collect(specs, make([]interface{}, len(specs))), nil
	}

	b := s.builder()
	b.write("SELECT ")
	for i, a := range specs {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.aggExpr(derivedAlias, a), " AS ", b.quote("a"+strconv.Itoa(i)))
	}
	b.write(" FROM (")
	b.append(win.b)
	b.write(") ", derivedAlias)

	vals, err := s.row(b, len(specs))
	if err != nil {
		return AggregateResult{}, classify(err, m, "")
	}
	if vals == nil {
		vals = make([]interface{}, len(specs))
	}
	return collect(specs, vals), nil
}

func (s *session) count(m *schema.Model, w Window) (int64, error) {
	r, err := s.aggregateWindow(m, w, []aggSpec{{agg: filter.AggCount}})
	if err != nil {
		return 0, err
	}
	return r.Count[CountAll], nil
}

func (s *session) countFields(m *schema.Model, w Window, fields []string) (map[string]int64, error) {
	if len(fields) == 0 {
		return nil, validationf(m.Name, "", "count select must name at least one field")
	}
	specs, err := aggSpecs(m, fields, nil, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	r, err := s.aggregateWindow(m, w, specs)
	if err != nil {
		return nil, err
	}
	return r.Count, nil
}

func (s *session) aggregate(m *schema.Model, args AggregateArgs) (*AggregateResult, error) {
	specs, err := aggSpecs(m, args.Count, args.Avg, args.Sum, args.Min, args.Max)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, validationf(m.Name, "", "aggregate needs at least one of _count, _avg, _sum, _min or _max")
	}

	r, err := s.aggregateWindow(m, args.Window, specs)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// havingField is the field an aggregate condition is checked against
func havingField(f *schema.Field, agg string) *schema.Field {
	ret := *f
	ret.Unique, ret.ID = false, false
	switch agg {
	case filter.AggCount:
		ret.Kind, ret.Nullable, ret.Enum = schema.KindInt, false, nil
	case filter.AggAvg:
		ret.Kind, ret.Nullable = schema.KindFloat, true
	default:
		ret.Nullable = true
	}
	return &ret
}

// having writes a predicate over groups. Scalar conditions must be on grouped
// fields.
func (b *builder) having(m *schema.Model, h *filter.Having, by map[string]bool) error {
	if h == nil {
		b.write("1=1")
		return nil
	}

	var terms []*builder
	for _, name := range sortedKeys(h.Fields) {
		f, ok := m.Field(name)
		if !ok {
			return validationf(m.Name, name, "unknown field in having")
		}
		hc := h.Fields[name]

		if hc.Scalar != nil {
			if !by[name] {
				return validationf(m.Name, name, "having filters on %s, which is not in by", name)
			}
			t := b.sub()
			if err := t.fieldCondition(m.Name, f, b.col(rowAlias, f.Column), f.Nullable, hc.Scalar); err != nil {
				return err
			}
			terms = append(terms, t)
		}

		for _, ac := range []struct {
			agg  string
			cond filter.Condition
		}{
			{filter.AggCount, hc.Count},
			{filter.AggAvg, hc.Avg},
			{filter.AggSum, hc.Sum},
			{filter.AggMin, hc.Min},
			{filter.AggMax, hc.Max},
		} {
			if ac.cond == nil {
				continue
			}
			if _, err := aggField(m, ac.agg, name); err != nil {
				return err
			}
			af := havingField(f, ac.agg)
			expr := b.aggExpr(rowAlias, aggSpec{agg: ac.agg, field: f})

			t := b.sub()
			if err := t.fieldCondition(m.Name, af, expr, af.Nullable, ac.cond); err != nil {
				return err
			}
			terms = append(terms, t)
		}
	}

	for i := range h.AND {
		t := b.sub()
		if err := t.having(m, &h.AND[i], by); err != nil {
			return err
		}
		terms = append(terms, t)
	}

	if h.OR != nil {
		ors := make([]*builder, 0, len(h.OR))
		for i := range h.OR {
			t := b.sub()
			if err := t.having(m, &h.OR[i], by); err != nil {
				return err
			}
			ors = append(ors, t)
		}
		t := b.sub()
		t.join(" OR ", "1=0", ors)
		terms = append(terms, t)
	}

	for i := range h.NOT {
		inner := b.sub()
		if err := inner.having(m, &h.NOT[i], by); err != nil {
			return err
		}
		t := b.sub()
		t.write("NOT (")
		t.append(inner)
		t.write(")")
		terms = append(terms, t)
	}

	b.join(" AND ", "1=1", terms)
	return nil
}

// groupOrderKeys resolves the sort of a group query. The grouped fields
// follow as tie-breakers.
func (b *builder) groupOrderKeys(m *schema.Model, orderBy []filter.OrderBy, by []*schema.Field) ([]orderKey, error) {
	var keys []orderKey
	used := map[string]bool{}

	for _, o := range orderBy {
		if o.Relation != "" {
			return nil, validationf(m.Name, o.Relation, "groups cannot be ordered by a relation count")
		}

		f, ok := m.Field(o.Field)
		if !ok {
			return nil, validationf(m.Name, o.Field, "unknown field")
		}
		desc, err := direction(m.Name, f.Name, o.Direction)
		if err != nil {
			return nil, err
		}

		if o.Aggregate == "" {
			grouped := false
			for _, g := range by {
				grouped = grouped || g == f
			}
			if !grouped {
				return nil, validationf(m.Name, f.Name, "orderBy on %s, which is not in by", f.Name)
			}
			if o.Nulls != filter.NullsDefault && !f.Nullable {
				return nil, validationf(m.Name, f.Name, "nulls placement on a required field")
			}
			nf, err := nullsFirst(m.Name, f.Name, o.Nulls, desc)
			if err != nil {
				return nil, err
			}
			keys = append(keys, orderKey{expr: b.col(rowAlias, f.Column), field: f, desc: desc, nullsFirst: nf, nullable: f.Nullable})
			used[f.Name] = true
			continue
		}

		if _, err := aggField(m, o.Aggregate, f.Name); err != nil {
			return nil, err
		}
		af := havingField(f, o.Aggregate)
		if o.Nulls != filter.NullsDefault && !af.Nullable {
			return nil, validationf(m.Name, f.Name, "nulls placement on a count")
		}
		nf, err := nullsFirst(m.Name, f.Name, o.Nulls, desc)
		if err != nil {
			return nil, err
		}
		keys = append(keys, orderKey{
			expr:       b.aggExpr(rowAlias, aggSpec{agg: o.Aggregate, field: f}),
			desc:       desc,
			nullsFirst: nf,
			nullable:   af.Nullable,
		})
	}

	for _, f := range by {
		if used[f.Name] {
			continue
		}
		keys = append(keys, orderKey{expr: b.col(rowAlias, f.Column), field: f, nullsFirst: true, nullable: f.Nullable})
	}
	return keys, nil
}

func (s *session) groupBy(m *schema.Model, args GroupByArgs) ([]GroupRow, error) {
	if len(args.By) == 0 {
		return nil, validationf(m.Name, "", "by must name at least one field")
	}

	var by []*schema.Field
	inBy := map[string]bool{}
	for _, name := range args.By {
		f, ok := m.Field(name)
		if !ok {
			return nil, validationf(m.Name, name, "unknown field in by")
		}
		if f.Kind == schema.KindJSON {
			return nil, validationf(m.Name, name, "json fields cannot be grouped")
		}
		if !inBy[name] {
			by = append(by, f)
			inBy[name] = true
		}
	}

	if (args.Take != nil || args.Skip != 0) && len(args.OrderBy) == 0 {
		return nil, validationf(m.Name, "", "take and skip need orderBy in groupBy")
	}
	if args.Take != nil && *args.Take < 0 {
		return nil, validationf(m.Name, "", "take must not be negative in groupBy")
	}
	if args.Skip < 0 {
		return nil, validationf(m.Name, "", "skip must not be negative")
	}

	specs, err := aggSpecs(m, args.Count, args.Avg, args.Sum, args.Min, args.Max)
	if err != nil {
		return nil, err
	}

	b := s.builder()
	keys, err := b.groupOrderKeys(m, args.OrderBy, by)
	if err != nil {
		return nil, err
	}
	pred := b.sub()
	if err := pred.where(m, rowAlias, args.Where); err != nil {
		return nil, err
	}
	having := b.sub()
	if err := having.having(m, args.Having, inBy); err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(by))
	for _, f := range by {
		cols = append(cols, b.col(rowAlias, f.Column))
	}

	b.write("SELECT ")
	for i, c := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(c, " AS ", b.quote("g"+strconv.Itoa(i)))
	}
	for i, a := range specs {
		b.write(", ", b.aggExpr(rowAlias, a), " AS ", b.quote("a"+strconv.Itoa(i)))
	}
	b.write(" FROM ", b.table(m.Table), " ", rowAlias, " WHERE ")
	b.append(pred)
	b.write(" GROUP BY ", strings.Join(cols, ", "))
	b.write(" HAVING ")
	b.append(having)
	b.write(" ORDER BY ", orderClause(keys))
	b.write(s.c.d.limitOffset(args.Take, args.Skip))

	rows, err := s.raw(b).Rows()
	if err != nil {
		return nil, classify(err, m, "groupBy")
	}
	defer rows.Close()

	n := len(by) + len(specs)
	ret := []GroupRow{}
	for rows.Next() {
		vals := make([]interface{}, n)
		ptrs := make([]interface{}, n)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err, m, "groupBy")
		}

		row := GroupRow{Keys: map[string]interface{}{}}
		for i, f := range by {
			row.Keys[f.Name] = fromDB(f.Kind, vals[i])
		}
		row.AggregateResult = collect(specs, vals[len(by):])
		ret = append(ret, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, m, "groupBy")
	}

	return ret, nil
}
