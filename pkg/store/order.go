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
	"strings"

	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
)

// orderKey is one resolved sort key. Missing values sort as the smallest
// unless Nulls says otherwise.
type orderKey struct {
	expr       string
	field      *schema.Field
	desc       bool
	nullsFirst bool
	nullable   bool
}

func (k orderKey) flip() orderKey {
	k.desc = !k.desc
	k.nullsFirst = !k.nullsFirst
	return k
}

func direction(model, field string, d filter.Direction) (bool, error) {
	switch d {
	case filter.Asc, "":
		return false, nil
	case filter.Desc:
		return true, nil
	}
	return false, validationf(model, field, "unknown sort direction %q", d)
}

func nullsFirst(model, field string, n filter.Nulls, desc bool) (bool, error) {
	switch n {
	case filter.NullsDefault:
		return !desc, nil
	case filter.NullsFirst:
		return true, nil
	case filter.NullsLast:
		return false, nil
	}
	return false, validationf(model, field, "unknown nulls placement %q", n)
}

// orderKeys resolves the sort of a list query over alias. The primary key is
// appended as the final key unless already present, so the order is total.
func (b *builder) orderKeys(m *schema.Model, alias string, orderBy []filter.OrderBy) ([]orderKey, error) {
	var keys []orderKey
	hasPK := false

	for _, o := range orderBy {
		switch {
		case o.Aggregate != "":
			return nil, validationf(m.Name, o.Field, "aggregate ordering is only valid in groupBy")
		case o.Field != "" && o.Relation != "":
			return nil, validationf(m.Name, o.Field, "order by a field or a relation, not both")
		case o.Field != "":
			f, ok := m.Field(o.Field)
			if !ok {
				if _, isRel := m.Relation(o.Field); isRel {
					return nil, validationf(m.Name, o.Field, "relations are ordered by their count")
				}
				return nil, validationf(m.Name, o.Field, "unknown field")
			}
			if f.Kind == schema.KindJSON {
				return nil, validationf(m.Name, f.Name, "json fields cannot be ordered")
			}
			if o.Nulls != filter.NullsDefault && !f.Nullable {
				return nil, validationf(m.Name, f.Name, "nulls placement on a required field")
			}

			desc, err := direction(m.Name, f.Name, o.Direction)
			if err != nil {
				return nil, err
			}
			nf, err := nullsFirst(m.Name, f.Name, o.Nulls, desc)
			if err != nil {
				return nil, err
			}

			keys = append(keys, orderKey{
				expr:       b.col(alias, f.Column),
				field:      f,
				desc:       desc,
				nullsFirst: nf,
				nullable:   f.Nullable,
			})
			if f.ID {
				hasPK = true
			}
		case o.Relation != "":
			rel, ok := m.Relation(o.Relation)
			if !ok {
				return nil, validationf(m.Name, o.Relation, "unknown relation")
			}
			if rel.Kind != schema.ToMany {
				return nil, validationf(m.Name, rel.Name, "only to-many relations can be ordered by count")
			}
			if o.Nulls != filter.NullsDefault {
				return nil, validationf(m.Name, rel.Name, "nulls placement on a relation count")
			}
			desc, err := direction(m.Name, rel.Name, o.Direction)
			if err != nil {
				return nil, err
			}

			sub := b.alias()
			t := b.sub()
			t.write("(SELECT COUNT(*) FROM ", t.table(rel.TargetModel().Table), " ", sub, " WHERE ")
			t.link(rel, alias, sub)
			t.write(")")
			keys = append(keys, orderKey{expr: t.String(), desc: desc})
		default:
			return nil, validationf(m.Name, "", "empty orderBy entry")
		}
	}

	if !hasPK {
		pk := m.PK()
		keys = append(keys, orderKey{expr: b.col(alias, pk.Column), field: pk})
	}

	return keys, nil
}

// orderClause renders keys as an ORDER BY list, with missing values placed
// explicitly since backends disagree on their default position
func orderClause(keys []orderKey) string {
	var parts []string
	for _, k := range keys {
		if k.nullable {
			nulls := "CASE WHEN " + k.expr + " IS NULL THEN 0 ELSE 1 END"
			if k.nullsFirst {
				parts = append(parts, nulls+" ASC")
			} else {
				parts = append(parts, nulls+" DESC")
			}
		}
		if k.desc {
			parts = append(parts, k.expr+" DESC")
		} else {
			parts = append(parts, k.expr+" ASC")
		}
	}
	return strings.Join(parts, ", ")
}

func flipped(keys []orderKey) []orderKey {
	ret := make([]orderKey, len(keys))
	for i, k := range keys {
		ret[i] = k.flip()
	}
	return ret
}

// keyEquals writes expr = v, matching missing values too
func (b *builder) keyEquals(k orderKey, v interface{}) {
	if v == nil {
		b.write(k.expr, " IS NULL")
		return
	}
	b.write(k.expr, " = ")
	b.bind(v)
}

// keyAfter writes a predicate for rows strictly after v on key k
func (b *builder) keyAfter(k orderKey, v interface{}) {
	if v == nil {
		if k.nullsFirst {
			b.write(k.expr, " IS NOT NULL")
		} else {
			b.write("1=0")
		}
		return
	}

	op := " > "
	if k.desc {
		op = " < "
	}
	if k.nullable && !k.nullsFirst {
		b.write("(", k.expr, op)
		b.bind(v)
		b.write(" OR ", k.expr, " IS NULL)")
		return
	}
	b.write(k.expr, op)
	b.bind(v)
}

// cursor writes a predicate for rows at or after the cursor row whose key
// values are vals, in the order of keys
func (b *builder) cursor(keys []orderKey, vals []interface{}) {
	var ors []*builder

	for i := range keys {
		t := b.sub()
		for j := 0; j < i; j++ {
			t.keyEquals(keys[j], vals[j])
			t.write(" AND ")
		}
		t.keyAfter(keys[i], vals[i])
		ors = append(ors, t)
	}

	eq := b.sub()
	for i := range keys {
		if i > 0 {
			eq.write(" AND ")
		}
		eq.keyEquals(keys[i], vals[i])
	}
	ors = append(ors, eq)

	b.write("(")
	b.join(" OR ", "1=0", ors)
	b.write(")")
}
