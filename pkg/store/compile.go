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
	"strings"
	"time"

	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
	"gorm.io/datatypes"
)

// scalarCond is a field condition with its values coerced to the field kind.
// A nil bound is absent.
type scalarCond struct {
	equals      interface{}
	in          []interface{}
	notIn       []interface{}
	hasIn       bool
	hasNotIn    bool
	lt          interface{}
	lte         interface{}
	gt          interface{}
	gte         interface{}
	contains    *string
	startsWith  *string
	endsWith    *string
	insensitive bool
	isNull      *bool
	not         *scalarCond
}

func opt[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func optTime(p *time.Time) interface{} {
	if p == nil {
		return nil
	}
	return normalizeTime(*p)
}

func anyList[T any](list []T) []interface{} {
	ret := make([]interface{}, 0, len(list))
	for _, v := range list {
		ret = append(ret, v)
	}
	return ret
}

func fromString(c filter.String) scalarCond {
	sc := scalarCond{
		equals:      opt(c.Equals),
		in:          anyList(c.In),
		notIn:       anyList(c.NotIn),
		hasIn:       c.In != nil,
		hasNotIn:    c.NotIn != nil,
		lt:          opt(c.Lt),
		lte:         opt(c.Lte),
		gt:          opt(c.Gt),
		gte:         opt(c.Gte),
		contains:    c.Contains,
		startsWith:  c.StartsWith,
		endsWith:    c.EndsWith,
		insensitive: c.Mode == filter.ModeInsensitive,
		isNull:      c.IsNull,
	}
	if c.Not != nil {
		not := fromString(*c.Not)
		if c.Not.Mode == filter.ModeDefault {
			not.insensitive = sc.insensitive
		}
		sc.not = &not
	}
	return sc
}

func fromNumber[N int64 | float64](c filter.Number[N]) scalarCond {
	sc := scalarCond{
		equals:   opt(c.Equals),
		in:       anyList(c.In),
		notIn:    anyList(c.NotIn),
		hasIn:    c.In != nil,
		hasNotIn: c.NotIn != nil,
		lt:       opt(c.Lt),
		lte:      opt(c.Lte),
		gt:       opt(c.Gt),
		gte:      opt(c.Gte),
		isNull:   c.IsNull,
	}
	if c.Not != nil {
		not := fromNumber(*c.Not)
		sc.not = &not
	}
	return sc
}

func fromDateTime(c filter.DateTime) scalarCond {
	times := func(list []time.Time) []interface{} {
		ret := make([]interface{}, 0, len(list))
		for _, t := range list {
			ret = append(ret, normalizeTime(t))
		}
		return ret
	}

	sc := scalarCond{
		equals:   optTime(c.Equals),
		in:       times(c.In),
		notIn:    times(c.NotIn),
		hasIn:    c.In != nil,
		hasNotIn: c.NotIn != nil,
		lt:       optTime(c.Lt),
		lte:      optTime(c.Lte),
		gt:       optTime(c.Gt),
		gte:      optTime(c.Gte),
		isNull:   c.IsNull,
	}
	if c.Not != nil {
		not := fromDateTime(*c.Not)
		sc.not = &not
	}
	return sc
}

func fromBool(c filter.Bool) scalarCond {
	sc := scalarCond{equals: opt(c.Equals), isNull: c.IsNull}
	if c.Not != nil {
		not := fromBool(*c.Not)
		sc.not = &not
	}
	return sc
}

func fromEnum(model string, f *schema.Field, c filter.Enum) (scalarCond, error) {
	check := func(vs ...string) error {
		for _, v := range vs {
			if !f.ValidEnum(v) {
				return validationf(model, f.Name, "%q is not one of %v", v, f.Enum)
			}
		}
		return nil
	}

	if c.Equals != nil {
		if err := check(*c.Equals); err != nil {
			return scalarCond{}, err
		}
	}
	if err := check(c.In...); err != nil {
		return scalarCond{}, err
	}
	if err := check(c.NotIn...); err != nil {
		return scalarCond{}, err
	}

	sc := scalarCond{
		equals:   opt(c.Equals),
		in:       anyList(c.In),
		notIn:    anyList(c.NotIn),
		hasIn:    c.In != nil,
		hasNotIn: c.NotIn != nil,
		isNull:   c.IsNull,
	}
	if c.Not != nil {
		not, err := fromEnum(model, f, *c.Not)
		if err != nil {
			return scalarCond{}, err
		}
		sc.not = &not
	}
	return sc, nil
}

// usesNull reports whether the condition tests for missing values anywhere
func (c *scalarCond) usesNull() bool {
	if c.isNull != nil {
		return true
	}
	return c.not != nil && c.not.usesNull()
}

// where writes the predicate of w over the row alias of model m
func (b *builder) where(m *schema.Model, alias string, w *filter.Where) error {
	if w == nil {
		b.write("1=1")
		return nil
	}

	var terms []*builder
	for _, name := range sortedKeys(w.Fields) {
		t := b.sub()
		if err := t.condition(m, alias, name, w.Fields[name]); err != nil {
			return err
		}
		terms = append(terms, t)
	}

	for i := range w.AND {
		t := b.sub()
		if err := t.where(m, alias, &w.AND[i]); err != nil {
			return err
		}
		terms = append(terms, t)
	}

	if w.OR != nil {
		ors := make([]*builder, 0, len(w.OR))
		for i := range w.OR {
			t := b.sub()
			if err := t.where(m, alias, &w.OR[i]); err != nil {
				return err
			}
			ors = append(ors, t)
		}
		t := b.sub()
		t.join(" OR ", "1=0", ors)
		terms = append(terms, t)
	}

	for i := range w.NOT {
		inner := b.sub()
		if err := inner.where(m, alias, &w.NOT[i]); err != nil {
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

func (b *builder) condition(m *schema.Model, alias, name string, c filter.Condition) error {
	if rel, ok := m.Relation(name); ok {
		return b.relation(m, rel, alias, c)
	}

	f, ok := m.Field(name)
	if !ok {
		return validationf(m.Name, name, "unknown field")
	}

	if jc, ok := c.(filter.JSON); ok {
		if f.Kind != schema.KindJSON {
			return validationf(m.Name, f.Name, "json filter on a %s field", f.Kind)
		}
		return b.json(m.Name, f, alias, jc)
	}

	return b.fieldCondition(m.Name, f, b.col(alias, f.Column), f.Nullable, c)
}

// fieldCondition writes a scalar condition on expr, which holds values of the
// kind of f
func (b *builder) fieldCondition(model string, f *schema.Field, expr string, nullable bool, c filter.Condition) error {
	var sc scalarCond

	mismatch := func(name string) error {
		return validationf(model, f.Name, "%s filter on a %s field", name, f.Kind)
	}

	switch c := c.(type) {
	case filter.Equals:
		if c.Value == nil {
			if !nullable {
				return validationf(model, f.Name, "field is required and is never null")
			}
			b.write(expr, " IS NULL")
			return nil
		}
		if f.Kind == schema.KindJSON {
			return b.jsonWhole(model, f, expr, nullable, c.Value)
		}
		v, err := coerce(model, f, c.Value)
		if err != nil {
			return err
		}
		sc = scalarCond{equals: v}
	case filter.String:
		if f.Kind != schema.KindString {
			return mismatch("string")
		}
		sc = fromString(c)
	case filter.Int:
		if f.Kind != schema.KindInt {
			return mismatch("int")
		}
		sc = fromNumber(c)
	case filter.Float:
		if f.Kind != schema.KindFloat {
			return mismatch("float")
		}
		sc = fromNumber(c)
	case filter.DateTime:
		if f.Kind != schema.KindDateTime {
			return mismatch("datetime")
		}
		sc = fromDateTime(c)
	case filter.Bool:
		if f.Kind != schema.KindBool {
			return mismatch("boolean")
		}
		sc = fromBool(c)
	case filter.Enum:
		if f.Kind != schema.KindEnum {
			return mismatch("enum")
		}
		var err error
		if sc, err = fromEnum(model, f, c); err != nil {
			return err
		}
	case filter.Relation, filter.List:
		return validationf(model, f.Name, "relation filter on a scalar field")
	case nil:
		b.write("1=1")
		return nil
	default:
		return validationf(model, f.Name, "unsupported condition %T", c)
	}

	if sc.usesNull() && !nullable {
		return validationf(model, f.Name, "field is required and is never null")
	}

	b.scalar(expr, nullable, sc)
	return nil
}

// scalar writes a two-valued predicate: comparisons are false on missing
// values, so negation selects them.
func (b *builder) scalar(expr string, nullable bool, c scalarCond) {
	var terms []*builder

	lhs, pre, post := expr, "", ""
	if c.insensitive {
		lhs, pre, post = "LOWER("+expr+")", "LOWER(", ")"
	}
	value := func(t *builder, v interface{}) {
		t.write(pre)
		t.bind(v)
		t.write(post)
	}

	guarded := func(t *builder, write func()) {
		if nullable {
			t.write("(", expr, " IS NOT NULL AND ")
			write()
			t.write(")")
			return
		}
		write()
	}

	cmp := func(op string, v interface{}) {
		t := b.sub()
		guarded(t, func() {
			t.write(lhs, " ", op, " ")
			value(t, v)
		})
		terms = append(terms, t)
	}

	list := func(not bool, vs []interface{}) {
		t := b.sub()
		guarded(t, func() {
			if not {
				t.write("NOT ")
			}
			t.write(lhs, " IN (")
			for i, v := range vs {
				if i > 0 {
					t.write(",")
				}
				value(t, v)
			}
			t.write(")")
		})
		terms = append(terms, t)
	}

	like := func(pattern string) {
		t := b.sub()
		guarded(t, func() {
			t.write(lhs, " LIKE ")
			value(t, pattern)
			t.write(" ESCAPE '!'")
		})
		terms = append(terms, t)
	}

	if c.equals != nil {
		cmp("=", c.equals)
	}
	if c.hasIn {
		if len(c.in) == 0 {
			t := b.sub()
			t.write("1=0")
			terms = append(terms, t)
		} else {
			list(false, c.in)
		}
	}
	if c.hasNotIn && len(c.notIn) > 0 {
		list(true, c.notIn)
	}
	if c.lt != nil {
		cmp("<", c.lt)
	}
	if c.lte != nil {
		cmp("<=", c.lte)
	}
	if c.gt != nil {
		cmp(">", c.gt)
	}
	if c.gte != nil {
		cmp(">=", c.gte)
	}
	if c.contains != nil {
		like("%" + escapeLike(*c.contains) + "%")
	}
	if c.startsWith != nil {
		like(escapeLike(*c.startsWith) + "%")
	}
	if c.endsWith != nil {
		like("%" + escapeLike(*c.endsWith))
	}
	if c.isNull != nil {
		t := b.sub()
		if *c.isNull {
			t.write(expr, " IS NULL")
		} else {
			t.write(expr, " IS NOT NULL")
		}
		terms = append(terms, t)
	}
	if c.not != nil {
		inner := b.sub()
		inner.scalar(expr, nullable, *c.not)
		t := b.sub()
		t.write("NOT (")
		t.append(inner)
		t.write(")")
		terms = append(terms, t)
	}

	b.join(" AND ", "1=1", terms)
}

// jsonNumber turns decoded JSON numbers into Go numbers
func jsonNumber(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func isComposite(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return true
	}
	return false
}

func (b *builder) jsonWhole(model string, f *schema.Field, expr string, nullable bool, v interface{}) error {
	doc, err := coerce(model, f, v)
	if err != nil {
		return err
	}

	if nullable {
		b.write("(", expr, " IS NOT NULL AND ")
	}
	pre, post, _ := strings.Cut(b.d.jsonEquals(expr), "?")
	b.write(pre)
	b.bind(string(doc.(datatypes.JSON)))
	b.write(post)
	if nullable {
		b.write(")")
	}
	return nil
}

func (b *builder) json(model string, f *schema.Field, alias string, c filter.JSON) error {
	expr := b.col(alias, f.Column)
	raw := alias + "." + f.Column

	var terms []*builder

	if c.IsNull != nil {
		if !f.Nullable {
			return validationf(model, f.Name, "field is required and is never null")
		}
		t := b.sub()
		if *c.IsNull {
			t.write(expr, " IS NULL")
		} else {
			t.write(expr, " IS NOT NULL")
		}
		terms = append(terms, t)
	}

	if len(c.Path) == 0 {
		if c.HasKey || c.StringContains != nil {
			return validationf(model, f.Name, "has_key and string_contains need a path")
		}
		if c.Equals != nil {
			t := b.sub()
			if err := t.jsonWhole(model, f, expr, f.Nullable, c.Equals); err != nil {
				return err
			}
			terms = append(terms, t)
		}
		b.join(" AND ", "1=1", terms)
		return nil
	}

	// path terms are null when the path is missing; COALESCE keeps them
	// two-valued under NOT
	pathTerm := func(write func(t *builder)) {
		t := b.sub()
		t.write("COALESCE((")
		write(t)
		t.write("), 1=0)")
		terms = append(terms, t)
	}

	if c.HasKey {
		pathTerm(func(t *builder) {
			t.bind(datatypes.JSONQuery(raw).HasKey(c.Path...))
		})
	}

	if c.Equals != nil {
		v := jsonNumber(c.Equals)
		if isComposite(v) {
			doc, err := json.Marshal(v)
			if err != nil {
				return validationf(model, f.Name, "invalid json value: %s", err)
			}
			pathTerm(func(t *builder) {
				sqlText, vars := b.d.jsonPathEquals(expr, c.Path)
				pre, post, _ := strings.Cut(sqlText, "?")
				t.write(pre)
				t.bind(vars[0])
				pre, post, _ = strings.Cut(post, "?")
				t.write(pre)
				t.bind(string(doc))
				t.write(post)
			})
		} else {
			pathTerm(func(t *builder) {
				t.bind(datatypes.JSONQuery(raw).Equals(v, c.Path...))
			})
		}
	}

	if c.StringContains != nil {
		pathTerm(func(t *builder) {
			sqlText, vars := b.d.jsonPathText(expr, c.Path)
			pre, post, _ := strings.Cut(sqlText, "?")
			t.write(pre)
			t.bind(vars[0])
			t.write(post, " LIKE ")
			t.bind("%" + escapeLike(*c.StringContains) + "%")
			t.write(" ESCAPE '!'")
		})
	}

	b.join(" AND ", "1=1", terms)
	return nil
}

// link writes the join condition between a row of the relation target under
// alias sub and the owner row under alias
func (b *builder) link(rel *schema.Relation, alias, sub string) {
	foreign, _ := rel.TargetModel().Field(rel.Foreign)
	local, _ := rel.Owner().Field(rel.Local)
	b.write(b.col(sub, foreign.Column), " = ", b.col(alias, local.Column))
}

// exists writes [NOT] EXISTS over the related rows matching w. With
// negateInner the inner predicate is negated.
func (b *builder) exists(rel *schema.Relation, alias string, w *filter.Where, not, negateInner bool) error {
	target := rel.TargetModel()
	sub := b.alias()

	inner := b.sub()
	if err := inner.where(target, sub, w); err != nil {
		return err
	}

	if not {
		b.write("NOT ")
	}
	b.write("EXISTS (SELECT 1 FROM ", b.table(target.Table), " ", sub, " WHERE ")
	b.link(rel, alias, sub)
	b.write(" AND ")
	if negateInner {
		b.write("NOT (")
	} else {
		b.write("(")
	}
	b.append(inner)
	b.write("))")
	return nil
}

func (b *builder) relation(m *schema.Model, rel *schema.Relation, alias string, c filter.Condition) error {
	var terms []*builder

	add := func(w *filter.Where, not, negateInner bool) error {
		t := b.sub()
		if err := t.exists(rel, alias, w, not, negateInner); err != nil {
			return err
		}
		terms = append(terms, t)
		return nil
	}

	switch c := c.(type) {
	case filter.Equals:
		if c.Value != nil || rel.Kind != schema.ToOne {
			return validationf(m.Name, rel.Name, "relation filters take is, isNot, some, every or none")
		}
		return b.relation(m, rel, alias, filter.Relation{IsNull: filter.Ptr(true)})
	case filter.Relation:
		if rel.Kind != schema.ToOne {
			return validationf(m.Name, rel.Name, "to-many relation filters take some, every or none")
		}
		if c.IsNull != nil {
			if rel.Required {
				return validationf(m.Name, rel.Name, "relation is required and is never null")
			}
			local, _ := m.Field(rel.Local)
			t := b.sub()
			if *c.IsNull {
				t.write(b.col(alias, local.Column), " IS NULL")
			} else {
				t.write(b.col(alias, local.Column), " IS NOT NULL")
			}
			terms = append(terms, t)
		}
		if c.Is != nil {
			if err := add(c.Is, false, false); err != nil {
				return err
			}
		}
		if c.IsNot != nil {
			if err := add(c.IsNot, true, false); err != nil {
				return err
			}
		}
	case filter.List:
		if rel.Kind != schema.ToMany {
			return validationf(m.Name, rel.Name, "to-one relation filters take is or isNot")
		}
		if c.Some != nil {
			if err := add(c.Some, false, false); err != nil {
				return err
			}
		}
		if c.None != nil {
			if err := add(c.None, true, false); err != nil {
				return err
			}
		}
		if c.Every != nil {
			if err := add(c.Every, true, true); err != nil {
				return err
			}
		}
	case nil:
	default:
		return validationf(m.Name, rel.Name, "scalar filter on a relation")
	}

	b.join(" AND ", "1=1", terms)
	return nil
}
