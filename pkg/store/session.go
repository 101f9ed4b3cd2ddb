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
	"strconv"
	"strings"

	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
	"gorm.io/gorm"
)

// rowAlias is the alias of the queried table in every statement
const rowAlias = "t0"

// session executes statements of one call on a single connection or
// transaction
type session struct {
	c   *Client
	db  *gorm.DB
	ctx context.Context
}

// newSession binds a fresh gorm session to ctx and pool
func (c *Client) newSession(ctx context.Context, pool gorm.ConnPool) *session {
	db := c.db.Session(&gorm.Session{NewDB: true, Context: ctx})
	db.Statement.ConnPool = pool
	return &session{c: c, db: db, ctx: ctx}
}

func (s *session) builder() *builder {
	return newBuilder(s.db.Dialector, s.c.d)
}

// atomic runs fn in a transaction, or in a savepoint when the session is
// already transactional
func (s *session) atomic(fn func(s *session) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&session{c: s.c, db: tx, ctx: s.ctx})
	})
}

// raw returns a gorm statement for the built SQL
func (s *session) raw(b *builder) *gorm.DB {
	return s.db.Raw(b.String(), b.vars...)
}

// exec runs a statement that returns no rows
func (s *session) exec(b *builder) (int64, error) {
	res := s.db.Exec(b.String(), b.vars...)
	return res.RowsAffected, res.Error
}

// values runs a query and returns the first column of every row
func (s *session) values(b *builder) ([]interface{}, error) {
	rows, err := s.raw(b).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []interface{}
	for rows.Next() {
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	return ret, rows.Err()
}

// row runs a query expected to return at most one row of n columns. It
// returns nil without a row.
func (s *session) row(b *builder, n int) ([]interface{}, error) {
	rows, err := s.raw(b).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	vals := make([]interface{}, n)
	ptrs := make([]interface{}, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, rows.Err()
}

// columns renders the select list of every scalar field of m
func (b *builder) columns(m *schema.Model, alias string) string {
	parts := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		parts = append(parts, b.col(alias, f.Column)+" AS "+b.quote(f.Column))
	}
	return strings.Join(parts, ", ")
}

// uniqueWhere writes the predicate of a unique filter. It must name the
// primary key or a unique field with a non-null value.
func (b *builder) uniqueWhere(m *schema.Model, alias string, u filter.Unique) error {
	if len(u) == 0 {
		return validationf(m.Name, "", "unique filter is empty")
	}

	identifies := false
	var terms []*builder
	for _, name := range sortedKeys(u) {
		f, ok := m.Field(name)
		if !ok {
			if _, isRel := m.Relation(name); isRel {
				return validationf(m.Name, name, "relations cannot be used in a unique filter")
			}
			return validationf(m.Name, name, "unknown field")
		}

		v, err := coerce(m.Name, f, u[name])
		if err != nil {
			return err
		}

		t := b.sub()
		switch {
		case v == nil && (f.ID || f.Unique):
			return validationf(m.Name, f.Name, "unique value cannot be null")
		case v == nil:
			if !f.Nullable {
				return validationf(m.Name, f.Name, "field is required and is never null")
			}
			t.write(b.col(alias, f.Column), " IS NULL")
		case f.Kind == schema.KindJSON:
			return validationf(m.Name, f.Name, "json fields cannot be used in a unique filter")
		default:
			t.write(b.col(alias, f.Column), " = ")
			t.bind(v)
		}
		terms = append(terms, t)

		if f.ID || f.Unique {
			identifies = true
		}
	}

	if !identifies {
		return validationf(m.Name, "", "unique filter must name the primary key or a unique field")
	}

	b.join(" AND ", "1=1", terms)
	return nil
}

// window is a compiled range query
type window struct {
	b *builder
	// reversed rows come back in the opposite of the requested order
	reversed bool
	// empty windows match nothing
	empty bool
}

// window compiles the rows of w with the given select list. Without paginate,
// take and skip are left to the caller.
func (s *session) window(m *schema.Model, w Window, cols func(b *builder) string, paginate bool) (*window, error) {
	b := s.builder()

	keys, err := b.orderKeys(m, rowAlias, w.OrderBy)
	if err != nil {
		return nil, err
	}
	if w.Skip < 0 {
		return nil, validationf(m.Name, "", "skip must not be negative")
	}

	reversed := w.Take != nil && *w.Take < 0
	effective := keys
	if reversed {
		effective = flipped(keys)
	}

	pred := b.sub()
	if err := pred.where(m, rowAlias, w.Where); err != nil {
		return nil, err
	}

	if w.Cursor != nil {
		cb := b.sub()
		if err := cb.uniqueWhere(m, rowAlias, w.Cursor); err != nil {
			return nil, err
		}

		q := s.builder()
		q.write("SELECT ")
		for i, k := range keys {
			if i > 0 {
				q.write(", ")
			}
			q.write(k.expr, " AS ", q.quote("c"+strconv.Itoa(i)))
		}
		q.write(" FROM ", q.table(m.Table), " ", rowAlias, " WHERE ")
		q.append(cb)

		vals, err := s.row(q, len(keys))
		if err != nil {
			return nil, classify(err, m, "")
		}
		if vals == nil {
			return &window{empty: true}, nil
		}
		for i, k := range keys {
			if k.field != nil {
				vals[i] = fromDB(k.field.Kind, vals[i])
			} else {
				vals[i] = fromDB(schema.KindInt, vals[i])
			}
		}

		pred.write(" AND ")
		pred.cursor(effective, vals)
	}

	b.write("SELECT ", cols(b), " FROM ", b.table(m.Table), " ", rowAlias, " WHERE ")
	b.append(pred)
	b.write(" ORDER BY ", orderClause(effective))

	if paginate {
		var limit *int
		if w.Take != nil {
			n := *w.Take
			if n < 0 {
				n = -n
			}
			limit = &n
		}
		b.write(s.c.d.limitOffset(limit, w.Skip))
	}

	return &window{b: b, reversed: reversed}, nil
}

// lockUnique locks the row matched by u for the rest of the transaction and
// returns its primary key, or nil without a match
func (s *session) lockUnique(m *schema.Model, u filter.Unique) (interface{}, error) {
	b := s.builder()
	where := b.sub()
	if err := where.uniqueWhere(m, rowAlias, u); err != nil {
		return nil, err
	}

	b.write("SELECT ", b.col(rowAlias, m.PK().Column), " FROM ", b.table(m.Table), " ", rowAlias, " WHERE ")
	b.append(where)
	b.write(s.c.d.forUpdate())

	ids, err := s.values(b)
	if err != nil {
		return nil, classify(err, m, "")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return fromDB(m.PK().Kind, ids[0]), nil
}
