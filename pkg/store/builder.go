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
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// builder accumulates one SQL statement with positional placeholders
type builder struct {
	sql     strings.Builder
	vars    []interface{}
	quoter  gorm.Dialector
	d       dialect
	aliases *int
}

func newBuilder(quoter gorm.Dialector, d dialect) *builder {
	return &builder{quoter: quoter, d: d, aliases: new(int)}
}

// sub returns an empty builder sharing the alias sequence
func (b *builder) sub() *builder {
	return &builder{quoter: b.quoter, d: b.d, aliases: b.aliases}
}

func (b *builder) String() string {
	return b.sql.String()
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sql.WriteString(p)
	}
}

// bind writes a placeholder for v
func (b *builder) bind(v interface{}) {
	b.sql.WriteByte('?')
	b.vars = append(b.vars, v)
}

// bindList writes a parenthesized placeholder list
func (b *builder) bindList(vs []interface{}) {
	b.sql.WriteByte('(')
	for i, v := range vs {
		if i > 0 {
			b.sql.WriteByte(',')
		}
		b.bind(v)
	}
	b.sql.WriteByte(')')
}

// append writes the statement of other
func (b *builder) append(other *builder) {
	b.sql.WriteString(other.sql.String())
	b.vars = append(b.vars, other.vars...)
}

// join writes the terms separated by sep, each in parentheses. Without terms
// it writes empty.
func (b *builder) join(sep, empty string, terms []*builder) {
	if len(terms) == 0 {
		b.write(empty)
		return
	}
	for i, t := range terms {
		if i > 0 {
			b.write(sep)
		}
		b.write("(")
		b.append(t)
		b.write(")")
	}
}

func (b *builder) alias() string {
	*b.aliases++
	return "t" + strconv.Itoa(*b.aliases)
}

func (b *builder) quote(name string) string {
	var sb strings.Builder
	b.quoter.QuoteTo(&sb, name)
	return sb.String()
}

// col returns the quoted column of a row alias
func (b *builder) col(alias, column string) string {
	return b.quote(alias + "." + column)
}

func (b *builder) table(name string) string {
	return b.quote(name)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// chunks splits values into slices of at most size elements
func chunks(values []interface{}, size int) [][]interface{} {
	var ret [][]interface{}
	for len(values) > size {
		ret = append(ret, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		ret = append(ret, values)
	}
	return ret
}

// escapeLike escapes the LIKE wildcards of s with '!'
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
