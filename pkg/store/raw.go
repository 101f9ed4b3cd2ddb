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
	"fmt"
	"strings"
)

// RawRow is one row of a raw query keyed by column name
type RawRow map[string]interface{}

// checkRaw verifies a parameterised statement: a single statement whose
// placeholders match the arguments
func checkRaw(query string, args []interface{}) error {
	var quote rune
	n := 0
	trailing := false
	for _, r := range query {
		if trailing && !strings.ContainsRune(" \t\r\n;", r) {
			return &Error{Kind: KindValidation, Message: "only a single statement is allowed"}
		}

		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
		case r == ';':
			trailing = true
		}
	}

	if quote != 0 {
		return &Error{Kind: KindValidation, Message: "unterminated quoted string"}
	}
	if n != len(args) {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("statement has %d placeholders but %d arguments were given", n, len(args))}
	}
	return nil
}

func (s *session) queryRaw(query string, args []interface{}) ([]RawRow, error) {
	rows, err := s.db.Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	ret := []RawRow{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := RawRow{}
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		ret = append(ret, row)
	}
	return ret, rows.Err()
}

func (s *session) executeRaw(query string, args []interface{}) (int64, error) {
	res := s.db.Exec(query, args...)
	return res.RowsAffected, res.Error
}

func queryRaw(ctx context.Context, r runner, op, query string, args []interface{}, check bool) ([]RawRow, error) {
	if check {
		if err := checkRaw(query, args); err != nil {
			return nil, tag(err, nil, op)
		}
	}
	return call(ctx, r, nil, op, func(s *session) ([]RawRow, error) {
		return s.queryRaw(query, args)
	})
}

func executeRaw(ctx context.Context, r runner, op, query string, args []interface{}, check bool) (int64, error) {
	if check {
		if err := checkRaw(query, args); err != nil {
			return 0, tag(err, nil, op)
		}
	}
	return call(ctx, r, nil, op, func(s *session) (int64, error) {
		return s.executeRaw(query, args)
	})
}

// QueryRaw runs a single parameterised query with "?" placeholders and
// returns its rows
func (c *Client) QueryRaw(ctx context.Context, query string, args ...interface{}) ([]RawRow, error) {
	return queryRaw(ctx, c, "queryRaw", query, args, true)
}

// ExecuteRaw runs a single parameterised statement and returns the number of
// affected rows
func (c *Client) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return executeRaw(ctx, c, "executeRaw", query, args, true)
}

// QueryRawUnsafe runs query as given. The caller is responsible for escaping.
func (c *Client) QueryRawUnsafe(ctx context.Context, query string, args ...interface{}) ([]RawRow, error) {
	return queryRaw(ctx, c, "queryRawUnsafe", query, args, false)
}

// ExecuteRawUnsafe runs statement as given. The caller is responsible for
// escaping.
func (c *Client) ExecuteRawUnsafe(ctx context.Context, statement string, args ...interface{}) (int64, error) {
	return executeRaw(ctx, c, "executeRawUnsafe", statement, args, false)
}

// RunCommandRaw runs a document database command. SQL backends do not
// support it.
func (c *Client) RunCommandRaw(ctx context.Context, command map[string]interface{}) (map[string]interface{}, error) {
	return nil, &Error{Kind: KindUnsupported, Op: "runCommandRaw", Message: "runCommandRaw is not supported by " + c.d.driver + " backends"}
}

// QueryRaw runs a single parameterised query in the transaction
func (t *Tx) QueryRaw(ctx context.Context, query string, args ...interface{}) ([]RawRow, error) {
	return queryRaw(ctx, t, "queryRaw", query, args, true)
}

// ExecuteRaw runs a single parameterised statement in the transaction
func (t *Tx) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return executeRaw(ctx, t, "executeRaw", query, args, true)
}
