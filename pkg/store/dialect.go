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
	"database/sql"
	"fmt"
	"strconv"

	"github.com/venuecrm/venuecrm/pkg/database"
)

// IsolationLevel is the isolation of a transaction
type IsolationLevel string

const (
	// ReadUncommitted allows dirty reads
	ReadUncommitted IsolationLevel = "ReadUncommitted"
	// ReadCommitted sees only committed rows
	ReadCommitted IsolationLevel = "ReadCommitted"
	// RepeatableRead sees a stable snapshot of read rows
	RepeatableRead IsolationLevel = "RepeatableRead"
	// Serializable behaves as if transactions ran one after another
	Serializable IsolationLevel = "Serializable"
)

// dialect holds the SQL differences between the backends
type dialect struct {
	driver string
}

func newDialect(driver string) dialect {
	return dialect{driver: driver}
}

// isolation maps a level to the database/sql level supported by the backend
func (d dialect) isolation(level IsolationLevel) (sql.IsolationLevel, error) {
	if level == "" {
		return sql.LevelDefault, nil
	}

	if d.driver == database.DriverSQLite {
		// SQLite transactions are always serializable
		if level == Serializable {
			return sql.LevelDefault, nil
		}
		return 0, unsupportedf("isolation level %s is not supported by sqlite", level)
	}

	switch level {
	case ReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case ReadCommitted:
		return sql.LevelReadCommitted, nil
	case RepeatableRead:
		return sql.LevelRepeatableRead, nil
	case Serializable:
		return sql.LevelSerializable, nil
	}

	return 0, unsupportedf("unknown isolation level %s", level)
}

// forUpdate returns the row lock clause
func (d dialect) forUpdate() string {
	if d.driver == database.DriverSQLite {
		// the write lock is taken when the transaction begins
		return ""
	}
	return " FOR UPDATE"
}

// limitOffset renders a LIMIT/OFFSET suffix. A nil limit means no limit.
func (d dialect) limitOffset(limit *int, offset int) string {
	switch {
	case limit != nil && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", *limit, offset)
	case limit != nil:
		return " LIMIT " + strconv.Itoa(*limit)
	case offset > 0:
		switch d.driver {
		case database.DriverSQLite:
			return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
		case database.DriverMySQL:
			return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", offset)
		}
		return fmt.Sprintf(" OFFSET %d", offset)
	}
	return ""
}

// jsonEquals compares a JSON column with a JSON document bound as text
func (d dialect) jsonEquals(column string) string {
	switch d.driver {
	case database.DriverPostgres:
		return fmt.Sprintf("%s::jsonb = CAST(? AS jsonb)", column)
	case database.DriverMySQL:
		return fmt.Sprintf("%s = CAST(? AS JSON)", column)
	}
	return fmt.Sprintf("json(%s) = json(?)", column)
}

// jsonPathEquals compares the composite value at a path with a JSON document
func (d dialect) jsonPathEquals(column string, path []string) (string, []interface{}) {
	switch d.driver {
	case database.DriverPostgres:
		return fmt.Sprintf("(%s::jsonb #> ?) = CAST(? AS jsonb)", column), []interface{}{pgPath(path)}
	case database.DriverMySQL:
		return fmt.Sprintf("JSON_EXTRACT(%s, ?) = CAST(? AS JSON)", column), []interface{}{jsonPath(path)}
	}
	return fmt.Sprintf("JSON_EXTRACT(%s, ?) = json(?)", column), []interface{}{jsonPath(path)}
}

// jsonPathText extracts the value at a path as text
func (d dialect) jsonPathText(column string, path []string) (string, []interface{}) {
	switch d.driver {
	case database.DriverPostgres:
		return fmt.Sprintf("(%s::jsonb #>> ?)", column), []interface{}{pgPath(path)}
	case database.DriverMySQL:
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, ?))", column), []interface{}{jsonPath(path)}
	}
	return fmt.Sprintf("JSON_EXTRACT(%s, ?)", column), []interface{}{jsonPath(path)}
}

func jsonPath(path []string) string {
	ret := "$"
	for _, p := range path {
		ret += "." + strconv.Quote(p)
	}
	return ret
}

func pgPath(path []string) string {
	ret := "{"
	for i, p := range path {
		if i > 0 {
			ret += ","
		}
		ret += strconv.Quote(p)
	}
	return ret + "}"
}
