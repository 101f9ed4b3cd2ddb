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
	"database/sql/driver"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/schema"
	"gorm.io/gorm"
)

// Kind is the stable discriminator of a store error
type Kind string

const (
	// KindValidation is a malformed call
	KindValidation Kind = "ValidationError"
	// KindNotFound is a missing record where one was required
	KindNotFound Kind = "NotFoundError"
	// KindConstraint is a unique, foreign key, not null or check violation
	KindConstraint Kind = "ConstraintViolation"
	// KindTimeout is an expired transaction, lock wait or maxWait
	KindTimeout Kind = "TimeoutError"
	// KindUnsupported is an operation the backend cannot perform
	KindUnsupported Kind = "UnsupportedOperation"
	// KindConnection is an exhausted pool or an unreachable backend
	KindConnection Kind = "ConnectionError"
	// KindCanceled is a call whose context was canceled
	KindCanceled Kind = "Canceled"
	// KindBackend is any other driver failure
	KindBackend Kind = "BackendError"
)

// Error is the error type of every failed store call
type Error struct {
	Kind       Kind
	Model      string
	Field      string
	Constraint string
	Op         string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	target := e.Model
	if e.Field != "" {
		if target != "" {
			target += "."
		}
		target += e.Field
	}
	if target != "" {
		b.WriteString(" on ")
		b.WriteString(target)
	}

	if e.Constraint != "" {
		fmt.Fprintf(&b, " (constraint %s)", e.Constraint)
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying driver error, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind so that the sentinels below work with
// errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrValidation matches every ValidationError
	ErrValidation = &Error{Kind: KindValidation}
	// ErrNotFound matches every NotFoundError
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrConstraint matches every ConstraintViolation
	ErrConstraint = &Error{Kind: KindConstraint}
	// ErrTimeout matches every TimeoutError
	ErrTimeout = &Error{Kind: KindTimeout}
	// ErrUnsupported matches every UnsupportedOperation
	ErrUnsupported = &Error{Kind: KindUnsupported}
	// ErrConnection matches every ConnectionError
	ErrConnection = &Error{Kind: KindConnection}
	// ErrCanceled matches every Canceled error
	ErrCanceled = &Error{Kind: KindCanceled}
	// ErrBackend matches every BackendError
	ErrBackend = &Error{Kind: KindBackend}
)

// KindOf returns the kind of a store error, or an empty kind for other errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError returns the store error in the chain of err
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func validationf(model, field, format string, a ...interface{}) *Error {
	return &Error{Kind: KindValidation, Model: model, Field: field, Message: fmt.Sprintf(format, a...)}
}

func notFound(model, op string) *Error {
	return &Error{Kind: KindNotFound, Model: model, Op: op, Message: "no record matches the unique filter"}
}

func unsupportedf(format string, a ...interface{}) *Error {
	return &Error{Kind: KindUnsupported, Message: fmt.Sprintf(format, a...)}
}

func isUniqueViolation(err error) bool {
	e, ok := AsError(err)
	if !ok || e.Kind != KindConstraint {
		return false
	}
	return strings.HasPrefix(e.Constraint, "uq_") || strings.HasSuffix(e.Constraint, "_pkey")
}

var (
	sqliteUniqueRe  = regexp.MustCompile(`(?:UNIQUE|PRIMARY KEY) constraint failed: ([\w.]+)`)
	sqliteNotNullRe = regexp.MustCompile(`NOT NULL constraint failed: ([\w.]+)`)
	sqliteCheckRe   = regexp.MustCompile(`CHECK constraint failed: (\w+)`)
	mysqlKeyRe      = regexp.MustCompile(`for key '(?:[\w]+\.)?([\w]+)'`)
	mysqlFKRe       = regexp.MustCompile("CONSTRAINT `(\\w+)`")
	mysqlColumnRe   = regexp.MustCompile(`Column '(\w+)'`)
	mysqlCheckRe    = regexp.MustCompile(`Check constraint '(\w+)'`)
)

// fieldOfConstraint resolves a uq_<table>_<column> or fk_<table>_<column>
// constraint to a field of m
func fieldOfConstraint(m *schema.Model, constraint string) string {
	if m == nil {
		return ""
	}
	if strings.HasSuffix(constraint, "_pkey") {
		return m.PK().Name
	}
	for _, prefix := range []string{"uq_", "fk_"} {
		rest, ok := strings.CutPrefix(constraint, prefix+m.Table+"_")
		if !ok {
			continue
		}
		if f, ok := m.FieldByColumn(rest); ok {
			return f.Name
		}
	}
	return ""
}

// fieldOfColumn resolves a table.column pair reported by SQLite
func fieldOfColumn(m *schema.Model, qualified string) (string, string) {
	table, column, ok := strings.Cut(qualified, ".")
	if !ok {
		return "", ""
	}
	if m == nil || m.Table != table {
		return "", column
	}
	if f, ok := m.FieldByColumn(column); ok {
		return f.Name, m.UniqueConstraint(f)
	}
	return "", column
}

func constraintErr(m *schema.Model, op, constraint, field string, err error) *Error {
	e := &Error{Kind: KindConstraint, Op: op, Constraint: constraint, Field: field, Err: err}
	if m != nil {
		e.Model = m.Name
		if e.Field == "" {
			e.Field = fieldOfConstraint(m, constraint)
		}
	}
	return e
}

// classify turns a driver or context error into a store error. Store errors
// pass through unchanged.
func classify(err error, m *schema.Model, op string) error {
	if err == nil {
		return nil
	}

	if _, ok := AsError(err); ok {
		return err
	}

	model := ""
	if m != nil {
		model = m.Name
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Model: model, Op: op, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Model: model, Op: op, Err: err}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: KindNotFound, Model: model, Op: op, Err: err}
	case errors.Is(err, driver.ErrBadConn):
		return &Error{Kind: KindConnection, Model: model, Op: op, Err: err}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLite(sqliteErr, m, op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code, pgErr.ConstraintName, pgErr.ColumnName, m, op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code), pqErr.Constraint, pqErr.Column, m, op, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQL(myErr, m, op)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindConnection, Model: model, Op: op, Err: err}
	}

	return &Error{Kind: KindBackend, Model: model, Op: op, Err: err}
}

func classifySQLite(err sqlite3.Error, m *schema.Model, op string) error {
	model := ""
	if m != nil {
		model = m.Name
	}
	msg := err.Error()

	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		var field, constraint string
		if match := sqliteUniqueRe.FindStringSubmatch(msg); match != nil {
			field, constraint = fieldOfColumn(m, match[1])
		}
		return constraintErr(m, op, constraint, field, err)
	case sqlite3.ErrConstraintForeignKey:
		return constraintErr(m, op, "", "", err)
	case sqlite3.ErrConstraintNotNull:
		var field string
		if match := sqliteNotNullRe.FindStringSubmatch(msg); match != nil {
			field, _ = fieldOfColumn(m, match[1])
		}
		return constraintErr(m, op, "", field, err)
	case sqlite3.ErrConstraintCheck:
		var constraint string
		if match := sqliteCheckRe.FindStringSubmatch(msg); match != nil {
			constraint = match[1]
		}
		return constraintErr(m, op, constraint, "", err)
	}

	switch err.Code {
	case sqlite3.ErrConstraint:
		return constraintErr(m, op, "", "", err)
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return &Error{Kind: KindTimeout, Model: model, Op: op, Message: "database is locked", Err: err}
	case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
		return &Error{Kind: KindConnection, Model: model, Op: op, Err: err}
	case sqlite3.ErrInterrupt:
		return &Error{Kind: KindCanceled, Model: model, Op: op, Err: err}
	}

	return &Error{Kind: KindBackend, Model: model, Op: op, Err: err}
}

func classifySQLState(code, constraint, column string, m *schema.Model, op string, err error) error {
	model := ""
	if m != nil {
		model = m.Name
	}

	switch code {
	case "23505", "23503", "23514":
		return constraintErr(m, op, constraint, "", err)
	case "23502":
		field := ""
		if m != nil {
			if f, ok := m.FieldByColumn(column); ok {
				field = f.Name
			}
		}
		return constraintErr(m, op, constraint, field, err)
	case "57014":
		return &Error{Kind: KindCanceled, Model: model, Op: op, Err: err}
	case "55P03", "25P03":
		return &Error{Kind: KindTimeout, Model: model, Op: op, Err: err}
	case "0A000":
		return &Error{Kind: KindUnsupported, Model: model, Op: op, Err: err}
	}

	if strings.HasPrefix(code, "08") || code == "53300" || code == "57P01" {
		return &Error{Kind: KindConnection, Model: model, Op: op, Err: err}
	}

	return &Error{Kind: KindBackend, Model: model, Op: op, Err: err}
}

func classifyMySQL(err *mysql.MySQLError, m *schema.Model, op string) error {
	model := ""
	if m != nil {
		model = m.Name
	}

	switch err.Number {
	case 1062:
		var constraint string
		if match := mysqlKeyRe.FindStringSubmatch(err.Message); match != nil {
			constraint = match[1]
			if constraint == "PRIMARY" && m != nil {
				constraint = m.UniqueConstraint(m.PK())
			}
		}
		return constraintErr(m, op, constraint, "", err)
	case 1451, 1452:
		var constraint string
		if match := mysqlFKRe.FindStringSubmatch(err.Message); match != nil {
			constraint = match[1]
		}
		return constraintErr(m, op, constraint, "", err)
	case 1048:
		var field string
		if match := mysqlColumnRe.FindStringSubmatch(err.Message); match != nil && m != nil {
			if f, ok := m.FieldByColumn(match[1]); ok {
				field = f.Name
			}
		}
		return constraintErr(m, op, "", field, err)
	case 3819:
		var constraint string
		if match := mysqlCheckRe.FindStringSubmatch(err.Message); match != nil {
			constraint = match[1]
		}
		return constraintErr(m, op, constraint, "", err)
	case 1205, 3024:
		return &Error{Kind: KindTimeout, Model: model, Op: op, Err: err}
	case 1317:
		return &Error{Kind: KindCanceled, Model: model, Op: op, Err: err}
	case 1040, 1042, 1043, 1045, 2002, 2003, 2006, 2013:
		return &Error{Kind: KindConnection, Model: model, Op: op, Err: err}
	}

	return &Error{Kind: KindBackend, Model: model, Op: op, Err: err}
}
