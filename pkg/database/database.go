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

// Package database owns the relational schema of the CRM: the gorm models,
// backend connections and migrations.
package database

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	// DriverSQLite is the sqlite3 backend
	DriverSQLite = "sqlite3"
	// DriverPostgres is the PostgreSQL backend
	DriverPostgres = "postgres"
	// DriverMySQL is the MySQL backend
	DriverMySQL = "mysql"
)

const (
	// PGDriverPgx selects jackc/pgx as the postgres database/sql driver
	PGDriverPgx = "pgx"
	// PGDriverPQ selects lib/pq as the postgres database/sql driver
	PGDriverPQ = "postgres"
)

var (
	// ErrUnknownDriver is returned when the configured driver is not supported
	ErrUnknownDriver = errors.New("unknown database driver")
	// ErrEmptyDSN is returned when no data source name was given
	ErrEmptyDSN = errors.New("empty data source name")
)

// Params configures a database connection
type Params struct {
	Driver   string
	DSN      string
	PGDriver string
	// MaxOpenConns caps the pool size. Zero leaves the driver default.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// IsMemorySQLite reports whether dsn points at an in-memory sqlite database
func IsMemorySQLite(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN appends the connection parameters the store relies on: enforced
// foreign keys, case sensitive LIKE and a busy timeout. File databases also
// take the write lock when a transaction begins.
func sqliteDSN(dsn string) string {
	base, query, _ := strings.Cut(dsn, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		values = url.Values{}
	}

	setDefault := func(key, val string) {
		if values.Get(key) == "" {
			values.Set(key, val)
		}
	}
	setDefault("_foreign_keys", "1")
	setDefault("_cslike", "1")
	setDefault("_busy_timeout", "5000")
	if !IsMemorySQLite(dsn) {
		setDefault("_txlock", "immediate")
		setDefault("_journal_mode", "WAL")
	}

	if base == ":memory:" {
		return "file::memory:?" + values.Encode()
	}
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}

	return base + "?" + values.Encode()
}

func sqlitePath(dsn string) string {
	base, _, _ := strings.Cut(dsn, "?")
	return strings.TrimPrefix(base, "file:")
}

// mysqlDSN makes sure time columns scan into time.Time in UTC
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parsing mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	return cfg.FormatDSN(), nil
}

func dialector(p Params) (gorm.Dialector, error) {
	if p.DSN == "" {
		return nil, ErrEmptyDSN
	}

	switch p.Driver {
	case DriverSQLite, "sqlite", "":
		if !IsMemorySQLite(p.DSN) {
			dir := filepath.Dir(sqlitePath(p.DSN))
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrapf(err, "creating database directory at %s", dir)
			}
		}
		return sqlite.Open(sqliteDSN(p.DSN)), nil
	case DriverPostgres:
		driverName := p.PGDriver
		if driverName == "" {
			driverName = PGDriverPgx
		}
		return postgres.New(postgres.Config{
			DriverName: driverName,
			DSN:        p.DSN,
		}), nil
	case DriverMySQL:
		dsn, err := mysqlDSN(p.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	}

	return nil, errors.Wrapf(ErrUnknownDriver, "'%s'", p.Driver)
}

// Open initializes the database connection pool
func Open(p Params) (*gorm.DB, error) {
	d, err := dialector(p)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 NewLogger(p.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening database connection")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "getting the connection pool")
	}

	maxOpen := p.MaxOpenConns
	if (p.Driver == DriverSQLite || p.Driver == "sqlite" || p.Driver == "") && IsMemorySQLite(p.DSN) {
		// every connection to a private memory database sees its own data
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if p.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.ConnMaxLifetime)
	}

	return db, nil
}

// Close releases the connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "getting the connection pool")
	}

	return sqlDB.Close()
}

// DriverOf returns the backend name the connection was opened with
func DriverOf(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return DriverSQLite
	case "postgres":
		return DriverPostgres
	case "mysql":
		return DriverMySQL
	}

	return db.Dialector.Name()
}
