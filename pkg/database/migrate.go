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

package database

import (
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/venuecrm/venuecrm/pkg/database/migrations"
	"github.com/venuecrm/venuecrm/pkg/log"
	"gorm.io/gorm"
)

// MigrationTableName is the name of the table that keeps track of migrations
var MigrationTableName = "venuecrm_migrations"

// MigrationStatus describes one migration file and whether it was applied
type MigrationStatus struct {
	ID        string
	Applied   bool
	AppliedAt *time.Time
}

// validateMigrationFilename checks if filename follows format: NNN-description.sql
func validateMigrationFilename(name string) error {
	if !strings.HasSuffix(name, ".sql") {
		return errors.Errorf("invalid migration filename: must end with .sql")
	}

	name = strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return errors.Errorf("invalid migration filename: must be NNN-description.sql")
	}

	version, description := parts[0], parts[1]
	if len(version) != 3 {
		return errors.Errorf("invalid migration filename: version must be 3 digits, got %s", version)
	}
	for _, c := range version {
		if c < '0' || c > '9' {
			return errors.Errorf("invalid migration filename: version must be numeric, got %s", version)
		}
	}
	if description == "" {
		return errors.Errorf("invalid migration filename: description is required")
	}

	return nil
}

// getMigrationFiles reads, validates, and sorts migration filenames
func getMigrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "reading migration directory")
	}

	var names []string
	seen := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if err := validateMigrationFilename(name); err != nil {
			return nil, err
		}

		version := name[:3]
		if existing, found := seen[version]; found {
			return nil, errors.Errorf("duplicate migration version %s: %s and %s", version, existing, name)
		}
		seen[version] = name

		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// migrationDialect returns the sql-migrate dialect name for the connection
func migrationDialect(db *gorm.DB) (string, error) {
	switch d := DriverOf(db); d {
	case DriverSQLite, DriverPostgres, DriverMySQL:
		return d, nil
	default:
		return "", errors.Wrapf(ErrUnknownDriver, "'%s'", d)
	}
}

// migrationSource returns the embedded migrations for the connection's backend
func migrationSource(db *gorm.DB) (fs.FS, error) {
	dialect, err := migrationDialect(db)
	if err != nil {
		return nil, err
	}

	sub, err := fs.Sub(migrations.Files, dialect)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s migrations", dialect)
	}

	return sub, nil
}

func migrationSet() *migrate.MigrationSet {
	return &migrate.MigrationSet{TableName: MigrationTableName}
}

// Migrate applies all pending migrations using the embedded migration files.
// It returns the number of applied migrations.
func Migrate(db *gorm.DB) (int, error) {
	fsys, err := migrationSource(db)
	if err != nil {
		return 0, err
	}

	return run(db, fsys, migrate.Up, 0)
}

// Rollback reverts the given number of most recently applied migrations
func Rollback(db *gorm.DB, steps int) (int, error) {
	if steps < 1 {
		return 0, errors.Errorf("invalid number of steps %d", steps)
	}

	fsys, err := migrationSource(db)
	if err != nil {
		return 0, err
	}

	return run(db, fsys, migrate.Down, steps)
}

// run executes migrations from the provided filesystem in the given direction.
// max of zero means no limit.
func run(db *gorm.DB, fsys fs.FS, dir migrate.MigrationDirection, max int) (int, error) {
	files, err := getMigrationFiles(fsys)
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"files": files,
	}).Debug("Database migration files.")

	dialect, err := migrationDialect(db)
	if err != nil {
		return 0, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return 0, errors.Wrap(err, "getting the connection pool")
	}

	src := &migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(fsys)}
	n, err := migrationSet().ExecMax(sqlDB, dialect, src, dir, max)
	if err != nil {
		return n, errors.Wrap(err, "running migrations")
	}

	log.WithFields(log.Fields{
		"applied":   n,
		"direction": directionName(dir),
	}).Info("Database migrations complete.")

	return n, nil
}

func directionName(dir migrate.MigrationDirection) string {
	if dir == migrate.Down {
		return "down"
	}
	return "up"
}

// Status lists the embedded migrations with their applied state
func Status(db *gorm.DB) ([]MigrationStatus, error) {
	fsys, err := migrationSource(db)
	if err != nil {
		return nil, err
	}

	return status(db, fsys)
}

func status(db *gorm.DB, fsys fs.FS) ([]MigrationStatus, error) {
	dialect, err := migrationDialect(db)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "getting the connection pool")
	}

	src := &migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(fsys)}
	all, err := src.FindMigrations()
	if err != nil {
		return nil, errors.Wrap(err, "finding migrations")
	}

	records, err := migrationSet().GetMigrationRecords(sqlDB, dialect)
	if err != nil {
		return nil, errors.Wrap(err, "reading migration records")
	}

	applied := make(map[string]time.Time, len(records))
	for _, r := range records {
		applied[r.Id] = r.AppliedAt
	}

	ret := make([]MigrationStatus, 0, len(all))
	for _, m := range all {
		s := MigrationStatus{ID: m.Id}
		if at, ok := applied[m.Id]; ok {
			at := at
			s.Applied = true
			s.AppliedAt = &at
		}
		ret = append(ret, s)
	}

	return ret, nil
}
