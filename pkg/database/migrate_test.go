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
	"testing"
	"testing/fstest"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/venuecrm/venuecrm/pkg/assert"
)

// unsortedFS wraps fstest.MapFS to return entries in reverse order
type unsortedFS struct {
	fstest.MapFS
}

func (u unsortedFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := u.MapFS.ReadDir(name)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func TestValidateMigrationFilename(t *testing.T) {
	testCases := []struct {
		name  string
		valid bool
	}{
		{name: "001-create-crm-schema.sql", valid: true},
		{name: "123-x.sql", valid: true},
		{name: "001-create.txt", valid: false},
		{name: "001.sql", valid: false},
		{name: "01-short.sql", valid: false},
		{name: "0a1-alpha.sql", valid: false},
		{name: "001-.sql", valid: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateMigrationFilename(tc.name)
			assert.Equal(t, err == nil, tc.valid, "validity mismatch")
		})
	}
}

func TestGetMigrationFiles(t *testing.T) {
	t.Run("sorted", func(t *testing.T) {
		fsys := unsortedFS{fstest.MapFS{
			"001-a.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\n")},
			"003-c.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\n")},
			"002-b.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\n")},
		}}

		files, err := getMigrationFiles(fsys)
		if err != nil {
			t.Fatal(err)
		}

		assert.DeepEqual(t, files, []string{"001-a.sql", "002-b.sql", "003-c.sql"}, "files mismatch")
	})

	t.Run("duplicate version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"001-a.sql":     &fstest.MapFile{Data: []byte("-- +migrate Up\n")},
			"001-other.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\n")},
		}

		_, err := getMigrationFiles(fsys)
		assert.NotEqual(t, err, nil, "duplicate versions should fail")
	})
}

func TestRun_idempotency(t *testing.T) {
	db := openMemoryDB(t)

	if err := db.Exec("CREATE TABLE counter (value INTEGER)").Error; err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	fsys := fstest.MapFS{
		"001-insert-data.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nINSERT INTO counter (value) VALUES (100);\n\n-- +migrate Down\nDELETE FROM counter;\n"),
		},
	}

	n, err := run(db, fsys, migrate.Up, 0)
	if err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	assert.Equal(t, n, 1, "applied count mismatch")

	n, err = run(db, fsys, migrate.Up, 0)
	if err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	assert.Equal(t, n, 0, "second run should apply nothing")

	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM counter").Scan(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	assert.Equal(t, count, int64(1), "row count mismatch")
}

func TestMigrate_embedded(t *testing.T) {
	db := openMemoryDB(t)

	n, err := Migrate(db)
	if err != nil {
		t.Fatal(errors.Wrap(err, "migrating"))
	}
	assert.Equal(t, n, 2, "applied count mismatch")

	for _, table := range Tables {
		var count int64
		if err := db.Raw("SELECT COUNT(*) FROM " + table).Scan(&count).Error; err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	statuses, err := Status(db)
	if err != nil {
		t.Fatal(errors.Wrap(err, "reading status"))
	}
	assert.Equal(t, len(statuses), 2, "status count mismatch")
	for _, s := range statuses {
		assert.Equal(t, s.Applied, true, s.ID+" should be applied")
	}

	n, err = Rollback(db, 1)
	if err != nil {
		t.Fatal(errors.Wrap(err, "rolling back"))
	}
	assert.Equal(t, n, 1, "rollback count mismatch")

	statuses, err = Status(db)
	if err != nil {
		t.Fatal(errors.Wrap(err, "reading status"))
	}
	assert.Equal(t, statuses[1].Applied, false, "latest migration should be reverted")

	_, err = Rollback(db, 0)
	assert.NotEqual(t, err, nil, "zero steps should fail")
}
