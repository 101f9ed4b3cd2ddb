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
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/assert"
	"github.com/venuecrm/venuecrm/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openMemoryDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(Params{Driver: DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatal(errors.Wrap(err, "opening database"))
	}
	t.Cleanup(func() {
		Close(db)
	})

	return db
}

func TestGetDBLogLevel(t *testing.T) {
	testCases := []struct {
		name     string
		level    string
		expected logger.LogLevel
	}{
		{
			name:     "debug level maps to Info",
			level:    log.LevelDebug,
			expected: logger.Info,
		},
		{
			name:     "info level maps to Silent",
			level:    log.LevelInfo,
			expected: logger.Silent,
		},
		{
			name:     "warn level maps to Warn",
			level:    log.LevelWarn,
			expected: logger.Warn,
		},
		{
			name:     "error level maps to Error",
			level:    log.LevelError,
			expected: logger.Error,
		},
		{
			name:     "empty string maps to Silent",
			level:    "",
			expected: logger.Silent,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := getDBLogLevel(tc.level)
			assert.Equal(t, result, tc.expected, "log level mismatch")
		})
	}
}

func TestSqliteDSN(t *testing.T) {
	testCases := []struct {
		dsn      string
		contains []string
		excludes []string
	}{
		{
			dsn:      "file:abc?mode=memory&cache=shared",
			contains: []string{"file:abc?", "mode=memory", "cache=shared", "_foreign_keys=1", "_cslike=1"},
			excludes: []string{"_txlock"},
		},
		{
			dsn:      "/var/lib/venuecrm/crm.db",
			contains: []string{"file:/var/lib/venuecrm/crm.db?", "_txlock=immediate", "_journal_mode=WAL"},
		},
		{
			dsn:      "crm.db?_busy_timeout=100",
			contains: []string{"_busy_timeout=100"},
			excludes: []string{"_busy_timeout=5000"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.dsn, func(t *testing.T) {
			got := sqliteDSN(tc.dsn)
			for _, s := range tc.contains {
				if !strings.Contains(got, s) {
					t.Errorf("%s does not contain %s", got, s)
				}
			}
			for _, s := range tc.excludes {
				if strings.Contains(got, s) {
					t.Errorf("%s should not contain %s", got, s)
				}
			}
		})
	}
}

func TestOpen_invalidParams(t *testing.T) {
	_, err := Open(Params{Driver: "oracle", DSN: "x"})
	assert.Equal(t, errors.Cause(err), ErrUnknownDriver, "error mismatch")

	_, err = Open(Params{Driver: DriverSQLite})
	assert.Equal(t, errors.Cause(err), ErrEmptyDSN, "error mismatch")
}

func TestOpen_memoryPoolSize(t *testing.T) {
	db := openMemoryDB(t)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, sqlDB.Stats().MaxOpenConnections, 1, "memory databases use a single connection")
	assert.Equal(t, DriverOf(db), DriverSQLite, "driver mismatch")
}

func TestMaintain(t *testing.T) {
	db := openMemoryDB(t)
	if _, err := Migrate(db); err != nil {
		t.Fatal(errors.Wrap(err, "migrating"))
	}

	if err := Maintain(context.Background(), db); err != nil {
		t.Fatal(errors.Wrap(err, "running maintenance"))
	}
}

func TestStartMaintenance(t *testing.T) {
	db := openMemoryDB(t)

	c, err := StartMaintenance(db, "@every 1h")
	if err != nil {
		t.Fatal(errors.Wrap(err, "starting maintenance"))
	}
	c.Stop()

	_, err = StartMaintenance(db, "not a schedule")
	assert.NotEqual(t, err, nil, "invalid schedule should fail")
}
