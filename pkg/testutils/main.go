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

// Package testutils provides utilities used in tests
package testutils

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/database"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Now is the time stamped on the records created by the setup helpers
var Now = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

func migrate(t *testing.T, db *gorm.DB) {
	if _, err := database.Migrate(db); err != nil {
		t.Fatal(errors.Wrap(err, "migrating the database"))
	}
}

// InitMemoryDB creates an in-memory SQLite database with the schema
// migrated. Each call gets its own database.
func InitMemoryDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open(database.Params{Driver: database.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatal(errors.Wrap(err, "opening in-memory database"))
	}
	t.Cleanup(func() {
		database.Close(db)
	})

	migrate(t, db)
	return db
}

// InitFileDB creates a SQLite database file in a temporary directory with
// the schema migrated. Unlike memory databases it allows concurrent
// connections.
func InitFileDB(t *testing.T) *gorm.DB {
	dsn := filepath.Join(t.TempDir(), "venuecrm.db")
	db, err := database.Open(database.Params{Driver: database.DriverSQLite, DSN: dsn, MaxOpenConns: 8})
	if err != nil {
		t.Fatal(errors.Wrap(err, "opening database file"))
	}
	t.Cleanup(func() {
		database.Close(db)
	})

	migrate(t, db)
	return db
}

// MustExec fails the test if the given database operation failed
func MustExec(t *testing.T, db *gorm.DB, message string) {
	t.Helper()

	if err := db.Error; err != nil {
		t.Fatal(errors.Wrap(err, message))
	}
}

// SetupUserData creates and returns a new active user with a hashed password
func SetupUserData(t *testing.T, db *gorm.DB, email, password string) database.User {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(errors.Wrap(err, "hashing password"))
	}

	user := database.User{
		Username:     email,
		Email:        email,
		PasswordHash: string(hashed),
		IsActive:     true,
		Role:         database.RoleSales,
		CreatedAt:    Now,
		UpdatedAt:    Now,
	}
	MustExec(t, db.Create(&user), "preparing user")

	return user
}

// SetupContact creates and returns a contact with the given phone number
func SetupContact(t *testing.T, db *gorm.DB, firstName, phone string) database.Contact {
	contact := database.Contact{
		FirstName: firstName,
		Phone:     phone,
		CreatedAt: Now,
		UpdatedAt: Now,
	}
	MustExec(t, db.Create(&contact), "preparing contact")

	return contact
}

// SetupSource creates and returns a lead source
func SetupSource(t *testing.T, db *gorm.DB, name string) database.Sources {
	source := database.Sources{
		Name:      name,
		CreatedAt: Now,
		UpdatedAt: Now,
	}
	MustExec(t, db.Create(&source), "preparing source")

	return source
}

// SetupLead creates and returns a lead of the contact
func SetupLead(t *testing.T, db *gorm.DB, contactID int, status string, budget float64) database.Lead {
	lead := database.Lead{
		Status:       status,
		ClientBudget: budget,
		ContactID:    contactID,
		CreatedAt:    Now,
		UpdatedAt:    Now,
	}
	MustExec(t, db.Create(&lead), "preparing lead")

	return lead
}

// SetupPayment creates and returns a payment against the lead
func SetupPayment(t *testing.T, db *gorm.DB, leadID int, amount float64) database.Payment {
	payment := database.Payment{
		Amount:    amount,
		Date:      Now,
		Type:      "Advance",
		LeadID:    leadID,
		CreatedAt: Now,
		UpdatedAt: Now,
	}
	MustExec(t, db.Create(&payment), "preparing payment")

	return payment
}
