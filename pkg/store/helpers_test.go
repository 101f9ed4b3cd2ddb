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
	"testing"

	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/clock"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/testutils"
	"gorm.io/gorm"
)

// setupClient returns a client over a fresh in-memory database and the
// mock clock it stamps records with
func setupClient(t *testing.T) (*Client, *gorm.DB, *clock.Mock) {
	db := testutils.InitMemoryDB(t)
	return newTestClient(t, db)
}

func newTestClient(t *testing.T, db *gorm.DB) (*Client, *gorm.DB, *clock.Mock) {
	c := clock.NewMock()
	client, err := New(db, Options{Clock: c})
	if err != nil {
		t.Fatal(errors.Wrap(err, "creating client"))
	}

	return client, db, c
}

// requireKind fails the test unless err is a store error of the given kind
func requireKind(t *testing.T, err error, kind Kind, message string) *Error {
	t.Helper()

	e, ok := AsError(err)
	if !ok {
		t.Fatalf("%s: got error %v, want %s", message, err, kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("%s: got %s (%v), want %s", message, got, err, kind)
	}
	return e
}

func mustNoErr(t *testing.T, err error, message string) {
	t.Helper()

	if err != nil {
		t.Fatal(errors.Wrap(err, message))
	}
}

func pluckIDs[T any](records []T, id func(T) int) []int {
	ret := []int{}
	for _, r := range records {
		ret = append(ret, id(r))
	}
	return ret
}

func leadID(l database.Lead) int { return l.ID }
