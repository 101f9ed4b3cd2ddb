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

package clock

import (
	"testing"
	"time"

	"github.com/venuecrm/venuecrm/pkg/assert"
)

func TestMock(t *testing.T) {
	c := NewMock()
	assert.Equal(t, c.Now(), DefaultMockTime, "initial time mismatch")

	now := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	c.SetNow(now)
	assert.Equal(t, c.Now(), now, "time after SetNow mismatch")

	got := c.Advance(90 * time.Minute)
	assert.Equal(t, got, now.Add(90*time.Minute), "Advance result mismatch")
	assert.Equal(t, c.Now(), now.Add(90*time.Minute), "time after Advance mismatch")
}

func TestMock_setNowUTC(t *testing.T) {
	c := NewMock()
	loc := time.FixedZone("UTC+2", 2*60*60)

	c.SetNow(time.Date(2025, time.June, 1, 12, 0, 0, 0, loc))

	assert.Equal(t, c.Now(), time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC), "time mismatch")
}

func TestNew(t *testing.T) {
	got := New().Now()

	assert.Equal(t, got.Location(), time.UTC, "location mismatch")
}
