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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/assert"
)

func captureOutput(t *testing.T, level string) *bytes.Buffer {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	prevLevel := GetLevel()
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(prev)
		SetLevel(prevLevel)
	})

	return &buf
}

func TestLevelFiltering(t *testing.T) {
	testCases := []struct {
		level    string
		expected []string
	}{
		{level: LevelDebug, expected: []string{"debug", "info", "warn", "error"}},
		{level: LevelInfo, expected: []string{"info", "warn", "error"}},
		{level: LevelWarn, expected: []string{"warn", "error"}},
		{level: LevelError, expected: []string{"error"}},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := captureOutput(t, tc.level)

			Debug("debug")
			Info("info")
			Warn("warn")
			Error("error")

			var got []string
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				if line == "" {
					continue
				}
				var m map[string]interface{}
				if err := json.Unmarshal([]byte(line), &m); err != nil {
					t.Fatalf("unmarshalling %q: %v", line, err)
				}
				got = append(got, m[fieldKeyMessage].(string))
			}

			assert.DeepEqual(t, got, tc.expected, "logged messages mismatch")
		})
	}
}

func TestWithFields(t *testing.T) {
	buf := captureOutput(t, LevelDebug)

	WithFields(Fields{"model": "Lead"}).
		WithFields(Fields{"err": errors.New("boom"), "count": 3}).
		Warn("bulk update")

	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatal(errors.Wrap(err, "unmarshalling log line"))
	}

	assert.Equal(t, m["model"], "Lead", "model field mismatch")
	assert.Equal(t, m["err"], "boom", "error field mismatch")
	assert.Equal(t, m["count"], float64(3), "count field mismatch")
	assert.Equal(t, m[fieldKeyLevel], LevelWarn, "level mismatch")
}

func TestIsValidLevel(t *testing.T) {
	assert.Equal(t, IsValidLevel("debug"), true, "debug should be valid")
	assert.Equal(t, IsValidLevel("trace"), false, "trace should be invalid")
}
