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

package prompt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/venuecrm/venuecrm/pkg/assert"
)

func TestFormatQuestion(t *testing.T) {
	testCases := []struct {
		question   string
		optimistic bool
		expected   string
	}{
		{
			question:   "Delete setting currency?",
			optimistic: false,
			expected:   "Delete setting currency? (y/N)",
		},
		{
			question:   "Continue?",
			optimistic: true,
			expected:   "Continue? (Y/n)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.question, func(t *testing.T) {
			result := FormatQuestion(tc.question, tc.optimistic)
			assert.Equal(t, result, tc.expected, "formatted question mismatch")
		})
	}
}

func TestConfirm(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		optimistic bool
		expected   bool
	}{
		{name: "y", input: "y\n", expected: true},
		{name: "uppercase yes", input: "YES\n", expected: true},
		{name: "n", input: "n\n", expected: false},
		{name: "empty pessimistic", input: "\n", expected: false},
		{name: "empty optimistic", input: "\n", optimistic: true, expected: true},
		{name: "n optimistic", input: "n\n", optimistic: true, expected: false},
		{name: "no newline", input: "y", expected: true},
		{name: "no input", input: "", expected: false},
		{name: "no input optimistic", input: "", optimistic: true, expected: true},
		{name: "padded", input: "  y  \n", expected: true},
		{name: "other", input: "maybe\n", optimistic: true, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer

			got, err := Confirm(strings.NewReader(tc.input), &out, "Proceed?", tc.optimistic)
			if err != nil {
				t.Fatal(err)
			}

			assert.Equal(t, got, tc.expected, "answer mismatch")
			assert.Equal(t, out.String(), FormatQuestion("Proceed?", tc.optimistic)+" ", "question mismatch")
		})
	}
}
