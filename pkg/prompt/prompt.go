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

// Package prompt asks yes/no questions on a terminal
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// FormatQuestion appends the choices to question. The capitalized choice is
// the answer to an empty reply.
func FormatQuestion(question string, optimistic bool) string {
	if optimistic {
		return question + " (Y/n)"
	}
	return question + " (y/N)"
}

// parseAnswer interprets one line of input
func parseAnswer(line string, optimistic bool) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "":
		return optimistic
	}
	return false
}

// Confirm writes the question to w and reads the answer from r. Input that
// ends without a newline is still read, and no input at all is an empty
// reply.
func Confirm(r io.Reader, w io.Writer, question string, optimistic bool) (bool, error) {
	fmt.Fprintf(w, "%s ", FormatQuestion(question, optimistic))

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, "reading answer")
	}

	return parseAnswer(line, optimistic), nil
}
