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

package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/venuecrm/venuecrm/pkg/prompt"
)

var (
	// ColorRed is a red foreground color
	ColorRed = color.New(color.FgRed)
	// ColorGreen is a green foreground color
	ColorGreen = color.New(color.FgGreen)
	// ColorBlue is a blue foreground color
	ColorBlue = color.New(color.FgBlue)
	// ColorGray is a gray foreground color
	ColorGray = color.New(color.FgHiBlack)
)

var indent = "  "

func infof(w io.Writer, msg string, v ...interface{}) {
	fmt.Fprintf(w, "%s%s %s", indent, ColorBlue.Sprint("•"), fmt.Sprintf(msg, v...))
}

func successf(w io.Writer, msg string, v ...interface{}) {
	fmt.Fprintf(w, "%s%s %s", indent, ColorGreen.Sprint("✔"), fmt.Sprintf(msg, v...))
}

func plainf(w io.Writer, msg string, v ...interface{}) {
	fmt.Fprintf(w, "%s%s", indent, fmt.Sprintf(msg, v...))
}

// Errorf prints an error message with optional format verbs
func Errorf(w io.Writer, msg string, v ...interface{}) {
	fmt.Fprintf(w, "%s%s %s", indent, ColorRed.Sprint("⨯"), fmt.Sprintf(msg, v...))
}

// confirm asks the question on the command's terminal unless skip is set.
// A declined question prints a notice and returns false.
func confirm(cmd *cobra.Command, skip bool, question string) (bool, error) {
	if skip {
		return true, nil
	}

	w := cmd.OutOrStdout()
	ok, err := prompt.Confirm(cmd.InOrStdin(), w, fmt.Sprintf("%s%s", indent, question), false)
	if err != nil {
		return false, errors.Wrap(err, "getting confirmation")
	}
	if !ok {
		infof(w, "aborted\n")
	}

	return ok, nil
}
