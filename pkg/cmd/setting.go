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
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/store"
)

var settingExample = `
  venuecrm setting set currency '"EUR"'
  venuecrm setting set booking '{"depositPercent": 30}'
  venuecrm setting get booking
  venuecrm setting list
  venuecrm setting delete booking`

// settingValue returns v as a JSON document. Text that is not JSON is stored
// as a JSON string.
func settingValue(v string) json.RawMessage {
	if json.Valid([]byte(v)) {
		return json.RawMessage(v)
	}

	b, _ := json.Marshal(v)
	return b
}

func newSettingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "setting",
		Short:   "Manage application settings",
		Example: settingExample,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *store.Client) error {
				s, err := c.AppSetting.FindUniqueOrThrow(cmd.Context(), store.FindUniqueArgs{
					Where: filter.Unique{"key": args[0]},
				})
				if errors.Is(err, store.ErrNotFound) {
					return errors.Errorf("setting '%s' not found", args[0])
				} else if err != nil {
					return errors.Wrap(err, "finding setting")
				}

				cmd.OutOrStdout().Write(append([]byte(s.Value), '\n'))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Create or replace a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], settingValue(args[1])

			return a.withClient(func(c *store.Client) error {
				_, err := c.AppSetting.Upsert(cmd.Context(), store.UpsertArgs{
					Where:  filter.Unique{"key": key},
					Create: store.Data{"key": key, "value": value},
					Update: store.Data{"value": value},
				})
				if err != nil {
					return errors.Wrap(err, "saving setting")
				}

				successf(cmd.OutOrStdout(), "set %s\n", key)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *store.Client) error {
				settings, err := c.AppSetting.FindMany(cmd.Context(), store.FindManyArgs{
					Window: store.Window{OrderBy: []filter.OrderBy{filter.AscBy("key")}},
				})
				if err != nil {
					return errors.Wrap(err, "listing settings")
				}

				w := cmd.OutOrStdout()
				if len(settings) == 0 {
					infof(w, "no settings\n")
					return nil
				}
				for _, s := range settings {
					plainf(w, "%s = %s\n", ColorBlue.Sprint(s.Key), string(s.Value))
				}
				return nil
			})
		},
	})

	var yes bool
	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(cmd, yes, fmt.Sprintf("Delete setting %s?", args[0]))
			if err != nil || !ok {
				return err
			}

			return a.withClient(func(c *store.Client) error {
				_, err := c.AppSetting.Delete(cmd.Context(), store.DeleteArgs{
					Where: filter.Unique{"key": args[0]},
				})
				if errors.Is(err, store.ErrNotFound) {
					return errors.Errorf("setting '%s' not found", args[0])
				} else if err != nil {
					return errors.Wrap(err, "deleting setting")
				}

				successf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	cmd.AddCommand(del)

	return cmd
}
