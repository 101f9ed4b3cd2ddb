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
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/venuecrm/venuecrm/pkg/database"
	"gorm.io/gorm"
)

var migrateExample = `
  venuecrm migrate
  venuecrm migrate down --steps 2
  venuecrm migrate status`

func (a *app) withDB(fn func(db *gorm.DB) error) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close(db)

	return fn(db)
}

func newMigrateCmd(a *app) *cobra.Command {
	up := func(cmd *cobra.Command, args []string) error {
		return a.withDB(func(db *gorm.DB) error {
			n, err := database.Migrate(db)
			if err != nil {
				return errors.Wrap(err, "applying migrations")
			}

			successf(cmd.OutOrStdout(), "applied %d migrations\n", n)
			return nil
		})
	}

	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Apply the schema migrations",
		Example: migrateExample,
		Args:    cobra.NoArgs,
		RunE:    up,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE:  up,
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return errors.Errorf("invalid steps %d", steps)
			}

			return a.withDB(func(db *gorm.DB) error {
				n, err := database.Rollback(db, steps)
				if err != nil {
					return errors.Wrap(err, "rolling back migrations")
				}

				successf(cmd.OutOrStdout(), "rolled back %d migrations\n", n)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "the number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List the migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *gorm.DB) error {
				statuses, err := database.Status(db)
				if err != nil {
					return errors.Wrap(err, "getting migration status")
				}

				w := cmd.OutOrStdout()
				for _, s := range statuses {
					if s.Applied && s.AppliedAt != nil {
						plainf(w, "%s  applied %s\n", s.ID, s.AppliedAt.UTC().Format("2006-01-02 15:04:05"))
					} else {
						plainf(w, "%s  %s\n", s.ID, ColorGray.Sprint("pending"))
					}
				}
				return nil
			})
		},
	})

	return cmd
}
