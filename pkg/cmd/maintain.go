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
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/venuecrm/venuecrm/pkg/database"
	"gorm.io/gorm"
)

var maintainExample = `
  venuecrm maintain
  venuecrm maintain --schedule "0 30 3 * * *"`

func newMaintainCmd(a *app) *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:     "maintain",
		Short:   "Reclaim space and refresh planner statistics",
		Long:    "Run database maintenance once, or on a cron schedule until interrupted",
		Example: maintainExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(func(db *gorm.DB) error {
				if !cmd.Flags().Changed("schedule") {
					if err := database.Maintain(cmd.Context(), db); err != nil {
						return errors.Wrap(err, "running maintenance")
					}

					successf(cmd.OutOrStdout(), "maintenance complete\n")
					return nil
				}

				spec := schedule
				if spec == "" {
					spec = a.cfg.MaintenanceSchedule
				}

				ctx, stop := notifyContext(cmd.Context())
				defer stop()

				return runScheduled(ctx, db, spec, func(spec string) {
					infof(cmd.OutOrStdout(), "maintenance scheduled with '%s'\n", spec)
				})
			})
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule with seconds, or a descriptor such as @daily (default from MAINTENANCE_SCHEDULE)")

	return cmd
}

// runScheduled runs maintenance on the schedule until ctx is done
func runScheduled(ctx context.Context, db *gorm.DB, schedule string, started func(spec string)) error {
	c, err := database.StartMaintenance(db, schedule)
	if err != nil {
		return errors.Wrap(err, "scheduling maintenance")
	}
	defer c.Stop()

	if started != nil {
		started(schedule)
	}

	<-ctx.Done()
	return nil
}
