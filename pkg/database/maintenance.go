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

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"github.com/venuecrm/venuecrm/pkg/log"
	"gorm.io/gorm"
)

// DefaultMaintenanceSchedule runs maintenance once a day
const DefaultMaintenanceSchedule = "@daily"

// Tables lists every table of the schema in dependency order, parents first
var Tables = []string{
	"users",
	"sessions",
	"contacts",
	"sources",
	"leads",
	"payments",
	"lead_activities",
	"notifications",
	"app_settings",
}

// maintenanceStatements returns the statements that reclaim space and refresh
// planner statistics for the backend
func maintenanceStatements(driver string) []string {
	switch driver {
	case DriverSQLite:
		return []string{
			"PRAGMA wal_checkpoint(TRUNCATE)",
			"VACUUM",
			"ANALYZE",
		}
	case DriverPostgres:
		return []string{"VACUUM ANALYZE"}
	case DriverMySQL:
		return []string{fmt.Sprintf("ANALYZE TABLE %s", strings.Join(Tables, ", "))}
	}

	return nil
}

// Maintain runs the maintenance statements once
func Maintain(ctx context.Context, db *gorm.DB) error {
	driver := DriverOf(db)
	start := time.Now()

	for _, stmt := range maintenanceStatements(driver) {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return errors.Wrapf(err, "executing '%s'", stmt)
		}
	}

	log.WithFields(log.Fields{
		"driver":  driver,
		"elapsed": time.Since(start),
	}).Info("Database maintenance complete.")

	return nil
}

// StartMaintenance schedules Maintain with the given cron spec. The caller
// stops the returned scheduler on shutdown.
func StartMaintenance(db *gorm.DB, spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultMaintenanceSchedule
	}

	c := cron.New()
	err := c.AddFunc(spec, func() {
		if err := Maintain(context.Background(), db); err != nil {
			log.ErrorWrap(err, "running database maintenance")
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "parsing schedule '%s'", spec)
	}

	c.Start()

	return c, nil
}
