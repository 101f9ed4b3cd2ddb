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
	"time"

	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQueryThreshold is the duration after which a statement is reported at warn level
const slowQueryThreshold = 500 * time.Millisecond

// getDBLogLevel maps the application log level to a gorm log level. SQL
// statements are only traced in debug mode.
func getDBLogLevel(level string) logger.LogLevel {
	switch level {
	case log.LevelDebug:
		return logger.Info
	case log.LevelWarn:
		return logger.Warn
	case log.LevelError:
		return logger.Error
	default:
		return logger.Silent
	}
}

// dbLogger writes gorm's log output through the structured logger
type dbLogger struct {
	level logger.LogLevel
}

// NewLogger returns a gorm logger for the given application log level
func NewLogger(level string) logger.Interface {
	return &dbLogger{level: getDBLogLevel(level)}
}

func (l *dbLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &dbLogger{level: level}
}

func (l *dbLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *dbLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *dbLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		log.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *dbLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		log.WithFields(log.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
			"error":   err,
		}).Debug("query failed")
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		log.WithFields(log.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
		}).Warn("slow query")
	case l.level >= logger.Info:
		sql, rows := fc()
		log.WithFields(log.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
		}).Debug("query")
	}
}
