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

// Package config resolves the runtime configuration of venuecrm from explicit
// parameters, an optional YAML file and the environment
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/dirs"
	"github.com/venuecrm/venuecrm/pkg/log"
	"gopkg.in/yaml.v2"
)

const (
	// AppEnvProduction represents an app environment for production.
	AppEnvProduction string = "PRODUCTION"
	// AppEnvDevelopment represents an app environment for local development.
	AppEnvDevelopment string = "DEVELOPMENT"
	// DefaultDBFilename is the default SQLite database filename
	DefaultDBFilename = "venuecrm.db"
	// DefaultConfigFilename is the name of the YAML file looked up in the
	// config home
	DefaultConfigFilename = "config.yaml"
)

var (
	// ErrDBMissingDSN is an error for a non-SQLite backend without a data source name
	ErrDBMissingDSN = errors.New("DATABASE_URL is empty")
	// ErrDBDriverInvalid is an error for an unsupported database backend
	ErrDBDriverInvalid = errors.New("Invalid database driver")
	// ErrPGDriverInvalid is an error for an unsupported postgres database/sql driver
	ErrPGDriverInvalid = errors.New("Invalid postgres driver")
	// ErrPortInvalid is an error for an incomplete configuration with invalid port
	ErrPortInvalid = errors.New("Invalid Port")
	// ErrLogLevelInvalid is an error for an unknown log level
	ErrLogLevelInvalid = errors.New("Invalid log level")
	// ErrJWTSecretMissing is an error for a production configuration without a
	// token signing secret
	ErrJWTSecretMissing = errors.New("JWT_SECRET is required in production")
	// ErrNumberInvalid is an error for a malformed or negative numeric setting
	ErrNumberInvalid = errors.New("Invalid number")
	// ErrBoolInvalid is an error for a malformed boolean setting
	ErrBoolInvalid = errors.New("Invalid boolean")
	// ErrDurationInvalid is an error for a malformed or negative duration setting
	ErrDurationInvalid = errors.New("Invalid duration")
	// ErrScheduleInvalid is an error for a maintenance schedule cron cannot parse
	ErrScheduleInvalid = errors.New("Invalid maintenance schedule")
)

// DefaultDSN returns the path of the default SQLite database
func DefaultDSN() string {
	return dirs.DataFile(DefaultDBFilename)
}

// DefaultFile returns the path of the default YAML configuration file
func DefaultFile() string {
	return dirs.ConfigFile(DefaultConfigFilename)
}

// getOrEnv returns value if non-empty, otherwise env var, otherwise default
func getOrEnv(value, envKey, defaultVal string) string {
	if value != "" {
		return value
	}
	if env := os.Getenv(envKey); env != "" {
		return env
	}
	return defaultVal
}

func getIntOrEnv(value int, envKey string, defaultVal int) (int, error) {
	if value != 0 {
		return value, nil
	}
	env := os.Getenv(envKey)
	if env == "" {
		return defaultVal, nil
	}

	n, err := strconv.Atoi(env)
	if err != nil {
		return 0, errors.Wrapf(ErrNumberInvalid, "%s '%s'", envKey, env)
	}
	return n, nil
}

func getFloatOrEnv(value float64, envKey string, defaultVal float64) (float64, error) {
	if value != 0 {
		return value, nil
	}
	env := os.Getenv(envKey)
	if env == "" {
		return defaultVal, nil
	}

	f, err := strconv.ParseFloat(env, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrNumberInvalid, "%s '%s'", envKey, env)
	}
	return f, nil
}

func getBoolOrEnv(value bool, envKey string) (bool, error) {
	if value {
		return true, nil
	}
	env := os.Getenv(envKey)
	if env == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(env)
	if err != nil {
		return false, errors.Wrapf(ErrBoolInvalid, "%s '%s'", envKey, env)
	}
	return b, nil
}

func getDurationOrEnv(value time.Duration, envKey string, defaultVal time.Duration) (time.Duration, error) {
	if value != 0 {
		return value, nil
	}
	env := os.Getenv(envKey)
	if env == "" {
		return defaultVal, nil
	}

	d, err := time.ParseDuration(env)
	if err != nil {
		return 0, errors.Wrapf(ErrDurationInvalid, "%s '%s'", envKey, env)
	}
	return d, nil
}

// Config is an application configuration
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string
	DB       database.Params

	// JWTSecret enables HS256 bearer authentication on the gateway
	JWTSecret string
	// RateLimit is the number of gateway requests per second allowed for one
	// client address. Zero disables the limit.
	RateLimit float64
	// TrustProxy keys the rate limit on the X-Forwarded-For and X-Real-IP
	// headers instead of the peer address. Only set it behind a proxy that
	// overwrites them.
	TrustProxy bool

	MaxOpsPerSecond float64
	AcquireTimeout  time.Duration
	TxMaxWait       time.Duration
	TxTimeout       time.Duration

	MaintenanceSchedule string
}

// Params are the configuration parameters for creating a new Config
type Params struct {
	AppEnv              string        `yaml:"appEnv"`
	Port                string        `yaml:"port"`
	LogLevel            string        `yaml:"logLevel"`
	DBDriver            string        `yaml:"dbDriver"`
	DatabaseURL         string        `yaml:"databaseURL"`
	PGDriver            string        `yaml:"pgDriver"`
	MaxOpenConns        int           `yaml:"maxOpenConns"`
	JWTSecret           string        `yaml:"jwtSecret"`
	RateLimit           float64       `yaml:"rateLimit"`
	TrustProxy          bool          `yaml:"trustProxy"`
	MaxOpsPerSecond     float64       `yaml:"maxOpsPerSecond"`
	AcquireTimeout      time.Duration `yaml:"acquireTimeout"`
	TxMaxWait           time.Duration `yaml:"txMaxWait"`
	TxTimeout           time.Duration `yaml:"txTimeout"`
	MaintenanceSchedule string        `yaml:"maintenanceSchedule"`
}

// LoadFile fills the empty fields of p from the YAML file at path. Durations
// are written as "2s". A missing file is not an error when optional is true.
func LoadFile(path string, p Params, optional bool) (Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return p, nil
		}
		return p, errors.Wrapf(err, "reading config file %s", path)
	}

	var fp Params
	if err := yaml.UnmarshalStrict(b, &fp); err != nil {
		return p, errors.Wrapf(err, "parsing config file %s", path)
	}

	return p.merge(fp), nil
}

// merge returns p with its zero fields taken from o
func (p Params) merge(o Params) Params {
	str := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	str(&p.AppEnv, o.AppEnv)
	str(&p.Port, o.Port)
	str(&p.LogLevel, o.LogLevel)
	str(&p.DBDriver, o.DBDriver)
	str(&p.DatabaseURL, o.DatabaseURL)
	str(&p.PGDriver, o.PGDriver)
	str(&p.JWTSecret, o.JWTSecret)
	str(&p.MaintenanceSchedule, o.MaintenanceSchedule)

	if p.MaxOpenConns == 0 {
		p.MaxOpenConns = o.MaxOpenConns
	}
	if p.RateLimit == 0 {
		p.RateLimit = o.RateLimit
	}
	if !p.TrustProxy {
		p.TrustProxy = o.TrustProxy
	}
	if p.MaxOpsPerSecond == 0 {
		p.MaxOpsPerSecond = o.MaxOpsPerSecond
	}
	if p.AcquireTimeout == 0 {
		p.AcquireTimeout = o.AcquireTimeout
	}
	if p.TxMaxWait == 0 {
		p.TxMaxWait = o.TxMaxWait
	}
	if p.TxTimeout == 0 {
		p.TxTimeout = o.TxTimeout
	}

	return p
}

// New constructs and returns a new validated config.
// Empty params will fall back to environment variables and defaults.
func New(p Params) (Config, error) {
	driver := getOrEnv(p.DBDriver, "DB_DRIVER", database.DriverSQLite)

	dsn := getOrEnv(p.DatabaseURL, "DATABASE_URL", "")
	if dsn == "" && isSQLite(driver) {
		dsn = DefaultDSN()
	}

	c := Config{
		AppEnv:              strings.ToUpper(getOrEnv(p.AppEnv, "APP_ENV", AppEnvDevelopment)),
		Port:                getOrEnv(p.Port, "PORT", "3000"),
		LogLevel:            strings.ToLower(getOrEnv(p.LogLevel, "LOG_LEVEL", log.LevelInfo)),
		JWTSecret:           getOrEnv(p.JWTSecret, "JWT_SECRET", ""),
		MaintenanceSchedule: getOrEnv(p.MaintenanceSchedule, "MAINTENANCE_SCHEDULE", database.DefaultMaintenanceSchedule),
		DB: database.Params{
			Driver:   driver,
			DSN:      dsn,
			PGDriver: getOrEnv(p.PGDriver, "PG_DRIVER", database.PGDriverPgx),
		},
	}
	c.DB.LogLevel = c.LogLevel

	var err error
	if c.DB.MaxOpenConns, err = getIntOrEnv(p.MaxOpenConns, "DB_MAX_OPEN_CONNS", 0); err != nil {
		return Config{}, err
	}
	if c.RateLimit, err = getFloatOrEnv(p.RateLimit, "RATE_LIMIT", 0); err != nil {
		return Config{}, err
	}
	if c.TrustProxy, err = getBoolOrEnv(p.TrustProxy, "TRUST_PROXY"); err != nil {
		return Config{}, err
	}
	if c.MaxOpsPerSecond, err = getFloatOrEnv(p.MaxOpsPerSecond, "MAX_OPS_PER_SECOND", 0); err != nil {
		return Config{}, err
	}
	if c.AcquireTimeout, err = getDurationOrEnv(p.AcquireTimeout, "ACQUIRE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if c.TxMaxWait, err = getDurationOrEnv(p.TxMaxWait, "TX_MAX_WAIT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if c.TxTimeout, err = getDurationOrEnv(p.TxTimeout, "TX_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	if err := validate(c); err != nil {
		return Config{}, err
	}

	return c, nil
}

// IsProd checks if the app environment is configured to be production.
func (c Config) IsProd() bool {
	return c.AppEnv == AppEnvProduction
}

// Addr is the listen address of the gateway
func (c Config) Addr() string {
	return ":" + c.Port
}

func isSQLite(driver string) bool {
	return driver == database.DriverSQLite || driver == "sqlite"
}

func validate(c Config) error {
	switch {
	case isSQLite(c.DB.Driver), c.DB.Driver == database.DriverPostgres, c.DB.Driver == database.DriverMySQL:
	default:
		return errors.Wrapf(ErrDBDriverInvalid, "'%s'", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return ErrDBMissingDSN
	}
	if c.DB.Driver == database.DriverPostgres && c.DB.PGDriver != database.PGDriverPgx && c.DB.PGDriver != database.PGDriverPQ {
		return errors.Wrapf(ErrPGDriverInvalid, "'%s'", c.DB.PGDriver)
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return errors.Wrapf(ErrPortInvalid, "'%s'", c.Port)
	}

	if !log.IsValidLevel(c.LogLevel) {
		return errors.Wrapf(ErrLogLevelInvalid, "'%s'", c.LogLevel)
	}

	if c.IsProd() && c.JWTSecret == "" {
		return ErrJWTSecretMissing
	}

	if c.DB.MaxOpenConns < 0 {
		return errors.Wrap(ErrNumberInvalid, "max open connections must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.Wrap(ErrNumberInvalid, "rate limit must not be negative")
	}
	if c.MaxOpsPerSecond < 0 {
		return errors.Wrap(ErrNumberInvalid, "max operations per second must not be negative")
	}
	if c.AcquireTimeout < 0 || c.TxMaxWait < 0 || c.TxTimeout < 0 {
		return errors.Wrap(ErrDurationInvalid, "timeouts must not be negative")
	}

	if _, err := cron.Parse(c.MaintenanceSchedule); err != nil {
		return errors.Wrapf(ErrScheduleInvalid, "'%s'", c.MaintenanceSchedule)
	}

	return nil
}
