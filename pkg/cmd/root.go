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

// Package cmd is the command line interface of venuecrm
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/venuecrm/venuecrm/pkg/config"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/log"
	"github.com/venuecrm/venuecrm/pkg/store"
	"gorm.io/gorm"
)

const defaultEnvFile = ".env"

// RunEFunc is a function type of venuecrm commands
type RunEFunc func(*cobra.Command, []string) error

// app is the state shared by the commands of one invocation
type app struct {
	version    string
	configFile string
	envFile    string
	params     config.Params
	cfg        config.Config
}

// loadEnv reads the env file into the environment without overriding
// variables that are already set. The default file is optional.
func (a *app) loadEnv() error {
	path := a.envFile
	if path == "" {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if a.envFile == "" && os.IsNotExist(errors.Cause(err)) {
			return nil
		}
		return errors.Wrapf(err, "loading env file %s", path)
	}

	return nil
}

// init resolves the configuration: flags first, then the YAML file, then
// the environment
func (a *app) init(cmd *cobra.Command, args []string) error {
	if err := a.loadEnv(); err != nil {
		return err
	}

	path, optional := a.configFile, false
	if path == "" {
		path, optional = config.DefaultFile(), true
	}
	p, err := config.LoadFile(path, a.params, optional)
	if err != nil {
		return err
	}

	cfg, err := config.New(p)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	a.cfg = cfg

	log.SetLevel(cfg.LogLevel)

	return nil
}

func (a *app) openDB() (*gorm.DB, error) {
	db, err := database.Open(a.cfg.DB)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	return db, nil
}

func (a *app) newClient(db *gorm.DB) (*store.Client, error) {
	c, err := store.New(db, store.Options{
		AcquireTimeout:  a.cfg.AcquireTimeout,
		MaxOpsPerSecond: a.cfg.MaxOpsPerSecond,
		TxMaxWait:       a.cfg.TxMaxWait,
		TxTimeout:       a.cfg.TxTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating store client")
	}

	return c, nil
}

// withClient opens the database, runs fn with a client over it and closes
// the database
func (a *app) withClient(fn func(c *store.Client) error) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}

	c, err := a.newClient(db)
	if err != nil {
		database.Close(db)
		return err
	}
	defer c.Close()

	return fn(c)
}

// NewRoot returns the root command with every subcommand registered
func NewRoot(version string) *cobra.Command {
	a := &app{version: version}

	root := &cobra.Command{
		Use:               "venuecrm",
		Short:             "venuecrm - leads, contacts and payments for event venues",
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configFile, "config", "", "the path to a YAML config file (defaults to $XDG_CONFIG_HOME/venuecrm/config.yaml)")
	f.StringVar(&a.envFile, "env-file", "", "the path to a .env file (defaults to ./.env)")
	f.StringVar(&a.params.DBDriver, "db-driver", "", "database backend: sqlite3, postgres or mysql (env: DB_DRIVER)")
	f.StringVar(&a.params.DatabaseURL, "database-url", "", "data source name (env: DATABASE_URL, default: $XDG_DATA_HOME/venuecrm/venuecrm.db)")
	f.StringVar(&a.params.LogLevel, "log-level", "", "log level: debug, info, warn or error (env: LOG_LEVEL)")

	root.AddCommand(
		newMigrateCmd(a),
		newServeCmd(a),
		newSettingCmd(a),
		newUserCmd(a),
		newMaintainCmd(a),
		newVersionCmd(a),
	)

	return root
}
