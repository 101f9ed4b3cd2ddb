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

// Package dirs resolves where venuecrm keeps its files, following the XDG
// base directory specification
package dirs

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/pkg/errors"
)

// AppDir is the directory name of venuecrm under each base directory
const AppDir = "venuecrm"

// The environment variables overriding the base directories
const (
	envConfigHome = "XDG_CONFIG_HOME"
	envDataHome   = "XDG_DATA_HOME"
)

var (
	// Home is the home directory of the user
	Home string
	// ConfigHome is the base directory for user configuration files
	ConfigHome string
	// DataHome is the base directory for user data files such as the
	// default SQLite database
	DataHome string
)

func init() {
	Reload()
}

// Reload reads the base directories from the environment again
func Reload() {
	Home = homeDir()
	ConfigHome = fromEnv(envConfigHome, filepath.Join(Home, ".config"))
	DataHome = fromEnv(envDataHome, filepath.Join(Home, ".local", "share"))
}

func homeDir() string {
	if dir, err := os.UserHomeDir(); err == nil && dir != "" {
		return dir
	}

	usr, err := user.Current()
	if err != nil {
		panic(errors.Wrap(err, "getting home dir"))
	}
	return usr.HomeDir
}

func fromEnv(name, fallback string) string {
	if dir := os.Getenv(name); dir != "" {
		return dir
	}
	return fallback
}

// DataFile returns the path of a venuecrm data file
func DataFile(name string) string {
	return filepath.Join(DataHome, AppDir, name)
}

// ConfigFile returns the path of a venuecrm configuration file
func ConfigFile(name string) string {
	return filepath.Join(ConfigHome, AppDir, name)
}
