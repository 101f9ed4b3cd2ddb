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
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailRequired is an error for creating a user without an email
	ErrEmailRequired = errors.New("email is required")
	// ErrPasswordTooShort is an error for a password below the minimum length
	ErrPasswordTooShort = errors.New("password should be longer than 8 characters")
)

const minPasswordLength = 8

var userExample = `
  venuecrm user create --email jane@venue.example --password 'correct horse' --role Owner
  venuecrm user delete --email jane@venue.example`

// userParams are the fields of a new user
type userParams struct {
	username string
	email    string
	password string
	role     string
}

func (p userParams) validate() error {
	if strings.TrimSpace(p.email) == "" {
		return ErrEmailRequired
	}
	if len(p.password) < minPasswordLength {
		return ErrPasswordTooShort
	}

	return nil
}

// createUser hashes the password and inserts the user
func createUser(cmd *cobra.Command, c *store.Client, p userParams, cost int) (*database.User, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.password), cost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}

	email := strings.ToLower(strings.TrimSpace(p.email))
	username := p.username
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	data := store.Data{
		"username":      username,
		"email":         email,
		"password_hash": string(hash),
	}
	if p.role != "" {
		data["role"] = p.role
	}

	u, err := c.User.Create(cmd.Context(), store.CreateArgs{Data: data})
	if err != nil {
		return nil, err
	}

	return u, nil
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Short:   "Manage users",
		Example: userExample,
	}

	var p userParams
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *store.Client) error {
				u, err := createUser(cmd, c, p, bcrypt.DefaultCost)
				if errors.Is(err, store.ErrConstraint) {
					return errors.Errorf("a user with email %s already exists", p.email)
				} else if err != nil {
					return errors.Wrap(err, "creating user")
				}

				w := cmd.OutOrStdout()
				successf(w, "user created\n")
				plainf(w, "id: %d\n", u.ID)
				plainf(w, "email: %s\n", u.Email)
				plainf(w, "role: %s\n", u.Role)
				return nil
			})
		},
	}

	f := create.Flags()
	f.StringVar(&p.email, "email", "", "user email address (required)")
	f.StringVar(&p.password, "password", "", "user password (required)")
	f.StringVar(&p.username, "username", "", "user name (defaults to the local part of the email)")
	f.StringVar(&p.role, "role", "", "Admin, Owner, Sales or Finance (default Sales)")
	create.MarkFlagRequired("email")
	create.MarkFlagRequired("password")
	cmd.AddCommand(create)

	var email string
	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete a user",
		Long:  "Delete a user and their sessions. Leads, activities and notifications of the user are kept unassigned.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.ToLower(strings.TrimSpace(email))

			ok, err := confirm(cmd, yes, fmt.Sprintf("Delete user %s?", email))
			if err != nil || !ok {
				return err
			}

			return a.withClient(func(c *store.Client) error {
				_, err := c.User.Delete(cmd.Context(), store.DeleteArgs{
					Where: filter.Unique{"email": email},
				})
				if errors.Is(err, store.ErrNotFound) {
					return errors.Errorf("user with email %s not found", email)
				} else if err != nil {
					return errors.Wrap(err, "deleting user")
				}

				successf(cmd.OutOrStdout(), "user deleted\n")
				plainf(cmd.OutOrStdout(), "email: %s\n", email)
				return nil
			})
		},
	}
	del.Flags().StringVar(&email, "email", "", "user email address (required)")
	del.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	del.MarkFlagRequired("email")
	cmd.AddCommand(del)

	return cmd
}
