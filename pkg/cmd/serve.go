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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/venuecrm/venuecrm/pkg/api"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/log"
)

const shutdownTimeout = 10 * time.Second

// notifyContext returns a context canceled on SIGINT or SIGTERM
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(a *app) *cobra.Command {
	var noMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			return a.serve(ctx, !noMigrate)
		},
	}

	f := cmd.Flags()
	f.StringVar(&a.params.Port, "port", "", "server port (env: PORT, default: 3000)")
	f.StringVar(&a.params.JWTSecret, "jwt-secret", "", "HS256 secret for bearer tokens (env: JWT_SECRET)")
	f.Float64Var(&a.params.RateLimit, "rate-limit", 0, "requests per second per client address (env: RATE_LIMIT)")
	f.BoolVar(&a.params.TrustProxy, "trust-proxy", false, "rate limit on X-Forwarded-For behind a reverse proxy (env: TRUST_PROXY)")
	f.BoolVar(&noMigrate, "no-migrate", false, "do not apply pending migrations on start")

	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close(db)

	if migrate {
		if _, err := database.Migrate(db); err != nil {
			return errors.Wrap(err, "applying migrations")
		}
	}

	c, err := a.newClient(db)
	if err != nil {
		return err
	}

	handler, err := api.NewRouter(c, api.Options{
		JWTSecret: a.cfg.JWTSecret,
		RateLimit:  a.cfg.RateLimit,
		TrustProxy: a.cfg.TrustProxy,
	})
	if err != nil {
		return errors.Wrap(err, "initializing router")
	}

	maintenance, err := database.StartMaintenance(db, a.cfg.MaintenanceSchedule)
	if err != nil {
		return errors.Wrap(err, "scheduling maintenance")
	}
	defer maintenance.Stop()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.WithFields(log.Fields{
		"version": a.version,
		"port":    a.cfg.Port,
		"driver":  a.cfg.DB.Driver,
		"auth":    a.cfg.JWTSecret != "",
	}).Info("venuecrm server starting")

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down")
	}

	return nil
}
