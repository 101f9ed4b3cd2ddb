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

// Package api is the HTTP gateway of the CRM. It exposes the store
// operations as JSON endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/store"
)

// ErrEmptyClient is an error for a missing store client in the options
var ErrEmptyClient = errors.New("No store client was provided")

// Options configures the gateway
type Options struct {
	// JWTSecret enables HS256 bearer authentication. Empty disables it.
	JWTSecret string
	// RateLimit is the requests per second allowed for one client address.
	// Zero disables the limit.
	RateLimit float64
	// TrustProxy keys the rate limit on the X-Forwarded-For and X-Real-IP
	// headers. Without it the limit uses the peer address only.
	TrustProxy bool
	// MaxBodyBytes caps request bodies. Zero selects the default.
	MaxBodyBytes int64
}

// Route represents a single route
type Route struct {
	Method    string
	Pattern   string
	Handler   http.HandlerFunc
	Auth      bool
	RateLimit bool
}

// NewRoutes returns the routes of the gateway
func NewRoutes(h *Handlers) []Route {
	return []Route{
		{"GET", "/health", h.Health, false, false},
		{"POST", "/v1/transaction", h.Transaction, true, true},
		{"GET", "/v1/{model}", h.List, true, true},
		{"POST", "/v1/{model}/{action}", h.Operation, true, true},
	}
}

// NewRouter creates and returns a new router
func NewRouter(c *store.Client, opts Options) (http.Handler, error) {
	if c == nil {
		return nil, ErrEmptyClient
	}
	if opts.RateLimit < 0 {
		return nil, errors.Errorf("invalid rate limit %v", opts.RateLimit)
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := NewHandlers(c, opts.MaxBodyBytes)

	var limiter *RateLimiter
	if opts.RateLimit > 0 {
		limiter = NewRateLimiter(opts.RateLimit, burstOf(opts.RateLimit), opts.TrustProxy)
	}

	router := mux.NewRouter().StrictSlash(true)
	for _, route := range NewRoutes(h) {
		var handler http.Handler = route.Handler
		if route.Auth && opts.JWTSecret != "" {
			handler = Auth([]byte(opts.JWTSecret), handler)
		}
		if route.RateLimit && limiter != nil {
			handler = limiter.Limit(handler)
		}

		router.Handle(route.Pattern, handler).Methods(route.Method)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondMessage(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return Logging(router), nil
}
