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

// Package store is the data access layer of the CRM. A Client exposes one
// Delegate per entity for queries and writes, plus aggregation, transactions
// and raw SQL passthroughs. Every failure is an *Error with a stable Kind.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/clock"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/schema"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// ErrEmptyDB is an error for a missing database connection in the options
	ErrEmptyDB = errors.New("No database connection was provided")
	// ErrInvalidRate is an error for a negative throughput cap
	ErrInvalidRate = errors.New("MaxOpsPerSecond must not be negative")
)

const (
	defaultAcquireTimeout = 5 * time.Second
	defaultTxMaxWait      = 2 * time.Second
	defaultTxTimeout      = 5 * time.Second
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Clock    clock.Clock
	Registry *schema.Registry
	// AcquireTimeout bounds waiting for a pooled connection outside
	// transactions
	AcquireTimeout time.Duration
	// MaxOpsPerSecond caps the calls the client starts per second. Zero
	// disables the cap.
	MaxOpsPerSecond float64
	// TxMaxWait and TxTimeout are the transaction defaults
	TxMaxWait time.Duration
	TxTimeout time.Duration
}

// delegates holds one Delegate per entity
type delegates struct {
	User         *Delegate[database.User]
	Sessions     *Delegate[database.Sessions]
	Contact      *Delegate[database.Contact]
	Lead         *Delegate[database.Lead]
	Payment      *Delegate[database.Payment]
	LeadActivity *Delegate[database.LeadActivity]
	Sources      *Delegate[database.Sources]
	Notification *Delegate[database.Notification]
	AppSetting   *Delegate[database.AppSetting]
}

func newDelegates(reg *schema.Registry, r runner) delegates {
	return delegates{
		User:         newDelegate[database.User](reg, r),
		Sessions:     newDelegate[database.Sessions](reg, r),
		Contact:      newDelegate[database.Contact](reg, r),
		Lead:         newDelegate[database.Lead](reg, r),
		Payment:      newDelegate[database.Payment](reg, r),
		LeadActivity: newDelegate[database.LeadActivity](reg, r),
		Sources:      newDelegate[database.Sources](reg, r),
		Notification: newDelegate[database.Notification](reg, r),
		AppSetting:   newDelegate[database.AppSetting](reg, r),
	}
}

// runner runs a call on a session and classifies its errors
type runner interface {
	run(ctx context.Context, fn func(s *session) error) error
}

// Client is the data access context. It is safe for concurrent use.
type Client struct {
	delegates

	db      *gorm.DB
	sqlDB   *sql.DB
	reg     *schema.Registry
	clock   clock.Clock
	d       dialect
	limiter *rate.Limiter

	acquireTimeout time.Duration
	txMaxWait      time.Duration
	txTimeout      time.Duration
}

// New returns a client over an open database
func New(db *gorm.DB, opts Options) (*Client, error) {
	if db == nil {
		return nil, ErrEmptyDB
	}
	if opts.MaxOpsPerSecond < 0 {
		return nil, ErrInvalidRate
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "getting the connection pool")
	}

	c := &Client{
		db:             db,
		sqlDB:          sqlDB,
		reg:            opts.Registry,
		clock:          opts.Clock,
		d:              newDialect(database.DriverOf(db)),
		acquireTimeout: opts.AcquireTimeout,
		txMaxWait:      opts.TxMaxWait,
		txTimeout:      opts.TxTimeout,
	}
	if c.reg == nil {
		c.reg = schema.Default()
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.acquireTimeout == 0 {
		c.acquireTimeout = defaultAcquireTimeout
	}
	if c.txMaxWait == 0 {
		c.txMaxWait = defaultTxMaxWait
	}
	if c.txTimeout == 0 {
		c.txTimeout = defaultTxTimeout
	}
	if opts.MaxOpsPerSecond > 0 {
		burst := int(opts.MaxOpsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxOpsPerSecond), burst)
	}

	c.delegates = newDelegates(c.reg, c)
	return c, nil
}

// Close releases the connection pool
func (c *Client) Close() error {
	return database.Close(c.db)
}

// Registry returns the models the client serves
func (c *Client) Registry() *schema.Registry {
	return c.reg
}

// Ping checks that the backend is reachable
func (c *Client) Ping(ctx context.Context) error {
	if err := c.sqlDB.PingContext(ctx); err != nil {
		return classify(err, nil, "ping")
	}
	return nil
}

// wait applies the throughput cap
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return classify(ctx.Err(), nil, "")
		}
		return &Error{Kind: KindConnection, Message: "throughput cap exceeded", Err: err}
	}
	return nil
}

// acquire borrows a dedicated connection from the pool, waiting at most
// timeout. expired builds the error returned when the wait times out.
func (c *Client) acquire(ctx context.Context, timeout time.Duration, expired func() *Error) (*sql.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err, nil, "")
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.sqlDB.Conn(waitCtx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, classify(ctx.Err(), nil, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e := expired()
		e.Err = err
		return nil, e
	}
	return nil, classify(err, nil, "")
}

// run executes a call on a connection of its own, returned on every exit
// path
func (c *Client) run(ctx context.Context, fn func(s *session) error) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	conn, err := c.acquire(ctx, c.acquireTimeout, func() *Error {
		return &Error{Kind: KindConnection, Message: "timed out waiting for a pooled connection"}
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(c.newSession(ctx, conn))
}
