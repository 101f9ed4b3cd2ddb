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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/log"
	"gorm.io/gorm"
)

// TxOptions configures a transaction. Zero values select the client
// defaults.
type TxOptions struct {
	// MaxWait bounds waiting for a connection before the transaction starts
	MaxWait time.Duration
	// Timeout bounds the whole transaction once started
	Timeout time.Duration
	// IsolationLevel defaults to the backend default
	IsolationLevel IsolationLevel
}

func (c *Client) txOptions(opts []TxOptions) TxOptions {
	var o TxOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.MaxWait <= 0 {
		o.MaxWait = c.txMaxWait
	}
	if o.Timeout <= 0 {
		o.Timeout = c.txTimeout
	}
	return o
}

// Tx is an open interactive transaction. It exposes the entity delegates and
// the parameterised raw queries. It cannot start a nested transaction.
type Tx struct {
	delegates

	c  *Client
	id string
	db *gorm.DB

	// mu serializes the calls made through the transaction
	mu     sync.Mutex
	closed bool
}

// ID identifies the transaction in logs
func (t *Tx) ID() string {
	return t.id
}

func (t *Tx) run(ctx context.Context, fn func(s *session) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &Error{Kind: KindValidation, Message: "transaction is already closed"}
	}
	if err := ctx.Err(); err != nil {
		return classify(err, nil, "")
	}

	db := t.db.Session(&gorm.Session{NewDB: true, Context: ctx})
	return fn(&session{c: t.c, db: db, ctx: ctx})
}

func (t *Tx) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Transaction runs fn in a transaction that commits when fn returns nil and
// rolls back otherwise, including on panic. Waiting longer than MaxWait for a
// connection or running longer than Timeout fails with TimeoutError.
func (c *Client) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error, opts ...TxOptions) error {
	o := c.txOptions(opts)

	level, err := c.d.isolation(o.IsolationLevel)
	if err != nil {
		return tag(err, nil, "transaction")
	}

	if err := c.wait(ctx); err != nil {
		return err
	}

	conn, err := c.acquire(ctx, o.MaxWait, func() *Error {
		return &Error{
			Kind:    KindTimeout,
			Op:      "transaction",
			Message: fmt.Sprintf("could not start a transaction within maxWait %s", o.MaxWait),
		}
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	runCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	expired := func(cause error) error {
		if ctx.Err() != nil {
			return classify(ctx.Err(), nil, "transaction")
		}
		return &Error{
			Kind:    KindTimeout,
			Op:      "transaction",
			Message: fmt.Sprintf("transaction exceeded its timeout of %s", o.Timeout),
			Err:     cause,
		}
	}

	sqlTx, err := conn.BeginTx(runCtx, &sql.TxOptions{Isolation: level})
	if err != nil {
		if runCtx.Err() != nil {
			return expired(err)
		}
		return classify(err, nil, "transaction")
	}

	tx := &Tx{c: c, id: uuid.NewString()}
	tx.db = c.newSession(runCtx, sqlTx).db
	tx.delegates = newDelegates(c.reg, tx)

	entry := log.WithFields(log.Fields{"tx_id": tx.id, "isolation": string(o.IsolationLevel)})
	entry.Debug("transaction started")

	rollback := func() {
		if err := sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			entry.ErrorWrap(err, "rolling back transaction")
		}
	}

	defer func() {
		if r := recover(); r != nil {
			tx.close()
			rollback()
			entry.Warn("transaction rolled back after a panic")
			panic(r)
		}
	}()

	fnErr := fn(runCtx, tx)
	tx.close()

	if fnErr == nil && runCtx.Err() != nil {
		fnErr = runCtx.Err()
	}
	if fnErr != nil {
		rollback()
		if runCtx.Err() == context.DeadlineExceeded {
			entry.Warn("transaction timed out")
			return expired(fnErr)
		}
		entry.WithFields(log.Fields{"error": fnErr.Error()}).Debug("transaction rolled back")
		return tag(fnErr, nil, "transaction")
	}

	if err := sqlTx.Commit(); err != nil {
		if runCtx.Err() != nil {
			return expired(err)
		}
		return classify(err, nil, "transaction")
	}

	entry.Debug("transaction committed")
	return nil
}

// Transact runs fn in a transaction and returns its result
func Transact[R any](ctx context.Context, c *Client, fn func(ctx context.Context, tx *Tx) (R, error), opts ...TxOptions) (R, error) {
	var ret R
	err := c.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		r, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		ret = r
		return nil
	}, opts...)
	if err != nil {
		var zero R
		return zero, err
	}
	return ret, nil
}

// Batch runs operations in order in one transaction and returns their
// results in the same order. The first failure rolls back every operation.
func (c *Client) Batch(ctx context.Context, ops []Operation, opts ...TxOptions) ([]interface{}, error) {
	for i, op := range ops {
		if err := op.validate(c.reg); err != nil {
			return nil, errors.Wrapf(err, "operation %d (%s.%s)", i, op.Model, op.Action)
		}
	}

	return Transact(ctx, c, func(ctx context.Context, tx *Tx) ([]interface{}, error) {
		results := make([]interface{}, 0, len(ops))
		for i, op := range ops {
			ret, err := tx.Execute(ctx, op)
			if err != nil {
				return nil, errors.Wrapf(err, "operation %d (%s.%s)", i, op.Model, op.Action)
			}
			results = append(results, ret)
		}
		return results, nil
	}, opts...)
}
