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
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/assert"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/testutils"
)

func countSources(t *testing.T, client *Client) int64 {
	n, err := client.Sources.Count(context.Background(), Window{})
	mustNoErr(t, err, "counting sources")
	return n
}

func TestTransaction_commit(t *testing.T) {
	client, db, _ := setupClient(t)
	contact := testutils.SetupContact(t, db, "Asha", "555-0100")

	var txID string
	err := client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		txID = tx.ID()

		source, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}})
		if err != nil {
			return err
		}
		_, err = tx.Lead.Create(ctx, CreateArgs{Data: Data{"contactId": contact.ID, "sourceId": source.ID, "clientBudget": 10}})
		return err
	})
	mustNoErr(t, err, "running transaction")

	assert.NotEqual(t, txID, "", "transaction id should be set")
	assert.Equal(t, countSources(t, client), int64(1), "source count mismatch")

	n, err := client.Lead.Count(context.Background(), Window{Where: filter.Field("source", filter.Relation{IsNull: filter.Ptr(false)})})
	mustNoErr(t, err, "counting leads")
	assert.Equal(t, n, int64(1), "lead count mismatch")
}

func TestTransaction_rollback(t *testing.T) {
	client, db, _ := setupClient(t)
	testutils.SetupSource(t, db, "Walk-in")

	t.Run("caller error", func(t *testing.T) {
		boom := errors.New("boom")
		err := client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}}); err != nil {
				return err
			}
			return boom
		})
		assert.Equal(t, errors.Is(err, boom), true, "caller error should be preserved")
		assert.Equal(t, countSources(t, client), int64(1), "writes should be rolled back")
	})

	t.Run("store error", func(t *testing.T) {
		err := client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}}); err != nil {
				return err
			}
			_, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Walk-in"}})
			return err
		})
		requireKind(t, err, KindConstraint, "duplicate in transaction")
		assert.Equal(t, countSources(t, client), int64(1), "writes should be rolled back")
	})

	t.Run("panic", func(t *testing.T) {
		func() {
			defer func() {
				assert.Equal(t, recover(), "boom", "panic should propagate")
			}()

			client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
				if _, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}}); err != nil {
					return err
				}
				panic("boom")
			})
		}()

		assert.Equal(t, countSources(t, client), int64(1), "writes should be rolled back")
	})
}

func TestTransaction_timeout(t *testing.T) {
	client, _, _ := setupClient(t)

	start := time.Now()
	err := client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}}); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}, TxOptions{Timeout: 100 * time.Millisecond})

	requireKind(t, err, KindTimeout, "slow transaction")
	assert.Equal(t, time.Since(start) < 2*time.Second, true, "timeout should fire promptly")
	assert.Equal(t, countSources(t, client), int64(0), "writes should be rolled back")
}

func TestTransaction_maxWait(t *testing.T) {
	// the in-memory database has a single connection, held by the outer
	// transaction
	client, _, _ := setupClient(t)

	err := client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		inner := client.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
			return nil
		}, TxOptions{MaxWait: 50 * time.Millisecond})

		e := requireKind(t, inner, KindTimeout, "waiting for a connection")
		assert.Equal(t, strings.Contains(e.Message, "maxWait"), true, "message should name maxWait")
		return nil
	})
	mustNoErr(t, err, "outer transaction")
}

func TestTransaction_isolation(t *testing.T) {
	client, _, _ := setupClient(t)

	err := client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		return nil
	}, TxOptions{IsolationLevel: ReadCommitted})
	requireKind(t, err, KindUnsupported, "read committed on sqlite")

	err = client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		return nil
	}, TxOptions{IsolationLevel: Serializable})
	mustNoErr(t, err, "serializable on sqlite")
}

func TestTransaction_closed(t *testing.T) {
	client, _, _ := setupClient(t)

	var leaked *Tx
	err := client.Transaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		leaked = tx
		return nil
	})
	mustNoErr(t, err, "running transaction")

	_, err = leaked.Sources.Create(context.Background(), CreateArgs{Data: Data{"name": "Instagram"}})
	requireKind(t, err, KindValidation, "using a closed transaction")
}

func TestTransact(t *testing.T) {
	client, _, _ := setupClient(t)

	source, err := Transact(context.Background(), client, func(ctx context.Context, tx *Tx) (*database.Sources, error) {
		return tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}})
	})
	mustNoErr(t, err, "running transaction")
	assert.Equal(t, source.Name, "Instagram", "result mismatch")
}

func TestBatch(t *testing.T) {
	client, _, _ := setupClient(t)
	ctx := context.Background()

	results, err := client.Batch(ctx, []Operation{
		{Model: "Sources", Action: ActionCreate, Args: CreateArgs{Data: Data{"name": "Instagram"}}},
		{Model: "Sources", Action: ActionCreate, Args: CreateArgs{Data: Data{"name": "Referral"}}},
		{Model: "Sources", Action: ActionCount},
	})
	mustNoErr(t, err, "running batch")
	assert.Equal(t, len(results), 3, "results length mismatch")
	assert.Equal(t, results[0].(*database.Sources).Name, "Instagram", "first result mismatch")
	assert.Equal(t, results[2], int64(2), "count result mismatch")

	t.Run("failure", func(t *testing.T) {
		_, err := client.Batch(ctx, []Operation{
			{Model: "Sources", Action: ActionCreate, Args: CreateArgs{Data: Data{"name": "Google"}}},
			{Model: "Sources", Action: ActionCreate, Args: CreateArgs{Data: Data{"name": "Instagram"}}},
		})
		requireKind(t, err, KindConstraint, "duplicate in batch")
		assert.Equal(t, strings.Contains(err.Error(), "operation 1 (Sources.create)"), true, "error should name the operation")
		assert.Equal(t, countSources(t, client), int64(2), "batch should be rolled back")
	})

	t.Run("invalid operation", func(t *testing.T) {
		_, err := client.Batch(ctx, []Operation{
			{Model: "Sources", Action: ActionCreate, Args: CreateArgs{Data: Data{"name": "Google"}}},
			{Model: "Sources", Action: ActionCreate, Args: UpdateArgs{}},
		})
		requireKind(t, err, KindValidation, "mismatched arguments")
		assert.Equal(t, strings.Contains(err.Error(), "operation 1"), true, "error should name the operation")
		assert.Equal(t, countSources(t, client), int64(2), "nothing should run")
	})
}

func TestTransaction_canceled(t *testing.T) {
	t.Run("mid transaction", func(t *testing.T) {
		client, _, _ := setupClient(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := client.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}}); err != nil {
				return err
			}
			cancel()
			_, err := tx.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Walk-in"}})
			return err
		})

		requireKind(t, err, KindCanceled, "write after cancel")
		assert.Equal(t, errors.Is(err, ErrCanceled), true, "error should match ErrCanceled")
		assert.Equal(t, countSources(t, client), int64(0), "no write should be applied")
	})

	t.Run("before the call", func(t *testing.T) {
		client, _, _ := setupClient(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.Sources.Create(ctx, CreateArgs{Data: Data{"name": "Instagram"}})

		requireKind(t, err, KindCanceled, "create on a cancelled context")
		assert.Equal(t, countSources(t, client), int64(0), "no write should be applied")
	})
}
