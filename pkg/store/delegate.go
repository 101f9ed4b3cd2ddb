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
	"fmt"
	"reflect"

	"github.com/venuecrm/venuecrm/pkg/schema"
)

// Delegate runs the operations of one entity. T is the record type.
type Delegate[T any] struct {
	m *schema.Model
	r runner
}

func newDelegate[T any](reg *schema.Registry, r runner) *Delegate[T] {
	var zero T
	m, ok := reg.ModelOf(reflect.TypeOf(zero))
	if !ok {
		panic(fmt.Sprintf("no model for %T", zero))
	}
	return &Delegate[T]{m: m, r: r}
}

// Model returns the schema of the entity
func (d *Delegate[T]) Model() *schema.Model {
	return d.m
}

// call runs fn and tags its error with the entity and operation
func call[R any](ctx context.Context, r runner, m *schema.Model, op string, fn func(s *session) (R, error)) (R, error) {
	var ret R
	err := r.run(ctx, func(s *session) error {
		var err error
		ret, err = fn(s)
		return err
	})
	if err != nil {
		var zero R
		return zero, tag(err, m, op)
	}
	return ret, nil
}

// tag classifies err and fills in the entity and operation
func tag(err error, m *schema.Model, op string) error {
	err = classify(err, m, op)
	if e, ok := AsError(err); ok {
		if e.Model == "" && m != nil {
			e.Model = m.Name
		}
		if e.Op == "" {
			e.Op = op
		}
	}
	return err
}

func one[T any](rv reflect.Value) *T {
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface().(*T)
}

func many[T any](rv reflect.Value) []T {
	if !rv.IsValid() {
		return []T{}
	}
	return *rv.Interface().(*[]T)
}

// FindUnique returns the record matched by a unique filter, or nil
func (d *Delegate[T]) FindUnique(ctx context.Context, args FindUniqueArgs) (*T, error) {
	return call(ctx, d.r, d.m, "findUnique", func(s *session) (*T, error) {
		rv, err := s.findUnique(d.m, args)
		return one[T](rv), err
	})
}

// FindUniqueOrThrow is FindUnique failing with NotFoundError without a match
func (d *Delegate[T]) FindUniqueOrThrow(ctx context.Context, args FindUniqueArgs) (*T, error) {
	return call(ctx, d.r, d.m, "findUniqueOrThrow", func(s *session) (*T, error) {
		rv, err := s.findUnique(d.m, args)
		if err == nil && !rv.IsValid() {
			err = notFound(d.m.Name, "")
		}
		return one[T](rv), err
	})
}

// FindFirst returns the first record of the window, or nil
func (d *Delegate[T]) FindFirst(ctx context.Context, args FindManyArgs) (*T, error) {
	return call(ctx, d.r, d.m, "findFirst", func(s *session) (*T, error) {
		rv, err := s.findFirst(d.m, args)
		return one[T](rv), err
	})
}

// FindFirstOrThrow is FindFirst failing with NotFoundError without a match
func (d *Delegate[T]) FindFirstOrThrow(ctx context.Context, args FindManyArgs) (*T, error) {
	return call(ctx, d.r, d.m, "findFirstOrThrow", func(s *session) (*T, error) {
		rv, err := s.findFirst(d.m, args)
		if err == nil && !rv.IsValid() {
			err = &Error{Kind: KindNotFound, Model: d.m.Name, Message: "no record matches the filter"}
		}
		return one[T](rv), err
	})
}

// FindMany returns the records of the window in order
func (d *Delegate[T]) FindMany(ctx context.Context, args FindManyArgs) ([]T, error) {
	return call(ctx, d.r, d.m, "findMany", func(s *session) ([]T, error) {
		rv, err := s.findMany(d.m, args)
		return many[T](rv), err
	})
}

// Create inserts one record and returns it
func (d *Delegate[T]) Create(ctx context.Context, args CreateArgs) (*T, error) {
	return call(ctx, d.r, d.m, "create", func(s *session) (*T, error) {
		rv, err := s.create(d.m, args)
		return one[T](rv), err
	})
}

// CreateMany inserts records atomically and returns how many were inserted
func (d *Delegate[T]) CreateMany(ctx context.Context, args CreateManyArgs) (BatchPayload, error) {
	return call(ctx, d.r, d.m, "createMany", func(s *session) (BatchPayload, error) {
		n, _, err := s.createMany(d.m, args, false)
		return BatchPayload{Count: n}, err
	})
}

// CreateManyAndReturn is CreateMany returning the inserted records
func (d *Delegate[T]) CreateManyAndReturn(ctx context.Context, args CreateManyArgs) ([]T, error) {
	return call(ctx, d.r, d.m, "createManyAndReturn", func(s *session) ([]T, error) {
		_, rv, err := s.createMany(d.m, args, true)
		return many[T](rv), err
	})
}

// Update changes the record matched by a unique filter and returns it
func (d *Delegate[T]) Update(ctx context.Context, args UpdateArgs) (*T, error) {
	return call(ctx, d.r, d.m, "update", func(s *session) (*T, error) {
		rv, err := s.update(d.m, args)
		return one[T](rv), err
	})
}

// UpdateMany changes every matching record atomically
func (d *Delegate[T]) UpdateMany(ctx context.Context, args UpdateManyArgs) (BatchPayload, error) {
	return call(ctx, d.r, d.m, "updateMany", func(s *session) (BatchPayload, error) {
		n, _, err := s.updateMany(d.m, args, false)
		return BatchPayload{Count: n}, err
	})
}

// UpdateManyAndReturn is UpdateMany returning the updated records
func (d *Delegate[T]) UpdateManyAndReturn(ctx context.Context, args UpdateManyArgs) ([]T, error) {
	return call(ctx, d.r, d.m, "updateManyAndReturn", func(s *session) ([]T, error) {
		_, rv, err := s.updateMany(d.m, args, true)
		return many[T](rv), err
	})
}

// Upsert updates the record matched by a unique filter or creates it
func (d *Delegate[T]) Upsert(ctx context.Context, args UpsertArgs) (*T, error) {
	return call(ctx, d.r, d.m, "upsert", func(s *session) (*T, error) {
		rv, err := s.upsert(d.m, args)
		return one[T](rv), err
	})
}

// Delete removes the record matched by a unique filter and returns it
func (d *Delegate[T]) Delete(ctx context.Context, args DeleteArgs) (*T, error) {
	return call(ctx, d.r, d.m, "delete", func(s *session) (*T, error) {
		rv, err := s.delete(d.m, args)
		return one[T](rv), err
	})
}

// DeleteMany removes every matching record atomically
func (d *Delegate[T]) DeleteMany(ctx context.Context, args DeleteManyArgs) (BatchPayload, error) {
	return call(ctx, d.r, d.m, "deleteMany", func(s *session) (BatchPayload, error) {
		n, err := s.deleteMany(d.m, args)
		return BatchPayload{Count: n}, err
	})
}

// Count returns the number of records in the window
func (d *Delegate[T]) Count(ctx context.Context, w Window) (int64, error) {
	return call(ctx, d.r, d.m, "count", func(s *session) (int64, error) {
		return s.count(d.m, w)
	})
}

// CountFields returns the number of non-null values of each field in the
// window. CountAll counts rows.
func (d *Delegate[T]) CountFields(ctx context.Context, w Window, fields ...string) (map[string]int64, error) {
	return call(ctx, d.r, d.m, "count", func(s *session) (map[string]int64, error) {
		return s.countFields(d.m, w, fields)
	})
}

// Aggregate computes aggregates over the window
func (d *Delegate[T]) Aggregate(ctx context.Context, args AggregateArgs) (*AggregateResult, error) {
	return call(ctx, d.r, d.m, "aggregate", func(s *session) (*AggregateResult, error) {
		return s.aggregate(d.m, args)
	})
}

// GroupBy computes aggregates per combination of the grouped fields
func (d *Delegate[T]) GroupBy(ctx context.Context, args GroupByArgs) ([]GroupRow, error) {
	return call(ctx, d.r, d.m, "groupBy", func(s *session) ([]GroupRow, error) {
		return s.groupBy(d.m, args)
	})
}
