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
	"fmt"
	"reflect"

	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertAttempts bounds the retries of an upsert that lost an insert race
const upsertAttempts = 3

// now returns the timestamp applied to created and updated records
func (s *session) now() interface{} {
	return normalizeTime(s.c.clock.Now())
}

// writeField resolves a data key to a scalar field
func writeField(m *schema.Model, name string) (*schema.Field, error) {
	f, ok := m.Field(name)
	if ok {
		return f, nil
	}
	if rel, isRel := m.Relation(name); isRel {
		return nil, validationf(m.Name, name, "nested writes are not supported, set %s instead", rel.Local)
	}
	return nil, validationf(m.Name, name, "unknown field")
}

// createValues builds a new record from data, applying defaults
func (s *session) createValues(m *schema.Model, data Data) (reflect.Value, error) {
	record := m.New()

	for _, name := range sortedKeys(data) {
		f, err := writeField(m, name)
		if err != nil {
			return reflect.Value{}, err
		}
		if f.AutoIncrement {
			return reflect.Value{}, validationf(m.Name, f.Name, "assigned by the database")
		}

		raw := data[name]
		if op, ok := raw.(NumberOp); ok {
			if op.Op != OpSet {
				return reflect.Value{}, validationf(m.Name, f.Name, "%s is only valid in updates", op.Op)
			}
			raw = op.Value
		}

		v, err := coerce(m.Name, f, raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if v == nil && !f.Nullable {
			return reflect.Value{}, validationf(m.Name, f.Name, "field is required and cannot be null")
		}
		setField(record, f, v)
	}

	for _, f := range m.Fields {
		if _, ok := data[f.Name]; ok {
			continue
		}

		switch {
		case f.AutoIncrement || f.Nullable:
		case f.CreatedAt || f.UpdatedAt || f.DefaultNow:
			setField(record, f, s.now())
		case f.Default != nil:
			v, err := coerce(m.Name, f, f.Default)
			if err != nil {
				return reflect.Value{}, err
			}
			setField(record, f, v)
		default:
			return reflect.Value{}, validationf(m.Name, f.Name, "missing required field")
		}
	}

	return record, nil
}

// checkReference fails when no row of the relation target has value v
func (s *session) checkReference(m *schema.Model, rel *schema.Relation, v interface{}) error {
	target := rel.TargetModel()
	foreign, _ := target.Field(rel.Foreign)

	var n int64
	err := s.db.Table(target.Table).
		Where(clause.Eq{Column: clause.Column{Name: foreign.Column}, Value: v}).
		Count(&n).Error
	if err != nil {
		return classify(err, m, "")
	}
	if n == 0 {
		return &Error{
			Kind:       KindConstraint,
			Model:      m.Name,
			Field:      rel.Local,
			Constraint: rel.Constraint(),
			Message:    fmt.Sprintf("no %s with %s %v", target.Name, foreign.Name, v),
		}
	}
	return nil
}

// checkForeignKeys verifies every non-null foreign key of a record
func (s *session) checkForeignKeys(m *schema.Model, record reflect.Value) error {
	for _, rel := range m.Relations {
		if rel.Kind != schema.ToOne {
			continue
		}
		local, _ := m.Field(rel.Local)
		if v := fieldValue(record, local); v != nil {
			if err := s.checkReference(m, rel, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkUpdatedKeys verifies the foreign keys set by an update
func (s *session) checkUpdatedKeys(m *schema.Model, values map[string]interface{}) error {
	for _, rel := range m.Relations {
		if rel.Kind != schema.ToOne {
			continue
		}
		local, _ := m.Field(rel.Local)
		v, ok := values[local.Column]
		if !ok || v == nil {
			continue
		}
		if _, isExpr := v.(clause.Expr); isExpr {
			continue
		}
		if err := s.checkReference(m, rel, v); err != nil {
			return err
		}
	}
	return nil
}

// arithmetic renders a numeric update of column
func (s *session) arithmetic(m *schema.Model, f *schema.Field, op NumberOp) (interface{}, error) {
	if op.Op == OpSet {
		v, err := coerce(m.Name, f, op.Value)
		if err != nil {
			return nil, err
		}
		if v == nil && !f.Nullable {
			return nil, validationf(m.Name, f.Name, "field is required and cannot be null")
		}
		return v, nil
	}

	if !f.Kind.Numeric() {
		return nil, validationf(m.Name, f.Name, "%s on a %s field", op.Op, f.Kind)
	}
	v, err := coerce(m.Name, f, op.Value)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, validationf(m.Name, f.Name, "%s needs a value", op.Op)
	}

	col := clause.Column{Name: f.Column}
	switch op.Op {
	case OpIncrement:
		return gorm.Expr("? + ?", col, v), nil
	case OpDecrement:
		return gorm.Expr("? - ?", col, v), nil
	case OpMultiply:
		return gorm.Expr("? * ?", col, v), nil
	case OpDivide:
		if v == int64(0) || v == float64(0) {
			return nil, validationf(m.Name, f.Name, "division by zero")
		}
		if f.Kind == schema.KindInt && s.c.d.driver == database.DriverMySQL {
			return gorm.Expr("? DIV ?", col, v), nil
		}
		return gorm.Expr("? / ?", col, v), nil
	}

	return nil, validationf(m.Name, f.Name, "unknown number operation %q", op.Op)
}

// updateValues maps update data to column assignments. updatedAt is
// refreshed unless set explicitly.
func (s *session) updateValues(m *schema.Model, data Data) (map[string]interface{}, error) {
	values := map[string]interface{}{}

	for _, name := range sortedKeys(data) {
		f, err := writeField(m, name)
		if err != nil {
			return nil, err
		}
		if f.ID {
			return nil, validationf(m.Name, f.Name, "primary key is immutable")
		}

		op, ok := data[name].(NumberOp)
		if !ok {
			op = Set(data[name])
		}
		v, err := s.arithmetic(m, f, op)
		if err != nil {
			return nil, err
		}
		values[f.Column] = v
	}

	if f := m.UpdatedAtField(); f != nil {
		if _, ok := data[f.Name]; !ok {
			values[f.Column] = s.now()
		}
	}

	return values, nil
}

// applyUpdate writes values to the rows with the given primary keys
func (s *session) applyUpdate(m *schema.Model, ids []interface{}, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	pk := m.PK()
	for _, chunk := range chunks(ids, includeChunk) {
		err := s.db.Table(m.Table).
			Where(clause.IN{Column: clause.Column{Name: pk.Column}, Values: chunk}).
			Updates(values).Error
		if err != nil {
			return classify(err, m, "")
		}
	}
	return nil
}

// selectIDs returns the primary keys of the rows matching where, lowest
// first, and locks them
func (s *session) selectIDs(m *schema.Model, where *filter.Where, limit *int) ([]interface{}, error) {
	if limit != nil && *limit < 0 {
		return nil, validationf(m.Name, "", "limit must not be negative")
	}

	b := s.builder()
	pred := b.sub()
	if err := pred.where(m, rowAlias, where); err != nil {
		return nil, err
	}

	pk := m.PK()
	b.write("SELECT ", b.col(rowAlias, pk.Column), " FROM ", b.table(m.Table), " ", rowAlias, " WHERE ")
	b.append(pred)
	b.write(" ORDER BY ", b.col(rowAlias, pk.Column), " ASC")
	b.write(s.c.d.limitOffset(limit, 0))
	b.write(s.c.d.forUpdate())

	ids, err := s.values(b)
	if err != nil {
		return nil, classify(err, m, "")
	}
	for i := range ids {
		ids[i] = fromDB(pk.Kind, ids[i])
	}
	return ids, nil
}

// fetchIDs returns the records with the given primary keys, lowest first
func (s *session) fetchIDs(m *schema.Model, ids []interface{}) (reflect.Value, error) {
	pk := m.PK()
	out := m.NewSlice()
	for _, chunk := range chunks(ids, includeChunk) {
		b := s.builder()
		b.write("SELECT ", b.columns(m, rowAlias), " FROM ", b.table(m.Table), " ", rowAlias)
		b.write(" WHERE ", b.col(rowAlias, pk.Column), " IN ")
		b.bindList(chunk)
		b.write(" ORDER BY ", b.col(rowAlias, pk.Column), " ASC")

		part, err := s.scan(m, b)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Elem().Set(reflect.AppendSlice(out.Elem(), part.Elem()))
	}
	return out, nil
}

func (s *session) create(m *schema.Model, args CreateArgs) (reflect.Value, error) {
	proj, err := projectionOf(m.Name, args.Select, args.Include)
	if err != nil {
		return reflect.Value{}, err
	}

	var id interface{}
	err = s.atomic(func(tx *session) error {
		record, err := tx.insert(m, args.Data, false)
		if err != nil {
			return err
		}
		id = fieldValue(record, m.PK())
		return nil
	})
	if err != nil {
		return reflect.Value{}, err
	}

	return s.refetch(m, id, proj)
}

// insert validates and inserts one record. With skipDuplicates, a unique
// conflict inserts nothing and returns an invalid value.
func (s *session) insert(m *schema.Model, data Data, skipDuplicates bool) (reflect.Value, error) {
	record, err := s.createValues(m, data)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := s.checkForeignKeys(m, record); err != nil {
		return reflect.Value{}, err
	}

	q := s.db
	if skipDuplicates {
		q = q.Clauses(clause.OnConflict{DoNothing: true})
	}
	res := q.Create(record.Interface())
	if res.Error != nil {
		return reflect.Value{}, classify(res.Error, m, "")
	}
	if skipDuplicates && res.RowsAffected == 0 {
		return reflect.Value{}, nil
	}
	return record, nil
}

// refetch reads a written record back and shapes it
func (s *session) refetch(m *schema.Model, id interface{}, proj Projection) (reflect.Value, error) {
	record, err := s.fetchByPK(m, id)
	if err != nil {
		return reflect.Value{}, err
	}
	if !record.IsValid() {
		return reflect.Value{}, notFound(m.Name, "")
	}
	if err := s.shapeOne(m, record, proj); err != nil {
		return reflect.Value{}, err
	}
	return record, nil
}

func (s *session) createMany(m *schema.Model, args CreateManyArgs, andReturn bool) (int64, reflect.Value, error) {
	if args.Select != nil && !andReturn {
		return 0, reflect.Value{}, validationf(m.Name, "", "select needs createManyAndReturn")
	}

	var ids []interface{}
	err := s.atomic(func(tx *session) error {
		for i, data := range args.Data {
			record, err := tx.insert(m, data, args.SkipDuplicates)
			if err != nil {
				if e, ok := AsError(err); ok && e.Message != "" {
					e.Message = fmt.Sprintf("data[%d]: %s", i, e.Message)
				}
				return err
			}
			if record.IsValid() {
				ids = append(ids, fieldValue(record, m.PK()))
			}
		}
		return nil
	})
	if err != nil {
		return 0, reflect.Value{}, err
	}

	if !andReturn {
		return int64(len(ids)), reflect.Value{}, nil
	}

	out, err := s.fetchIDs(m, ids)
	if err != nil {
		return 0, reflect.Value{}, err
	}
	if args.Select != nil {
		if err := s.shape(m, out.Elem(), args.Select); err != nil {
			return 0, reflect.Value{}, err
		}
	}
	return int64(len(ids)), out, nil
}

func (s *session) update(m *schema.Model, args UpdateArgs) (reflect.Value, error) {
	proj, err := projectionOf(m.Name, args.Select, args.Include)
	if err != nil {
		return reflect.Value{}, err
	}

	var id interface{}
	err = s.atomic(func(tx *session) error {
		found, err := tx.lockUnique(m, args.Where)
		if err != nil {
			return err
		}
		if found == nil {
			return notFound(m.Name, "")
		}
		id = found
		return tx.modify(m, []interface{}{id}, args.Data)
	})
	if err != nil {
		return reflect.Value{}, err
	}

	return s.refetch(m, id, proj)
}

// modify applies update data to the rows with the given primary keys
func (s *session) modify(m *schema.Model, ids []interface{}, data Data) error {
	values, err := s.updateValues(m, data)
	if err != nil {
		return err
	}
	if err := s.checkUpdatedKeys(m, values); err != nil {
		return err
	}
	return s.applyUpdate(m, ids, values)
}

func (s *session) updateMany(m *schema.Model, args UpdateManyArgs, andReturn bool) (int64, reflect.Value, error) {
	if args.Select != nil && !andReturn {
		return 0, reflect.Value{}, validationf(m.Name, "", "select needs updateManyAndReturn")
	}

	var ids []interface{}
	err := s.atomic(func(tx *session) error {
		var err error
		ids, err = tx.selectIDs(m, args.Where, args.Limit)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			// still validate the data
			_, err = tx.updateValues(m, args.Data)
			return err
		}
		return tx.modify(m, ids, args.Data)
	})
	if err != nil {
		return 0, reflect.Value{}, err
	}

	if !andReturn {
		return int64(len(ids)), reflect.Value{}, nil
	}

	out, err := s.fetchIDs(m, ids)
	if err != nil {
		return 0, reflect.Value{}, err
	}
	if args.Select != nil {
		if err := s.shape(m, out.Elem(), args.Select); err != nil {
			return 0, reflect.Value{}, err
		}
	}
	return int64(len(ids)), out, nil
}

func (s *session) upsert(m *schema.Model, args UpsertArgs) (reflect.Value, error) {
	proj, err := projectionOf(m.Name, args.Select, args.Include)
	if err != nil {
		return reflect.Value{}, err
	}

	var id interface{}
	for attempt := 1; ; attempt++ {
		err = s.atomic(func(tx *session) error {
			existing, err := tx.lockUnique(m, args.Where)
			if err != nil {
				return err
			}
			if existing != nil {
				id = existing
				return tx.modify(m, []interface{}{id}, args.Update)
			}

			record, err := tx.insert(m, args.Create, false)
			if err != nil {
				return err
			}
			id = fieldValue(record, m.PK())
			return nil
		})

		// a concurrent insert of the same key won; the next attempt finds
		// and updates its row
		if err != nil && isUniqueViolation(err) && attempt < upsertAttempts {
			continue
		}
		if err != nil {
			return reflect.Value{}, err
		}
		break
	}

	return s.refetch(m, id, proj)
}

func (s *session) delete(m *schema.Model, args DeleteArgs) (reflect.Value, error) {
	proj, err := projectionOf(m.Name, args.Select, args.Include)
	if err != nil {
		return reflect.Value{}, err
	}

	var record reflect.Value
	err = s.atomic(func(tx *session) error {
		id, err := tx.lockUnique(m, args.Where)
		if err != nil {
			return err
		}
		if id == nil {
			return notFound(m.Name, "")
		}

		if record, err = tx.refetch(m, id, proj); err != nil {
			return err
		}
		return tx.remove(m, []interface{}{id})
	})
	if err != nil {
		return reflect.Value{}, err
	}
	return record, nil
}

func (s *session) deleteMany(m *schema.Model, args DeleteManyArgs) (int64, error) {
	var n int64
	err := s.atomic(func(tx *session) error {
		ids, err := tx.selectIDs(m, args.Where, args.Limit)
		if err != nil {
			return err
		}
		n = int64(len(ids))
		return tx.remove(m, ids)
	})
	return n, err
}

// remove deletes rows and applies the delete policy of every relation that
// references them
func (s *session) remove(m *schema.Model, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}

	for _, rel := range m.Relations {
		if rel.Kind != schema.ToMany || rel.OnDelete != schema.Restrict {
			continue
		}
		n, err := s.countReferences(rel, ids)
		if err != nil {
			return err
		}
		if n > 0 {
			return &Error{
				Kind:       KindConstraint,
				Model:      m.Name,
				Field:      rel.Name,
				Constraint: rel.Constraint(),
				Message:    fmt.Sprintf("%d %s records still reference it", n, rel.TargetModel().Name),
			}
		}
	}

	for _, rel := range m.Relations {
		if rel.Kind != schema.ToMany {
			continue
		}
		target := rel.TargetModel()
		foreign, _ := target.Field(rel.Foreign)

		switch rel.OnDelete {
		case schema.Cascade:
			childIDs, err := s.referencing(rel, ids)
			if err != nil {
				return err
			}
			if err := s.remove(target, childIDs); err != nil {
				return err
			}
		case schema.SetNull:
			for _, chunk := range chunks(ids, includeChunk) {
				err := s.db.Table(target.Table).
					Where(clause.IN{Column: clause.Column{Name: foreign.Column}, Values: chunk}).
					Update(foreign.Column, nil).Error
				if err != nil {
					return classify(err, target, "")
				}
			}
		}
	}

	pk := m.PK()
	for _, chunk := range chunks(ids, includeChunk) {
		err := s.db.Where(clause.IN{Column: clause.Column{Name: pk.Column}, Values: chunk}).
			Delete(m.New().Interface()).Error
		if err != nil {
			return classify(err, m, "")
		}
	}
	return nil
}

// countReferences counts the rows of the relation target pointing at ids
func (s *session) countReferences(rel *schema.Relation, ids []interface{}) (int64, error) {
	target := rel.TargetModel()
	foreign, _ := target.Field(rel.Foreign)

	var total int64
	for _, chunk := range chunks(ids, includeChunk) {
		var n int64
		err := s.db.Table(target.Table).
			Where(clause.IN{Column: clause.Column{Name: foreign.Column}, Values: chunk}).
			Count(&n).Error
		if err != nil {
			return 0, classify(err, target, "")
		}
		total += n
	}
	return total, nil
}

// referencing returns the primary keys of the relation target rows pointing
// at ids
func (s *session) referencing(rel *schema.Relation, ids []interface{}) ([]interface{}, error) {
	target := rel.TargetModel()
	foreign, _ := target.Field(rel.Foreign)
	pk := target.PK()

	var ret []interface{}
	for _, chunk := range chunks(ids, includeChunk) {
		b := s.builder()
		b.write("SELECT ", b.col(rowAlias, pk.Column), " FROM ", b.table(target.Table), " ", rowAlias)
		b.write(" WHERE ", b.col(rowAlias, foreign.Column), " IN ")
		b.bindList(chunk)
		b.write(s.c.d.forUpdate())

		vals, err := s.values(b)
		if err != nil {
			return nil, classify(err, target, "")
		}
		for _, v := range vals {
			ret = append(ret, fromDB(pk.Kind, v))
		}
	}
	return ret, nil
}
