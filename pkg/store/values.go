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
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
	"gorm.io/datatypes"
)

// normalizeTime brings a timestamp to the precision every backend keeps
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// coerce converts a caller supplied value to the Go value of the field kind:
// string, int64, float64, bool, time.Time or datatypes.JSON. nil stays nil.
func coerce(model string, f *schema.Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
		v = rv.Interface()
	}

	mismatch := func() error {
		return validationf(model, f.Name, "expected %s, got %T", f.Kind, v)
	}

	switch f.Kind {
	case schema.KindString, schema.KindEnum:
		if _, isNum := v.(json.Number); isNum || rv.Kind() != reflect.String {
			return nil, mismatch()
		}
		s := rv.String()
		if f.Kind == schema.KindEnum && !f.ValidEnum(s) {
			return nil, validationf(model, f.Name, "%q is not one of %v", s, f.Enum)
		}
		return s, nil
	case schema.KindInt:
		if n, ok := v.(json.Number); ok {
			i, err := n.Int64()
			if err != nil {
				return nil, validationf(model, f.Name, "%s is not an integer", n)
			}
			return i, nil
		}
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if rv.Uint() > math.MaxInt64 {
				return nil, validationf(model, f.Name, "%d overflows", rv.Uint())
			}
			return int64(rv.Uint()), nil
		case reflect.Float32, reflect.Float64:
			fl := rv.Float()
			if fl != math.Trunc(fl) || math.Abs(fl) > 1<<53 {
				return nil, validationf(model, f.Name, "%v is not an integer", fl)
			}
			return int64(fl), nil
		}
		return nil, mismatch()
	case schema.KindFloat:
		if n, ok := v.(json.Number); ok {
			fl, err := n.Float64()
			if err != nil {
				return nil, validationf(model, f.Name, "%s is not a number", n)
			}
			return fl, nil
		}
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return float64(rv.Uint()), nil
		case reflect.Float32, reflect.Float64:
			fl := rv.Float()
			if math.IsNaN(fl) || math.IsInf(fl, 0) {
				return nil, validationf(model, f.Name, "%v is not a finite number", fl)
			}
			return fl, nil
		}
		return nil, mismatch()
	case schema.KindBool:
		if rv.Kind() != reflect.Bool {
			return nil, mismatch()
		}
		return rv.Bool(), nil
	case schema.KindDateTime:
		switch t := v.(type) {
		case time.Time:
			return normalizeTime(t), nil
		case string:
			parsed, err := filter.ParseTime(t)
			if err != nil {
				return nil, validationf(model, f.Name, "%q is not an RFC 3339 timestamp", t)
			}
			return normalizeTime(parsed), nil
		}
		return nil, mismatch()
	case schema.KindJSON:
		return coerceJSON(model, f, v)
	}

	return nil, mismatch()
}

// coerceJSON accepts an encoded document or any value encoding/json can
// marshal
func coerceJSON(model string, f *schema.Field, v interface{}) (interface{}, error) {
	var doc []byte
	switch raw := v.(type) {
	case datatypes.JSON:
		doc = raw
	case json.RawMessage:
		doc = raw
	case []byte:
		doc = raw
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, validationf(model, f.Name, "value is not encodable as json: %s", err)
		}
		doc = b
	}

	if !json.Valid(doc) {
		return nil, validationf(model, f.Name, "invalid json document")
	}
	return datatypes.JSON(append([]byte(nil), doc...)), nil
}

// setField stores a coerced value into the field of a record pointer
func setField(record reflect.Value, f *schema.Field, v interface{}) {
	fv := f.Value(record)
	if v == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return
	}

	t := fv.Type()
	if f.Nullable {
		t = t.Elem()
	}
	val := reflect.ValueOf(v).Convert(t)

	if f.Nullable {
		p := reflect.New(t)
		p.Elem().Set(val)
		fv.Set(p)
		return
	}
	fv.Set(val)
}

// fieldValue reads a field of a record as the coerced Go value of its kind.
// Missing values are nil.
func fieldValue(record reflect.Value, f *schema.Field) interface{} {
	fv := f.Value(record)
	if f.Nullable {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}

	switch f.Kind {
	case schema.KindString, schema.KindEnum:
		return fv.String()
	case schema.KindInt:
		return fv.Int()
	case schema.KindFloat:
		return fv.Float()
	case schema.KindBool:
		return fv.Bool()
	case schema.KindDateTime:
		return normalizeTime(fv.Interface().(time.Time))
	case schema.KindJSON:
		return datatypes.JSON(fv.Bytes())
	}
	return fv.Interface()
}

// normalize brings the timestamps of a scanned record to UTC
func normalize(m *schema.Model, record reflect.Value) {
	for _, f := range m.Fields {
		if f.Kind != schema.KindDateTime {
			continue
		}
		if v := fieldValue(record, f); v != nil {
			setField(record, f, v)
		}
	}
}

// sameValue compares two coerced values
func sameValue(a, b interface{}) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if ja, ok := a.(datatypes.JSON); ok {
		jb, ok := b.(datatypes.JSON)
		return ok && string(ja) == string(jb)
	}
	return a == b
}

// parseStoredTime parses a timestamp returned as text by the driver
func parseStoredTime(s string) (time.Time, bool) {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return normalizeTime(t), true
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return normalizeTime(t), true
	}
	return time.Time{}, false
}

// fromDB converts a value scanned into interface{} to the Go value of kind k.
// Drivers return computed columns with less type information than table
// columns.
func fromDB(k schema.Kind, v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		if k == schema.KindJSON {
			return datatypes.JSON(append([]byte(nil), b...))
		}
		v = string(b)
	}
	if v == nil {
		return nil
	}

	switch k {
	case schema.KindInt:
		switch n := v.(type) {
		case int64:
			return n
		case int32:
			return int64(n)
		case int:
			return int64(n)
		case float64:
			return int64(n)
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		}
	case schema.KindFloat:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		case int:
			return float64(n)
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f
			}
		}
	case schema.KindBool:
		switch n := v.(type) {
		case bool:
			return n
		case int64:
			return n != 0
		case string:
			if b, err := strconv.ParseBool(n); err == nil {
				return b
			}
		}
	case schema.KindDateTime:
		switch t := v.(type) {
		case time.Time:
			return normalizeTime(t)
		case string:
			if parsed, ok := parseStoredTime(t); ok {
				return parsed
			}
		}
	case schema.KindJSON:
		if s, ok := v.(string); ok {
			return datatypes.JSON(s)
		}
	}

	return v
}
