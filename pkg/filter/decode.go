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

package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/venuecrm/venuecrm/pkg/schema"
)

// DecodeError reports a malformed filter document
type DecodeError struct {
	Path    string
	Message string
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func decodeErr(path, format string, a ...interface{}) error {
	return &DecodeError{Path: path, Message: fmt.Sprintf(format, a...)}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// unmarshal decodes JSON keeping numbers as json.Number
func unmarshal(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// objectOrList decodes a single object or a list of objects
func objectOrList(raw json.RawMessage) ([]json.RawMessage, error) {
	if isArray(raw) {
		var ret []json.RawMessage
		if err := json.Unmarshal(raw, &ret); err != nil {
			return nil, err
		}
		return ret, nil
	}
	return []json.RawMessage{raw}, nil
}

// objectKeys returns the keys of a JSON object in document order
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if t, err := dec.Token(); err != nil || t != json.Delim('{') {
		return nil, fmt.Errorf("expected an object")
	}

	var keys []string
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key")
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// DecodeValue decodes a JSON scalar keeping numbers exact
func DecodeValue(raw json.RawMessage) (interface{}, error) {
	var v interface{}
	if err := unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeWhere decodes a predicate document for model m
func DecodeWhere(m *schema.Model, raw json.RawMessage) (*Where, error) {
	if isNull(raw) {
		return nil, nil
	}
	w, err := decodeWhere(m, raw, "where")
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func decodeWhere(m *schema.Model, raw json.RawMessage, path string) (Where, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Where{}, decodeErr(path, "expected an object")
	}

	var w Where
	for key, val := range obj {
		p := join(path, key)

		switch key {
		case "AND", "OR", "NOT":
			items, err := objectOrList(val)
			if err != nil {
				return Where{}, decodeErr(p, "expected an object or a list of objects")
			}
			ws := make([]Where, 0, len(items))
			for i, item := range items {
				sub, err := decodeWhere(m, item, fmt.Sprintf("%s[%d]", p, i))
				if err != nil {
					return Where{}, err
				}
				ws = append(ws, sub)
			}
			switch key {
			case "AND":
				w.AND = ws
			case "OR":
				w.OR = ws
			default:
				w.NOT = ws
			}
			continue
		}

		c, err := decodeCondition(m, key, val, p)
		if err != nil {
			return Where{}, err
		}
		if w.Fields == nil {
			w.Fields = map[string]Condition{}
		}
		w.Fields[key] = c
	}

	return w, nil
}

func decodeCondition(m *schema.Model, key string, val json.RawMessage, path string) (Condition, error) {
	if rel, ok := m.Relation(key); ok {
		return decodeRelation(rel, val, path)
	}

	f, ok := m.Field(key)
	if !ok {
		return nil, decodeErr(path, "unknown field of %s", m.Name)
	}

	return DecodeScalar(f, val, path)
}

func decodeRelation(rel *schema.Relation, val json.RawMessage, path string) (Condition, error) {
	target := rel.TargetModel()

	if rel.Kind == schema.ToMany {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(val, &obj); err != nil {
			return nil, decodeErr(path, "expected an object with some, every or none")
		}
		var l List
		for k, v := range obj {
			sub, err := decodeWhere(target, v, join(path, k))
			if err != nil {
				return nil, err
			}
			switch k {
			case "some":
				l.Some = &sub
			case "every":
				l.Every = &sub
			case "none":
				l.None = &sub
			default:
				return nil, decodeErr(join(path, k), "unknown list operator")
			}
		}
		return l, nil
	}

	if isNull(val) {
		return Relation{IsNull: Ptr(true)}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(val, &obj); err != nil {
		return nil, decodeErr(path, "expected an object or null")
	}

	_, hasIs := obj["is"]
	_, hasIsNot := obj["isNot"]
	if !hasIs && !hasIsNot {
		sub, err := decodeWhere(target, val, path)
		if err != nil {
			return nil, err
		}
		return Relation{Is: &sub}, nil
	}

	var r Relation
	for k, v := range obj {
		p := join(path, k)
		switch k {
		case "is", "isNot":
			if isNull(v) {
				r.IsNull = Ptr(k == "is")
				continue
			}
			sub, err := decodeWhere(target, v, p)
			if err != nil {
				return nil, err
			}
			if k == "is" {
				r.Is = &sub
			} else {
				r.IsNot = &sub
			}
		default:
			return nil, decodeErr(p, "unknown relation operator")
		}
	}

	return r, nil
}

// DecodeScalar decodes the condition on a scalar field. A bare value is an
// equality shorthand.
func DecodeScalar(f *schema.Field, val json.RawMessage, path string) (Condition, error) {
	if f.Kind == schema.KindJSON {
		return decodeJSON(val, path)
	}

	if !isObject(val) {
		v, err := DecodeValue(val)
		if err != nil {
			return nil, decodeErr(path, "invalid value")
		}
		return Equals{Value: v}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(val, &obj); err != nil {
		return nil, decodeErr(path, "expected an object")
	}

	switch f.Kind {
	case schema.KindString:
		return decodeString(obj, path)
	case schema.KindInt:
		return decodeNumber(obj, path, intValue)
	case schema.KindFloat:
		return decodeNumber(obj, path, floatValue)
	case schema.KindDateTime:
		return decodeDateTime(obj, path)
	case schema.KindBool:
		return decodeBool(obj, path)
	case schema.KindEnum:
		return decodeEnum(obj, path)
	}

	return nil, decodeErr(path, "unsupported field kind %s", f.Kind)
}

func nullFlag(v json.RawMessage) (*bool, bool) {
	if isNull(v) {
		return Ptr(true), true
	}
	return nil, false
}

func stringValue(v json.RawMessage, path string) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", decodeErr(path, "expected a string")
	}
	return s, nil
}

func stringList(v json.RawMessage, path string) ([]string, error) {
	var s []string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, decodeErr(path, "expected a list of strings")
	}
	return s, nil
}

func boolValue(v json.RawMessage, path string) (bool, error) {
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false, decodeErr(path, "expected a boolean")
	}
	return b, nil
}

func decodeString(obj map[string]json.RawMessage, path string) (String, error) {
	var s String
	for k, v := range obj {
		p := join(path, k)
		var err error
		switch k {
		case "equals":
			if n, ok := nullFlag(v); ok {
				s.IsNull = n
				continue
			}
			var x string
			x, err = stringValue(v, p)
			s.Equals = &x
		case "in":
			s.In, err = stringList(v, p)
		case "notIn":
			s.NotIn, err = stringList(v, p)
		case "lt", "lte", "gt", "gte", "contains", "startsWith", "endsWith":
			var x string
			x, err = stringValue(v, p)
			switch k {
			case "lt":
				s.Lt = &x
			case "lte":
				s.Lte = &x
			case "gt":
				s.Gt = &x
			case "gte":
				s.Gte = &x
			case "contains":
				s.Contains = &x
			case "startsWith":
				s.StartsWith = &x
			case "endsWith":
				s.EndsWith = &x
			}
		case "mode":
			var x string
			x, err = stringValue(v, p)
			if err == nil && x != string(ModeInsensitive) && x != "default" {
				err = decodeErr(p, "unknown mode %q", x)
			}
			if x == string(ModeInsensitive) {
				s.Mode = ModeInsensitive
			}
		case "isNull":
			var b bool
			b, err = boolValue(v, p)
			s.IsNull = &b
		case "not":
			if isNull(v) {
				s.IsNull = Ptr(false)
				continue
			}
			var inner String
			if isObject(v) {
				var sub map[string]json.RawMessage
				if err := json.Unmarshal(v, &sub); err != nil {
					return String{}, decodeErr(p, "expected an object")
				}
				inner, err = decodeString(sub, p)
			} else {
				var x string
				x, err = stringValue(v, p)
				inner.Equals = &x
			}
			s.Not = &inner
		default:
			err = decodeErr(p, "unknown string operator")
		}
		if err != nil {
			return String{}, err
		}
	}
	return s, nil
}

func intValue(v json.RawMessage, path string) (int64, error) {
	var n json.Number
	if err := unmarshal(v, &n); err != nil {
		return 0, decodeErr(path, "expected an integer")
	}
	i, err := n.Int64()
	if err != nil {
		return 0, decodeErr(path, "expected an integer")
	}
	return i, nil
}

func floatValue(v json.RawMessage, path string) (float64, error) {
	var n json.Number
	if err := unmarshal(v, &n); err != nil {
		return 0, decodeErr(path, "expected a number")
	}
	f, err := n.Float64()
	if err != nil {
		return 0, decodeErr(path, "expected a number")
	}
	return f, nil
}

func decodeNumber[N int64 | float64](obj map[string]json.RawMessage, path string, parse func(json.RawMessage, string) (N, error)) (Number[N], error) {
	var n Number[N]
	for k, v := range obj {
		p := join(path, k)
		switch k {
		case "equals", "lt", "lte", "gt", "gte":
			if k == "equals" {
				if f, ok := nullFlag(v); ok {
					n.IsNull = f
					continue
				}
			}
			x, err := parse(v, p)
			if err != nil {
				return Number[N]{}, err
			}
			switch k {
			case "equals":
				n.Equals = &x
			case "lt":
				n.Lt = &x
			case "lte":
				n.Lte = &x
			case "gt":
				n.Gt = &x
			case "gte":
				n.Gte = &x
			}
		case "in", "notIn":
			var raws []json.RawMessage
			if err := json.Unmarshal(v, &raws); err != nil {
				return Number[N]{}, decodeErr(p, "expected a list of numbers")
			}
			list := make([]N, 0, len(raws))
			for i, r := range raws {
				x, err := parse(r, fmt.Sprintf("%s[%d]", p, i))
				if err != nil {
					return Number[N]{}, err
				}
				list = append(list, x)
			}
			if k == "in" {
				n.In = list
			} else {
				n.NotIn = list
			}
		case "isNull":
			b, err := boolValue(v, p)
			if err != nil {
				return Number[N]{}, err
			}
			n.IsNull = &b
		case "not":
			if isNull(v) {
				n.IsNull = Ptr(false)
				continue
			}
			var inner Number[N]
			if isObject(v) {
				var sub map[string]json.RawMessage
				if err := json.Unmarshal(v, &sub); err != nil {
					return Number[N]{}, decodeErr(p, "expected an object")
				}
				var err error
				if inner, err = decodeNumber(sub, p, parse); err != nil {
					return Number[N]{}, err
				}
			} else {
				x, err := parse(v, p)
				if err != nil {
					return Number[N]{}, err
				}
				inner.Equals = &x
			}
			n.Not = &inner
		default:
			return Number[N]{}, decodeErr(p, "unknown numeric operator")
		}
	}
	return n, nil
}

// ParseTime parses an RFC 3339 timestamp
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func timeValue(v json.RawMessage, path string) (time.Time, error) {
	s, err := stringValue(v, path)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, decodeErr(path, "expected an RFC 3339 timestamp")
	}
	return t, nil
}

func decodeDateTime(obj map[string]json.RawMessage, path string) (DateTime, error) {
	var d DateTime
	for k, v := range obj {
		p := join(path, k)
		switch k {
		case "equals", "lt", "lte", "gt", "gte":
			if k == "equals" {
				if f, ok := nullFlag(v); ok {
					d.IsNull = f
					continue
				}
			}
			t, err := timeValue(v, p)
			if err != nil {
				return DateTime{}, err
			}
			switch k {
			case "equals":
				d.Equals = &t
			case "lt":
				d.Lt = &t
			case "lte":
				d.Lte = &t
			case "gt":
				d.Gt = &t
			case "gte":
				d.Gte = &t
			}
		case "in", "notIn":
			var raws []json.RawMessage
			if err := json.Unmarshal(v, &raws); err != nil {
				return DateTime{}, decodeErr(p, "expected a list of timestamps")
			}
			list := make([]time.Time, 0, len(raws))
			for i, r := range raws {
				t, err := timeValue(r, fmt.Sprintf("%s[%d]", p, i))
				if err != nil {
					return DateTime{}, err
				}
				list = append(list, t)
			}
			if k == "in" {
				d.In = list
			} else {
				d.NotIn = list
			}
		case "isNull":
			b, err := boolValue(v, p)
			if err != nil {
				return DateTime{}, err
			}
			d.IsNull = &b
		case "not":
			if isNull(v) {
				d.IsNull = Ptr(false)
				continue
			}
			var inner DateTime
			if isObject(v) {
				var sub map[string]json.RawMessage
				if err := json.Unmarshal(v, &sub); err != nil {
					return DateTime{}, decodeErr(p, "expected an object")
				}
				var err error
				if inner, err = decodeDateTime(sub, p); err != nil {
					return DateTime{}, err
				}
			} else {
				t, err := timeValue(v, p)
				if err != nil {
					return DateTime{}, err
				}
				inner.Equals = &t
			}
			d.Not = &inner
		default:
			return DateTime{}, decodeErr(p, "unknown datetime operator")
		}
	}
	return d, nil
}

func decodeBool(obj map[string]json.RawMessage, path string) (Bool, error) {
	var b Bool
	for k, v := range obj {
		p := join(path, k)
		switch k {
		case "equals":
			if f, ok := nullFlag(v); ok {
				b.IsNull = f
				continue
			}
			x, err := boolValue(v, p)
			if err != nil {
				return Bool{}, err
			}
			b.Equals = &x
		case "isNull":
			x, err := boolValue(v, p)
			if err != nil {
				return Bool{}, err
			}
			b.IsNull = &x
		case "not":
			if isNull(v) {
				b.IsNull = Ptr(false)
				continue
			}
			var inner Bool
			if isObject(v) {
				var sub map[string]json.RawMessage
				if err := json.Unmarshal(v, &sub); err != nil {
					return Bool{}, decodeErr(p, "expected an object")
				}
				var err error
				if inner, err = decodeBool(sub, p); err != nil {
					return Bool{}, err
				}
			} else {
				x, err := boolValue(v, p)
				if err != nil {
					return Bool{}, err
				}
				inner.Equals = &x
			}
			b.Not = &inner
		default:
			return Bool{}, decodeErr(p, "unknown boolean operator")
		}
	}
	return b, nil
}

func decodeEnum(obj map[string]json.RawMessage, path string) (Enum, error) {
	var e Enum
	for k, v := range obj {
		p := join(path, k)
		var err error
		switch k {
		case "equals":
			if f, ok := nullFlag(v); ok {
				e.IsNull = f
				continue
			}
			var x string
			x, err = stringValue(v, p)
			e.Equals = &x
		case "in":
			e.In, err = stringList(v, p)
		case "notIn":
			e.NotIn, err = stringList(v, p)
		case "isNull":
			var x bool
			x, err = boolValue(v, p)
			e.IsNull = &x
		case "not":
			if isNull(v) {
				e.IsNull = Ptr(false)
				continue
			}
			var inner Enum
			if isObject(v) {
				var sub map[string]json.RawMessage
				if err := json.Unmarshal(v, &sub); err != nil {
					return Enum{}, decodeErr(p, "expected an object")
				}
				inner, err = decodeEnum(sub, p)
			} else {
				var x string
				x, err = stringValue(v, p)
				inner.Equals = &x
			}
			e.Not = &inner
		default:
			err = decodeErr(p, "unknown enum operator")
		}
		if err != nil {
			return Enum{}, err
		}
	}
	return e, nil
}

func decodeJSON(val json.RawMessage, path string) (JSON, error) {
	if isNull(val) {
		return JSON{IsNull: Ptr(true)}, nil
	}

	var obj map[string]json.RawMessage
	if !isObject(val) || json.Unmarshal(val, &obj) != nil {
		v, err := DecodeValue(val)
		if err != nil {
			return JSON{}, decodeErr(path, "invalid JSON value")
		}
		return JSON{Equals: v}, nil
	}

	var j JSON
	for k, v := range obj {
		p := join(path, k)
		switch k {
		case "path":
			if isArray(v) {
				list, err := stringList(v, p)
				if err != nil {
					return JSON{}, err
				}
				j.Path = list
			} else {
				s, err := stringValue(v, p)
				if err != nil {
					return JSON{}, err
				}
				j.Path = strings.Split(strings.TrimPrefix(s, "$."), ".")
			}
		case "equals":
			if isNull(v) && len(j.Path) == 0 {
				j.IsNull = Ptr(true)
				continue
			}
			x, err := DecodeValue(v)
			if err != nil {
				return JSON{}, decodeErr(p, "invalid JSON value")
			}
			j.Equals = x
		case "string_contains":
			s, err := stringValue(v, p)
			if err != nil {
				return JSON{}, err
			}
			j.StringContains = &s
		case "has_key":
			b, err := boolValue(v, p)
			if err != nil {
				return JSON{}, err
			}
			j.HasKey = b
		default:
			return JSON{}, decodeErr(p, "unknown json operator")
		}
	}
	return j, nil
}

// DecodeUnique decodes a unique lookup document
func DecodeUnique(raw json.RawMessage) (Unique, error) {
	if isNull(raw) {
		return nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, decodeErr("where", "expected an object")
	}

	u := Unique{}
	for k, v := range obj {
		x, err := DecodeValue(v)
		if err != nil {
			return nil, decodeErr(join("where", k), "invalid value")
		}
		u[k] = x
	}
	return u, nil
}

// DecodeOrderBy decodes an order document: an object or a list of objects.
// Each object holds one key.
func DecodeOrderBy(m *schema.Model, raw json.RawMessage) ([]OrderBy, error) {
	if isNull(raw) {
		return nil, nil
	}

	items, err := objectOrList(raw)
	if err != nil {
		return nil, decodeErr("orderBy", "expected an object or a list of objects")
	}

	var ret []OrderBy
	for i, item := range items {
		p := fmt.Sprintf("orderBy[%d]", i)

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, decodeErr(p, "expected an object")
		}
		keys, err := objectKeys(item)
		if err != nil {
			return nil, decodeErr(p, "expected an object")
		}
		for _, k := range keys {
			ob, err := decodeOrderKey(m, k, obj[k], join(p, k))
			if err != nil {
				return nil, err
			}
			ret = append(ret, ob...)
		}
	}

	return ret, nil
}

func decodeDirection(v json.RawMessage, path string) (Direction, error) {
	s, err := stringValue(v, path)
	if err != nil {
		return "", err
	}
	switch Direction(s) {
	case Asc, Desc:
		return Direction(s), nil
	}
	return "", decodeErr(path, "direction must be asc or desc")
}

func decodeOrderKey(m *schema.Model, key string, v json.RawMessage, path string) ([]OrderBy, error) {
	switch key {
	case AggCount, AggAvg, AggSum, AggMin, AggMax:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, decodeErr(path, "expected an object of field directions")
		}
		fields, err := objectKeys(v)
		if err != nil {
			return nil, decodeErr(path, "expected an object of field directions")
		}
		var ret []OrderBy
		for _, field := range fields {
			dir, err := decodeDirection(obj[field], join(path, field))
			if err != nil {
				return nil, err
			}
			ret = append(ret, OrderBy{Aggregate: key, Field: field, Direction: dir})
		}
		return ret, nil
	}

	if rel, ok := m.Relation(key); ok && rel.Kind == schema.ToMany {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, decodeErr(path, "expected {\"_count\": direction}")
		}
		dv, ok := obj[AggCount]
		if !ok || len(obj) != 1 {
			return nil, decodeErr(path, "expected {\"_count\": direction}")
		}
		dir, err := decodeDirection(dv, join(path, AggCount))
		if err != nil {
			return nil, err
		}
		return []OrderBy{{Relation: key, Direction: dir}}, nil
	}

	if isObject(v) {
		var obj struct {
			Sort  json.RawMessage `json:"sort"`
			Nulls string          `json:"nulls"`
		}
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, decodeErr(path, "expected {\"sort\": direction, \"nulls\": first|last}")
		}
		dir, err := decodeDirection(obj.Sort, join(path, "sort"))
		if err != nil {
			return nil, err
		}
		nulls := Nulls(obj.Nulls)
		if nulls != NullsDefault && nulls != NullsFirst && nulls != NullsLast {
			return nil, decodeErr(join(path, "nulls"), "nulls must be first or last")
		}
		return []OrderBy{{Field: key, Direction: dir, Nulls: nulls}}, nil
	}

	dir, err := decodeDirection(v, path)
	if err != nil {
		return nil, err
	}
	return []OrderBy{{Field: key, Direction: dir}}, nil
}

// DecodeHaving decodes a group filter document for model m
func DecodeHaving(m *schema.Model, raw json.RawMessage) (*Having, error) {
	if isNull(raw) {
		return nil, nil
	}
	h, err := decodeHaving(m, raw, "having")
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func decodeHaving(m *schema.Model, raw json.RawMessage, path string) (Having, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Having{}, decodeErr(path, "expected an object")
	}

	var h Having
	for key, val := range obj {
		p := join(path, key)

		switch key {
		case "AND", "OR", "NOT":
			items, err := objectOrList(val)
			if err != nil {
				return Having{}, decodeErr(p, "expected an object or a list of objects")
			}
			hs := make([]Having, 0, len(items))
			for i, item := range items {
				sub, err := decodeHaving(m, item, fmt.Sprintf("%s[%d]", p, i))
				if err != nil {
					return Having{}, err
				}
				hs = append(hs, sub)
			}
			switch key {
			case "AND":
				h.AND = hs
			case "OR":
				h.OR = hs
			default:
				h.NOT = hs
			}
			continue
		}

		f, ok := m.Field(key)
		if !ok {
			return Having{}, decodeErr(p, "unknown field of %s", m.Name)
		}

		hc, err := decodeHavingCondition(f, val, p)
		if err != nil {
			return Having{}, err
		}
		if h.Fields == nil {
			h.Fields = map[string]HavingCondition{}
		}
		h.Fields[key] = hc
	}

	return h, nil
}

// aggregateField is the field an aggregate value is decoded as
func aggregateField(f *schema.Field, agg string) *schema.Field {
	switch agg {
	case AggCount:
		return &schema.Field{Name: f.Name, Kind: schema.KindInt}
	case AggAvg:
		return &schema.Field{Name: f.Name, Kind: schema.KindFloat}
	}
	return &schema.Field{Name: f.Name, Kind: f.Kind, Enum: f.Enum}
}

func decodeHavingCondition(f *schema.Field, val json.RawMessage, path string) (HavingCondition, error) {
	var hc HavingCondition

	var obj map[string]json.RawMessage
	if !isObject(val) || json.Unmarshal(val, &obj) != nil {
		c, err := DecodeScalar(f, val, path)
		if err != nil {
			return HavingCondition{}, err
		}
		hc.Scalar = c
		return hc, nil
	}

	scalar := map[string]json.RawMessage{}
	for k, v := range obj {
		switch k {
		case AggCount, AggAvg, AggSum, AggMin, AggMax:
			c, err := DecodeScalar(aggregateField(f, k), v, join(path, k))
			if err != nil {
				return HavingCondition{}, err
			}
			switch k {
			case AggCount:
				hc.Count = c
			case AggAvg:
				hc.Avg = c
			case AggSum:
				hc.Sum = c
			case AggMin:
				hc.Min = c
			case AggMax:
				hc.Max = c
			}
		default:
			scalar[k] = v
		}
	}

	if len(scalar) > 0 {
		raw, err := json.Marshal(scalar)
		if err != nil {
			return HavingCondition{}, decodeErr(path, "invalid condition")
		}
		c, err := DecodeScalar(f, raw, path)
		if err != nil {
			return HavingCondition{}, err
		}
		hc.Scalar = c
	}

	return hc, nil
}
