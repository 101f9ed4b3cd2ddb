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
	"encoding/json"
	"testing"

	"github.com/venuecrm/venuecrm/pkg/assert"
	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/schema"
	"github.com/venuecrm/venuecrm/pkg/testutils"
)

func TestDecodeOperation(t *testing.T) {
	reg := schema.Default()

	testCases := []struct {
		name     string
		model    string
		action   string
		args     string
		expected interface{}
	}{
		{
			name:   "findMany window",
			model:  "Lead",
			action: ActionFindMany,
			args:   `{"where": {"status": "Won"}, "orderBy": [{"clientBudget": "desc"}], "take": 2, "skip": 1, "distinct": "status"}`,
			expected: FindManyArgs{
				Window: Window{
					Where:   filter.Field("status", filter.Equals{Value: "Won"}),
					OrderBy: []filter.OrderBy{filter.DescBy("clientBudget")},
					Take:    filter.Ptr(2),
					Skip:    1,
				},
				Distinct: []string{"status"},
			},
		},
		{
			name:   "findUnique with include",
			model:  "Lead",
			action: ActionFindUnique,
			args:   `{"where": {"id": 3}, "include": {"contact": true, "source": false, "payments": {"take": 1, "select": {"amount": true}}}}`,
			expected: FindUniqueArgs{
				Where: filter.Unique{"id": json.Number("3")},
				Include: WithRelations{
					"contact":  nil,
					"payments": {Take: filter.Ptr(1), Select: FieldSubset{"amount"}},
				},
			},
		},
		{
			name:   "update with number operations",
			model:  "Lead",
			action: ActionUpdate,
			args:   `{"where": {"id": 1}, "data": {"clientBudget": {"increment": 5}, "notes": null, "status": "Won"}}`,
			expected: UpdateArgs{
				Where: filter.Unique{"id": json.Number("1")},
				Data: Data{
					"clientBudget": NumberOp{Op: OpIncrement, Value: json.Number("5")},
					"notes":        nil,
					"status":       "Won",
				},
			},
		},
		{
			name:   "json data stays raw",
			model:  "AppSetting",
			action: ActionCreate,
			args:   `{"data": {"key": "theme", "value": {"mode": "dark"}}}`,
			expected: CreateArgs{
				Data: Data{"key": "theme", "value": json.RawMessage(`{"mode": "dark"}`)},
			},
		},
		{
			name:     "count fields",
			model:    "Lead",
			action:   ActionCount,
			args:     `{"select": {"_all": true, "probability": true}}`,
			expected: CountArgs{Fields: []string{"_all", "probability"}},
		},
		{
			name:   "aggregate selectors",
			model:  "Lead",
			action: ActionAggregate,
			args:   `{"_count": true, "_sum": {"clientBudget": true}, "_max": {"guests": true, "probability": false}}`,
			expected: AggregateArgs{
				Count: []string{CountAll},
				Sum:   []string{"clientBudget"},
				Max:   []string{"guests"},
			},
		},
		{
			name:   "groupBy",
			model:  "Lead",
			action: ActionGroupBy,
			args:   `{"by": ["status"], "_count": {"_all": true}, "having": {"clientBudget": {"_sum": {"gt": 10}}}}`,
			expected: GroupByArgs{
				By:     []string{"status"},
				Count:  []string{"_all"},
				Having: &filter.Having{Fields: map[string]filter.HavingCondition{"clientBudget": {Sum: filter.Float{Gt: filter.Ptr(10.0)}}}},
			},
		},
		{
			name:     "empty arguments",
			model:    "Sources",
			action:   ActionDeleteMany,
			args:     ``,
			expected: DeleteManyArgs{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			op, err := DecodeOperation(reg, tc.model, tc.action, json.RawMessage(tc.args))
			mustNoErr(t, err, "decoding operation")
			assert.Equal(t, op.Model, tc.model, "model mismatch")
			assert.Equal(t, op.Action, tc.action, "action mismatch")
			assert.DeepEqual(t, op.Args, tc.expected, "args mismatch")
		})
	}
}

func TestDecodeOperation_invalid(t *testing.T) {
	reg := schema.Default()

	testCases := []struct {
		name   string
		model  string
		action string
		args   string
	}{
		{name: "unknown model", model: "Invoice", action: ActionFindMany, args: `{}`},
		{name: "unknown action", model: "Lead", action: "truncate", args: `{}`},
		{name: "unknown argument", model: "Lead", action: ActionFindMany, args: `{"limit": 1, "bogus": true}`},
		{name: "malformed json", model: "Lead", action: ActionFindMany, args: `{"where":`},
		{name: "unknown number operation", model: "Lead", action: ActionUpdate, args: `{"where": {"id": 1}, "data": {"guests": {"square": 2}}}`},
		{name: "unknown relation in include", model: "Lead", action: ActionFindMany, args: `{"include": {"invoices": true}}`},
		{name: "bad where", model: "Lead", action: ActionFindMany, args: `{"where": {"clientBudget": {"gt": "many"}}}`},
		{name: "createMany data is not a list", model: "Sources", action: ActionCreateMany, args: `{"data": {"name": "x"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeOperation(reg, tc.model, tc.action, json.RawMessage(tc.args))
			requireKind(t, err, KindValidation, "decoding operation")
		})
	}
}

func TestDispatch(t *testing.T) {
	client, db, _ := setupClient(t)
	ctx := context.Background()

	contact := testutils.SetupContact(t, db, "Asha", "555-0100")
	testutils.SetupLead(t, db, contact.ID, "Won", 100)

	ret, err := client.Dispatch(ctx, "Lead", ActionFindMany, json.RawMessage(`{"select": {"id": true, "status": true}}`))
	mustNoErr(t, err, "dispatching findMany")

	b, err := json.Marshal(ret)
	mustNoErr(t, err, "marshalling result")
	assert.Equal(t, string(b), `[{"id":1,"status":"Won"}]`, "projection mismatch")

	ret, err = client.Dispatch(ctx, "Lead", ActionFindUnique, json.RawMessage(`{"where": {"id": 1}, "include": {"contact": {"select": {"firstName": true}}}}`))
	mustNoErr(t, err, "dispatching findUnique")
	lead := ret.(map[string]interface{})
	assert.DeepEqual(t, lead["contact"], map[string]interface{}{"firstName": "Asha"}, "include mismatch")
	assert.Equal(t, lead["status"], "Won", "status mismatch")

	ret, err = client.Dispatch(ctx, "Lead", ActionFindUnique, json.RawMessage(`{"where": {"id": 9}}`))
	mustNoErr(t, err, "dispatching findUnique")
	assert.Equal(t, ret, nil, "missing record should be null")

	ret, err = client.Dispatch(ctx, "Lead", ActionUpdateMany, json.RawMessage(`{"data": {"clientBudget": {"multiply": 3}}}`))
	mustNoErr(t, err, "dispatching updateMany")
	assert.Equal(t, ret, BatchPayload{Count: 1}, "payload mismatch")

	ret, err = client.Dispatch(ctx, "Lead", ActionAggregate, json.RawMessage(`{"_sum": {"clientBudget": true}}`))
	mustNoErr(t, err, "dispatching aggregate")
	assert.Equal(t, ret.(*AggregateResult).Sum["clientBudget"], 300.0, "sum mismatch")

	_, err = client.Dispatch(ctx, "Lead", ActionFindMany, json.RawMessage(`{"select": {"id": true}, "include": {"contact": true}}`))
	requireKind(t, err, KindValidation, "select with include")
}
