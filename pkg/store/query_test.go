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
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/venuecrm/venuecrm/pkg/assert"
	"github.com/venuecrm/venuecrm/pkg/database"
	"github.com/venuecrm/venuecrm/pkg/filter"
	"github.com/venuecrm/venuecrm/pkg/testutils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// setupLeads creates one lead per status, in order
func setupLeads(t *testing.T, db *gorm.DB, statuses ...string) []database.Lead {
	contact := testutils.SetupContact(t, db, "Asha", "555-0100")

	var ret []database.Lead
	for i, status := range statuses {
		ret = append(ret, testutils.SetupLead(t, db, contact.ID, status, float64(100*(i+1))))
	}
	return ret
}

func TestFindMany_pagination(t *testing.T) {
	client, db, _ := setupClient(t)
	leads := setupLeads(t, db, "New", "New", "Won", "Lost", "Won")
	byID := []filter.OrderBy{filter.AscBy("id")}

	testCases := []struct {
		name     string
		window   Window
		expected []int
	}{
		{
			name:     "take and skip",
			window:   Window{OrderBy: byID, Take: filter.Ptr(2), Skip: 2},
			expected: []int{leads[2].ID, leads[3].ID},
		},
		{
			name:     "skip past the end",
			window:   Window{OrderBy: byID, Skip: 10},
			expected: []int{},
		},
		{
			name:     "negative take",
			window:   Window{OrderBy: byID, Take: filter.Ptr(-2)},
			expected: []int{leads[3].ID, leads[4].ID},
		},
		{
			name:     "cursor",
			window:   Window{OrderBy: byID, Cursor: filter.Unique{"id": leads[1].ID}, Take: filter.Ptr(2)},
			expected: []int{leads[1].ID, leads[2].ID},
		},
		{
			name:     "cursor and skip",
			window:   Window{OrderBy: byID, Cursor: filter.Unique{"id": leads[1].ID}, Take: filter.Ptr(2), Skip: 1},
			expected: []int{leads[2].ID, leads[3].ID},
		},
		{
			name:     "cursor with negative take",
			window:   Window{OrderBy: byID, Cursor: filter.Unique{"id": leads[3].ID}, Take: filter.Ptr(-2)},
			expected: []int{leads[2].ID, leads[3].ID},
		},
		{
			name:     "missing cursor",
			window:   Window{OrderBy: byID, Cursor: filter.Unique{"id": 999}},
			expected: []int{},
		},
		{
			name:     "descending with ties broken by id",
			window:   Window{OrderBy: []filter.OrderBy{filter.DescBy("status")}},
			expected: []int{leads[2].ID, leads[4].ID, leads[0].ID, leads[1].ID, leads[3].ID},
		},
		{
			name: "filtered",
			window: Window{
				Where:   filter.Field("clientBudget", filter.Float{Gte: filter.Ptr(200.0)}),
				OrderBy: []filter.OrderBy{filter.DescBy("clientBudget")},
				Take:    filter.Ptr(3),
			},
			expected: []int{leads[4].ID, leads[3].ID, leads[2].ID},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := client.Lead.FindMany(context.Background(), FindManyArgs{Window: tc.window})
			mustNoErr(t, err, "finding leads")
			assert.DeepEqual(t, pluckIDs(got, leadID), tc.expected, "ids mismatch")
		})
	}

	t.Run("negative skip", func(t *testing.T) {
		_, err := client.Lead.FindMany(context.Background(), FindManyArgs{Window: Window{Skip: -1}})
		requireKind(t, err, KindValidation, "negative skip")
	})
}

func TestFindMany_distinct(t *testing.T) {
	client, db, _ := setupClient(t)
	leads := setupLeads(t, db, "New", "New", "Won", "Lost", "Won")
	ctx := context.Background()

	got, err := client.Lead.FindMany(ctx, FindManyArgs{
		Window:   Window{OrderBy: []filter.OrderBy{filter.AscBy("id")}},
		Distinct: []string{"status"},
	})
	mustNoErr(t, err, "finding distinct leads")
	assert.DeepEqual(t, pluckIDs(got, leadID), []int{leads[0].ID, leads[2].ID, leads[3].ID}, "ids mismatch")

	got, err = client.Lead.FindMany(ctx, FindManyArgs{
		Window:   Window{OrderBy: []filter.OrderBy{filter.AscBy("id")}, Take: filter.Ptr(1), Skip: 1},
		Distinct: []string{"status"},
	})
	mustNoErr(t, err, "finding distinct leads")
	assert.DeepEqual(t, pluckIDs(got, leadID), []int{leads[2].ID}, "paginated ids mismatch")

	_, err = client.Lead.FindMany(ctx, FindManyArgs{Distinct: []string{"nope"}})
	requireKind(t, err, KindValidation, "unknown distinct field")
}

func TestFindFirst(t *testing.T) {
	client, db, _ := setupClient(t)
	leads := setupLeads(t, db, "New", "Won", "Won")
	ctx := context.Background()

	won := filter.Field("status", filter.String{Equals: filter.Ptr("Won")})

	got, err := client.Lead.FindFirst(ctx, FindManyArgs{Window: Window{Where: won, OrderBy: []filter.OrderBy{filter.AscBy("id")}}})
	mustNoErr(t, err, "finding first lead")
	assert.Equal(t, got.ID, leads[1].ID, "first mismatch")

	got, err = client.Lead.FindFirst(ctx, FindManyArgs{Window: Window{Where: won, OrderBy: []filter.OrderBy{filter.AscBy("id")}, Take: filter.Ptr(-1)}})
	mustNoErr(t, err, "finding last lead")
	assert.Equal(t, got.ID, leads[2].ID, "last mismatch")

	lost := filter.Field("status", filter.String{Equals: filter.Ptr("Lost")})
	got, err = client.Lead.FindFirst(ctx, FindManyArgs{Window: Window{Where: lost}})
	mustNoErr(t, err, "finding lost lead")
	assert.Equal(t, got, (*database.Lead)(nil), "should not find a record")

	_, err = client.Lead.FindFirstOrThrow(ctx, FindManyArgs{Window: Window{Where: lost}})
	requireKind(t, err, KindNotFound, "finding lost lead")
}

func TestFindMany_filters(t *testing.T) {
	client, db, _ := setupClient(t)
	ctx := context.Background()

	asha := testutils.SetupContact(t, db, "Asha", "555-0100")
	ravi := testutils.SetupContact(t, db, "Ravi", "555-0101")
	testutils.MustExec(t, db.Model(&ravi).Update("last_name", "O_Brien"), "setting last name")

	l1 := testutils.SetupLead(t, db, asha.ID, "New", 100)
	l2 := testutils.SetupLead(t, db, ravi.ID, "Won", 200)
	l3 := testutils.SetupLead(t, db, ravi.ID, "Lost", 300)
	testutils.MustExec(t, db.Model(&l1).Update("title", "Wedding reception"), "setting title")
	testutils.MustExec(t, db.Model(&l2).Update("title", "Corporate offsite"), "setting title")
	testutils.SetupPayment(t, db, l2.ID, 50)

	testCases := []struct {
		name     string
		where    *filter.Where
		expected []int
	}{
		{
			name:     "contains",
			where:    filter.Field("title", filter.String{Contains: filter.Ptr("off")}),
			expected: []int{l2.ID},
		},
		{
			name:     "insensitive starts with",
			where:    filter.Field("title", filter.String{StartsWith: filter.Ptr("wed"), Mode: filter.ModeInsensitive}),
			expected: []int{l1.ID},
		},
		{
			name:     "case sensitive starts with",
			where:    filter.Field("title", filter.String{StartsWith: filter.Ptr("wed")}),
			expected: []int{},
		},
		{
			name:     "is null",
			where:    filter.Field("title", filter.String{IsNull: filter.Ptr(true)}),
			expected: []int{l3.ID},
		},
		{
			name:     "equals null shorthand",
			where:    filter.Field("title", filter.Equals{Value: nil}),
			expected: []int{l3.ID},
		},
		{
			name:     "not matches missing values",
			where:    filter.Field("title", filter.String{Not: &filter.String{Contains: filter.Ptr("Wedding")}}),
			expected: []int{l2.ID, l3.ID},
		},
		{
			name:     "empty in",
			where:    filter.Field("status", filter.String{In: []string{}}),
			expected: []int{},
		},
		{
			name:     "empty not in",
			where:    filter.Field("status", filter.String{NotIn: []string{}}),
			expected: []int{l1.ID, l2.ID, l3.ID},
		},
		{
			name: "or",
			where: filter.Or(
				*filter.Field("status", filter.String{Equals: filter.Ptr("New")}),
				*filter.Field("clientBudget", filter.Float{Gt: filter.Ptr(250.0)}),
			),
			expected: []int{l1.ID, l3.ID},
		},
		{
			name:     "empty or",
			where:    &filter.Where{OR: []filter.Where{}},
			expected: []int{},
		},
		{
			name:     "not",
			where:    filter.Not(*filter.Field("status", filter.String{In: []string{"New", "Won"}})),
			expected: []int{l3.ID},
		},
		{
			name: "to-one relation",
			where: filter.Field("contact", filter.Relation{Is: filter.Field("firstName", filter.String{Equals: filter.Ptr("Ravi")})}),
			expected: []int{l2.ID, l3.ID},
		},
		{
			name:     "like metacharacters are literal",
			where:    filter.Field("contact", filter.Relation{Is: filter.Field("lastName", filter.String{Contains: filter.Ptr("O_B")})}),
			expected: []int{l2.ID, l3.ID},
		},
		{
			name:     "to-many some",
			where:    filter.Field("payments", filter.List{Some: filter.Field("amount", filter.Float{Gte: filter.Ptr(10.0)})}),
			expected: []int{l2.ID},
		},
		{
			name:     "to-many none",
			where:    filter.Field("payments", filter.List{None: &filter.Where{}}),
			expected: []int{l1.ID, l3.ID},
		},
		{
			name:     "to-many every holds without children",
			where:    filter.Field("payments", filter.List{Every: filter.Field("amount", filter.Float{Gt: filter.Ptr(100.0)})}),
			expected: []int{l1.ID, l3.ID},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := client.Lead.FindMany(ctx, FindManyArgs{Window: Window{Where: tc.where}})
			mustNoErr(t, err, "finding leads")
			assert.DeepEqual(t, pluckIDs(got, leadID), tc.expected, "ids mismatch")
		})
	}
}

func TestFindMany_invalidFilters(t *testing.T) {
	client, _, _ := setupClient(t)

	testCases := []struct {
		name  string
		where *filter.Where
	}{
		{
			name:  "unknown field",
			where: filter.Field("nope", filter.String{Equals: filter.Ptr("x")}),
		},
		{
			name:  "kind mismatch",
			where: filter.Field("clientBudget", filter.String{Equals: filter.Ptr("x")}),
		},
		{
			name:  "is null on a required field",
			where: filter.Field("status", filter.String{IsNull: filter.Ptr(true)}),
		},
		{
			name:  "list condition on a to-one relation",
			where: filter.Field("contact", filter.List{Some: &filter.Where{}}),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.Lead.FindMany(context.Background(), FindManyArgs{Window: Window{Where: tc.where}})
			requireKind(t, err, KindValidation, "finding leads")
		})
	}
}

func TestFindMany_json(t *testing.T) {
	client, db, _ := setupClient(t)
	ctx := context.Background()

	for key, value := range map[string]string{
		"theme":    `{"mode": "dark", "size": 3}`,
		"currency": `{"code": "INR"}`,
		"tags":     `["a", "b"]`,
	} {
		setting := database.AppSetting{Key: key, Value: datatypes.JSON(value), UpdatedAt: testutils.Now}
		testutils.MustExec(t, db.Create(&setting), "preparing setting")
	}

	keys := func(s database.AppSetting) string { return s.Key }

	testCases := []struct {
		name     string
		cond     filter.JSON
		expected []string
	}{
		{
			name:     "path equals",
			cond:     filter.JSON{Path: []string{"mode"}, Equals: "dark"},
			expected: []string{"theme"},
		},
		{
			name:     "path equals number",
			cond:     filter.JSON{Path: []string{"size"}, Equals: 3},
			expected: []string{"theme"},
		},
		{
			name:     "has key",
			cond:     filter.JSON{Path: []string{"code"}, HasKey: true},
			expected: []string{"currency"},
		},
		{
			name:     "string contains",
			cond:     filter.JSON{Path: []string{"code"}, StringContains: filter.Ptr("IN")},
			expected: []string{"currency"},
		},
		{
			name:     "whole document",
			cond:     filter.JSON{Equals: json.RawMessage(`["a","b"]`)},
			expected: []string{"tags"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := client.AppSetting.FindMany(ctx, FindManyArgs{Window: Window{
				Where:   filter.Field("value", tc.cond),
				OrderBy: []filter.OrderBy{filter.AscBy("key")},
			}})
			mustNoErr(t, err, "finding settings")

			var names []string
			for _, s := range got {
				names = append(names, keys(s))
			}
			if names == nil {
				names = []string{}
			}
			assert.DeepEqual(t, names, tc.expected, "keys mismatch")
		})
	}

	t.Run("order by json", func(t *testing.T) {
		_, err := client.AppSetting.FindMany(ctx, FindManyArgs{Window: Window{OrderBy: []filter.OrderBy{filter.AscBy("value")}}})
		requireKind(t, err, KindValidation, "ordering by a json field")
	})
}

// leadOracle is a filter over leads evaluated in Go
type leadOracle func(l database.Lead) bool

func randomLeaf(r *rand.Rand) (filter.Where, leadOracle) {
	statuses := []string{"New", "Contacted", "Won", "Lost"}

	switch r.Intn(5) {
	case 0:
		s := statuses[r.Intn(len(statuses))]
		return *filter.Field("status", filter.String{Equals: &s}), func(l database.Lead) bool {
			return l.Status == s
		}
	case 1:
		in := []string{statuses[r.Intn(len(statuses))], statuses[r.Intn(len(statuses))]}
		return *filter.Field("status", filter.String{NotIn: in}), func(l database.Lead) bool {
			return l.Status != in[0] && l.Status != in[1]
		}
	case 2:
		v := float64(r.Intn(10) * 100)
		return *filter.Field("clientBudget", filter.Float{Gt: &v}), func(l database.Lead) bool {
			return l.ClientBudget > v
		}
	case 3:
		v := int64(r.Intn(100))
		return *filter.Field("probability", filter.Int{Lte: &v}), func(l database.Lead) bool {
			return l.Probability != nil && int64(*l.Probability) <= v
		}
	default:
		null := r.Intn(2) == 0
		return *filter.Field("probability", filter.Int{IsNull: &null}), func(l database.Lead) bool {
			return (l.Probability == nil) == null
		}
	}
}

func randomWhere(r *rand.Rand, depth int) (filter.Where, leadOracle) {
	if depth == 0 || r.Intn(3) == 0 {
		return randomLeaf(r)
	}

	a, fa := randomWhere(r, depth-1)
	b, fb := randomWhere(r, depth-1)
	switch r.Intn(3) {
	case 0:
		return filter.Where{AND: []filter.Where{a, b}}, func(l database.Lead) bool { return fa(l) && fb(l) }
	case 1:
		return filter.Where{OR: []filter.Where{a, b}}, func(l database.Lead) bool { return fa(l) || fb(l) }
	default:
		return filter.Where{NOT: []filter.Where{a}}, func(l database.Lead) bool { return !fa(l) }
	}
}

func TestFindMany_randomFilters(t *testing.T) {
	client, db, _ := setupClient(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(42))

	contact := testutils.SetupContact(t, db, "Asha", "555-0100")
	statuses := []string{"New", "Contacted", "Won", "Lost"}

	var leads []database.Lead
	for i := 0; i < 40; i++ {
		lead := testutils.SetupLead(t, db, contact.ID, statuses[r.Intn(len(statuses))], float64(r.Intn(10)*100))
		if r.Intn(3) > 0 {
			p := r.Intn(100)
			testutils.MustExec(t, db.Model(&lead).Update("probability", p), "setting probability")
			lead.Probability = &p
		}
		leads = append(leads, lead)
	}

	for i := 0; i < 100; i++ {
		where, oracle := randomWhere(r, 3)

		t.Run(fmt.Sprintf("filter %d", i), func(t *testing.T) {
			got, err := client.Lead.FindMany(ctx, FindManyArgs{Window: Window{Where: &where}})
			mustNoErr(t, err, "finding leads")

			expected := []int{}
			for _, l := range leads {
				if oracle(l) {
					expected = append(expected, l.ID)
				}
			}
			sort.Ints(expected)

			assert.DeepEqual(t, pluckIDs(got, leadID), expected, "ids mismatch")
		})
	}
}
