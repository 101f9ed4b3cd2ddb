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

package schema

import (
	"reflect"
	"testing"

	"github.com/venuecrm/venuecrm/pkg/assert"
	"github.com/venuecrm/venuecrm/pkg/database"
)

func TestDefault(t *testing.T) {
	r := Default()

	assert.Equal(t, len(r.Models()), 9, "model count mismatch")

	for _, name := range []string{"User", "Sessions", "Contact", "Lead", "Payment", "LeadActivity", "Sources", "Notification", "AppSetting"} {
		if _, ok := r.Model(name); !ok {
			t.Errorf("model %s is not registered", name)
		}
	}

	m, ok := r.Model("lead")
	assert.Equal(t, ok, true, "lookup should be case-insensitive")
	assert.Equal(t, m.Name, "Lead", "name mismatch")
}

func TestReferentialPolicy(t *testing.T) {
	r := Default()

	testCases := []struct {
		model    string
		relation string
		policy   Policy
	}{
		{model: "Contact", relation: "leads", policy: Restrict},
		{model: "User", relation: "sessions", policy: Cascade},
		{model: "User", relation: "leads", policy: SetNull},
		{model: "User", relation: "leadActivities", policy: SetNull},
		{model: "User", relation: "notifications", policy: SetNull},
		{model: "Lead", relation: "payments", policy: Cascade},
		{model: "Lead", relation: "activities", policy: Cascade},
		{model: "Lead", relation: "notifications", policy: SetNull},
		{model: "Sources", relation: "leads", policy: SetNull},
	}

	for _, tc := range testCases {
		t.Run(tc.model+"."+tc.relation, func(t *testing.T) {
			rel, ok := r.MustModel(tc.model).Relation(tc.relation)
			if !ok {
				t.Fatalf("relation %s.%s missing", tc.model, tc.relation)
			}
			assert.Equal(t, rel.OnDelete, tc.policy, "policy mismatch")
		})
	}
}

func TestRequiredRelations(t *testing.T) {
	r := Default()

	contact, _ := r.MustModel("Lead").Relation("contact")
	assert.Equal(t, contact.Required, true, "Lead.contact should be required")
	assert.Equal(t, contact.Constraint(), "fk_leads_contact_id", "constraint mismatch")

	source, _ := r.MustModel("Lead").Relation("source")
	assert.Equal(t, source.Required, false, "Lead.source should be optional")

	leads, _ := r.MustModel("Contact").Relation("leads")
	assert.Equal(t, leads.Constraint(), "fk_leads_contact_id", "to-many constraint mismatch")
}

func TestUniqueFields(t *testing.T) {
	r := Default()

	testCases := []struct {
		model    string
		expected []string
	}{
		{model: "User", expected: []string{"id", "email"}},
		{model: "Contact", expected: []string{"id", "email", "phone"}},
		{model: "Sessions", expected: []string{"id", "session_token"}},
		{model: "Sources", expected: []string{"id", "name"}},
		{model: "AppSetting", expected: []string{"key"}},
		{model: "Lead", expected: []string{"id"}},
	}

	for _, tc := range testCases {
		t.Run(tc.model, func(t *testing.T) {
			var got []string
			for _, f := range r.MustModel(tc.model).UniqueFields() {
				got = append(got, f.Name)
			}
			assert.DeepEqual(t, got, tc.expected, "unique fields mismatch")
		})
	}
}

func TestFieldValue(t *testing.T) {
	m := Default().MustModel("Lead")
	title := "Wedding"
	rec := database.Lead{ID: 7, Title: &title, ClientBudget: 1500}

	f, _ := m.Field("clientBudget")
	assert.Equal(t, f.Value(reflect.ValueOf(&rec)).Interface(), 1500.0, "clientBudget mismatch")

	f, _ = m.Field("title")
	assert.Equal(t, *f.Value(reflect.ValueOf(rec)).Interface().(*string), "Wedding", "title mismatch")

	f, ok := m.FieldByColumn("client_budget")
	assert.Equal(t, ok, true, "column lookup failed")
	assert.Equal(t, f.Name, "clientBudget", "column lookup mismatch")
}

func TestNewRegistry_errors(t *testing.T) {
	type bad struct {
		ID   int    `gorm:"column:id"`
		Name string `gorm:"column:name"`
	}

	testCases := []struct {
		name  string
		model *Model
	}{
		{
			name: "missing column",
			model: &Model{Name: "Bad", Table: "bad", Type: reflect.TypeOf(bad{}), Fields: []*Field{
				{Name: "id", Column: "id", Kind: KindInt, ID: true},
				{Name: "other", Column: "other", Kind: KindString},
			}},
		},
		{
			name: "kind mismatch",
			model: &Model{Name: "Bad", Table: "bad", Type: reflect.TypeOf(bad{}), Fields: []*Field{
				{Name: "id", Column: "id", Kind: KindInt, ID: true},
				{Name: "name", Column: "name", Kind: KindInt},
			}},
		},
		{
			name: "no primary key",
			model: &Model{Name: "Bad", Table: "bad", Type: reflect.TypeOf(bad{}), Fields: []*Field{
				{Name: "name", Column: "name", Kind: KindString},
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.model)
			assert.NotEqual(t, err, nil, "expected an error")
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindInt.Numeric(), true, "Int is numeric")
	assert.Equal(t, KindDateTime.Numeric(), false, "DateTime is not numeric")
	assert.Equal(t, KindDateTime.Comparable(), true, "DateTime is comparable")
	assert.Equal(t, KindBool.Comparable(), false, "Boolean is not comparable")
	assert.Equal(t, KindJSON.String(), "Json", "name mismatch")
}
