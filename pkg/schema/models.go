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
	"sync"

	"github.com/venuecrm/venuecrm/pkg/database"
)

func id() *Field {
	return &Field{Name: "id", Column: "id", Kind: KindInt, ID: true, AutoIncrement: true}
}

func str(name, column string) *Field {
	return &Field{Name: name, Column: column, Kind: KindString}
}

func optStr(name, column string) *Field {
	return &Field{Name: name, Column: column, Kind: KindString, Nullable: true}
}

func optInt(name, column string) *Field {
	return &Field{Name: name, Column: column, Kind: KindInt, Nullable: true}
}

func optFloat(name, column string) *Field {
	return &Field{Name: name, Column: column, Kind: KindFloat, Nullable: true}
}

func optTime(name, column string) *Field {
	return &Field{Name: name, Column: column, Kind: KindDateTime, Nullable: true}
}

func createdAt(name string) *Field {
	return &Field{Name: name, Column: "created_at", Kind: KindDateTime, CreatedAt: true}
}

func updatedAt(name string) *Field {
	return &Field{Name: name, Column: "updated_at", Kind: KindDateTime, UpdatedAt: true}
}

func roles() []string {
	ret := make([]string, 0, len(database.Roles))
	for _, r := range database.Roles {
		ret = append(ret, string(r))
	}
	return ret
}

// crmModels declares the nine entities of the CRM
func crmModels() []*Model {
	user := &Model{
		Name:  "User",
		Table: "users",
		Type:  reflect.TypeOf(database.User{}),
		Fields: []*Field{
			id(),
			str("username", "username"),
			{Name: "email", Column: "email", Kind: KindString, Unique: true},
			str("password_hash", "password_hash"),
			{Name: "is_active", Column: "is_active", Kind: KindBool, Default: true},
			createdAt("created_at"),
			updatedAt("updated_at"),
			optTime("last_login_at", "last_login_at"),
			{Name: "role", Column: "role", Kind: KindEnum, Enum: roles(), Default: string(database.RoleSales)},
		},
		Relations: []*Relation{
			{Name: "leads", Kind: ToMany, Target: "Lead", Local: "id", Foreign: "assignedTo", OnDelete: SetNull},
			{Name: "leadActivities", Kind: ToMany, Target: "LeadActivity", Local: "id", Foreign: "userId", OnDelete: SetNull},
			{Name: "notifications", Kind: ToMany, Target: "Notification", Local: "id", Foreign: "userId", OnDelete: SetNull},
			{Name: "sessions", Kind: ToMany, Target: "Sessions", Local: "id", Foreign: "user_id", OnDelete: Cascade},
		},
	}

	sessions := &Model{
		Name:  "Sessions",
		Table: "sessions",
		Type:  reflect.TypeOf(database.Sessions{}),
		Fields: []*Field{
			id(),
			{Name: "session_token", Column: "session_token", Kind: KindString, Unique: true},
			optStr("ip_address", "ip_address"),
			optStr("user_agent", "user_agent"),
			createdAt("created_at"),
			{Name: "expires_at", Column: "expires_at", Kind: KindDateTime},
			optTime("revoked_at", "revoked_at"),
			{Name: "user_id", Column: "user_id", Kind: KindInt},
		},
		Relations: []*Relation{
			{Name: "user", Kind: ToOne, Target: "User", Local: "user_id", Foreign: "id"},
		},
	}

	contact := &Model{
		Name:  "Contact",
		Table: "contacts",
		Type:  reflect.TypeOf(database.Contact{}),
		Fields: []*Field{
			id(),
			str("firstName", "first_name"),
			optStr("lastName", "last_name"),
			{Name: "email", Column: "email", Kind: KindString, Nullable: true, Unique: true},
			{Name: "phone", Column: "phone", Kind: KindString, Unique: true},
			createdAt("createdAt"),
			updatedAt("updatedAt"),
		},
		Relations: []*Relation{
			{Name: "leads", Kind: ToMany, Target: "Lead", Local: "id", Foreign: "contactId", OnDelete: Restrict},
		},
	}

	lead := &Model{
		Name:  "Lead",
		Table: "leads",
		Type:  reflect.TypeOf(database.Lead{}),
		Fields: []*Field{
			id(),
			optStr("title", "title"),
			optFloat("quotationAmount", "quotation_amount"),
			{Name: "clientBudget", Column: "client_budget", Kind: KindFloat},
			{Name: "status", Column: "status", Kind: KindString, Default: "New"},
			optInt("probability", "probability"),
			optTime("expectedCloseDate", "expected_close_date"),
			optStr("notes", "notes"),
			optInt("guests", "guests"),
			optStr("venue", "venue"),
			optStr("eventType", "event_type"),
			optTime("eventDate", "event_date"),
			optFloat("finalAmount", "final_amount"),
			optFloat("advanceAmount", "advance_amount"),
			optTime("siteVisitDate", "site_visit_date"),
			optStr("siteVisitTime", "site_visit_time"),
			optStr("bookingNotes", "booking_notes"),
			optTime("bookedAt", "booked_at"),
			optStr("bookedBy", "booked_by"),
			createdAt("createdAt"),
			updatedAt("updatedAt"),
			{Name: "contactId", Column: "contact_id", Kind: KindInt},
			optInt("sourceId", "source_id"),
			optInt("assignedTo", "assigned_to"),
		},
		Relations: []*Relation{
			{Name: "contact", Kind: ToOne, Target: "Contact", Local: "contactId", Foreign: "id"},
			{Name: "source", Kind: ToOne, Target: "Sources", Local: "sourceId", Foreign: "id"},
			{Name: "assignee", Kind: ToOne, Target: "User", Local: "assignedTo", Foreign: "id"},
			{Name: "activities", Kind: ToMany, Target: "LeadActivity", Local: "id", Foreign: "leadId", OnDelete: Cascade},
			{Name: "notifications", Kind: ToMany, Target: "Notification", Local: "id", Foreign: "leadId", OnDelete: SetNull},
			{Name: "payments", Kind: ToMany, Target: "Payment", Local: "id", Foreign: "leadId", OnDelete: Cascade},
		},
	}

	payment := &Model{
		Name:  "Payment",
		Table: "payments",
		Type:  reflect.TypeOf(database.Payment{}),
		Fields: []*Field{
			id(),
			{Name: "amount", Column: "amount", Kind: KindFloat},
			{Name: "date", Column: "date", Kind: KindDateTime, DefaultNow: true},
			{Name: "type", Column: "type", Kind: KindString, Default: "Advance"},
			optStr("notes", "notes"),
			{Name: "leadId", Column: "lead_id", Kind: KindInt},
			createdAt("createdAt"),
			updatedAt("updatedAt"),
		},
		Relations: []*Relation{
			{Name: "lead", Kind: ToOne, Target: "Lead", Local: "leadId", Foreign: "id"},
		},
	}

	activity := &Model{
		Name:  "LeadActivity",
		Table: "lead_activities",
		Type:  reflect.TypeOf(database.LeadActivity{}),
		Fields: []*Field{
			id(),
			{Name: "leadId", Column: "lead_id", Kind: KindInt},
			optInt("userId", "user_id"),
			{Name: "type", Column: "type", Kind: KindString, Default: "Note"},
			str("content", "content"),
			createdAt("createdAt"),
		},
		Relations: []*Relation{
			{Name: "lead", Kind: ToOne, Target: "Lead", Local: "leadId", Foreign: "id"},
			{Name: "user", Kind: ToOne, Target: "User", Local: "userId", Foreign: "id"},
		},
	}

	sources := &Model{
		Name:  "Sources",
		Table: "sources",
		Type:  reflect.TypeOf(database.Sources{}),
		Fields: []*Field{
			id(),
			{Name: "name", Column: "name", Kind: KindString, Unique: true},
			createdAt("createdAt"),
			updatedAt("updatedAt"),
		},
		Relations: []*Relation{
			{Name: "leads", Kind: ToMany, Target: "Lead", Local: "id", Foreign: "sourceId", OnDelete: SetNull},
		},
	}

	notification := &Model{
		Name:  "Notification",
		Table: "notifications",
		Type:  reflect.TypeOf(database.Notification{}),
		Fields: []*Field{
			id(),
			str("type", "type"),
			str("message", "message"),
			{Name: "read", Column: "read", Kind: KindBool, Default: false},
			createdAt("createdAt"),
			optInt("userId", "user_id"),
			optInt("leadId", "lead_id"),
			{Name: "priority", Column: "priority", Kind: KindString, Default: "normal"},
			optStr("assignedTo", "assigned_to"),
		},
		Relations: []*Relation{
			{Name: "user", Kind: ToOne, Target: "User", Local: "userId", Foreign: "id"},
			{Name: "lead", Kind: ToOne, Target: "Lead", Local: "leadId", Foreign: "id"},
		},
	}

	setting := &Model{
		Name:  "AppSetting",
		Table: "app_settings",
		Type:  reflect.TypeOf(database.AppSetting{}),
		Fields: []*Field{
			{Name: "key", Column: "key", Kind: KindString, ID: true},
			{Name: "value", Column: "value", Kind: KindJSON},
			updatedAt("updatedAt"),
		},
	}

	return []*Model{user, sessions, contact, sources, lead, payment, activity, notification, setting}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of the CRM models. It panics if the model
// declarations disagree with the database structs.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(crmModels()...)
		if err != nil {
			panic(err)
		}
		defaultRegistry = r
	})

	return defaultRegistry
}
