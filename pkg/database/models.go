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

package database

import (
	"time"

	"gorm.io/datatypes"
)

// Role is the access role of a User
type Role string

const (
	// RoleAdmin administers the whole venue
	RoleAdmin Role = "Admin"
	// RoleOwner owns the venue
	RoleOwner Role = "Owner"
	// RoleSales works leads
	RoleSales Role = "Sales"
	// RoleFinance records payments
	RoleFinance Role = "Finance"
)

// Roles lists every valid Role
var Roles = []Role{RoleAdmin, RoleOwner, RoleSales, RoleFinance}

// User is a model for a staff user
type User struct {
	ID           int        `gorm:"column:id;primaryKey" json:"id"`
	Username     string     `gorm:"column:username" json:"username"`
	Email        string     `gorm:"column:email" json:"email"`
	PasswordHash string     `gorm:"column:password_hash" json:"password_hash"`
	IsActive     bool       `gorm:"column:is_active" json:"is_active"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at" json:"last_login_at"`
	Role         Role       `gorm:"column:role" json:"role"`

	Leads          []Lead         `gorm:"-" json:"leads,omitempty"`
	LeadActivities []LeadActivity `gorm:"-" json:"leadActivities,omitempty"`
	Notifications  []Notification `gorm:"-" json:"notifications,omitempty"`
	Sessions       []Sessions     `gorm:"-" json:"sessions,omitempty"`
}

// TableName overrides the table name
func (User) TableName() string { return "users" }

// Sessions is a model for a login session of a User
type Sessions struct {
	ID           int        `gorm:"column:id;primaryKey" json:"id"`
	SessionToken string     `gorm:"column:session_token" json:"session_token"`
	IPAddress    *string    `gorm:"column:ip_address" json:"ip_address"`
	UserAgent    *string    `gorm:"column:user_agent" json:"user_agent"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	ExpiresAt    time.Time  `gorm:"column:expires_at" json:"expires_at"`
	RevokedAt    *time.Time `gorm:"column:revoked_at" json:"revoked_at"`
	UserID       int        `gorm:"column:user_id" json:"user_id"`

	User *User `gorm:"-" json:"user,omitempty"`
}

// TableName overrides the table name
func (Sessions) TableName() string { return "sessions" }

// Contact is a model for a prospective client
type Contact struct {
	ID        int       `gorm:"column:id;primaryKey" json:"id"`
	FirstName string    `gorm:"column:first_name" json:"firstName"`
	LastName  *string   `gorm:"column:last_name" json:"lastName"`
	Email     *string   `gorm:"column:email" json:"email"`
	Phone     string    `gorm:"column:phone" json:"phone"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`

	Leads []Lead `gorm:"-" json:"leads,omitempty"`
}

// TableName overrides the table name
func (Contact) TableName() string { return "contacts" }

// Lead is a model for an event enquiry
type Lead struct {
	ID                int        `gorm:"column:id;primaryKey" json:"id"`
	Title             *string    `gorm:"column:title" json:"title"`
	QuotationAmount   *float64   `gorm:"column:quotation_amount" json:"quotationAmount"`
	ClientBudget      float64    `gorm:"column:client_budget" json:"clientBudget"`
	Status            string     `gorm:"column:status" json:"status"`
	Probability       *int       `gorm:"column:probability" json:"probability"`
	ExpectedCloseDate *time.Time `gorm:"column:expected_close_date" json:"expectedCloseDate"`
	Notes             *string    `gorm:"column:notes" json:"notes"`
	Guests            *int       `gorm:"column:guests" json:"guests"`
	Venue             *string    `gorm:"column:venue" json:"venue"`
	EventType         *string    `gorm:"column:event_type" json:"eventType"`
	EventDate         *time.Time `gorm:"column:event_date" json:"eventDate"`
	FinalAmount       *float64   `gorm:"column:final_amount" json:"finalAmount"`
	AdvanceAmount     *float64   `gorm:"column:advance_amount" json:"advanceAmount"`
	SiteVisitDate     *time.Time `gorm:"column:site_visit_date" json:"siteVisitDate"`
	SiteVisitTime     *string    `gorm:"column:site_visit_time" json:"siteVisitTime"`
	BookingNotes      *string    `gorm:"column:booking_notes" json:"bookingNotes"`
	BookedAt          *time.Time `gorm:"column:booked_at" json:"bookedAt"`
	BookedBy          *string    `gorm:"column:booked_by" json:"bookedBy"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`
	ContactID         int        `gorm:"column:contact_id" json:"contactId"`
	SourceID          *int       `gorm:"column:source_id" json:"sourceId"`
	AssignedTo        *int       `gorm:"column:assigned_to" json:"assignedTo"`

	Contact       *Contact       `gorm:"-" json:"contact,omitempty"`
	Source        *Sources       `gorm:"-" json:"source,omitempty"`
	Assignee      *User          `gorm:"-" json:"assignee,omitempty"`
	Activities    []LeadActivity `gorm:"-" json:"activities,omitempty"`
	Notifications []Notification `gorm:"-" json:"notifications,omitempty"`
	Payments      []Payment      `gorm:"-" json:"payments,omitempty"`
}

// TableName overrides the table name
func (Lead) TableName() string { return "leads" }

// Payment is a model for money received against a lead
type Payment struct {
	ID        int       `gorm:"column:id;primaryKey" json:"id"`
	Amount    float64   `gorm:"column:amount" json:"amount"`
	Date      time.Time `gorm:"column:date" json:"date"`
	Type      string    `gorm:"column:type" json:"type"`
	Notes     *string   `gorm:"column:notes" json:"notes"`
	LeadID    int       `gorm:"column:lead_id" json:"leadId"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`

	Lead *Lead `gorm:"-" json:"lead,omitempty"`
}

// TableName overrides the table name
func (Payment) TableName() string { return "payments" }

// LeadActivity is a model for a timeline entry on a lead
type LeadActivity struct {
	ID        int       `gorm:"column:id;primaryKey" json:"id"`
	LeadID    int       `gorm:"column:lead_id" json:"leadId"`
	UserID    *int      `gorm:"column:user_id" json:"userId"`
	Type      string    `gorm:"column:type" json:"type"`
	Content   string    `gorm:"column:content" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`

	Lead *Lead `gorm:"-" json:"lead,omitempty"`
	User *User `gorm:"-" json:"user,omitempty"`
}

// TableName overrides the table name
func (LeadActivity) TableName() string { return "lead_activities" }

// Sources is a model for a lead acquisition channel
type Sources struct {
	ID        int       `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`

	Leads []Lead `gorm:"-" json:"leads,omitempty"`
}

// TableName overrides the table name
func (Sources) TableName() string { return "sources" }

// Notification is a model for an in-app notification.
// AssignedTo is a free-form assignee label and is independent of UserID.
type Notification struct {
	ID         int       `gorm:"column:id;primaryKey" json:"id"`
	Type       string    `gorm:"column:type" json:"type"`
	Message    string    `gorm:"column:message" json:"message"`
	Read       bool      `gorm:"column:read" json:"read"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`
	UserID     *int      `gorm:"column:user_id" json:"userId"`
	LeadID     *int      `gorm:"column:lead_id" json:"leadId"`
	Priority   string    `gorm:"column:priority" json:"priority"`
	AssignedTo *string   `gorm:"column:assigned_to" json:"assignedTo"`

	User *User `gorm:"-" json:"user,omitempty"`
	Lead *Lead `gorm:"-" json:"lead,omitempty"`
}

// TableName overrides the table name
func (Notification) TableName() string { return "notifications" }

// AppSetting is a key-value configuration entry. Value is opaque JSON.
type AppSetting struct {
	Key       string         `gorm:"column:key;primaryKey" json:"key"`
	Value     datatypes.JSON `gorm:"column:value" json:"value"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`
}

// TableName overrides the table name
func (AppSetting) TableName() string { return "app_settings" }
