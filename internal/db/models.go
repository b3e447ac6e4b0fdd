package db

import (
	"time"
)

// Template status constants
const (
	TemplateStatusDraft = "draft"
	TemplateStatusFinal = "final"
)

// Notification status constants
const (
	NotificationStatusUnread = "unread"
	NotificationStatusRead   = "read"
)

// Party status constants
const (
	PartyStatusActive    = "active"
	PartyStatusBlocked   = "blocked"
	PartyStatusSuspended = "suspended"
)

// Template represents a notification template in the database.
// Once Status is final the content fields are immutable; the only permitted
// change is the controlled draft->final transition performed on dispatch.
type Template struct {
	ID          int64      `json:"-"`
	TemplateID  string     `json:"template_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	ContentType *string    `json:"content_type,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// PageKey returns the composite keyset ordering key (created_at, id).
func (t *Template) PageKey() (int64, int64) {
	return t.CreatedAt.Unix(), t.ID
}

// Notification is one per-recipient notification created when a template is
// dispatched. Immutable except for Status and the Deleted soft-delete flag;
// rows are never hard-deleted.
type Notification struct {
	ID             int64     `json:"-"`
	NotificationID string    `json:"notification_id"`
	TemplateID     string    `json:"template_id"`
	PartyID        string    `json:"party_id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
}

// PageKey returns the composite keyset ordering key (created_at, id).
func (n *Notification) PageKey() (int64, int64) {
	return n.CreatedAt.Unix(), n.ID
}

// Party is the locally projected read model of an account, built and
// mutated exclusively by the event projection pipeline. Email and CreatedAt
// are pointers: a lifecycle event for a party we have not seen yet creates
// a sparse row carrying only the implied status.
type Party struct {
	ID        int64      `json:"-"`
	PartyID   string     `json:"party_id"`
	Email     *string    `json:"email,omitempty"`
	Status    string     `json:"status"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// NotificationStats holds per-template delivery counters.
type NotificationStats struct {
	Total int64 `json:"total"`
	Read  int64 `json:"read"`
}
