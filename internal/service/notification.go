package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
	"github.com/porterapp/porter/internal/pagination"
)

// DefaultPageLimit is the page size used when callers do not supply one.
const DefaultPageLimit = 10

// NotificationStore is the notification persistence the service needs.
type NotificationStore interface {
	GetNotification(ctx context.Context, notificationID string) (*db.Notification, error)
	FindNotifications(ctx context.Context, filter *db.NotificationFilter, limit int) (pagination.Page[*db.Notification], error)
	FindNextNotifications(ctx context.Context, token *pagination.ContinuationToken, limit int) (pagination.Page[*db.Notification], error)
	MarkNotifications(ctx context.Context, partyID string, notificationIDs []string, status string) error
	MarkAllNotifications(ctx context.Context, partyID string, status string) error
	SoftDeleteNotifications(ctx context.Context, partyID string, notificationIDs []string) error
	NotificationStats(ctx context.Context, templateID string) (*db.NotificationStats, error)
}

// NotificationService manages per-recipient notifications.
type NotificationService struct {
	store     NotificationStore
	templates TemplateStore
	logger    *zap.Logger
}

// NewNotificationService creates a notification service.
func NewNotificationService(store NotificationStore, templates TemplateStore, logger *zap.Logger) *NotificationService {
	return &NotificationService{store: store, templates: templates, logger: logger}
}

// GetNotification retrieves one notification by external id.
func (s *NotificationService) GetNotification(ctx context.Context, notificationID string) (*db.Notification, error) {
	return s.store.GetNotification(ctx, notificationID)
}

// FindNotifications returns a filtered notification page, resuming from the
// token when one is given.
func (s *NotificationService) FindNotifications(ctx context.Context, filter *db.NotificationFilter, token *pagination.ContinuationToken, limit int) (pagination.Page[*db.Notification], error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if token != nil {
		return s.store.FindNextNotifications(ctx, token, limit)
	}
	return s.store.FindNotifications(ctx, filter, limit)
}

// MarkNotifications sets the read/unread status of the given notifications
// of one party. An empty id list is a client-data error.
func (s *NotificationService) MarkNotifications(ctx context.Context, partyID string, notificationIDs []string, status string) error {
	if len(notificationIDs) == 0 {
		return fmt.Errorf("mark notifications for party %s: %w", partyID, ErrEmptyNotificationIDs)
	}
	return s.store.MarkNotifications(ctx, partyID, notificationIDs, status)
}

// MarkAllNotifications sets the status of every notification of one party.
func (s *NotificationService) MarkAllNotifications(ctx context.Context, partyID string, status string) error {
	return s.store.MarkAllNotifications(ctx, partyID, status)
}

// DeleteNotifications soft-deletes the given notifications of one party.
// An empty id list is a client-data error.
func (s *NotificationService) DeleteNotifications(ctx context.Context, partyID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return fmt.Errorf("delete notifications for party %s: %w", partyID, ErrEmptyNotificationIDs)
	}
	return s.store.SoftDeleteNotifications(ctx, partyID, notificationIDs)
}

// NotificationStats returns total and read counts for one template. The
// template must exist.
func (s *NotificationService) NotificationStats(ctx context.Context, templateID string) (*db.NotificationStats, error) {
	if _, err := s.templates.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	return s.store.NotificationStats(ctx, templateID)
}
