package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/pagination"
)

// notificationColumns selects notification rows joined with their template
// for the title, which callers filter and display on.
const notificationColumns = `n.id, n.notification_id, n.template_id, n.party_id, t.title, n.status, n.deleted, n.created_at`

const notificationFrom = ` FROM notification n JOIN notification_template t ON t.template_id = n.template_id`

// NotificationRepository handles per-recipient notification rows.
type NotificationRepository struct {
	q      Querier
	logger *zap.Logger
}

// NewNotificationRepository creates a notification repository running against the pool.
func NewNotificationRepository(db *DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{q: db.Pool(), logger: logger}
}

// WithTx returns a copy of the repository scoped to the given transaction.
func (r *NotificationRepository) WithTx(tx pgx.Tx) *NotificationRepository {
	return &NotificationRepository{q: tx, logger: r.logger}
}

// CreateNotifications bulk-inserts one unread notification per party for a
// dispatched template.
func (r *NotificationRepository) CreateNotifications(ctx context.Context, notifications []*Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO notification (notification_id, template_id, party_id, status, deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, n := range notifications {
		batch.Queue(query, n.NotificationID, n.TemplateID, n.PartyID, n.Status, n.Deleted, n.CreatedAt)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	for range notifications {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}

	r.logger.Info("notifications created",
		zap.Int("count", len(notifications)),
		zap.String("template_id", notifications[0].TemplateID),
	)

	return nil
}

// GetNotification retrieves a notification by its external id.
func (r *NotificationRepository) GetNotification(ctx context.Context, notificationID string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + notificationFrom + ` WHERE n.notification_id = $1`

	var n Notification
	err := r.q.QueryRow(ctx, query, notificationID).Scan(
		&n.ID,
		&n.NotificationID,
		&n.TemplateID,
		&n.PartyID,
		&n.Title,
		&n.Status,
		&n.Deleted,
		&n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return &n, nil
}

// FindNotifications returns the first page of a filtered notification
// listing, ordered by (created_at, id).
func (r *NotificationRepository) FindNotifications(ctx context.Context, filter *NotificationFilter, limit int) (pagination.Page[*Notification], error) {
	b := &whereBuilder{}
	notificationPredicates(b, filter)

	entities, err := r.queryNotifications(ctx, b, limit)
	if err != nil {
		return pagination.Page[*Notification]{}, err
	}

	return pagination.NewPage(entities, nil, filter.KeyParams(), limit), nil
}

// FindNextNotifications resumes a notification listing from a continuation token.
func (r *NotificationRepository) FindNextNotifications(ctx context.Context, token *pagination.ContinuationToken, limit int) (pagination.Page[*Notification], error) {
	lastID, err := strconv.ParseInt(token.ID, 10, 64)
	if err != nil {
		return pagination.Page[*Notification]{}, fmt.Errorf("%w: %v", pagination.ErrInvalidToken, err)
	}

	b := &whereBuilder{}
	notificationPredicates(b, NotificationFilterFromKeyParams(token.KeyParams))
	seekAfter(b, "n.created_at", "n.id", time.Unix(token.Timestamp, 0).UTC(), lastID)

	entities, err := r.queryNotifications(ctx, b, limit)
	if err != nil {
		return pagination.Page[*Notification]{}, err
	}

	return pagination.NewPage(entities, token, token.KeyParams, limit), nil
}

// MarkNotifications sets the read/unread status of the given notifications
// of one party. The (party_id, notification_id) pair is the addressable unit.
func (r *NotificationRepository) MarkNotifications(ctx context.Context, partyID string, notificationIDs []string, status string) error {
	query := `UPDATE notification SET status = $1 WHERE party_id = $2 AND notification_id = ANY($3)`

	if _, err := r.q.Exec(ctx, query, status, partyID, notificationIDs); err != nil {
		return fmt.Errorf("mark notifications: %w", err)
	}
	return nil
}

// MarkAllNotifications sets the status of every notification of one party.
func (r *NotificationRepository) MarkAllNotifications(ctx context.Context, partyID string, status string) error {
	query := `UPDATE notification SET status = $1 WHERE party_id = $2`

	if _, err := r.q.Exec(ctx, query, status, partyID); err != nil {
		return fmt.Errorf("mark all notifications: %w", err)
	}
	return nil
}

// SoftDeleteNotifications flags the given notifications of one party as
// deleted. Rows are never hard-deleted.
func (r *NotificationRepository) SoftDeleteNotifications(ctx context.Context, partyID string, notificationIDs []string) error {
	query := `UPDATE notification SET deleted = TRUE WHERE party_id = $1 AND notification_id = ANY($2)`

	if _, err := r.q.Exec(ctx, query, partyID, notificationIDs); err != nil {
		return fmt.Errorf("soft delete notifications: %w", err)
	}
	return nil
}

// NotificationStats returns total and read counts for one template.
func (r *NotificationRepository) NotificationStats(ctx context.Context, templateID string) (*NotificationStats, error) {
	query := `
		SELECT count(*) AS total,
		       count(*) FILTER (WHERE status = 'read') AS read
		FROM notification
		WHERE template_id = $1
	`

	var stats NotificationStats
	if err := r.q.QueryRow(ctx, query, templateID).Scan(&stats.Total, &stats.Read); err != nil {
		return nil, fmt.Errorf("query notification stats: %w", err)
	}
	return &stats, nil
}

func notificationPredicates(b *whereBuilder, filter *NotificationFilter) {
	if filter == nil {
		return
	}
	equal(b, "n.party_id", filter.PartyID)
	equal(b, "n.template_id", filter.TemplateID)
	equal(b, "n.status", filter.Status)
	containsFold(b, "t.title", filter.Title)
	equal(b, "n.deleted", filter.Deleted)
	timeRange(b, "n.created_at", filter.FromTime, filter.ToTime)
}

func (r *NotificationRepository) queryNotifications(ctx context.Context, b *whereBuilder, limit int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + notificationFrom +
		b.where() +
		` ORDER BY n.created_at ASC, n.id ASC LIMIT ` + b.arg(limit+1)

	rows, err := r.q.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		err := rows.Scan(
			&n.ID,
			&n.NotificationID,
			&n.TemplateID,
			&n.PartyID,
			&n.Title,
			&n.Status,
			&n.Deleted,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}
