package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
	"github.com/porterapp/porter/internal/metrics"
)

// SenderService dispatches a template to recipients: it transitions the
// template to final and bulk-creates unread notifications, in one
// transaction. Dispatch is the only path that finalizes a template.
type SenderService struct {
	db            *db.DB
	templates     *db.TemplateRepository
	notifications *db.NotificationRepository
	parties       *db.PartyRepository
	logger        *zap.Logger
}

// NewSenderService creates a sender service.
func NewSenderService(database *db.DB, templates *db.TemplateRepository, notifications *db.NotificationRepository, parties *db.PartyRepository, logger *zap.Logger) *SenderService {
	return &SenderService{
		db:            database,
		templates:     templates,
		notifications: notifications,
		parties:       parties,
		logger:        logger,
	}
}

// SendNotification dispatches a template to the given parties.
func (s *SenderService) SendNotification(ctx context.Context, templateID string, partyIDs []string) error {
	return s.send(ctx, templateID, func(ctx context.Context, _ pgx.Tx) ([]string, error) {
		return partyIDs, nil
	})
}

// SendNotificationAll dispatches a template to every active party. The
// recipient set is read inside the dispatch transaction.
func (s *SenderService) SendNotificationAll(ctx context.Context, templateID string) error {
	return s.send(ctx, templateID, func(ctx context.Context, tx pgx.Tx) ([]string, error) {
		return s.parties.WithTx(tx).FindActivePartyIDs(ctx)
	})
}

func (s *SenderService) send(ctx context.Context, templateID string, recipients func(context.Context, pgx.Tx) ([]string, error)) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	templates := s.templates.WithTx(tx)
	tpl, err := templates.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if tpl.Status == db.TemplateStatusFinal {
		return fmt.Errorf("%w: %s", ErrTemplateFinal, templateID)
	}

	now := time.Now().UTC()
	tpl.Status = db.TemplateStatusFinal
	tpl.UpdatedAt = &now
	if err := templates.UpdateTemplate(ctx, tpl); err != nil {
		return err
	}

	partyIDs, err := recipients(ctx, tx)
	if err != nil {
		return err
	}

	rows := make([]*db.Notification, 0, len(partyIDs))
	for _, partyID := range partyIDs {
		rows = append(rows, &db.Notification{
			NotificationID: uuid.New().String(),
			TemplateID:     templateID,
			PartyID:        partyID,
			Status:         db.NotificationStatusUnread,
			CreatedAt:      now,
		})
	}
	if err := s.notifications.WithTx(tx).CreateNotifications(ctx, rows); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	metrics.RecordNotificationsDispatched(templateID, len(rows))
	s.logger.Info("template dispatched",
		zap.String("template_id", templateID),
		zap.Int("recipients", len(rows)),
	)

	return nil
}
