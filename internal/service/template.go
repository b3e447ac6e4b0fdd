package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
	"github.com/porterapp/porter/internal/pagination"
)

// TemplateStore is the template persistence the service needs.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl *db.Template) error
	GetTemplate(ctx context.Context, templateID string) (*db.Template, error)
	UpdateTemplate(ctx context.Context, tpl *db.Template) error
	FindTemplates(ctx context.Context, filter *db.TemplateFilter, limit int) (pagination.Page[*db.Template], error)
	FindNextTemplates(ctx context.Context, token *pagination.ContinuationToken, limit int) (pagination.Page[*db.Template], error)
}

// TemplateService manages the notification template lifecycle.
type TemplateService struct {
	store  TemplateStore
	logger *zap.Logger
}

// NewTemplateService creates a template service.
func NewTemplateService(store TemplateStore, logger *zap.Logger) *TemplateService {
	return &TemplateService{store: store, logger: logger}
}

// CreateTemplate creates a new draft template with a generated external id.
func (s *TemplateService) CreateTemplate(ctx context.Context, title, content string, contentType *string) (*db.Template, error) {
	tpl := &db.Template{
		TemplateID:  uuid.New().String(),
		Title:       title,
		Content:     content,
		ContentType: contentType,
		Status:      db.TemplateStatusDraft,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// EditTemplate applies the non-nil fields to a draft template. A template
// in final state rejects every edit with ErrTemplateFinal, whichever field
// is being changed.
func (s *TemplateService) EditTemplate(ctx context.Context, templateID string, title, content, contentType, status *string) (*db.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tpl.Status == db.TemplateStatusFinal {
		return nil, fmt.Errorf("%w: %s", ErrTemplateFinal, templateID)
	}

	if title != nil {
		tpl.Title = *title
	}
	if content != nil {
		tpl.Content = *content
	}
	if contentType != nil {
		tpl.ContentType = contentType
	}
	if status != nil {
		tpl.Status = *status
	}
	now := time.Now().UTC()
	tpl.UpdatedAt = &now

	if err := s.store.UpdateTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	s.logger.Info("template edited",
		zap.String("template_id", templateID),
		zap.String("status", tpl.Status),
	)

	return tpl, nil
}

// GetTemplate retrieves one template by external id.
func (s *TemplateService) GetTemplate(ctx context.Context, templateID string) (*db.Template, error) {
	return s.store.GetTemplate(ctx, templateID)
}

// FindTemplates returns a filtered template page. A nil token starts from
// the beginning; otherwise the listing resumes where the token points,
// reapplying the filter the token carries.
func (s *TemplateService) FindTemplates(ctx context.Context, filter *db.TemplateFilter, token *pagination.ContinuationToken, limit int) (pagination.Page[*db.Template], error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if token != nil {
		return s.store.FindNextTemplates(ctx, token, limit)
	}
	return s.store.FindTemplates(ctx, filter, limit)
}
