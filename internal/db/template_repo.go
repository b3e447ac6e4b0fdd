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

const templateColumns = `id, template_id, title, content, content_type, status, created_at, updated_at`

// TemplateRepository handles notification template rows.
type TemplateRepository struct {
	q      Querier
	logger *zap.Logger
}

// NewTemplateRepository creates a template repository running against the pool.
func NewTemplateRepository(db *DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{q: db.Pool(), logger: logger}
}

// WithTx returns a copy of the repository scoped to the given transaction.
func (r *TemplateRepository) WithTx(tx pgx.Tx) *TemplateRepository {
	return &TemplateRepository{q: tx, logger: r.logger}
}

// CreateTemplate inserts a new template row.
func (r *TemplateRepository) CreateTemplate(ctx context.Context, tpl *Template) error {
	query := `
		INSERT INTO notification_template (template_id, title, content, content_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		tpl.TemplateID,
		tpl.Title,
		tpl.Content,
		tpl.ContentType,
		tpl.Status,
		tpl.CreatedAt,
	).Scan(&tpl.ID)
	if err != nil {
		r.logger.Error("failed to create template",
			zap.Error(err),
			zap.String("template_id", tpl.TemplateID),
		)
		return fmt.Errorf("insert template: %w", err)
	}

	r.logger.Info("template created",
		zap.String("template_id", tpl.TemplateID),
		zap.String("title", tpl.Title),
	)

	return nil
}

// GetTemplate retrieves a template by its external id.
func (r *TemplateRepository) GetTemplate(ctx context.Context, templateID string) (*Template, error) {
	query := `SELECT ` + templateColumns + ` FROM notification_template WHERE template_id = $1`

	var tpl Template
	err := r.q.QueryRow(ctx, query, templateID).Scan(
		&tpl.ID,
		&tpl.TemplateID,
		&tpl.Title,
		&tpl.Content,
		&tpl.ContentType,
		&tpl.Status,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	return &tpl, nil
}

// UpdateTemplate persists mutable template fields. The final-state guard
// lives in the service layer; the repository writes what it is given.
func (r *TemplateRepository) UpdateTemplate(ctx context.Context, tpl *Template) error {
	query := `
		UPDATE notification_template
		SET title = $1, content = $2, content_type = $3, status = $4, updated_at = $5
		WHERE template_id = $6
	`

	tag, err := r.q.Exec(ctx, query,
		tpl.Title,
		tpl.Content,
		tpl.ContentType,
		tpl.Status,
		tpl.UpdatedAt,
		tpl.TemplateID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, tpl.TemplateID)
	}

	return nil
}

// FindTemplates returns the first page of a filtered template listing,
// ordered by (created_at, id).
func (r *TemplateRepository) FindTemplates(ctx context.Context, filter *TemplateFilter, limit int) (pagination.Page[*Template], error) {
	b := &whereBuilder{}
	templatePredicates(b, filter)

	entities, err := r.queryTemplates(ctx, b, limit)
	if err != nil {
		return pagination.Page[*Template]{}, err
	}

	return pagination.NewPage(entities, nil, filter.KeyParams(), limit), nil
}

// FindNextTemplates resumes a template listing from a continuation token.
func (r *TemplateRepository) FindNextTemplates(ctx context.Context, token *pagination.ContinuationToken, limit int) (pagination.Page[*Template], error) {
	lastID, err := strconv.ParseInt(token.ID, 10, 64)
	if err != nil {
		return pagination.Page[*Template]{}, fmt.Errorf("%w: %v", pagination.ErrInvalidToken, err)
	}

	b := &whereBuilder{}
	templatePredicates(b, TemplateFilterFromKeyParams(token.KeyParams))
	seekAfter(b, "created_at", "id", time.Unix(token.Timestamp, 0).UTC(), lastID)

	entities, err := r.queryTemplates(ctx, b, limit)
	if err != nil {
		return pagination.Page[*Template]{}, err
	}

	return pagination.NewPage(entities, token, token.KeyParams, limit), nil
}

func templatePredicates(b *whereBuilder, filter *TemplateFilter) {
	if filter == nil {
		return
	}
	containsFold(b, "title", filter.Title)
	containsFold(b, "content", filter.Content)
	timeRange(b, "created_at", filter.From, filter.To)
	day(b, "created_at", filter.FixedDate)
}

func (r *TemplateRepository) queryTemplates(ctx context.Context, b *whereBuilder, limit int) ([]*Template, error) {
	query := `SELECT ` + templateColumns + ` FROM notification_template` +
		b.where() +
		` ORDER BY created_at ASC, id ASC LIMIT ` + b.arg(limit+1)

	rows, err := r.q.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var tpl Template
		err := rows.Scan(
			&tpl.ID,
			&tpl.TemplateID,
			&tpl.Title,
			&tpl.Content,
			&tpl.ContentType,
			&tpl.Status,
			&tpl.CreatedAt,
			&tpl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, &tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return templates, nil
}
