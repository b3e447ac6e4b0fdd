// Package api exposes the REST surface: template management, dispatch, and
// per-party notification listings. It is glue around the services; wire
// parameters are translated into filter values and pages back into JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
	"github.com/porterapp/porter/internal/metrics"
	"github.com/porterapp/porter/internal/pagination"
	"github.com/porterapp/porter/internal/redis"
	"github.com/porterapp/porter/internal/service"
)

// TemplateManager is the template service surface the handlers need.
type TemplateManager interface {
	CreateTemplate(ctx context.Context, title, content string, contentType *string) (*db.Template, error)
	EditTemplate(ctx context.Context, templateID string, title, content, contentType, status *string) (*db.Template, error)
	GetTemplate(ctx context.Context, templateID string) (*db.Template, error)
	FindTemplates(ctx context.Context, filter *db.TemplateFilter, token *pagination.ContinuationToken, limit int) (pagination.Page[*db.Template], error)
}

// NotificationManager is the notification service surface the handlers need.
type NotificationManager interface {
	GetNotification(ctx context.Context, notificationID string) (*db.Notification, error)
	FindNotifications(ctx context.Context, filter *db.NotificationFilter, token *pagination.ContinuationToken, limit int) (pagination.Page[*db.Notification], error)
	MarkNotifications(ctx context.Context, partyID string, notificationIDs []string, status string) error
	MarkAllNotifications(ctx context.Context, partyID string, status string) error
	DeleteNotifications(ctx context.Context, partyID string, notificationIDs []string) error
	NotificationStats(ctx context.Context, templateID string) (*db.NotificationStats, error)
}

// Dispatcher is the sender service surface the handlers need.
type Dispatcher interface {
	SendNotification(ctx context.Context, templateID string, partyIDs []string) error
	SendNotificationAll(ctx context.Context, templateID string) error
}

// ErrorResponse is the problem+json error body.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the API handlers.
type Handler struct {
	logger        *zap.Logger
	templates     TemplateManager
	notifications NotificationManager
	dispatcher    Dispatcher
	idempotency   *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates an API handler.
func NewHandler(logger *zap.Logger, templates TemplateManager, notifications NotificationManager, dispatcher Dispatcher, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:        logger,
		templates:     templates,
		notifications: notifications,
		dispatcher:    dispatcher,
		idempotency:   idempotency,
	}
}

// Routes mounts all API routes on the given router. partyLimiter, when not
// nil, is applied to the party-scoped notification routes so the limiter
// can key on the partyID route param.
func (h *Handler) Routes(r chi.Router, partyLimiter func(http.Handler) http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/templates", h.CreateTemplate)
		r.Get("/templates", h.ListTemplates)
		r.Get("/templates/{templateID}", h.GetTemplate)
		r.Put("/templates/{templateID}", h.EditTemplate)
		r.Get("/templates/{templateID}/stats", h.TemplateStats)
		r.Post("/templates/{templateID}/send", h.SendTemplate)

		r.Get("/notifications/{notificationID}", h.GetNotification)

		r.Route("/parties/{partyID}/notifications", func(r chi.Router) {
			if partyLimiter != nil {
				r.Use(partyLimiter)
			}
			r.Get("/", h.ListNotifications)
			r.Post("/mark", h.MarkNotifications)
			r.Post("/mark-all", h.MarkAllNotifications)
			r.Post("/delete", h.DeleteNotifications)
		})
	})
}

// TemplateRequest is the create/edit request body.
type TemplateRequest struct {
	Title       *string `json:"title"`
	Content     *string `json:"content"`
	ContentType *string `json:"content_type"`
	Status      *string `json:"status"`
}

// CreateTemplate handles POST /v1/templates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Title == nil || req.Content == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "title and content are required")
		return
	}

	tpl, err := h.templates.CreateTemplate(r.Context(), *req.Title, *req.Content, req.ContentType)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, tpl)
}

// EditTemplate handles PUT /v1/templates/{templateID}.
func (h *Handler) EditTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")

	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Status != nil && *req.Status != db.TemplateStatusDraft && *req.Status != db.TemplateStatusFinal {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", "status must be draft or final")
		return
	}

	tpl, err := h.templates.EditTemplate(r.Context(), templateID, req.Title, req.Content, req.ContentType, req.Status)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, tpl)
}

// GetTemplate handles GET /v1/templates/{templateID}.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.templates.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// TemplatePage is the paginated template listing response.
type TemplatePage struct {
	Templates         []*db.Template `json:"templates"`
	ContinuationToken string         `json:"continuation_token,omitempty"`
	HasNext           bool           `json:"has_next"`
}

// ListTemplates handles GET /v1/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", err.Error())
		return
	}

	token, err := parseToken(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_token", "Invalid continuation token", err.Error())
		return
	}

	var filter *db.TemplateFilter
	if token == nil {
		filter, err = templateFilterFromQuery(r)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid filter", err.Error())
			return
		}
	}

	page, err := h.templates.FindTemplates(r.Context(), filter, token, limit)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	metrics.RecordPageServed("template")

	encoded, err := encodePageToken(page.Token)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode token", "")
		return
	}

	h.writeJSON(w, http.StatusOK, TemplatePage{
		Templates:         page.Entities,
		ContinuationToken: encoded,
		HasNext:           page.HasNext,
	})
}

// TemplateStats handles GET /v1/templates/{templateID}/stats.
func (h *Handler) TemplateStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.notifications.NotificationStats(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// SendRequest is the dispatch request body. An empty party list dispatches
// to every active party.
type SendRequest struct {
	PartyIDs []string `json:"party_ids"`
}

// SendTemplate handles POST /v1/templates/{templateID}/send. Supports
// deduplication via the Idempotency-Key header.
func (h *Handler) SendTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templateID := chi.URLParam(r, "templateID")
	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, templateID, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another dispatch with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("X-Idempotency-Replayed", "true")
			h.writeJSON(w, cached.StatusCode, map[string]string{"template_id": cached.TemplateID})
			return
		}
	}

	if len(req.PartyIDs) > 0 {
		err := h.dispatcher.SendNotification(ctx, templateID, req.PartyIDs)
		if err != nil {
			h.releaseIdempotency(ctx, templateID, idempotencyKey)
			h.handleDomainError(w, err)
			return
		}
	} else {
		if err := h.dispatcher.SendNotificationAll(ctx, templateID); err != nil {
			h.releaseIdempotency(ctx, templateID, idempotencyKey)
			h.handleDomainError(w, err)
			return
		}
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.DispatchResult{TemplateID: templateID, StatusCode: http.StatusAccepted}
		if err := h.idempotency.Store(ctx, templateID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result", zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"template_id": templateID})
}

// GetNotification handles GET /v1/notifications/{notificationID}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.GetNotification(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

// NotificationPage is the paginated notification listing response.
type NotificationPage struct {
	Notifications     []*db.Notification `json:"notifications"`
	ContinuationToken string             `json:"continuation_token,omitempty"`
	HasNext           bool               `json:"has_next"`
}

// ListNotifications handles GET /v1/parties/{partyID}/notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "partyID")

	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", err.Error())
		return
	}

	token, err := parseToken(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_token", "Invalid continuation token", err.Error())
		return
	}
	if token != nil {
		if owner, ok := token.KeyParams["party_id"]; ok && owner != partyID {
			h.writeError(w, http.StatusBadRequest, "invalid_token", "Invalid continuation token",
				"token was issued for a different party")
			return
		}
	}

	var filter *db.NotificationFilter
	if token == nil {
		filter, err = notificationFilterFromQuery(r, partyID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid filter", err.Error())
			return
		}
	}

	page, err := h.notifications.FindNotifications(r.Context(), filter, token, limit)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	metrics.RecordPageServed("notification")

	encoded, err := encodePageToken(page.Token)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode token", "")
		return
	}

	h.writeJSON(w, http.StatusOK, NotificationPage{
		Notifications:     page.Entities,
		ContinuationToken: encoded,
		HasNext:           page.HasNext,
	})
}

// MarkRequest is the bulk mark request body.
type MarkRequest struct {
	NotificationIDs []string `json:"notification_ids"`
	Status          string   `json:"status"`
}

// MarkNotifications handles POST /v1/parties/{partyID}/notifications/mark.
func (h *Handler) MarkNotifications(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "partyID")

	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Status != db.NotificationStatusRead && req.Status != db.NotificationStatusUnread {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", "status must be read or unread")
		return
	}

	if err := h.notifications.MarkNotifications(r.Context(), partyID, req.NotificationIDs, req.Status); err != nil {
		h.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotifications handles POST /v1/parties/{partyID}/notifications/mark-all.
func (h *Handler) MarkAllNotifications(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "partyID")

	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Status != db.NotificationStatusRead && req.Status != db.NotificationStatusUnread {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", "status must be read or unread")
		return
	}

	if err := h.notifications.MarkAllNotifications(r.Context(), partyID, req.Status); err != nil {
		h.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteRequest is the bulk soft-delete request body.
type DeleteRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

// DeleteNotifications handles POST /v1/parties/{partyID}/notifications/delete.
func (h *Handler) DeleteNotifications(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "partyID")

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.notifications.DeleteNotifications(r.Context(), partyID, req.NotificationIDs); err != nil {
		h.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) releaseIdempotency(ctx context.Context, templateID, idempotencyKey string) {
	if idempotencyKey == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Release(ctx, templateID, idempotencyKey); err != nil {
		h.logger.Warn("failed to release idempotency key", zap.Error(err))
	}
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrTemplateNotFound):
		h.writeError(w, http.StatusNotFound, "template_not_found", "Notification template not found", err.Error())
	case errors.Is(err, db.ErrNotificationNotFound):
		h.writeError(w, http.StatusNotFound, "notification_not_found", "Notification not found", err.Error())
	case errors.Is(err, service.ErrTemplateFinal):
		h.writeError(w, http.StatusConflict, "template_final", "Template is in final state", err.Error())
	case errors.Is(err, service.ErrEmptyNotificationIDs):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty notification id list", err.Error())
	case errors.Is(err, pagination.ErrInvalidToken):
		h.writeError(w, http.StatusBadRequest, "invalid_token", "Invalid continuation token", err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return service.DefaultPageLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

func parseToken(r *http.Request) (*pagination.ContinuationToken, error) {
	raw := r.URL.Query().Get("continuation_token")
	if raw == "" {
		return nil, nil
	}
	return pagination.Decode(raw)
}

func encodePageToken(token *pagination.ContinuationToken) (string, error) {
	if token == nil {
		return "", nil
	}
	return pagination.Encode(token)
}

func templateFilterFromQuery(r *http.Request) (*db.TemplateFilter, error) {
	q := r.URL.Query()
	filter := &db.TemplateFilter{}

	if v := q.Get("title"); v != "" {
		filter.Title = &v
	}
	if v := q.Get("content"); v != "" {
		filter.Content = &v
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		return nil, err
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		return nil, err
	}
	if filter.FixedDate, err = parseTimeParam(q.Get("fixed_date")); err != nil {
		return nil, err
	}
	return filter, nil
}

func notificationFilterFromQuery(r *http.Request, partyID string) (*db.NotificationFilter, error) {
	q := r.URL.Query()
	filter := &db.NotificationFilter{PartyID: &partyID}

	if v := q.Get("template_id"); v != "" {
		filter.TemplateID = &v
	}
	if v := q.Get("status"); v != "" {
		if v != db.NotificationStatusRead && v != db.NotificationStatusUnread {
			return nil, errors.New("status must be read or unread")
		}
		filter.Status = &v
	}
	if v := q.Get("title"); v != "" {
		filter.Title = &v
	}
	if v := q.Get("deleted"); v != "" {
		deleted, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("deleted must be a boolean")
		}
		filter.Deleted = &deleted
	}
	var err error
	if filter.FromTime, err = parseTimeParam(q.Get("from_time")); err != nil {
		return nil, err
	}
	if filter.ToTime, err = parseTimeParam(q.Get("to_time")); err != nil {
		return nil, err
	}
	return filter, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("timestamps must be RFC 3339")
	}
	return &t, nil
}
