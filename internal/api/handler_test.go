package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
	"github.com/porterapp/porter/internal/pagination"
	"github.com/porterapp/porter/internal/service"
)

// mockTemplates is a fake TemplateManager.
type mockTemplates struct {
	templates map[string]*db.Template

	findFilter *db.TemplateFilter
	findToken  *pagination.ContinuationToken
	findPage   pagination.Page[*db.Template]
}

func newMockTemplates() *mockTemplates {
	return &mockTemplates{templates: make(map[string]*db.Template)}
}

func (m *mockTemplates) CreateTemplate(_ context.Context, title, content string, contentType *string) (*db.Template, error) {
	tpl := &db.Template{
		TemplateID:  "tpl-new",
		Title:       title,
		Content:     content,
		ContentType: contentType,
		Status:      db.TemplateStatusDraft,
		CreatedAt:   time.Now().UTC(),
	}
	m.templates[tpl.TemplateID] = tpl
	return tpl, nil
}

func (m *mockTemplates) EditTemplate(_ context.Context, templateID string, title, content, contentType, status *string) (*db.Template, error) {
	tpl, ok := m.templates[templateID]
	if !ok {
		return nil, db.ErrTemplateNotFound
	}
	if tpl.Status == db.TemplateStatusFinal {
		return nil, service.ErrTemplateFinal
	}
	if title != nil {
		tpl.Title = *title
	}
	return tpl, nil
}

func (m *mockTemplates) GetTemplate(_ context.Context, templateID string) (*db.Template, error) {
	tpl, ok := m.templates[templateID]
	if !ok {
		return nil, db.ErrTemplateNotFound
	}
	return tpl, nil
}

func (m *mockTemplates) FindTemplates(_ context.Context, filter *db.TemplateFilter, token *pagination.ContinuationToken, _ int) (pagination.Page[*db.Template], error) {
	m.findFilter = filter
	m.findToken = token
	return m.findPage, nil
}

// mockNotifications is a fake NotificationManager.
type mockNotifications struct {
	page  pagination.Page[*db.Notification]
	stats *db.NotificationStats

	markStatus  string
	markAll     bool
	deletedIDs  []string
	lastPartyID string
	findToken   *pagination.ContinuationToken
}

func (m *mockNotifications) GetNotification(_ context.Context, _ string) (*db.Notification, error) {
	return nil, db.ErrNotificationNotFound
}

func (m *mockNotifications) FindNotifications(_ context.Context, filter *db.NotificationFilter, token *pagination.ContinuationToken, _ int) (pagination.Page[*db.Notification], error) {
	if filter != nil && filter.PartyID != nil {
		m.lastPartyID = *filter.PartyID
	}
	m.findToken = token
	return m.page, nil
}

func (m *mockNotifications) MarkNotifications(_ context.Context, partyID string, notificationIDs []string, status string) error {
	if len(notificationIDs) == 0 {
		return service.ErrEmptyNotificationIDs
	}
	m.lastPartyID = partyID
	m.markStatus = status
	return nil
}

func (m *mockNotifications) MarkAllNotifications(_ context.Context, partyID string, status string) error {
	m.lastPartyID = partyID
	m.markStatus = status
	m.markAll = true
	return nil
}

func (m *mockNotifications) DeleteNotifications(_ context.Context, partyID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return service.ErrEmptyNotificationIDs
	}
	m.lastPartyID = partyID
	m.deletedIDs = notificationIDs
	return nil
}

func (m *mockNotifications) NotificationStats(_ context.Context, templateID string) (*db.NotificationStats, error) {
	if m.stats == nil {
		return nil, db.ErrTemplateNotFound
	}
	return m.stats, nil
}

// mockDispatcher is a fake Dispatcher.
type mockDispatcher struct {
	sentTemplateID string
	sentPartyIDs   []string
	sentAll        bool
	err            error
}

func (m *mockDispatcher) SendNotification(_ context.Context, templateID string, partyIDs []string) error {
	if m.err != nil {
		return m.err
	}
	m.sentTemplateID = templateID
	m.sentPartyIDs = partyIDs
	return nil
}

func (m *mockDispatcher) SendNotificationAll(_ context.Context, templateID string) error {
	if m.err != nil {
		return m.err
	}
	m.sentTemplateID = templateID
	m.sentAll = true
	return nil
}

func testRouter(templates *mockTemplates, notifications *mockNotifications, dispatcher *mockDispatcher) *chi.Mux {
	handler := NewHandler(zap.NewNop(), templates, notifications, dispatcher, nil)
	r := chi.NewRouter()
	handler.Routes(r, nil)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	} else {
		buf.WriteString("{}")
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTemplate(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{
			name:           "valid template",
			body:           TemplateRequest{Title: strRef("Welcome"), Content: strRef("Hello")},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing title",
			body:           TemplateRequest{Content: strRef("Hello")},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing content",
			body:           TemplateRequest{Title: strRef("Welcome")},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testRouter(newMockTemplates(), &mockNotifications{}, &mockDispatcher{})
			rec := doJSON(t, router, http.MethodPost, "/v1/templates", tt.body)
			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateTemplateMalformedBody(t *testing.T) {
	router := testRouter(newMockTemplates(), &mockNotifications{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/v1/templates", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestEditTemplateFinalConflict(t *testing.T) {
	templates := newMockTemplates()
	templates.templates["tpl-final"] = &db.Template{TemplateID: "tpl-final", Status: db.TemplateStatusFinal}
	router := testRouter(templates, &mockNotifications{}, &mockDispatcher{})

	rec := doJSON(t, router, http.MethodPut, "/v1/templates/tpl-final", TemplateRequest{Title: strRef("New")})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for final template, got %d", rec.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Type != "template_final" {
		t.Errorf("expected template_final error type, got %q", errResp.Type)
	}
}

func TestEditTemplateInvalidStatus(t *testing.T) {
	templates := newMockTemplates()
	templates.templates["tpl-1"] = &db.Template{TemplateID: "tpl-1", Status: db.TemplateStatusDraft}
	router := testRouter(templates, &mockNotifications{}, &mockDispatcher{})

	rec := doJSON(t, router, http.MethodPut, "/v1/templates/tpl-1", TemplateRequest{Status: strRef("archived")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestGetTemplateNotFound(t *testing.T) {
	router := testRouter(newMockTemplates(), &mockNotifications{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/templates/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListTemplatesRejectsBadToken(t *testing.T) {
	router := testRouter(newMockTemplates(), &mockNotifications{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/templates?continuation_token=@@not-a-token@@", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for garbage token, got %d", rec.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Type != "invalid_token" {
		t.Errorf("expected invalid_token error type, got %q", errResp.Type)
	}
}

func TestListTemplatesReturnsOpaqueToken(t *testing.T) {
	templates := newMockTemplates()
	now := time.Now().UTC()
	templates.findPage = pagination.Page[*db.Template]{
		Entities: []*db.Template{{ID: 1, TemplateID: "tpl-1", CreatedAt: now}},
		Token:    &pagination.ContinuationToken{Timestamp: now.Unix(), ID: "1"},
		HasNext:  true,
	}
	router := testRouter(templates, &mockNotifications{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/templates?title=welcome", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if templates.findFilter == nil || templates.findFilter.Title == nil || *templates.findFilter.Title != "welcome" {
		t.Errorf("expected title filter forwarded, got %+v", templates.findFilter)
	}

	var page TemplatePage
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if !page.HasNext {
		t.Error("expected has_next")
	}
	if page.ContinuationToken == "" {
		t.Fatal("expected an encoded continuation token")
	}
	decoded, err := pagination.Decode(page.ContinuationToken)
	if err != nil {
		t.Fatalf("returned token must decode: %v", err)
	}
	if decoded.ID != "1" {
		t.Errorf("unexpected token contents: %+v", decoded)
	}
}

func TestListTemplatesResumesFromToken(t *testing.T) {
	templates := newMockTemplates()
	router := testRouter(templates, &mockNotifications{}, &mockDispatcher{})

	encoded, err := pagination.Encode(&pagination.ContinuationToken{Timestamp: 123, ID: "9"})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/templates?continuation_token="+encoded, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if templates.findToken == nil || templates.findToken.ID != "9" {
		t.Errorf("expected decoded token forwarded, got %+v", templates.findToken)
	}
	if templates.findFilter != nil {
		t.Error("token requests must not rebuild the filter from the query string")
	}
}

func TestSendTemplateToParties(t *testing.T) {
	dispatcher := &mockDispatcher{}
	router := testRouter(newMockTemplates(), &mockNotifications{}, dispatcher)

	rec := doJSON(t, router, http.MethodPost, "/v1/templates/tpl-1/send", SendRequest{PartyIDs: []string{"party-1", "party-2"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if dispatcher.sentTemplateID != "tpl-1" || len(dispatcher.sentPartyIDs) != 2 {
		t.Errorf("unexpected dispatch: %+v", dispatcher)
	}
	if dispatcher.sentAll {
		t.Error("explicit party list must not broadcast")
	}
}

func TestSendTemplateBroadcast(t *testing.T) {
	dispatcher := &mockDispatcher{}
	router := testRouter(newMockTemplates(), &mockNotifications{}, dispatcher)

	rec := doJSON(t, router, http.MethodPost, "/v1/templates/tpl-1/send", SendRequest{})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !dispatcher.sentAll {
		t.Error("empty party list must broadcast to all active parties")
	}
}

func TestSendTemplateAlreadyFinal(t *testing.T) {
	dispatcher := &mockDispatcher{err: service.ErrTemplateFinal}
	router := testRouter(newMockTemplates(), &mockNotifications{}, dispatcher)

	rec := doJSON(t, router, http.MethodPost, "/v1/templates/tpl-1/send", SendRequest{PartyIDs: []string{"party-1"}})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a re-sent template, got %d", rec.Code)
	}
}

func TestGetNotificationNotFound(t *testing.T) {
	router := testRouter(newMockTemplates(), &mockNotifications{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListNotificationsScopedToParty(t *testing.T) {
	notifications := &mockNotifications{}
	router := testRouter(newMockTemplates(), notifications, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/parties/party-7/notifications?status=unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if notifications.lastPartyID != "party-7" {
		t.Errorf("expected party scope from the route, got %q", notifications.lastPartyID)
	}
}

func TestListNotificationsRejectsTokenFromAnotherParty(t *testing.T) {
	notifications := &mockNotifications{}
	router := testRouter(newMockTemplates(), notifications, &mockDispatcher{})

	encoded, err := pagination.Encode(&pagination.ContinuationToken{
		KeyParams: map[string]string{"party_id": "party-a"},
		Timestamp: 123,
		ID:        "9",
	})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/parties/party-b/notifications?continuation_token="+encoded, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a token minted under another party, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Type != "invalid_token" {
		t.Errorf("expected invalid_token error type, got %q", errResp.Type)
	}
	if notifications.findToken != nil {
		t.Error("a rejected token must not reach the service")
	}

	// The same token is still valid under the party it was minted for.
	req = httptest.NewRequest(http.MethodGet, "/v1/parties/party-a/notifications?continuation_token="+encoded, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under the owning party, got %d: %s", rec.Code, rec.Body.String())
	}
	if notifications.findToken == nil || notifications.findToken.ID != "9" {
		t.Errorf("expected the token forwarded, got %+v", notifications.findToken)
	}
}

func TestMarkNotifications(t *testing.T) {
	tests := []struct {
		name           string
		body           MarkRequest
		expectedStatus int
	}{
		{
			name:           "mark read",
			body:           MarkRequest{NotificationIDs: []string{"n-1"}, Status: db.NotificationStatusRead},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "invalid status",
			body:           MarkRequest{NotificationIDs: []string{"n-1"}, Status: "archived"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "empty id list",
			body:           MarkRequest{Status: db.NotificationStatusRead},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testRouter(newMockTemplates(), &mockNotifications{}, &mockDispatcher{})
			rec := doJSON(t, router, http.MethodPost, "/v1/parties/party-1/notifications/mark", tt.body)
			if rec.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMarkAllNotifications(t *testing.T) {
	notifications := &mockNotifications{}
	router := testRouter(newMockTemplates(), notifications, &mockDispatcher{})

	rec := doJSON(t, router, http.MethodPost, "/v1/parties/party-3/notifications/mark-all",
		MarkRequest{Status: db.NotificationStatusRead})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !notifications.markAll || notifications.lastPartyID != "party-3" {
		t.Errorf("unexpected mark-all call: %+v", notifications)
	}
}

func TestDeleteNotifications(t *testing.T) {
	notifications := &mockNotifications{}
	router := testRouter(newMockTemplates(), notifications, &mockDispatcher{})

	rec := doJSON(t, router, http.MethodPost, "/v1/parties/party-4/notifications/delete",
		DeleteRequest{NotificationIDs: []string{"n-1", "n-2"}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(notifications.deletedIDs) != 2 {
		t.Errorf("expected ids forwarded, got %v", notifications.deletedIDs)
	}
}

func TestTemplateStats(t *testing.T) {
	notifications := &mockNotifications{stats: &db.NotificationStats{Total: 12, Read: 5}}
	router := testRouter(newMockTemplates(), notifications, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/templates/tpl-1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats db.NotificationStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 12 || stats.Read != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestParseLimit(t *testing.T) {
	for _, bad := range []string{"0", "-5", "ten"} {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/templates?limit=%s", bad), nil)
		if _, err := parseLimit(req); err == nil {
			t.Errorf("expected error for limit %q", bad)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/templates", nil)
	limit, err := parseLimit(req)
	if err != nil || limit != service.DefaultPageLimit {
		t.Errorf("expected default limit, got %d err=%v", limit, err)
	}
}

func strRef(s string) *string { return &s }
