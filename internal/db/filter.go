package db

import (
	"strconv"
	"time"
)

// timeParam is the format filter timestamps take inside continuation token
// key params. Changing it breaks tokens held by clients.
const timeParam = time.RFC3339

// NotificationFilter is an immutable search predicate over notifications.
// Every field is optional; nil means "no constraint", never "match empty".
type NotificationFilter struct {
	PartyID    *string
	TemplateID *string
	Status     *string
	Title      *string
	Deleted    *bool
	FromTime   *time.Time
	ToTime     *time.Time
}

// KeyParams stringifies the present filter fields so the continuation token
// can reapply the same logical filter on the next page.
func (f *NotificationFilter) KeyParams() map[string]string {
	if f == nil {
		return nil
	}
	params := make(map[string]string)
	if f.PartyID != nil {
		params["party_id"] = *f.PartyID
	}
	if f.TemplateID != nil {
		params["template_id"] = *f.TemplateID
	}
	if f.Status != nil {
		params["status"] = *f.Status
	}
	if f.Title != nil {
		params["title"] = *f.Title
	}
	if f.Deleted != nil {
		params["deleted"] = strconv.FormatBool(*f.Deleted)
	}
	if f.FromTime != nil {
		params["from_time"] = f.FromTime.UTC().Format(timeParam)
	}
	if f.ToTime != nil {
		params["to_time"] = f.ToTime.UTC().Format(timeParam)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// NotificationFilterFromKeyParams rebuilds the filter a continuation token
// carries. Unparseable values are dropped rather than failing the page:
// the token was produced by us, so they only appear after tampering, and
// the composite seek predicate still bounds the scan.
func NotificationFilterFromKeyParams(params map[string]string) *NotificationFilter {
	if len(params) == 0 {
		return nil
	}
	f := &NotificationFilter{}
	if v, ok := params["party_id"]; ok {
		f.PartyID = &v
	}
	if v, ok := params["template_id"]; ok {
		f.TemplateID = &v
	}
	if v, ok := params["status"]; ok {
		f.Status = &v
	}
	if v, ok := params["title"]; ok {
		f.Title = &v
	}
	if v, ok := params["deleted"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Deleted = &b
		}
	}
	if v, ok := params["from_time"]; ok {
		if t, err := time.Parse(timeParam, v); err == nil {
			f.FromTime = &t
		}
	}
	if v, ok := params["to_time"]; ok {
		if t, err := time.Parse(timeParam, v); err == nil {
			f.ToTime = &t
		}
	}
	return f
}

// TemplateFilter is an immutable search predicate over templates.
type TemplateFilter struct {
	Title     *string
	Content   *string
	From      *time.Time
	To        *time.Time
	FixedDate *time.Time
}

// KeyParams stringifies the present filter fields for the continuation token.
func (f *TemplateFilter) KeyParams() map[string]string {
	if f == nil {
		return nil
	}
	params := make(map[string]string)
	if f.Title != nil {
		params["title"] = *f.Title
	}
	if f.Content != nil {
		params["content"] = *f.Content
	}
	if f.From != nil {
		params["created_at_from"] = f.From.UTC().Format(timeParam)
	}
	if f.To != nil {
		params["created_at_to"] = f.To.UTC().Format(timeParam)
	}
	if f.FixedDate != nil {
		params["fixed_date"] = f.FixedDate.UTC().Format(timeParam)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// TemplateFilterFromKeyParams rebuilds the filter a continuation token carries.
func TemplateFilterFromKeyParams(params map[string]string) *TemplateFilter {
	if len(params) == 0 {
		return nil
	}
	f := &TemplateFilter{}
	if v, ok := params["title"]; ok {
		f.Title = &v
	}
	if v, ok := params["content"]; ok {
		f.Content = &v
	}
	if v, ok := params["created_at_from"]; ok {
		if t, err := time.Parse(timeParam, v); err == nil {
			f.From = &t
		}
	}
	if v, ok := params["created_at_to"]; ok {
		if t, err := time.Parse(timeParam, v); err == nil {
			f.To = &t
		}
	}
	if v, ok := params["fixed_date"]; ok {
		if t, err := time.Parse(timeParam, v); err == nil {
			f.FixedDate = &t
		}
	}
	return f
}
