// Package service holds the domain rules around templates, notifications,
// and dispatch. Repositories persist; services decide.
package service

import "errors"

// Domain sentinel errors, mapped to 4xx conditions at the API boundary.
var (
	// ErrTemplateFinal rejects any mutation of a template in final state,
	// regardless of which field is being changed.
	ErrTemplateFinal = errors.New("notification template is in final state")

	// ErrEmptyNotificationIDs rejects bulk mark/delete requests with no ids.
	ErrEmptyNotificationIDs = errors.New("notification id list is empty")
)
