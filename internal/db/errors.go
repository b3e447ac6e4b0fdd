package db

import "errors"

// Store-level sentinel errors, matched with errors.Is at the API boundary.
var (
	ErrTemplateNotFound     = errors.New("notification template not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrPartyNotFound        = errors.New("party not found")
)
