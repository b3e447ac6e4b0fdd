// Package pagination implements keyset (cursor) pagination over a
// (timestamp, surrogate id) composite ordering key. The cursor is an opaque
// continuation token that round-trips the originating filter, so resuming a
// page reapplies the same predicate set before seeking past the last row.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidToken indicates a continuation token that could not be decoded.
// It is a client-data error: the request is rejected, never retried.
var ErrInvalidToken = errors.New("invalid continuation token")

// ContinuationToken encodes where a filtered listing should resume.
// KeyParams carries the stringified filter fields of the original query,
// Timestamp and ID are the ordering key of the last returned row.
type ContinuationToken struct {
	KeyParams map[string]string `json:"key_params,omitempty"`
	Timestamp int64             `json:"timestamp"`
	ID        string            `json:"id"`
}

// Encode serializes the token to its opaque wire form, safe for URL query
// parameters. Callers must treat the result as a black box.
func Encode(token *ContinuationToken) (string, error) {
	raw, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("marshal continuation token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Decode parses an opaque token string. Any tampered or malformed input
// yields ErrInvalidToken.
func Decode(s string) (*ContinuationToken, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var token ContinuationToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if token.ID == "" {
		return nil, fmt.Errorf("%w: missing row id", ErrInvalidToken)
	}
	return &token, nil
}
