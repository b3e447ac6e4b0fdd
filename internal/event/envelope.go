// Package event implements the party lifecycle projection: decoding raw
// event envelopes from the ordered log, routing each change to its
// handlers, and committing whole batches transactionally.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is one raw event from the ordered log: a stable sequence id,
// the source party, a creation timestamp, and an opaque payload.
type Envelope struct {
	EventID   int64           `json:"event_id"`
	SourceID  string          `json:"source_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// EventData is the decoded payload: an ordered list of changes to the
// source party.
type EventData struct {
	Changes []Change `json:"changes"`
}

// Change is a tagged variant: exactly one of the category fields is set.
type Change struct {
	Created    *PartyCreated    `json:"party_created,omitempty"`
	Blocking   *PartyBlocking   `json:"party_blocking,omitempty"`
	Suspension *PartySuspension `json:"party_suspension,omitempty"`
}

// PartyCreated carries the initial party attributes.
type PartyCreated struct {
	PartyID   string    `json:"party_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// PartyBlocking flips a party between blocked and active. Exactly one arm
// is set.
type PartyBlocking struct {
	Blocked   bool `json:"blocked,omitempty"`
	Unblocked bool `json:"unblocked,omitempty"`
}

// PartySuspension flips a party between suspended and active. Exactly one
// arm is set.
type PartySuspension struct {
	Suspended bool `json:"suspended,omitempty"`
	Active    bool `json:"active,omitempty"`
}

// DecodeEventData parses an envelope payload into its typed change list.
// A failure here fails the enclosing batch: the batch is one unit of work,
// with no per-event isolation.
func DecodeEventData(envelope Envelope) (*EventData, error) {
	var data EventData
	if err := json.Unmarshal(envelope.Payload, &data); err != nil {
		return nil, fmt.Errorf("decode event %d payload: %w", envelope.EventID, err)
	}
	return &data, nil
}
