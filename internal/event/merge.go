package event

import (
	"time"

	"github.com/porterapp/porter/internal/db"
)

// PartyPatch is a partial update to a party projection row. Only non-nil
// fields are applied, so a blocking event can set status without touching
// the email a create event wrote earlier. Applying the same patch twice
// yields the same row: the merge is a pure function of the incoming values.
type PartyPatch struct {
	Email     *string
	CreatedAt *time.Time
	Status    *string
}

// Apply merges the patch onto an existing row and returns the result.
func (p PartyPatch) Apply(existing db.Party) db.Party {
	merged := existing
	if p.Email != nil {
		merged.Email = p.Email
	}
	if p.CreatedAt != nil {
		merged.CreatedAt = p.CreatedAt
	}
	if p.Status != nil {
		merged.Status = *p.Status
	}
	return merged
}
