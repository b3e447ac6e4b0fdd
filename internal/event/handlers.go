package event

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
)

// PartyStore is the subset of party persistence the handlers need. The
// projector passes a transaction-scoped implementation so every write in a
// batch lands or none does.
type PartyStore interface {
	GetParty(ctx context.Context, partyID string) (*db.Party, error)
	UpsertParty(ctx context.Context, p *db.Party) error
}

// ChangeHandler applies one category of party change to the projection.
// Accepts is the routing predicate; a handler that does not accept a change
// is a no-op for it. All accepting handlers run in registration order.
type ChangeHandler interface {
	Accepts(change Change) bool
	Handle(ctx context.Context, parties PartyStore, change Change, envelope Envelope) error
}

// loadOrSparse fetches the current projection row, or returns a fresh
// sparse row when the party is unknown. Every handler upserts through this
// path, which keeps replay safe regardless of event ordering: a blocking
// event arriving before the create event leaves a sparse row the create
// event later fills in.
func loadOrSparse(ctx context.Context, parties PartyStore, partyID string) (*db.Party, error) {
	party, err := parties.GetParty(ctx, partyID)
	if errors.Is(err, db.ErrPartyNotFound) {
		return &db.Party{PartyID: partyID}, nil
	}
	if err != nil {
		return nil, err
	}
	return party, nil
}

func applyPatch(ctx context.Context, parties PartyStore, partyID string, patch PartyPatch) error {
	party, err := loadOrSparse(ctx, parties, partyID)
	if err != nil {
		return err
	}
	merged := patch.Apply(*party)
	return parties.UpsertParty(ctx, &merged)
}

func strptr(s string) *string { return &s }

// PartyCreateHandler projects party_created changes: the party becomes
// active and its email and creation time are (re)set. A duplicate create
// event overwrites with the incoming values; the unique party_id constraint
// means no second row appears.
type PartyCreateHandler struct {
	logger *zap.Logger
}

func NewPartyCreateHandler(logger *zap.Logger) *PartyCreateHandler {
	return &PartyCreateHandler{logger: logger}
}

func (h *PartyCreateHandler) Accepts(change Change) bool {
	return change.Created != nil
}

func (h *PartyCreateHandler) Handle(ctx context.Context, parties PartyStore, change Change, envelope Envelope) error {
	created := change.Created
	createdAt := created.CreatedAt
	patch := PartyPatch{
		Email:     strptr(created.Email),
		CreatedAt: &createdAt,
		Status:    strptr(db.PartyStatusActive),
	}
	h.logger.Info("projecting party create",
		zap.String("party_id", created.PartyID),
		zap.Int64("event_id", envelope.EventID),
	)
	return applyPatch(ctx, parties, created.PartyID, patch)
}

// PartyBlockingHandler projects party_blocking changes: blocked or back to
// active, depending on which arm is set.
type PartyBlockingHandler struct {
	logger *zap.Logger
}

func NewPartyBlockingHandler(logger *zap.Logger) *PartyBlockingHandler {
	return &PartyBlockingHandler{logger: logger}
}

func (h *PartyBlockingHandler) Accepts(change Change) bool {
	return change.Blocking != nil
}

func (h *PartyBlockingHandler) Handle(ctx context.Context, parties PartyStore, change Change, envelope Envelope) error {
	blocking := change.Blocking
	patch := PartyPatch{}
	switch {
	case blocking.Blocked:
		patch.Status = strptr(db.PartyStatusBlocked)
	case blocking.Unblocked:
		patch.Status = strptr(db.PartyStatusActive)
	default:
		return nil
	}
	h.logger.Info("projecting party blocking",
		zap.String("party_id", envelope.SourceID),
		zap.String("status", *patch.Status),
		zap.Int64("event_id", envelope.EventID),
	)
	return applyPatch(ctx, parties, envelope.SourceID, patch)
}

// PartySuspensionHandler projects party_suspension changes: suspended or
// back to active, depending on which arm is set.
type PartySuspensionHandler struct {
	logger *zap.Logger
}

func NewPartySuspensionHandler(logger *zap.Logger) *PartySuspensionHandler {
	return &PartySuspensionHandler{logger: logger}
}

func (h *PartySuspensionHandler) Accepts(change Change) bool {
	return change.Suspension != nil
}

func (h *PartySuspensionHandler) Handle(ctx context.Context, parties PartyStore, change Change, envelope Envelope) error {
	suspension := change.Suspension
	patch := PartyPatch{}
	switch {
	case suspension.Suspended:
		patch.Status = strptr(db.PartyStatusSuspended)
	case suspension.Active:
		patch.Status = strptr(db.PartyStatusActive)
	default:
		return nil
	}
	h.logger.Info("projecting party suspension",
		zap.String("party_id", envelope.SourceID),
		zap.String("status", *patch.Status),
		zap.Int64("event_id", envelope.EventID),
	)
	return applyPatch(ctx, parties, envelope.SourceID, patch)
}
