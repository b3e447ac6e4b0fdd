package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/porterapp/porter/internal/db"
)

// fakePartyStore is an in-memory PartyStore. failUpsertFor makes upserts
// for one party fail, which is how tests force a mid-batch abort.
type fakePartyStore struct {
	parties       map[string]db.Party
	upserts       int
	failUpsertFor string
}

var errStoreDown = errors.New("store down")

func newFakePartyStore() *fakePartyStore {
	return &fakePartyStore{parties: make(map[string]db.Party)}
}

func (s *fakePartyStore) GetParty(_ context.Context, partyID string) (*db.Party, error) {
	party, ok := s.parties[partyID]
	if !ok {
		return nil, db.ErrPartyNotFound
	}
	out := party
	return &out, nil
}

func (s *fakePartyStore) UpsertParty(_ context.Context, p *db.Party) error {
	if p.PartyID == s.failUpsertFor {
		return errStoreDown
	}
	s.upserts++
	s.parties[p.PartyID] = *p
	return nil
}

func mustPayload(t *testing.T, data EventData) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func createEnvelope(t *testing.T, eventID int64, partyID, email string) Envelope {
	t.Helper()
	return Envelope{
		EventID:   eventID,
		SourceID:  partyID,
		CreatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Payload: mustPayload(t, EventData{Changes: []Change{{
			Created: &PartyCreated{
				PartyID:   partyID,
				Email:     email,
				CreatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
			},
		}}}),
	}
}

func blockingEnvelope(t *testing.T, eventID int64, partyID string, blocked bool) Envelope {
	t.Helper()
	change := Change{Blocking: &PartyBlocking{}}
	if blocked {
		change.Blocking.Blocked = true
	} else {
		change.Blocking.Unblocked = true
	}
	return Envelope{
		EventID:  eventID,
		SourceID: partyID,
		Payload:  mustPayload(t, EventData{Changes: []Change{change}}),
	}
}

func suspensionEnvelope(t *testing.T, eventID int64, partyID string, suspended bool) Envelope {
	t.Helper()
	change := Change{Suspension: &PartySuspension{}}
	if suspended {
		change.Suspension.Suspended = true
	} else {
		change.Suspension.Active = true
	}
	return Envelope{
		EventID:  eventID,
		SourceID: partyID,
		Payload:  mustPayload(t, EventData{Changes: []Change{change}}),
	}
}

func TestProjectCreateThenBlockKeepsEmail(t *testing.T) {
	store := newFakePartyStore()
	projector := NewPartyProjector(zap.NewNop())

	batch := []Envelope{
		createEnvelope(t, 1, "party-1", "one@example.com"),
		blockingEnvelope(t, 2, "party-1", true),
	}

	if err := projector.ProjectBatch(context.Background(), store, batch); err != nil {
		t.Fatalf("project batch failed: %v", err)
	}

	party := store.parties["party-1"]
	if party.Status != db.PartyStatusBlocked {
		t.Errorf("expected blocked, got %s", party.Status)
	}
	if party.Email == nil || *party.Email != "one@example.com" {
		t.Error("blocking event must not erase the email written by create")
	}
}

func TestProjectBlockingBeforeCreate(t *testing.T) {
	store := newFakePartyStore()
	projector := NewPartyProjector(zap.NewNop())

	// Out-of-order replay: the blocking event lands first on a sparse row,
	// the late create fills in the attributes and resets the status.
	if err := projector.ProjectBatch(context.Background(), store, []Envelope{
		blockingEnvelope(t, 1, "party-2", true),
	}); err != nil {
		t.Fatalf("project blocking failed: %v", err)
	}

	sparse := store.parties["party-2"]
	if sparse.Status != db.PartyStatusBlocked {
		t.Errorf("expected sparse row with blocked status, got %+v", sparse)
	}
	if sparse.Email != nil {
		t.Errorf("sparse row must not invent an email, got %v", *sparse.Email)
	}

	if err := projector.ProjectBatch(context.Background(), store, []Envelope{
		createEnvelope(t, 2, "party-2", "two@example.com"),
	}); err != nil {
		t.Fatalf("project create failed: %v", err)
	}

	party := store.parties["party-2"]
	if party.Email == nil || *party.Email != "two@example.com" {
		t.Error("late create must fill in the email")
	}
	if party.Status != db.PartyStatusActive {
		t.Errorf("create resets status to active, got %s", party.Status)
	}
}

func TestProjectDuplicateCreateIsIdempotent(t *testing.T) {
	store := newFakePartyStore()
	projector := NewPartyProjector(zap.NewNop())

	batch := []Envelope{
		createEnvelope(t, 1, "party-3", "three@example.com"),
		createEnvelope(t, 2, "party-3", "three@example.com"),
	}

	if err := projector.ProjectBatch(context.Background(), store, batch); err != nil {
		t.Fatalf("project batch failed: %v", err)
	}

	if len(store.parties) != 1 {
		t.Fatalf("expected a single row, got %d", len(store.parties))
	}
	party := store.parties["party-3"]
	if party.Email == nil || *party.Email != "three@example.com" {
		t.Errorf("unexpected row after duplicate create: %+v", party)
	}
}

func TestProjectSuspensionLifecycle(t *testing.T) {
	store := newFakePartyStore()
	projector := NewPartyProjector(zap.NewNop())

	batch := []Envelope{
		createEnvelope(t, 1, "party-4", "four@example.com"),
		suspensionEnvelope(t, 2, "party-4", true),
		suspensionEnvelope(t, 3, "party-4", false),
	}

	if err := projector.ProjectBatch(context.Background(), store, batch); err != nil {
		t.Fatalf("project batch failed: %v", err)
	}

	if got := store.parties["party-4"].Status; got != db.PartyStatusActive {
		t.Errorf("expected active after suspend+reinstate, got %s", got)
	}
}

func TestProjectUnsetArmsAreNoOps(t *testing.T) {
	store := newFakePartyStore()
	projector := NewPartyProjector(zap.NewNop())

	batch := []Envelope{
		{
			EventID:  1,
			SourceID: "party-5",
			Payload: mustPayload(t, EventData{Changes: []Change{
				{Blocking: &PartyBlocking{}},
				{Suspension: &PartySuspension{}},
			}}),
		},
	}

	if err := projector.ProjectBatch(context.Background(), store, batch); err != nil {
		t.Fatalf("project batch failed: %v", err)
	}
	if store.upserts != 0 {
		t.Errorf("expected no writes for unset arms, got %d", store.upserts)
	}
}

func TestProjectBatchAbortsOnCorruptPayload(t *testing.T) {
	store := newFakePartyStore()
	projector := NewPartyProjector(zap.NewNop())

	batch := []Envelope{
		createEnvelope(t, 1, "party-6", "six@example.com"),
		{EventID: 2, SourceID: "party-6", Payload: json.RawMessage(`{not json`)},
	}

	if err := projector.ProjectBatch(context.Background(), store, batch); err == nil {
		t.Fatal("expected error for undecodable payload")
	}
}

func TestProjectBatchStopsAtFirstStoreError(t *testing.T) {
	store := newFakePartyStore()
	store.failUpsertFor = "party-8"
	projector := NewPartyProjector(zap.NewNop())

	batch := []Envelope{
		createEnvelope(t, 1, "party-7", "seven@example.com"),
		createEnvelope(t, 2, "party-8", "eight@example.com"),
		createEnvelope(t, 3, "party-9", "nine@example.com"),
	}

	err := projector.ProjectBatch(context.Background(), store, batch)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	// The remainder of the batch is never attempted; the caller rolls the
	// transaction back so the partial first write cannot become visible.
	if _, ok := store.parties["party-9"]; ok {
		t.Error("events after the failure must not be applied")
	}
}
