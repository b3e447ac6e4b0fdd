package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PartyRepository handles the party projection. The event pipeline is the
// only writer; everything else reads.
type PartyRepository struct {
	q      Querier
	logger *zap.Logger
}

// NewPartyRepository creates a party repository running against the pool.
func NewPartyRepository(db *DB, logger *zap.Logger) *PartyRepository {
	return &PartyRepository{q: db.Pool(), logger: logger}
}

// WithTx returns a copy of the repository scoped to the given transaction.
func (r *PartyRepository) WithTx(tx pgx.Tx) *PartyRepository {
	return &PartyRepository{q: tx, logger: r.logger}
}

// GetParty retrieves a party by its natural key.
func (r *PartyRepository) GetParty(ctx context.Context, partyID string) (*Party, error) {
	query := `SELECT id, party_id, email, status, created_at FROM party WHERE party_id = $1`

	var p Party
	err := r.q.QueryRow(ctx, query, partyID).Scan(
		&p.ID,
		&p.PartyID,
		&p.Email,
		&p.Status,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPartyNotFound, partyID)
	}
	if err != nil {
		return nil, fmt.Errorf("query party: %w", err)
	}

	return &p, nil
}

// UpsertParty writes a party row keyed by party_id. The unique constraint
// guarantees a duplicate create event updates in place rather than adding
// a second row.
func (r *PartyRepository) UpsertParty(ctx context.Context, p *Party) error {
	query := `
		INSERT INTO party (party_id, email, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (party_id) DO UPDATE
		SET email = EXCLUDED.email, status = EXCLUDED.status, created_at = EXCLUDED.created_at
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query, p.PartyID, p.Email, p.Status, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert party: %w", err)
	}

	return nil
}

// FindActivePartyIDs returns the ids of every active party, used when a
// template is dispatched to all recipients.
func (r *PartyRepository) FindActivePartyIDs(ctx context.Context) ([]string, error) {
	query := `SELECT party_id FROM party WHERE status = $1 ORDER BY id`

	rows, err := r.q.Query(ctx, query, PartyStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query active parties: %w", err)
	}
	defer rows.Close()

	var partyIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan party id: %w", err)
		}
		partyIDs = append(partyIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return partyIDs, nil
}
