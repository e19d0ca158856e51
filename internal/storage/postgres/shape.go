package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/plaza/internal/surface"
)

// ShapeRepository stores the seeded surface history of each space.
type ShapeRepository struct {
	db *pgxpool.Pool
}

// NewShapeRepository creates a ShapeRepository backed by db.
func NewShapeRepository(db *pgxpool.Pool) *ShapeRepository {
	return &ShapeRepository{db: db}
}

// History returns the entries of spaceID in insertion order.
//
// Postcondition: Returns an empty slice, not an error, for a space with no shapes.
func (r *ShapeRepository) History(ctx context.Context, spaceID string) ([]surface.Entry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, created_by, shape FROM surface_shapes
		 WHERE space_id = $1 ORDER BY seq`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying shapes: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (surface.Entry, error) {
		var (
			e   surface.Entry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.CreatedBy, &raw); err != nil {
			return e, err
		}
		if err := json.Unmarshal(raw, &e.Shape); err != nil {
			return e, fmt.Errorf("shape %s: %w", e.ID, err)
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning shapes: %w", err)
	}
	if entries == nil {
		entries = []surface.Entry{}
	}
	return entries, nil
}

// Insert appends e to the history of spaceID. An empty id is assigned a UUID.
//
// Precondition: e.Shape must pass Validate.
// Postcondition: Returns the stored entry, or surface.ErrDuplicateID if the id
// already exists in spaceID.
func (r *ShapeRepository) Insert(ctx context.Context, spaceID string, e surface.Entry) (surface.Entry, error) {
	if err := e.Shape.Validate(); err != nil {
		return surface.Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	raw, err := json.Marshal(e.Shape)
	if err != nil {
		return surface.Entry{}, fmt.Errorf("encoding shape: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO surface_shapes (space_id, id, created_by, shape) VALUES ($1, $2, $3, $4::jsonb)`,
		spaceID, e.ID, e.CreatedBy, string(raw),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return surface.Entry{}, fmt.Errorf("%w: %s", surface.ErrDuplicateID, e.ID)
		}
		return surface.Entry{}, fmt.Errorf("inserting shape: %w", err)
	}
	return e, nil
}

// Clear removes every shape of spaceID and reports how many were removed.
func (r *ShapeRepository) Clear(ctx context.Context, spaceID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM surface_shapes WHERE space_id = $1`, spaceID)
	if err != nil {
		return 0, fmt.Errorf("clearing shapes: %w", err)
	}
	return tag.RowsAffected(), nil
}
