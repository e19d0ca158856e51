package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/plaza/internal/space"
)

// ErrSpaceExists is returned by Create when the id is taken.
var ErrSpaceExists = errors.New("space already exists")

// SpaceRepository reads and writes space layouts.
type SpaceRepository struct {
	db *pgxpool.Pool
}

// NewSpaceRepository creates a SpaceRepository backed by db.
func NewSpaceRepository(db *pgxpool.Pool) *SpaceRepository {
	return &SpaceRepository{db: db}
}

// Lookup loads the space with id and its elements.
//
// Postcondition: Returns space.ErrNotFound when no row matches.
func (r *SpaceRepository) Lookup(ctx context.Context, id string) (*space.Descriptor, error) {
	d := &space.Descriptor{ID: id}
	err := r.db.QueryRow(ctx,
		`SELECT name, width, height FROM spaces WHERE id = $1`,
		id,
	).Scan(&d.Name, &d.Bounds.Width, &d.Bounds.Height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("space %q: %w", id, space.ErrNotFound)
		}
		return nil, fmt.Errorf("querying space: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, x, y, width, height, static, image_url
		 FROM space_elements WHERE space_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying elements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e space.Element
		if err := rows.Scan(&e.ID, &e.X, &e.Y, &e.Width, &e.Height, &e.Static, &e.ImageURL); err != nil {
			return nil, fmt.Errorf("scanning element: %w", err)
		}
		d.Elements = append(d.Elements, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating elements: %w", err)
	}
	return d, nil
}

// Create inserts a space and its elements in one transaction.
//
// Precondition: d must pass Validate.
// Postcondition: Returns ErrSpaceExists if d.ID is taken.
func (r *SpaceRepository) Create(ctx context.Context, d *space.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO spaces (id, name, width, height) VALUES ($1, $2, $3, $4)`,
		d.ID, d.Name, d.Bounds.Width, d.Bounds.Height,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("space %q: %w", d.ID, ErrSpaceExists)
		}
		return fmt.Errorf("inserting space: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range d.Elements {
		batch.Queue(
			`INSERT INTO space_elements (space_id, id, x, y, width, height, static, image_url)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			d.ID, e.ID, e.X, e.Y, e.Width, e.Height, e.Static, e.ImageURL,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting elements: %w", err)
	}
	return tx.Commit(ctx)
}
