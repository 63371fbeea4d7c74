package businesses

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// GetOrCreate inserts the business or returns the existing row for the same normalized URL.
func (r *PGRepo) GetOrCreate(ctx context.Context, b Business) (Business, bool, error) {
	const insert = `
INSERT INTO businesses (id, user_id, name, normalized_url, source_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (user_id, normalized_url) DO NOTHING`
	res, err := r.DB.ExecContext(ctx, insert, b.ID, b.UserID, b.Name, b.NormalizedURL, b.SourceURL)
	if err != nil {
		return Business{}, false, eris.Wrap(err, "insert business")
	}
	created := false
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}

	const query = `
SELECT id, user_id, name, normalized_url, source_url, created_at, updated_at
FROM businesses
WHERE user_id = $1 AND normalized_url = $2`
	var out Business
	err = r.DB.QueryRowContext(ctx, query, b.UserID, b.NormalizedURL).Scan(
		&out.ID, &out.UserID, &out.Name, &out.NormalizedURL, &out.SourceURL, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return Business{}, false, eris.Wrap(err, "load business")
	}
	return out, created, nil
}

// GetByID returns a business owned by userID.
func (r *PGRepo) GetByID(ctx context.Context, userID, businessID string) (Business, error) {
	const query = `
SELECT id, user_id, name, normalized_url, source_url, created_at, updated_at
FROM businesses
WHERE id = $1 AND user_id = $2`
	var b Business
	err := r.DB.QueryRowContext(ctx, query, businessID, userID).Scan(
		&b.ID, &b.UserID, &b.Name, &b.NormalizedURL, &b.SourceURL, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Business{}, ErrNotFound
		}
		return Business{}, eris.Wrap(err, "get business")
	}
	return b, nil
}

// ListByUser lists a user's businesses, newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Business, error) {
	const query = `
SELECT id, user_id, name, normalized_url, source_url, created_at, updated_at
FROM businesses
WHERE user_id = $1
ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, eris.Wrap(err, "list businesses")
	}
	defer rows.Close()

	out := []Business{}
	for rows.Next() {
		var b Business
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.NormalizedURL, &b.SourceURL, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "scan business")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Delete removes a business; analyses and their child rows cascade.
func (r *PGRepo) Delete(ctx context.Context, userID, businessID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM businesses WHERE id = $1 AND user_id = $2`, businessID, userID)
	if err != nil {
		return eris.Wrap(err, "delete business")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repo = (*PGRepo)(nil)
