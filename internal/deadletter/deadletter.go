package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Entry is a pipeline job that exhausted its delivery attempts.
type Entry struct {
	ID           string          `json:"id"`
	AnalysisID   string          `json:"analysisId"`
	RunID        string          `json:"runId"`
	RequestID    string          `json:"requestId"`
	Error        string          `json:"error"`
	ReceiveCount int             `json:"receiveCount"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Repo stores dead-lettered jobs.
type Repo interface {
	Create(ctx context.Context, e Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
}

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a dead letter.
func (r *PGRepo) Create(ctx context.Context, e Entry) error {
	const query = `
INSERT INTO pipeline_dead_letters (id, analysis_id, run_id, request_id, error, receive_count, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`
	e = withDefaults(e)
	_, err := r.DB.ExecContext(ctx, query,
		e.ID, e.AnalysisID, e.RunID, e.RequestID, e.Error, e.ReceiveCount, []byte(e.Payload), e.CreatedAt)
	return eris.Wrap(err, "insert dead letter")
}

// List returns the newest dead letters first.
func (r *PGRepo) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const query = `
SELECT id, analysis_id, run_id, request_id, error, receive_count, payload, created_at
FROM pipeline_dead_letters
ORDER BY created_at DESC
LIMIT $1`
	rows, err := r.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "list dead letters")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AnalysisID, &e.RunID, &e.RequestID, &e.Error, &e.ReceiveCount, &payload, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "scan dead letter")
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryRepo stores dead letters in memory.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

// Create stores a dead letter.
func (r *MemoryRepo) Create(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, withDefaults(e))
	return nil
}

// List returns the newest dead letters first.
func (r *MemoryRepo) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := append([]Entry(nil), r.entries...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func withDefaults(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		e.Payload = json.RawMessage(`{}`)
	}
	return e
}
