package health

import (
	"context"
	"database/sql"
	"time"
)

// Service encapsulates health-related checks.
type Service struct {
	DB *sql.DB
	// Mode names the persistence backend for the payload ("postgres" or "memory").
	Mode string
}

// NewService constructs a new health service. db may be nil in memory mode.
func NewService(db *sql.DB) *Service {
	mode := "memory"
	if db != nil {
		mode = "postgres"
	}
	return &Service{DB: db, Mode: mode}
}

// Status returns the health payload and whether every dependency is reachable.
func (s *Service) Status(ctx context.Context) (map[string]any, bool) {
	out := map[string]any{"ok": true, "storage": s.Mode}
	if s.DB == nil {
		return out, true
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		out["ok"] = false
		out["database"] = "unreachable"
		return out, false
	}
	out["database"] = "ok"
	return out, true
}
