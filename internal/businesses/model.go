package businesses

import (
	"errors"
	"time"
)

// Business is a user-scoped listing the user analyzes over time.
type Business struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Name          string    `json:"name"`
	NormalizedURL string    `json:"normalizedUrl"`
	SourceURL     string    `json:"url"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

var (
	ErrNotFound   = errors.New("business not found")
	ErrInvalidURL = errors.New("invalid business url")
)
