package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrSigningUnsupported is returned by stores that cannot mint signed URLs.
var ErrSigningUnsupported = errors.New("object store cannot sign urls")

// ObjectStore saves binary objects by storage key. Reads go through URLSigner.
type ObjectStore interface {
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
}

// URLSigner mints time-limited GET URLs for stored objects.
type URLSigner interface {
	PresignGet(ctx context.Context, storageKey string, ttl time.Duration) (string, error)
}
