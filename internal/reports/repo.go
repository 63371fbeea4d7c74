package reports

import "context"

// Repo persists report rows, their artifacts and analysis deltas.
type Repo interface {
	MarkQueued(ctx context.Context, analysisID, userID string) (Report, error)
	GetByAnalysis(ctx context.Context, analysisID string) (Report, error)

	CreateArtifact(ctx context.Context, a Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (Artifact, error)
	LatestArtifact(ctx context.Context, analysisID, kind string) (Artifact, error)

	SaveDelta(ctx context.Context, d Delta) error
	GetDelta(ctx context.Context, analysisID string) (Delta, error)
}
