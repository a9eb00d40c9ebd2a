// Package checkpoint persists run state snapshots keyed by run id.
package checkpoint

import (
	"context"

	"github.com/xhe623/planrun/internal/domain"
)

// Store is the durable snapshot store. Save atomically overwrites the
// prior snapshot for the run; a reader never observes a partial write.
// Load returns (nil, nil) when no snapshot exists. List returns summary
// records without deserializing trace logs.
type Store interface {
	Save(ctx context.Context, state *domain.RunState) error
	Load(ctx context.Context, runID string) (*domain.RunState, error)
	List(ctx context.Context) ([]domain.RunSummary, error)
	Close() error
}
