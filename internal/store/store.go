// Package store persists resolution results, the write-through result
// cache, and the brand mapping registry.
package store

import (
	"context"
	"time"

	"github.com/brandtrace/ownership-cli/internal/mapping"
	"github.com/brandtrace/ownership-cli/internal/model"
)

// ResolutionFilter specifies criteria for listing resolution history.
type ResolutionFilter struct {
	Brand  string `json:"brand,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution pipeline.
type Store interface {
	// Result cache, keyed by query fingerprint. GetCachedResult returns
	// (nil, nil) on a miss or an expired entry.
	GetCachedResult(ctx context.Context, fingerprint string) (*model.OwnershipResult, error)
	SetCachedResult(ctx context.Context, fingerprint string, result *model.OwnershipResult, ttl time.Duration) error
	DeleteExpiredResults(ctx context.Context) (int, error)

	// Brand mappings
	UpsertMappings(ctx context.Context, mappings []mapping.Mapping) error
	ListMappings(ctx context.Context) ([]mapping.Mapping, error)

	// Resolution history
	SaveResolution(ctx context.Context, res *model.Resolution) error
	GetResolution(ctx context.Context, id string) (*model.Resolution, error)
	ListResolutions(ctx context.Context, filter ResolutionFilter) ([]model.Resolution, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
