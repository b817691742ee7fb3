// Package store defines the battle persistence contract. Implementations
// live in memstore and gormstore.
package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
)

var ErrNotFound = errors.New("not found")

// ErrConflict means the battle was saved by someone else since it was read.
var ErrConflict = errors.New("version conflict")

type Store interface {
	FindByID(ctx context.Context, id string) (engine.Battle, error)
	// FindByTaskID returns the battle whose generated song has the task id.
	FindByTaskID(ctx context.Context, taskID string) (engine.Battle, error)
	// ListSongsInFlight returns battles whose song job is pending or processing.
	ListSongsInFlight(ctx context.Context) ([]engine.Battle, error)
	// Save upserts b. b.Version must equal the stored version; the returned
	// battle carries the incremented version and a fresh UpdatedAt.
	Save(ctx context.Context, b engine.Battle) (engine.Battle, error)
	// Delete removes the battle with its rounds, votes and comments.
	Delete(ctx context.Context, id string) error
}
