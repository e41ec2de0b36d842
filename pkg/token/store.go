package token

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a credential id is not in the store.
var ErrNotFound = errors.New("credential not found")

// ErrRefreshRunning is returned when a bulk refresh is requested while
// another one is already running and not stale. It carries the current
// progress snapshot.
type ErrRefreshRunning struct {
	Progress RefreshProgress
}

func (e *ErrRefreshRunning) Error() string {
	return "bulk refresh already running"
}

// Store is the durable credential table. The gateway treats it as
// shared-mutable under concurrent access: no cross-request locking is
// attempted, and races are resolved by upstream rejection feeding back
// into failure recording.
type Store interface {
	// List returns all credentials, expired ones included.
	List(ctx context.Context) ([]Credential, error)

	// Get returns one credential by secret value.
	Get(ctx context.Context, id string) (Credential, error)

	// Insert adds credentials, ignoring ids that already exist.
	// It returns the number actually added.
	Insert(ctx context.Context, creds []Credential) (int, error)

	// Delete removes credentials by id and returns the number removed.
	Delete(ctx context.Context, ids []string) (int, error)

	// SetStatus updates the lifecycle status.
	SetStatus(ctx context.Context, id string, status Status) error

	// SetCooldown sets or clears (zero time) the cooldown instant.
	SetCooldown(ctx context.Context, id string, until time.Time) error

	// SetQuota updates the remaining query counters.
	SetQuota(ctx context.Context, id string, q Quotas) error

	// Touch records a selection instant.
	Touch(ctx context.Context, id string, at time.Time) error

	// SetNote updates the operator note.
	SetNote(ctx context.Context, id string, note string) error

	// RefreshProgress returns the singleton refresh record.
	RefreshProgress(ctx context.Context) (RefreshProgress, error)

	// TryStartRefresh atomically flips the refresh record from
	// not-running to running (compare-and-set semantics). force clears
	// a stale record first. It returns false with the current snapshot
	// when another refresh holds the record.
	TryStartRefresh(ctx context.Context, total int, force bool) (bool, RefreshProgress, error)

	// UpdateRefresh overwrites the progress counters of the running
	// record.
	UpdateRefresh(ctx context.Context, p RefreshProgress) error

	// Close releases the underlying storage handle.
	Close() error
}
