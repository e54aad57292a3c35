// Package session persists dashboard sessions. A session is an opaque JSON
// state document owned by one subject and guarded by a version number.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/clubpulse/model"
)

// Record is one stored session.
type Record struct {
	ID        string
	OwnerID   string
	Version   int64
	State     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Store persists session records.
type Store interface {
	// Create persists a new record. Returns CONFLICT if the id is taken.
	Create(ctx context.Context, rec Record) error

	// Get returns the record with id owned by ownerID. Returns NOT_FOUND
	// when it is missing, expired or owned by someone else.
	Get(ctx context.Context, ownerID, id string) (Record, error)

	// Update replaces the stored record when its version still equals
	// rec.Version; the stored version becomes rec.Version+1 and the expiry
	// slides forward. Returns CONFLICT on a version mismatch.
	Update(ctx context.Context, rec Record) error

	// Delete removes a record. Returns NOT_FOUND if absent.
	Delete(ctx context.Context, ownerID, id string) error

	// DeleteExpired removes records whose expiry is before cutoff and
	// reports how many went.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)

	HealthCheck(ctx context.Context) error
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like a session id.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("session %q not found", id))
}

func conflict(id string, version int64) error {
	return model.NewConflictError(fmt.Sprintf("session %q version conflict (expected %d)", id, version))
}
