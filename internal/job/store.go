package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned by store operations that require an existing
// record when none is found.
var ErrJobNotFound = errors.New("job: not found")

// Store persists and retrieves tracked jobs, keyed on JobID. Implementations
// must reject concurrent inserts of the same JobID at the storage layer —
// two callers racing to register the same id must resolve to exactly one
// record.
type Store interface {
	// Insert succeeds iff no record with this JobID exists. Returns
	// whether insertion occurred.
	Insert(ctx context.Context, j *Job) (bool, error)
	// Find returns the record, or (nil, nil) if none exists.
	Find(ctx context.Context, jobID int64) (*Job, error)
	// UpdateState succeeds iff the record exists and its stored state
	// differs from newState. Returns whether a modification occurred.
	UpdateState(ctx context.Context, jobID int64, newState Status) (bool, error)
	// Delete returns whether a record was removed.
	Delete(ctx context.Context, jobID int64) (bool, error)
	// DeleteAndReturn atomically finds and deletes a record, returning the
	// removed record or (nil, nil) if none existed.
	DeleteAndReturn(ctx context.Context, jobID int64) (*Job, error)
	// Iterate returns a snapshot of all tracked records. Need not be a
	// consistent cut across the whole collection, but must not surface a
	// torn (partially-written) record.
	Iterate(ctx context.Context) ([]*Job, error)
}
