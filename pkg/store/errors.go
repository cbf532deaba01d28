package store

import "errors"

var (
	// ErrNotFound indicates no row matched the requested id.
	ErrNotFound = errors.New("store: not found")

	// ErrNoJobAvailable indicates the claim query found no pending job.
	ErrNoJobAvailable = errors.New("store: no job available")

	// ErrChunkIndexGap indicates an attempt to write a chunk whose index is
	// not contiguous with the job's already-complete chunks (invariant 1).
	ErrChunkIndexGap = errors.New("store: chunk index is not contiguous")

	// ErrOptimisticLock indicates a status transition was rejected because
	// the row had already moved past the expected prior status.
	ErrOptimisticLock = errors.New("store: status changed concurrently")
)
