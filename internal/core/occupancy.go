package core

import (
	"context"

	"github.com/google/uuid"
)

// OccupancyTracker keeps a bus's students_onboard field equal to the
// count of onboard trips whose schedule references the bus. The count is
// always recomputed from trip state, never patched incrementally, so
// concurrent transitions and partial failures cannot drift the counter.
type OccupancyTracker struct{}

func NewOccupancyTracker() *OccupancyTracker { return &OccupancyTracker{} }

// Recompute refreshes the bus's onboard count within the caller's
// transaction and returns the new value.
func (t *OccupancyTracker) Recompute(ctx context.Context, q Queries, busID uuid.UUID) (int, error) {
	n, err := q.CountOnboard(ctx, busID)
	if err != nil {
		return 0, err
	}
	if err := q.SetBusOccupancy(ctx, busID, n); err != nil {
		return 0, err
	}
	return n, nil
}

// ForceZero unconditionally clears the bus's onboard count. Used at
// schedule completion, which always clears occupancy.
func (t *OccupancyTracker) ForceZero(ctx context.Context, q Queries, busID uuid.UUID) error {
	return q.SetBusOccupancy(ctx, busID, 0)
}
