package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

// TripStateMachine validates and applies per-student trip transitions.
// Writes go through a compare-and-swap on the expected prior status, so
// two near-simultaneous calls on one trip can never both succeed.
type TripStateMachine struct {
	db  DB
	occ *OccupancyTracker
	col *metrics.Collector
}

func NewTripStateMachine(db DB, occ *OccupancyTracker, col *metrics.Collector) *TripStateMachine {
	return &TripStateMachine{db: db, occ: occ, col: col}
}

// UpdateStatus moves a trip to next on behalf of the acting driver.
// Entering onboard stamps PickedAt, entering dropped stamps DroppedAt;
// transitions that change ridership recompute the bus occupancy in the
// same transaction.
func (m *TripStateMachine) UpdateStatus(ctx context.Context, tripID, driverID uuid.UUID, next model.TripStatus, notes string) (*model.Trip, error) {
	if !model.ValidTripStatus(next) {
		if m.col != nil {
			m.col.TransitionRejects.Inc()
		}
		return nil, E(KindInvalidTransition, "unknown trip status %q", next)
	}

	var updated *model.Trip
	err := m.db.WithinTx(ctx, func(q Queries) error {
		trip, err := q.Trip(ctx, tripID)
		if err != nil {
			return err
		}
		if trip == nil {
			return E(KindNotFound, "trip %s not found", tripID)
		}
		sched, err := q.Schedule(ctx, trip.ScheduleID)
		if err != nil {
			return err
		}
		if sched == nil {
			return E(KindNotFound, "schedule %s not found", trip.ScheduleID)
		}
		bus, err := q.Bus(ctx, sched.BusID)
		if err != nil {
			return err
		}
		if bus == nil {
			return E(KindNotFound, "bus %s not found", sched.BusID)
		}
		if bus.DriverID != driverID {
			return E(KindForbidden, "driver does not own bus %s", bus.ID)
		}

		if !model.CanTransition(trip.Status, next) {
			return E(KindInvalidTransition, "status %s is not allowed from current state %s", next, trip.Status)
		}

		now := time.Now().UTC()
		var pickedAt, droppedAt *time.Time
		switch next {
		case model.TripOnboard:
			pickedAt = &now
		case model.TripDropped:
			droppedAt = &now
		}

		ok, err := q.UpdateTripStatus(ctx, trip.ID, trip.Status, next, pickedAt, droppedAt, notes)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race: report against the fresh state instead of
			// silently applying on top of it.
			fresh, err := q.Trip(ctx, tripID)
			if err != nil {
				return err
			}
			cur := trip.Status
			if fresh != nil {
				cur = fresh.Status
			}
			return E(KindInvalidTransition, "status %s is not allowed from current state %s", next, cur)
		}

		if next == model.TripOnboard || next == model.TripDropped {
			n, err := m.occ.Recompute(ctx, q, bus.ID)
			if err != nil {
				return err
			}
			bus.StudentsOnboard = n
		}

		updated, err = q.Trip(ctx, tripID)
		return err
	})
	if err != nil {
		if m.col != nil && IsKind(err, KindInvalidTransition) {
			m.col.TransitionRejects.Inc()
		}
		return nil, wrap(err, "update trip status")
	}
	if m.col != nil {
		m.col.Transitions.WithLabelValues(string(next)).Inc()
	}
	return updated, nil
}
