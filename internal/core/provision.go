package core

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

// TripProvisioner creates the waiting trip rows for a schedule's eligible
// students. Provisioning is idempotent: the (schedule_id, student_id)
// uniqueness constraint plus a conflict-ignoring batch insert guarantee
// exactly one trip per student no matter how many callers race.
type TripProvisioner struct {
	db  DB
	col *metrics.Collector
}

func NewTripProvisioner(db DB, col *metrics.Collector) *TripProvisioner {
	return &TripProvisioner{db: db, col: col}
}

// EnsureTrips provisions trips for the schedule in its own transaction
// and returns the schedule's full trip set.
func (p *TripProvisioner) EnsureTrips(ctx context.Context, scheduleID uuid.UUID) ([]model.Trip, error) {
	var trips []model.Trip
	err := p.db.WithinTx(ctx, func(q Queries) error {
		sched, err := q.Schedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		if sched == nil {
			return E(KindNotFound, "schedule %s not found", scheduleID)
		}
		trips, err = p.ensure(ctx, q, sched)
		return err
	})
	if err != nil {
		return nil, wrap(err, "provision trips")
	}
	return trips, nil
}

// ensure runs inside the caller's transaction. ScheduleManager invokes it
// so provisioning commits atomically with the schedule activation.
func (p *TripProvisioner) ensure(ctx context.Context, q Queries, sched *model.Schedule) ([]model.Trip, error) {
	// Older deployments wrote trips in a scheduled status; promote them
	// before provisioning so they count as existing rows.
	promoted, err := q.PromoteLegacyTrips(ctx, sched.ID)
	if err != nil {
		return nil, err
	}
	if promoted > 0 {
		log.Printf("schedule %s: promoted %d legacy trips to waiting", sched.ID, promoted)
	}

	students, err := q.StudentsForBusRoute(ctx, sched.BusID, sched.RouteID)
	if err != nil {
		return nil, err
	}
	if len(students) > 0 {
		now := time.Now().UTC()
		batch := make([]model.Trip, 0, len(students))
		for _, s := range students {
			batch = append(batch, model.Trip{
				ID:         uuid.New(),
				ScheduleID: sched.ID,
				StudentID:  s.ID,
				Status:     model.TripWaiting,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		// Rows for students that already have a trip are skipped by the
		// uniqueness constraint; the batch itself is all-or-nothing.
		inserted, err := q.InsertTripsIgnoreConflicts(ctx, batch)
		if err != nil {
			return nil, err
		}
		if p.col != nil && inserted > 0 {
			p.col.TripsProvisioned.Add(float64(inserted))
		}
	}

	return q.TripsBySchedule(ctx, sched.ID)
}
