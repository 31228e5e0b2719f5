package core

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

// ScheduleManager drives the schedule lifecycle. The lifecycle only moves
// forward: scheduled, active, completed. Both operations are idempotent
// against driver double-taps and run in one bounded transaction.
type ScheduleManager struct {
	db      DB
	prov    *TripProvisioner
	occ     *OccupancyTracker
	timeout time.Duration
	col     *metrics.Collector
}

func NewScheduleManager(db DB, prov *TripProvisioner, occ *OccupancyTracker, timeout time.Duration, col *metrics.Collector) *ScheduleManager {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ScheduleManager{db: db, prov: prov, occ: occ, timeout: timeout, col: col}
}

// StartSchedule activates a scheduled run and provisions its trips in the
// same transaction. Starting an already-active schedule is a no-op
// success.
func (sm *ScheduleManager) StartSchedule(ctx context.Context, scheduleID, driverID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	started := false
	err := sm.db.WithinTx(ctx, func(q Queries) error {
		sched, err := sm.authorize(ctx, q, scheduleID, driverID)
		if err != nil {
			return err
		}
		switch sched.Status {
		case model.ScheduleActive:
			return nil // double-tap
		case model.ScheduleCompleted:
			return E(KindInvalidTransition, "schedule %s is already completed", scheduleID)
		}

		ok, err := q.UpdateScheduleStatus(ctx, scheduleID, model.ScheduleScheduled, model.ScheduleActive)
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent start won the race; if the schedule is active
			// now, this call still succeeds.
			fresh, err := q.Schedule(ctx, scheduleID)
			if err != nil {
				return err
			}
			if fresh != nil && fresh.Status == model.ScheduleActive {
				return nil
			}
			return E(KindInvalidTransition, "schedule %s can no longer be started", scheduleID)
		}

		if _, err := sm.prov.ensure(ctx, q, sched); err != nil {
			return err
		}
		started = true
		return nil
	})
	if err != nil {
		return wrap(err, "start schedule")
	}
	if started {
		if sm.col != nil {
			sm.col.SchedulesStarted.Inc()
		}
		log.Printf("schedule %s started by driver %s", scheduleID, driverID)
	}
	return nil
}

// CompleteSchedule finishes an active run: every trip still waiting is
// finalized to absent and the bus occupancy is reset to zero, regardless
// of any trip still marked onboard. Completing an already-completed
// schedule is a no-op success.
func (sm *ScheduleManager) CompleteSchedule(ctx context.Context, scheduleID, driverID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	completed := false
	err := sm.db.WithinTx(ctx, func(q Queries) error {
		sched, err := sm.authorize(ctx, q, scheduleID, driverID)
		if err != nil {
			return err
		}
		switch sched.Status {
		case model.ScheduleCompleted:
			return nil // double-tap
		case model.ScheduleScheduled:
			return E(KindInvalidTransition, "schedule %s was never started", scheduleID)
		}

		ok, err := q.UpdateScheduleStatus(ctx, scheduleID, model.ScheduleActive, model.ScheduleCompleted)
		if err != nil {
			return err
		}
		if !ok {
			fresh, err := q.Schedule(ctx, scheduleID)
			if err != nil {
				return err
			}
			if fresh != nil && fresh.Status == model.ScheduleCompleted {
				return nil
			}
			return E(KindInvalidTransition, "schedule %s can no longer be completed", scheduleID)
		}

		absent, err := q.AbsentRemainingWaiting(ctx, scheduleID)
		if err != nil {
			return err
		}
		if absent > 0 {
			log.Printf("schedule %s: finalized %d waiting trips to absent", scheduleID, absent)
		}

		// Completion always clears occupancy. A trip left onboard points
		// at a missed drop-off recording, so make it visible in the log.
		onboard, err := q.CountOnboard(ctx, sched.BusID)
		if err != nil {
			return err
		}
		if onboard > 0 {
			log.Printf("schedule %s completed with %d trips still onboard; forcing occupancy to zero", scheduleID, onboard)
		}
		if err := sm.occ.ForceZero(ctx, q, sched.BusID); err != nil {
			return err
		}
		completed = true
		return nil
	})
	if err != nil {
		return wrap(err, "complete schedule")
	}
	if completed {
		if sm.col != nil {
			sm.col.SchedulesCompleted.Inc()
		}
		log.Printf("schedule %s completed by driver %s", scheduleID, driverID)
	}
	return nil
}

// authorize loads the schedule and verifies the acting driver owns the
// bus linked to it.
func (sm *ScheduleManager) authorize(ctx context.Context, q Queries, scheduleID, driverID uuid.UUID) (*model.Schedule, error) {
	sched, err := q.Schedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, E(KindNotFound, "schedule %s not found", scheduleID)
	}
	bus, err := q.Bus(ctx, sched.BusID)
	if err != nil {
		return nil, err
	}
	if bus == nil {
		return nil, E(KindNotFound, "bus %s not found", sched.BusID)
	}
	if bus.DriverID != driverID {
		return nil, E(KindForbidden, "driver does not own bus %s", bus.ID)
	}
	return sched, nil
}
