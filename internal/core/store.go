package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/model"
)

// Queries is the set of storage operations the core runs inside one
// transaction. Lookup methods return (nil, nil) when the row is absent;
// conditional updates report whether the guarded write applied.
type Queries interface {
	Schedule(ctx context.Context, id uuid.UUID) (*model.Schedule, error)
	// UpdateScheduleStatus applies scheduled-lifecycle moves only when the
	// row still holds the expected prior status.
	UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to model.ScheduleStatus) (bool, error)

	Bus(ctx context.Context, id uuid.UUID) (*model.Bus, error)
	BusByDriver(ctx context.Context, driverID uuid.UUID) (*model.Bus, error)
	// BumpFixSequence atomically increments and returns the bus's location
	// sequence counter.
	BumpFixSequence(ctx context.Context, busID uuid.UUID) (int64, error)
	// UpdateBusPosition writes the live snapshot fields from a fix.
	UpdateBusPosition(ctx context.Context, busID uuid.UUID, fix *model.LocationFix) error
	SetBusOccupancy(ctx context.Context, busID uuid.UUID, n int) error
	CountOnboard(ctx context.Context, busID uuid.UUID) (int, error)
	Buses(ctx context.Context) ([]model.Bus, error)

	Trip(ctx context.Context, id uuid.UUID) (*model.Trip, error)
	TripsBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.Trip, error)
	// InsertTripsIgnoreConflicts batch-inserts trips, silently skipping
	// rows that would violate the (schedule_id, student_id) uniqueness
	// constraint. Returns the number of rows actually inserted.
	// All-or-nothing within the surrounding transaction.
	InsertTripsIgnoreConflicts(ctx context.Context, trips []model.Trip) (int64, error)
	// UpdateTripStatus is a compare-and-swap: the write applies only when
	// the row still holds the expected prior status.
	UpdateTripStatus(ctx context.Context, id uuid.UUID, from, to model.TripStatus, pickedAt, droppedAt *time.Time, notes string) (bool, error)
	// PromoteLegacyTrips upgrades leftover legacy scheduled-status rows to
	// waiting and returns how many rows changed.
	PromoteLegacyTrips(ctx context.Context, scheduleID uuid.UUID) (int64, error)
	// AbsentRemainingWaiting finalizes every still-waiting trip of the
	// schedule to absent and returns how many rows changed.
	AbsentRemainingWaiting(ctx context.Context, scheduleID uuid.UUID) (int64, error)

	InsertFix(ctx context.Context, fix *model.LocationFix) error

	// StudentsForBusRoute reads the external directory's assignments.
	StudentsForBusRoute(ctx context.Context, busID, routeID uuid.UUID) ([]model.Student, error)
}

// DB runs a function inside a single storage transaction. The callback's
// error rolls the transaction back.
type DB interface {
	WithinTx(ctx context.Context, fn func(q Queries) error) error
}

// Broadcaster receives a location event after it has been durably
// recorded. Delivery is best effort.
type Broadcaster interface {
	Publish(ev model.BusLocationEvent)
}
