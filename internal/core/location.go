package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
)

// LocationIngest accepts GPS fixes from driver devices. A fix is
// validated before any store access, persisted together with the bus
// snapshot update in one transaction, and only then handed to the
// broadcaster. The core never retries on timeout; the device decides.
type LocationIngest struct {
	db      DB
	bc      Broadcaster
	timeout time.Duration
	col     *metrics.Collector
}

func NewLocationIngest(db DB, bc Broadcaster, timeout time.Duration, col *metrics.Collector) *LocationIngest {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &LocationIngest{db: db, bc: bc, timeout: timeout, col: col}
}

// ReportLocation records a fix for the acting driver's active bus.
// Coordinates outside the valid ranges fail with no mutation and no
// broadcast.
func (li *LocationIngest) ReportLocation(ctx context.Context, driverID uuid.UUID, lat, lng, speed, heading, accuracy float64) (*model.LocationFix, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		if li.col != nil {
			li.col.FixesRejected.Inc()
		}
		return nil, E(KindInvalidLocation, "coordinates out of range: lat=%v lng=%v", lat, lng)
	}

	ctx, cancel := context.WithTimeout(ctx, li.timeout)
	defer cancel()

	start := time.Now()
	var (
		fix     *model.LocationFix
		onboard int
	)
	err := li.db.WithinTx(ctx, func(q Queries) error {
		bus, err := q.BusByDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if bus == nil {
			return E(KindNotFound, "driver %s has no active bus assignment", driverID)
		}

		seq, err := q.BumpFixSequence(ctx, bus.ID)
		if err != nil {
			return err
		}
		fix = &model.LocationFix{
			BusID:      bus.ID,
			Lat:        lat,
			Lng:        lng,
			SpeedKph:   speed,
			HeadingDeg: heading,
			AccuracyM:  accuracy,
			Timestamp:  time.Now().UTC(),
			Sequence:   seq,
		}
		if err := q.UpdateBusPosition(ctx, bus.ID, fix); err != nil {
			return err
		}
		if err := q.InsertFix(ctx, fix); err != nil {
			return err
		}
		onboard = bus.StudentsOnboard
		return nil
	})
	if err != nil {
		return nil, wrap(err, "report location")
	}
	if li.col != nil {
		li.col.FixesIngested.Inc()
		li.col.IngestDuration.Observe(time.Since(start).Seconds())
	}

	li.bc.Publish(model.BusLocationEvent{
		BusID:           fix.BusID,
		Lat:             fix.Lat,
		Lng:             fix.Lng,
		SpeedKph:        fix.SpeedKph,
		HeadingDeg:      fix.HeadingDeg,
		AccuracyM:       fix.AccuracyM,
		StudentsOnboard: onboard,
		Timestamp:       fix.Timestamp,
		Sequence:        fix.Sequence,
	})
	return fix, nil
}
