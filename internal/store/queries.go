package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/model"
)

// queries implements core.Queries on top of one open transaction.
type queries struct {
	tx *sql.Tx
}

func (q *queries) Schedule(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	row := q.tx.QueryRowContext(ctx, `
SELECT id, route_id, bus_id, date, start_time, end_time, status
FROM schedules WHERE id = $1`, id)
	var s model.Schedule
	err := row.Scan(&s.ID, &s.RouteID, &s.BusID, &s.Date, &s.StartTime, &s.EndTime, &s.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return &s, nil
}

func (q *queries) UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to model.ScheduleStatus) (bool, error) {
	res, err := q.tx.ExecContext(ctx, `
UPDATE schedules SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update schedule status: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const busColumns = `id, plate, driver_id, lat, lng, speed_kph, heading_deg, accuracy_m,
	last_update, students_onboard, last_fix_sequence`

func (q *queries) scanBus(row *sql.Row) (*model.Bus, error) {
	var b model.Bus
	var lastUpdate sql.NullTime
	err := row.Scan(&b.ID, &b.Plate, &b.DriverID, &b.Lat, &b.Lng, &b.SpeedKph,
		&b.HeadingDeg, &b.AccuracyM, &lastUpdate, &b.StudentsOnboard, &b.LastFixSequence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bus: %w", err)
	}
	if lastUpdate.Valid {
		t := lastUpdate.Time
		b.LastUpdate = &t
	}
	return &b, nil
}

func (q *queries) Bus(ctx context.Context, id uuid.UUID) (*model.Bus, error) {
	return q.scanBus(q.tx.QueryRowContext(ctx,
		`SELECT `+busColumns+` FROM buses WHERE id = $1`, id))
}

func (q *queries) BusByDriver(ctx context.Context, driverID uuid.UUID) (*model.Bus, error) {
	return q.scanBus(q.tx.QueryRowContext(ctx,
		`SELECT `+busColumns+` FROM buses WHERE driver_id = $1`, driverID))
}

func (q *queries) Buses(ctx context.Context) ([]model.Bus, error) {
	rows, err := q.tx.QueryContext(ctx, `SELECT `+busColumns+` FROM buses ORDER BY plate`)
	if err != nil {
		return nil, fmt.Errorf("query buses: %w", err)
	}
	defer rows.Close()
	var buses []model.Bus
	for rows.Next() {
		var b model.Bus
		var lastUpdate sql.NullTime
		if err := rows.Scan(&b.ID, &b.Plate, &b.DriverID, &b.Lat, &b.Lng, &b.SpeedKph,
			&b.HeadingDeg, &b.AccuracyM, &lastUpdate, &b.StudentsOnboard, &b.LastFixSequence); err != nil {
			return nil, err
		}
		if lastUpdate.Valid {
			t := lastUpdate.Time
			b.LastUpdate = &t
		}
		buses = append(buses, b)
	}
	return buses, rows.Err()
}

func (q *queries) BumpFixSequence(ctx context.Context, busID uuid.UUID) (int64, error) {
	var seq int64
	err := q.tx.QueryRowContext(ctx, `
UPDATE buses SET last_fix_sequence = last_fix_sequence + 1
WHERE id = $1
RETURNING last_fix_sequence`, busID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("bump fix sequence: %w", err)
	}
	return seq, nil
}

func (q *queries) UpdateBusPosition(ctx context.Context, busID uuid.UUID, fix *model.LocationFix) error {
	_, err := q.tx.ExecContext(ctx, `
UPDATE buses
SET lat = $2, lng = $3, speed_kph = $4, heading_deg = $5, accuracy_m = $6, last_update = $7
WHERE id = $1`,
		busID, fix.Lat, fix.Lng, fix.SpeedKph, fix.HeadingDeg, fix.AccuracyM, fix.Timestamp)
	if err != nil {
		return fmt.Errorf("update bus position: %w", err)
	}
	return nil
}

func (q *queries) SetBusOccupancy(ctx context.Context, busID uuid.UUID, n int) error {
	_, err := q.tx.ExecContext(ctx,
		`UPDATE buses SET students_onboard = $2 WHERE id = $1`, busID, n)
	if err != nil {
		return fmt.Errorf("set bus occupancy: %w", err)
	}
	return nil
}

func (q *queries) CountOnboard(ctx context.Context, busID uuid.UUID) (int, error) {
	var n int
	err := q.tx.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM trips t
JOIN schedules s ON s.id = t.schedule_id
WHERE s.bus_id = $1 AND t.status = 'onboard'`, busID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count onboard: %w", err)
	}
	return n, nil
}

const tripColumns = `id, schedule_id, student_id, status, picked_at, dropped_at, notes,
	created_at, updated_at`

func scanTrip(scan func(dest ...any) error) (*model.Trip, error) {
	var t model.Trip
	var pickedAt, droppedAt sql.NullTime
	err := scan(&t.ID, &t.ScheduleID, &t.StudentID, &t.Status, &pickedAt, &droppedAt,
		&t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pickedAt.Valid {
		ts := pickedAt.Time
		t.PickedAt = &ts
	}
	if droppedAt.Valid {
		ts := droppedAt.Time
		t.DroppedAt = &ts
	}
	return &t, nil
}

func (q *queries) Trip(ctx context.Context, id uuid.UUID) (*model.Trip, error) {
	row := q.tx.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := scanTrip(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query trip: %w", err)
	}
	return t, nil
}

func (q *queries) TripsBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.Trip, error) {
	rows, err := q.tx.QueryContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE schedule_id = $1 ORDER BY created_at, id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()
	var trips []model.Trip
	for rows.Next() {
		t, err := scanTrip(rows.Scan)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

func (q *queries) InsertTripsIgnoreConflicts(ctx context.Context, trips []model.Trip) (int64, error) {
	if len(trips) == 0 {
		return 0, nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO trips (id, schedule_id, student_id, status, notes, created_at, updated_at) VALUES `)
	args := make([]any, 0, len(trips)*7)
	for i, t := range trips {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, t.ID, t.ScheduleID, t.StudentID, t.Status, t.Notes, t.CreatedAt, t.UpdatedAt)
	}
	sb.WriteString(` ON CONFLICT (schedule_id, student_id) DO NOTHING`)
	res, err := q.tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert trips: %w", err)
	}
	return res.RowsAffected()
}

func (q *queries) UpdateTripStatus(ctx context.Context, id uuid.UUID, from, to model.TripStatus, pickedAt, droppedAt *time.Time, notes string) (bool, error) {
	res, err := q.tx.ExecContext(ctx, `
UPDATE trips
SET status = $3,
    picked_at = COALESCE($4, picked_at),
    dropped_at = COALESCE($5, dropped_at),
    notes = CASE WHEN $6 <> '' THEN $6 ELSE notes END,
    updated_at = now()
WHERE id = $1 AND status = $2`,
		id, from, to, pickedAt, droppedAt, notes)
	if err != nil {
		return false, fmt.Errorf("update trip status: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *queries) PromoteLegacyTrips(ctx context.Context, scheduleID uuid.UUID) (int64, error) {
	res, err := q.tx.ExecContext(ctx, `
UPDATE trips SET status = 'waiting', updated_at = now()
WHERE schedule_id = $1 AND status = 'scheduled'`, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("promote legacy trips: %w", err)
	}
	return res.RowsAffected()
}

func (q *queries) AbsentRemainingWaiting(ctx context.Context, scheduleID uuid.UUID) (int64, error) {
	res, err := q.tx.ExecContext(ctx, `
UPDATE trips SET status = 'absent', updated_at = now()
WHERE schedule_id = $1 AND status = 'waiting'`, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("finalize waiting trips: %w", err)
	}
	return res.RowsAffected()
}

func (q *queries) InsertFix(ctx context.Context, fix *model.LocationFix) error {
	err := q.tx.QueryRowContext(ctx, `
INSERT INTO location_fixes (bus_id, lat, lng, speed_kph, heading_deg, accuracy_m, ts, sequence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		fix.BusID, fix.Lat, fix.Lng, fix.SpeedKph, fix.HeadingDeg, fix.AccuracyM,
		fix.Timestamp, fix.Sequence).Scan(&fix.ID)
	if err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}
	return nil
}

func (q *queries) StudentsForBusRoute(ctx context.Context, busID, routeID uuid.UUID) ([]model.Student, error) {
	rows, err := q.tx.QueryContext(ctx, `
SELECT id, name, bus_id, route_id
FROM students
WHERE bus_id = $1 AND route_id = $2
ORDER BY name`, busID, routeID)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.BusID, &s.RouteID); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}
