package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/model"
)

// memDB is an in-memory DB implementation for tests. Transactions are
// serialized by a mutex and rolled back by restoring a snapshot, which
// matches the serializability the core relies on from Postgres.
type memDB struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]model.Schedule
	trips     map[uuid.UUID]model.Trip
	buses     map[uuid.UUID]model.Bus
	students  []model.Student
	fixes     []model.LocationFix
	nextFixID int64
}

func newMemDB() *memDB {
	return &memDB{
		schedules: make(map[uuid.UUID]model.Schedule),
		trips:     make(map[uuid.UUID]model.Trip),
		buses:     make(map[uuid.UUID]model.Bus),
	}
}

func (m *memDB) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(&memQueries{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	schedules map[uuid.UUID]model.Schedule
	trips     map[uuid.UUID]model.Trip
	buses     map[uuid.UUID]model.Bus
	fixes     []model.LocationFix
	nextFixID int64
}

func (m *memDB) snapshot() memSnapshot {
	s := memSnapshot{
		schedules: make(map[uuid.UUID]model.Schedule, len(m.schedules)),
		trips:     make(map[uuid.UUID]model.Trip, len(m.trips)),
		buses:     make(map[uuid.UUID]model.Bus, len(m.buses)),
		fixes:     append([]model.LocationFix(nil), m.fixes...),
		nextFixID: m.nextFixID,
	}
	for k, v := range m.schedules {
		s.schedules[k] = v
	}
	for k, v := range m.trips {
		s.trips[k] = v
	}
	for k, v := range m.buses {
		s.buses[k] = v
	}
	return s
}

func (m *memDB) restore(s memSnapshot) {
	m.schedules = s.schedules
	m.trips = s.trips
	m.buses = s.buses
	m.fixes = s.fixes
	m.nextFixID = s.nextFixID
}

// bus returns a copy outside any transaction, for assertions.
func (m *memDB) bus(id uuid.UUID) model.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buses[id]
}

func (m *memDB) trip(id uuid.UUID) model.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trips[id]
}

func (m *memDB) onboardCount(busID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countOnboardLocked(busID)
}

func (m *memDB) countOnboardLocked(busID uuid.UUID) int {
	n := 0
	for _, t := range m.trips {
		if t.Status != model.TripOnboard {
			continue
		}
		if s, ok := m.schedules[t.ScheduleID]; ok && s.BusID == busID {
			n++
		}
	}
	return n
}

type memQueries struct {
	m *memDB
}

func (q *memQueries) Schedule(_ context.Context, id uuid.UUID) (*model.Schedule, error) {
	if s, ok := q.m.schedules[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (q *memQueries) UpdateScheduleStatus(_ context.Context, id uuid.UUID, from, to model.ScheduleStatus) (bool, error) {
	s, ok := q.m.schedules[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	q.m.schedules[id] = s
	return true, nil
}

func (q *memQueries) Bus(_ context.Context, id uuid.UUID) (*model.Bus, error) {
	if b, ok := q.m.buses[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (q *memQueries) BusByDriver(_ context.Context, driverID uuid.UUID) (*model.Bus, error) {
	for _, b := range q.m.buses {
		if b.DriverID == driverID {
			bus := b
			return &bus, nil
		}
	}
	return nil, nil
}

func (q *memQueries) Buses(_ context.Context) ([]model.Bus, error) {
	out := make([]model.Bus, 0, len(q.m.buses))
	for _, b := range q.m.buses {
		out = append(out, b)
	}
	return out, nil
}

func (q *memQueries) BumpFixSequence(_ context.Context, busID uuid.UUID) (int64, error) {
	b := q.m.buses[busID]
	b.LastFixSequence++
	q.m.buses[busID] = b
	return b.LastFixSequence, nil
}

func (q *memQueries) UpdateBusPosition(_ context.Context, busID uuid.UUID, fix *model.LocationFix) error {
	b := q.m.buses[busID]
	b.Lat, b.Lng = fix.Lat, fix.Lng
	b.SpeedKph, b.HeadingDeg, b.AccuracyM = fix.SpeedKph, fix.HeadingDeg, fix.AccuracyM
	ts := fix.Timestamp
	b.LastUpdate = &ts
	q.m.buses[busID] = b
	return nil
}

func (q *memQueries) SetBusOccupancy(_ context.Context, busID uuid.UUID, n int) error {
	b := q.m.buses[busID]
	b.StudentsOnboard = n
	q.m.buses[busID] = b
	return nil
}

func (q *memQueries) CountOnboard(_ context.Context, busID uuid.UUID) (int, error) {
	return q.m.countOnboardLocked(busID), nil
}

func (q *memQueries) Trip(_ context.Context, id uuid.UUID) (*model.Trip, error) {
	if t, ok := q.m.trips[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (q *memQueries) TripsBySchedule(_ context.Context, scheduleID uuid.UUID) ([]model.Trip, error) {
	var out []model.Trip
	for _, t := range q.m.trips {
		if t.ScheduleID == scheduleID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (q *memQueries) InsertTripsIgnoreConflicts(_ context.Context, trips []model.Trip) (int64, error) {
	var inserted int64
	for _, t := range trips {
		if q.hasTrip(t.ScheduleID, t.StudentID) {
			continue
		}
		q.m.trips[t.ID] = t
		inserted++
	}
	return inserted, nil
}

func (q *memQueries) hasTrip(scheduleID, studentID uuid.UUID) bool {
	for _, t := range q.m.trips {
		if t.ScheduleID == scheduleID && t.StudentID == studentID {
			return true
		}
	}
	return false
}

func (q *memQueries) UpdateTripStatus(_ context.Context, id uuid.UUID, from, to model.TripStatus, pickedAt, droppedAt *time.Time, notes string) (bool, error) {
	t, ok := q.m.trips[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if pickedAt != nil {
		t.PickedAt = pickedAt
	}
	if droppedAt != nil {
		t.DroppedAt = droppedAt
	}
	if notes != "" {
		t.Notes = notes
	}
	t.UpdatedAt = time.Now().UTC()
	q.m.trips[id] = t
	return true, nil
}

func (q *memQueries) PromoteLegacyTrips(_ context.Context, scheduleID uuid.UUID) (int64, error) {
	var n int64
	for id, t := range q.m.trips {
		if t.ScheduleID == scheduleID && t.Status == model.TripScheduledLegacy {
			t.Status = model.TripWaiting
			q.m.trips[id] = t
			n++
		}
	}
	return n, nil
}

func (q *memQueries) AbsentRemainingWaiting(_ context.Context, scheduleID uuid.UUID) (int64, error) {
	var n int64
	for id, t := range q.m.trips {
		if t.ScheduleID == scheduleID && t.Status == model.TripWaiting {
			t.Status = model.TripAbsent
			q.m.trips[id] = t
			n++
		}
	}
	return n, nil
}

func (q *memQueries) InsertFix(_ context.Context, fix *model.LocationFix) error {
	q.m.nextFixID++
	fix.ID = q.m.nextFixID
	q.m.fixes = append(q.m.fixes, *fix)
	return nil
}

func (q *memQueries) StudentsForBusRoute(_ context.Context, busID, routeID uuid.UUID) ([]model.Student, error) {
	var out []model.Student
	for _, s := range q.m.students {
		if s.BusID == busID && s.RouteID == routeID {
			out = append(out, s)
		}
	}
	return out, nil
}

// fixture helpers

type fixture struct {
	db       *memDB
	busID    uuid.UUID
	driverID uuid.UUID
	routeID  uuid.UUID
	schedID  uuid.UUID
}

// newFixture seeds one bus with a driver, one scheduled run and n
// assigned students.
func newFixture(nStudents int) *fixture {
	db := newMemDB()
	f := &fixture{
		db:       db,
		busID:    uuid.New(),
		driverID: uuid.New(),
		routeID:  uuid.New(),
		schedID:  uuid.New(),
	}
	db.buses[f.busID] = model.Bus{ID: f.busID, Plate: "B-100", DriverID: f.driverID}
	db.schedules[f.schedID] = model.Schedule{
		ID:      f.schedID,
		RouteID: f.routeID,
		BusID:   f.busID,
		Date:    time.Now().UTC().Truncate(24 * time.Hour),
		Status:  model.ScheduleScheduled,
	}
	for i := 0; i < nStudents; i++ {
		db.students = append(db.students, model.Student{
			ID:      uuid.New(),
			Name:    "student",
			BusID:   f.busID,
			RouteID: f.routeID,
		})
	}
	return f
}

// checkOccupancy asserts the derived-counter invariant for the bus.
func (f *fixture) checkOccupancy(t interface {
	Helper()
	Errorf(format string, args ...any)
}) {
	t.Helper()
	got := f.db.bus(f.busID).StudentsOnboard
	want := f.db.onboardCount(f.busID)
	if got != want {
		t.Errorf("occupancy invariant broken: students_onboard=%d, onboard trips=%d", got, want)
	}
}
