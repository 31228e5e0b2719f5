package model

import (
	"time"

	"github.com/google/uuid"
)

type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	ScheduleActive    ScheduleStatus = "active"
	ScheduleCompleted ScheduleStatus = "completed"
)

type TripStatus string

const (
	TripWaiting TripStatus = "waiting"
	TripOnboard TripStatus = "onboard"
	TripDropped TripStatus = "dropped"
	TripAbsent  TripStatus = "absent"

	// TripScheduledLegacy appears only in rows written by older deployments;
	// provisioning promotes it to waiting.
	TripScheduledLegacy TripStatus = "scheduled"
)

// ValidTripStatus reports whether s is a status a caller may request.
// The legacy value is never accepted from the outside.
func ValidTripStatus(s TripStatus) bool {
	switch s {
	case TripWaiting, TripOnboard, TripDropped, TripAbsent:
		return true
	}
	return false
}

// tripTransitions is the full transition table. Terminal states map to nil.
var tripTransitions = map[TripStatus][]TripStatus{
	TripWaiting: {TripOnboard, TripAbsent},
	TripOnboard: {TripDropped, TripAbsent},
	TripDropped: nil,
	TripAbsent:  nil,
}

// CanTransition reports whether a trip may move from one status to the next.
func CanTransition(from, to TripStatus) bool {
	for _, s := range tripTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Schedule is one planned run of one bus on one route on one date.
// Created externally in scheduled state; the core only moves it forward.
type Schedule struct {
	ID        uuid.UUID      `json:"id"`
	RouteID   uuid.UUID      `json:"route_id"`
	BusID     uuid.UUID      `json:"bus_id"`
	Date      time.Time      `json:"date"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Status    ScheduleStatus `json:"status"`
}

// Trip is one student's ride record for one schedule. At most one trip
// exists per (schedule, student); the store enforces that uniqueness.
type Trip struct {
	ID         uuid.UUID  `json:"id"`
	ScheduleID uuid.UUID  `json:"schedule_id"`
	StudentID  uuid.UUID  `json:"student_id"`
	Status     TripStatus `json:"status"`
	PickedAt   *time.Time `json:"picked_at,omitempty"`
	DroppedAt  *time.Time `json:"dropped_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Bus carries the live snapshot for one vehicle. StudentsOnboard is
// derived from trip state and never mutated independently.
type Bus struct {
	ID              uuid.UUID  `json:"id"`
	Plate           string     `json:"plate"`
	DriverID        uuid.UUID  `json:"driver_id"`
	Lat             float64    `json:"lat"`
	Lng             float64    `json:"lng"`
	SpeedKph        float64    `json:"speed"`
	HeadingDeg      float64    `json:"heading"`
	AccuracyM       float64    `json:"accuracy"`
	LastUpdate      *time.Time `json:"last_update,omitempty"`
	StudentsOnboard int        `json:"students_onboard"`
	LastFixSequence int64      `json:"-"`
}

// LocationFix is an append-only GPS sample. Sequence increases
// monotonically per bus; fixes are immutable once written.
type LocationFix struct {
	ID         int64     `json:"id"`
	BusID      uuid.UUID `json:"bus_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKph   float64   `json:"speed"`
	HeadingDeg float64   `json:"heading"`
	AccuracyM  float64   `json:"accuracy"`
	Timestamp  time.Time `json:"timestamp"`
	Sequence   int64     `json:"sequence"`
}

// Student assignments are owned by the external directory; read-only here.
type Student struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	BusID   uuid.UUID `json:"bus_id"`
	RouteID uuid.UUID `json:"route_id"`
}

// BusLocationEvent is the busLocation payload delivered to realtime
// subscribers and NATS consumers.
type BusLocationEvent struct {
	BusID           uuid.UUID `json:"bus_id"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	SpeedKph        float64   `json:"speed"`
	HeadingDeg      float64   `json:"heading"`
	AccuracyM       float64   `json:"accuracy"`
	StudentsOnboard int       `json:"students_onboard"`
	Timestamp       time.Time `json:"timestamp"`
	Sequence        int64     `json:"sequence"`
}
