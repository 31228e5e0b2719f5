package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"schoolbus-tracker/internal/model"
)

// recordingBroadcaster captures published events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []model.BusLocationEvent
}

func (r *recordingBroadcaster) Publish(ev model.BusLocationEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingBroadcaster) all() []model.BusLocationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.BusLocationEvent(nil), r.events...)
}

func TestReportLocationPersistsAndBroadcasts(t *testing.T) {
	f := newFixture(0)
	bc := &recordingBroadcaster{}
	li := NewLocationIngest(f.db, bc, time.Second, nil)

	fix, err := li.ReportLocation(context.Background(), f.driverID, 10.78, 106.70, 32.5, 180, 5)
	if err != nil {
		t.Fatalf("ReportLocation: %v", err)
	}
	if fix.Sequence != 1 {
		t.Errorf("first fix sequence = %d, want 1", fix.Sequence)
	}

	bus := f.db.bus(f.busID)
	if bus.Lat != 10.78 || bus.Lng != 106.70 {
		t.Errorf("bus snapshot not updated: lat=%v lng=%v", bus.Lat, bus.Lng)
	}
	if bus.LastUpdate == nil {
		t.Error("bus last_update not stamped")
	}

	events := bc.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(events))
	}
	if events[0].BusID != f.busID || events[0].Sequence != 1 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestReportLocationSequenceIncreases(t *testing.T) {
	f := newFixture(0)
	bc := &recordingBroadcaster{}
	li := NewLocationIngest(f.db, bc, time.Second, nil)

	for i := 1; i <= 3; i++ {
		fix, err := li.ReportLocation(context.Background(), f.driverID, 10.0, 106.0, 0, 0, 0)
		if err != nil {
			t.Fatalf("ReportLocation %d: %v", i, err)
		}
		if fix.Sequence != int64(i) {
			t.Errorf("fix %d sequence = %d", i, fix.Sequence)
		}
	}
	if len(f.db.fixes) != 3 {
		t.Errorf("expected 3 fixes appended, got %d", len(f.db.fixes))
	}
}

func TestReportLocationInvalidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
	}{
		{"lat too high", 200, 106.7},
		{"lat too low", -90.01, 0},
		{"lng too high", 10, 180.5},
		{"lng too low", 10, -181},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			bc := &recordingBroadcaster{}
			li := NewLocationIngest(f.db, bc, time.Second, nil)

			before := f.db.bus(f.busID)
			_, err := li.ReportLocation(context.Background(), f.driverID, tt.lat, tt.lng, 0, 0, 0)
			if !IsKind(err, KindInvalidLocation) {
				t.Fatalf("expected invalid_location, got %v", err)
			}
			after := f.db.bus(f.busID)
			if before != after {
				t.Errorf("bus row changed on invalid fix: %+v vs %+v", before, after)
			}
			if len(f.db.fixes) != 0 {
				t.Errorf("fix appended on invalid coordinates")
			}
			if len(bc.all()) != 0 {
				t.Errorf("broadcast emitted on invalid coordinates")
			}
		})
	}
}

func TestReportLocationBoundaryCoordinatesAccepted(t *testing.T) {
	f := newFixture(0)
	li := NewLocationIngest(f.db, &recordingBroadcaster{}, time.Second, nil)
	if _, err := li.ReportLocation(context.Background(), f.driverID, 90, -180, 0, 0, 0); err != nil {
		t.Fatalf("boundary coordinates rejected: %v", err)
	}
}

func TestReportLocationNoActiveBus(t *testing.T) {
	f := newFixture(0)
	li := NewLocationIngest(f.db, &recordingBroadcaster{}, time.Second, nil)
	_, err := li.ReportLocation(context.Background(), uuid.New(), 10, 106, 0, 0, 0)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestReportLocationCarriesOccupancy(t *testing.T) {
	f, tsm, trips := startedFixture(t, 1)
	if _, err := tsm.UpdateStatus(context.Background(), trips[0].ID, f.driverID, model.TripOnboard, ""); err != nil {
		t.Fatalf("onboard: %v", err)
	}

	bc := &recordingBroadcaster{}
	li := NewLocationIngest(f.db, bc, time.Second, nil)
	if _, err := li.ReportLocation(context.Background(), f.driverID, 10, 106, 0, 0, 0); err != nil {
		t.Fatalf("ReportLocation: %v", err)
	}
	events := bc.all()
	if len(events) != 1 || events[0].StudentsOnboard != 1 {
		t.Fatalf("expected event with students_onboard=1, got %+v", events)
	}
}
