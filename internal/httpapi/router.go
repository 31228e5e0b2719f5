package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"schoolbus-tracker/internal/model"
	"schoolbus-tracker/internal/realtime"
)

// Service interfaces mirror the core components one-to-one; the handlers
// stay a thin mapping layer.

type ScheduleService interface {
	StartSchedule(ctx context.Context, scheduleID, driverID uuid.UUID) error
	CompleteSchedule(ctx context.Context, scheduleID, driverID uuid.UUID) error
}

type TripService interface {
	UpdateStatus(ctx context.Context, tripID, driverID uuid.UUID, next model.TripStatus, notes string) (*model.Trip, error)
}

type LocationService interface {
	ReportLocation(ctx context.Context, driverID uuid.UUID, lat, lng, speed, heading, accuracy float64) (*model.LocationFix, error)
}

// FleetReader serves the snapshot pull that replaces realtime replay.
type FleetReader interface {
	Buses(ctx context.Context) ([]model.Bus, error)
	BusByID(ctx context.Context, id uuid.UUID) (*model.Bus, error)
}

type Server struct {
	Schedules ScheduleService
	Trips     TripService
	Locations LocationService
	Fleet     FleetReader
	Hub       *realtime.Hub
}

func NewRouter(s *Server) *gin.Engine {
	registerValidations()

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", s.handleWS)

	api := r.Group("/api/v1", identity())
	{
		api.POST("/location", s.handleReportLocation)
		api.POST("/schedules/:id/start", s.handleStartSchedule)
		api.POST("/schedules/:id/complete", s.handleCompleteSchedule)
		api.PATCH("/trips/:id/status", s.handleUpdateTripStatus)
		api.GET("/buses", s.handleListBuses)
		api.GET("/buses/:id", s.handleGetBus)
	}

	return r
}

// registerValidations adds domain rules to gin's binding engine.
func registerValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("heading", func(fl validator.FieldLevel) bool {
		h := fl.Field().Float()
		return h >= 0 && h < 360
	})
}
