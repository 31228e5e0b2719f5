package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"schoolbus-tracker/internal/core"
	"schoolbus-tracker/internal/model"
)

type locationRequest struct {
	// Range checks on lat/lng live in the core so an out-of-range fix is
	// rejected with the invalid_location kind, not a generic bind error.
	Lat      *float64 `json:"lat" binding:"required"`
	Lng      *float64 `json:"lng" binding:"required"`
	Speed    float64  `json:"speed" binding:"gte=0"`
	Heading  float64  `json:"heading" binding:"heading"`
	Accuracy float64  `json:"accuracy" binding:"gte=0"`
}

type tripStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=waiting onboard dropped absent"`
	Notes  string `json:"notes"`
}

func (s *Server) handleReportLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid location payload")
		return
	}
	fix, err := s.Locations.ReportLocation(c.Request.Context(), driverID(c),
		*req.Lat, *req.Lng, req.Speed, req.Heading, req.Accuracy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fix)
}

func (s *Server) handleStartSchedule(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.Schedules.StartSchedule(c.Request.Context(), id, driverID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": model.ScheduleActive})
}

func (s *Server) handleCompleteSchedule(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.Schedules.CompleteSchedule(c.Request.Context(), id, driverID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": model.ScheduleCompleted})
}

func (s *Server) handleUpdateTripStatus(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req tripStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid status payload")
		return
	}
	trip, err := s.Trips.UpdateStatus(c.Request.Context(), id, driverID(c),
		model.TripStatus(req.Status), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

func (s *Server) handleListBuses(c *gin.Context) {
	buses, err := s.Fleet.Buses(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if buses == nil {
		buses = []model.Bus{}
	}
	c.JSON(http.StatusOK, buses)
}

func (s *Server) handleGetBus(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	bus, err := s.Fleet.BusByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if bus == nil {
		writeError(c, core.E(core.KindNotFound, "bus %s not found", id))
		return
	}
	c.JSON(http.StatusOK, bus)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "malformed id")
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{"kind": "bad_request", "message": msg},
	})
}

// writeError maps core error kinds to transport status codes. Internal
// detail never crosses the boundary.
func writeError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	msg := "internal error"
	var ce *core.Error
	if kind != core.KindInternal && errors.As(err, &ce) {
		msg = ce.Message
	}
	c.JSON(statusFor(kind), gin.H{
		"error": gin.H{"kind": kind, "message": msg},
	})
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindInvalidLocation:
		return http.StatusBadRequest
	case core.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case core.KindConflict:
		return http.StatusConflict
	case core.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
