package tracker

import (
	"errors"
	"io"
	"net/http"
	"time"

	"spotalert_backend/internal/common"
	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/target"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the foreground tracker over HTTP.
type Handler struct {
	tracker *Tracker
	targets Targets
	logger  *zap.Logger
}

func NewHandler(tracker *Tracker, targets Targets, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, targets: targets, logger: logger}
}

// RegisterRoutes sets up the location ingest and tracker routes under v1.
// ingest middleware applies to the location endpoint only.
func (h *Handler) RegisterRoutes(v1 *gin.RouterGroup, ingest ...gin.HandlerFunc) {
	v1.POST("/locations", append(ingest, h.postLocations)...)

	group := v1.Group("/tracker")
	group.GET("/state", h.getState)
	group.POST("/select/:id", h.selectTarget)
	group.POST("/deselect", h.deselect)
	group.GET("/events", h.streamEvents)
}

// SampleRequest is one location sample reported by the device.
type SampleRequest struct {
	Lat       *float64   `json:"lat" binding:"required,latitude"`
	Lon       *float64   `json:"lon" binding:"required,longitude"`
	Accuracy  float64    `json:"accuracy" binding:"gte=0"`
	Timestamp *time.Time `json:"timestamp"`
}

// PostLocationsRequest carries one or more samples in device order.
type PostLocationsRequest struct {
	Samples []SampleRequest `json:"samples" binding:"required,min=1,max=100,dive"`
}

func (r SampleRequest) toSample() Sample {
	s := Sample{Coordinate: geo.Coordinate{Lat: *r.Lat, Lon: *r.Lon}, Accuracy: r.Accuracy}
	if r.Timestamp != nil {
		s.Timestamp = *r.Timestamp
	}
	return s
}

// StateResponse is the API shape of the tracker state.
type StateResponse struct {
	Inside     bool                   `json:"inside"`
	Target     *target.TargetResponse `json:"target,omitempty"`
	LastSample *SampleResponse        `json:"last_sample,omitempty"`
}

// SampleResponse is the API shape of a sample.
type SampleResponse struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) postLocations(c *gin.Context) {
	var req PostLocationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Post locations: Invalid request body", zap.Error(err))
		common.RespondWithError(c, common.BindingAPIError(err))
		return
	}
	for _, sr := range req.Samples {
		if err := h.tracker.Submit(c.Request.Context(), sr.toSample()); err != nil {
			if errors.Is(err, ErrStopped) {
				common.RespondWithError(c, common.ErrServiceUnavailable.WithDetails("Tracker is not running."))
				return
			}
			common.RespondWithError(c, err)
			return
		}
	}
	common.RespondAccepted(c, "Samples accepted.", gin.H{"accepted": len(req.Samples)})
}

func (h *Handler) getState(c *gin.Context) {
	st, last := h.tracker.State()
	resp := StateResponse{Inside: st.IsInside()}
	if t, ok := st.Target(); ok {
		tr := target.ToTargetResponse(t)
		resp.Target = &tr
	}
	if last != nil {
		resp.LastSample = &SampleResponse{
			Lat:       last.Coordinate.Lat,
			Lon:       last.Coordinate.Lon,
			Accuracy:  last.Accuracy,
			Timestamp: last.Timestamp,
		}
	}
	common.RespondOK(c, "Tracker state retrieved successfully.", resp)
}

func (h *Handler) selectTarget(c *gin.Context) {
	t, ok := h.targets.Snapshot().Get(c.Param("id"))
	if !ok {
		common.RespondWithError(c, common.ErrNotFound.WithDetails("Target not found."))
		return
	}
	events, err := h.tracker.ForceSelect(c.Request.Context(), t)
	if err != nil {
		h.respondCommandError(c, err)
		return
	}
	common.RespondOK(c, "Target selected.", toEventResponses(events))
}

func (h *Handler) deselect(c *gin.Context) {
	events, err := h.tracker.ForceDeselect(c.Request.Context())
	if err != nil {
		h.respondCommandError(c, err)
		return
	}
	common.RespondOK(c, "Target deselected.", toEventResponses(events))
}

func (h *Handler) respondCommandError(c *gin.Context, err error) {
	if errors.Is(err, ErrStopped) {
		common.RespondWithError(c, common.ErrServiceUnavailable.WithDetails("Tracker is not running."))
		return
	}
	common.RespondWithError(c, err)
}

func (h *Handler) streamEvents(c *gin.Context) {
	events, cancel := h.tracker.Subscribe(16)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ToEventResponse(ev))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func toEventResponses(events []Event) []EventResponse {
	out := make([]EventResponse, len(events))
	for i, e := range events {
		out[i] = ToEventResponse(e)
	}
	return out
}
