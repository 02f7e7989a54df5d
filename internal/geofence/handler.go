package geofence

import (
	"errors"
	"time"

	"spotalert_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the coordinator's callback and bookkeeping endpoints.
type Handler struct {
	coordinator *Coordinator
	logger      *zap.Logger
}

func NewHandler(coordinator *Coordinator, logger *zap.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger}
}

// RegisterRoutes sets up the geofence routes. ingest middleware applies to
// the entry callback only.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, ingest ...gin.HandlerFunc) {
	router.POST("/entries", append(ingest, h.postEntry)...)
	router.GET("/status", h.getStatus)
	router.GET("/detections", h.getDetections)
	router.POST("/detections/:id", h.markDetected)
	router.DELETE("/detections/:id", h.resetDetection)
	router.DELETE("/detections", h.resetAll)
}

// RegionEntryRequest is the device's report of a geofence-entry callback.
type RegionEntryRequest struct {
	RegionID string `json:"region_id" binding:"required,max=128"`
}

// StatusResponse describes the coordinator state.
type StatusResponse struct {
	Disabled bool `json:"disabled"`
	Regions  int  `json:"regions"`
}

// DetectionResponse is the API shape of a detection record.
type DetectionResponse struct {
	TargetID       string    `json:"target_id"`
	LastDetectedAt time.Time `json:"last_detected_at"`
}

func (h *Handler) postEntry(c *gin.Context) {
	var req RegionEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Region entry: Invalid request body", zap.Error(err))
		common.RespondWithError(c, common.BindingAPIError(err))
		return
	}
	if err := h.coordinator.HandleRegionEntry(c.Request.Context(), req.RegionID); err != nil {
		if errors.Is(err, ErrNotRunning) {
			common.RespondWithError(c, common.ErrServiceUnavailable.WithDetails("Geofence coordinator is not running."))
			return
		}
		common.RespondWithError(c, err)
		return
	}
	common.RespondAccepted(c, "Region entry queued.", nil)
}

func (h *Handler) getStatus(c *gin.Context) {
	common.RespondOK(c, "Geofence status retrieved successfully.", StatusResponse{
		Disabled: h.coordinator.Disabled(),
		Regions:  len(h.coordinator.Regions()),
	})
}

func (h *Handler) getDetections(c *gin.Context) {
	records := h.coordinator.LastDetections()
	out := make([]DetectionResponse, 0, len(records))
	for id, at := range records {
		out = append(out, DetectionResponse{TargetID: id, LastDetectedAt: at})
	}
	common.RespondOK(c, "Detections retrieved successfully.", out)
}

func (h *Handler) markDetected(c *gin.Context) {
	h.coordinator.MarkDetected(c.Request.Context(), c.Param("id"))
	common.RespondNoContent(c)
}

func (h *Handler) resetDetection(c *gin.Context) {
	h.coordinator.ResetDetection(c.Request.Context(), c.Param("id"))
	common.RespondNoContent(c)
}

func (h *Handler) resetAll(c *gin.Context) {
	h.coordinator.ResetAll(c.Request.Context())
	common.RespondNoContent(c)
}
