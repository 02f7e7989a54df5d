package device

import (
	"errors"
	"time"

	"spotalert_backend/internal/common"
	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/geofence"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the device side of region monitoring and fix requests.
type Handler struct {
	regions   *RegionBook
	fixes     *FixBroker
	onGranted func()
	onDenied  func()
	logger    *zap.Logger
}

// NewHandler creates the device handler. onGranted and onDenied run whenever
// the device reports that location permission became granted or denied.
func NewHandler(regions *RegionBook, fixes *FixBroker, onGranted, onDenied func(), logger *zap.Logger) *Handler {
	return &Handler{regions: regions, fixes: fixes, onGranted: onGranted, onDenied: onDenied, logger: logger}
}

// RegisterRoutes sets up the device routes under the geofence group.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, ingest ...gin.HandlerFunc) {
	router.GET("/regions", h.getRegions)
	router.POST("/permission", h.postPermission)
	router.GET("/fixes/pending", h.getPendingFix)
	router.POST("/fixes", append(ingest, h.postFix)...)
}

// RegionsResponse is the API shape of the registered regions.
type RegionsResponse struct {
	Version    uint64            `json:"version"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Permission PermissionStatus  `json:"permission"`
	Regions    []geofence.Region `json:"regions"`
}

// PermissionRequest reports the device's location permission.
type PermissionRequest struct {
	Granted *bool `json:"granted" binding:"required"`
}

// FixRequest is the device's answer to a fix request.
type FixRequest struct {
	RequestID string     `json:"request_id" binding:"omitempty,uuid"`
	Lat       *float64   `json:"lat" binding:"required,latitude"`
	Lon       *float64   `json:"lon" binding:"required,longitude"`
	Accuracy  float64    `json:"accuracy" binding:"gte=0"`
	Timestamp *time.Time `json:"timestamp"`
}

// PendingFixResponse describes an outstanding fix request.
type PendingFixResponse struct {
	RequestID   string    `json:"request_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func (h *Handler) getRegions(c *gin.Context) {
	set := h.regions.Regions()
	common.RespondOK(c, "Regions retrieved successfully.", RegionsResponse{
		Version:    set.Version,
		UpdatedAt:  set.UpdatedAt,
		Permission: h.regions.Permission(),
		Regions:    set.Regions,
	})
}

func (h *Handler) postPermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondWithError(c, common.BindingAPIError(err))
		return
	}
	changed := h.regions.SetPermission(*req.Granted)
	switch {
	case changed && *req.Granted && h.onGranted != nil:
		h.onGranted()
	case changed && !*req.Granted && h.onDenied != nil:
		h.onDenied()
	}
	common.RespondOK(c, "Permission recorded.", gin.H{"permission": h.regions.Permission(), "changed": changed})
}

func (h *Handler) getPendingFix(c *gin.Context) {
	p, ok := h.fixes.Pending()
	if !ok {
		common.RespondNoContent(c)
		return
	}
	common.RespondOK(c, "Fix requested.", PendingFixResponse{RequestID: p.ID, RequestedAt: p.RequestedAt})
}

func (h *Handler) postFix(c *gin.Context) {
	var req FixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Post fix: Invalid request body", zap.Error(err))
		common.RespondWithError(c, common.BindingAPIError(err))
		return
	}
	fix := geofence.Fix{Coordinate: geo.Coordinate{Lat: *req.Lat, Lon: *req.Lon}, Accuracy: req.Accuracy}
	if req.Timestamp != nil {
		fix.Timestamp = *req.Timestamp
	}
	if err := h.fixes.Deliver(req.RequestID, fix); err != nil {
		if errors.Is(err, ErrUnknownRequest) {
			common.RespondWithError(c, common.ErrNotFound.WithDetails("No pending fix request."))
			return
		}
		common.RespondWithError(c, err)
		return
	}
	common.RespondAccepted(c, "Fix delivered.", nil)
}
