package target

import (
	"errors"
	"net/http"
	"time"

	"spotalert_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the current target snapshot over HTTP.
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes sets up the routes for target operations.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", h.listTargets)
	router.GET("/:id", h.getTarget)
	router.POST("/refresh", h.refreshTargets)
}

type snapshotResponse struct {
	Version  uint64           `json:"version"`
	LoadedAt time.Time        `json:"loaded_at"`
	Targets  []TargetResponse `json:"targets"`
}

func toSnapshotResponse(snap *Snapshot) snapshotResponse {
	targets := snap.Targets()
	resp := snapshotResponse{
		Version:  snap.Version(),
		LoadedAt: snap.LoadedAt(),
		Targets:  make([]TargetResponse, len(targets)),
	}
	for i, t := range targets {
		resp.Targets[i] = ToTargetResponse(t)
	}
	return resp
}

func (h *Handler) listTargets(c *gin.Context) {
	common.RespondOK(c, "Targets retrieved successfully.", toSnapshotResponse(h.registry.Snapshot()))
}

func (h *Handler) getTarget(c *gin.Context) {
	t, ok := h.registry.Snapshot().Get(c.Param("id"))
	if !ok {
		common.RespondWithError(c, common.ErrNotFound.WithDetails("Target not found."))
		return
	}
	common.RespondOK(c, "Target retrieved successfully.", ToTargetResponse(t))
}

func (h *Handler) refreshTargets(c *gin.Context) {
	snap, err := h.registry.Refresh(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrInvalidTargets) {
			common.RespondWithError(c, common.NewAPIError(http.StatusUnprocessableEntity, "INVALID_TARGET_LIST", "The target source returned an invalid list; the previous list is still active.").WithDetails(err.Error()))
			return
		}
		common.RespondWithError(c, common.NewAPIError(http.StatusBadGateway, "TARGET_SOURCE_UNAVAILABLE", "The target source could not be reached; the previous list is still active.").WithDetails(err.Error()))
		return
	}
	common.RespondOK(c, "Targets refreshed successfully.", toSnapshotResponse(snap))
}
