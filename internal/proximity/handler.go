package proximity

import (
	"spotalert_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the live proximity settings.
type Handler struct {
	tuning *Tuning
	logger *zap.Logger
}

func NewHandler(tuning *Tuning, logger *zap.Logger) *Handler {
	return &Handler{tuning: tuning, logger: logger}
}

// RegisterRoutes sets up the routes for the tuning surface.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", h.getSettings)
	router.PUT("", h.updateSettings)
}

func (h *Handler) getSettings(c *gin.Context) {
	common.RespondOK(c, "Settings retrieved successfully.", ToSettingsResponse(h.tuning.Get()))
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Update settings: Invalid request body", zap.Error(err))
		common.RespondWithError(c, common.BindingAPIError(err))
		return
	}

	next, err := h.tuning.Update(req.Apply)
	if err != nil {
		common.RespondWithError(c, common.ErrUnprocessableEntity.WithDetails(err.Error()))
		return
	}
	common.RespondOK(c, "Settings updated successfully.", ToSettingsResponse(next))
}
