package alert

import (
	"sort"
	"time"

	"spotalert_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes completion bookkeeping and the dispatcher status.
type Handler struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewHandler(dispatcher *Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// RegisterRoutes sets up the /alerts routes.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.getStatus)
	router.GET("/completions", h.getCompletions)
	router.POST("/push/enable", h.enablePush)
}

// RegisterTargetRoutes adds the completion routes under the targets group.
func (h *Handler) RegisterTargetRoutes(router *gin.RouterGroup) {
	router.POST("/:id/complete", h.markCompleted)
	router.DELETE("/:id/complete", h.resetCompletion)
}

// CompletionResponse is the API shape of a completion marker.
type CompletionResponse struct {
	TargetID    string    `json:"target_id"`
	CompletedAt time.Time `json:"completed_at"`
}

func (h *Handler) getStatus(c *gin.Context) {
	common.RespondOK(c, "Alert status retrieved successfully.", gin.H{
		"push_disabled": h.dispatcher.PushDisabled(),
		"completed":     len(h.dispatcher.Completed()),
	})
}

func (h *Handler) getCompletions(c *gin.Context) {
	completed := h.dispatcher.Completed()
	resp := make([]CompletionResponse, 0, len(completed))
	for id, at := range completed {
		resp = append(resp, CompletionResponse{TargetID: id, CompletedAt: at})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].TargetID < resp[j].TargetID })
	common.RespondOK(c, "Completions retrieved successfully.", resp)
}

func (h *Handler) enablePush(c *gin.Context) {
	h.dispatcher.EnablePush()
	common.RespondNoContent(c)
}

func (h *Handler) markCompleted(c *gin.Context) {
	id := c.Param("id")
	if err := h.dispatcher.MarkCompleted(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to mark target completed", zap.String("targetID", id), zap.Error(err))
		common.RespondWithError(c, err)
		return
	}
	common.RespondNoContent(c)
}

func (h *Handler) resetCompletion(c *gin.Context) {
	id := c.Param("id")
	if err := h.dispatcher.ResetCompletion(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to reset target completion", zap.String("targetID", id), zap.Error(err))
		common.RespondWithError(c, err)
		return
	}
	common.RespondNoContent(c)
}
