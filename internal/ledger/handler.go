package ledger

import (
	"errors"
	"net/http"
	"time"

	"spotalert_backend/internal/common"
	"spotalert_backend/internal/platform/clock"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler exposes the notification inbox.
type Handler struct {
	ledger *Ledger
	clock  clock.Clock
	logger *zap.Logger
}

func NewHandler(ledger *Ledger, clk clock.Clock, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, clock: clk, logger: logger}
}

// RegisterRoutes sets up the routes for notification operations.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", h.getNotifications)
	router.GET("/unread-count", h.getUnreadCount)
	router.POST("/mark-all-viewed", h.markAllViewed)
	router.DELETE("/:notification_id", h.deleteNotification)
	router.DELETE("", h.deleteAllNotifications)
}

// MarkAllViewedRequest optionally carries the client's view time.
type MarkAllViewedRequest struct {
	At *time.Time `json:"at"`
}

func toRecordResponse(r Record, lastViewed *time.Time) RecordResponse {
	return RecordResponse{
		ID:        r.ID,
		Type:      r.Type,
		Title:     r.Title,
		Body:      r.Body,
		Timestamp: r.Timestamp,
		TargetID:  r.TargetID,
		Metadata:  r.Metadata,
		Unread:    isUnread(r, lastViewed),
	}
}

func (h *Handler) getNotifications(c *gin.Context) {
	page, pageSize := common.GetPaginationParams(c)
	records, total := h.ledger.Page((page-1)*pageSize, pageSize)
	lastViewed := h.ledger.LastViewedAt()

	resp := ListResponse{
		Notifications: make([]RecordResponse, len(records)),
		UnreadCount:   h.ledger.UnreadCount(),
		LastViewedAt:  lastViewed,
	}
	for i, r := range records {
		resp.Notifications[i] = toRecordResponse(r, lastViewed)
	}
	common.RespondPaginated(c, "Notifications retrieved successfully.", resp, common.NewPagination(int64(total), page, pageSize))
}

func (h *Handler) getUnreadCount(c *gin.Context) {
	common.RespondOK(c, "Unread count retrieved successfully.", gin.H{"unread_count": h.ledger.UnreadCount()})
}

func (h *Handler) markAllViewed(c *gin.Context) {
	var req MarkAllViewedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondWithError(c, common.BindingAPIError(err))
			return
		}
	}
	at := h.clock.Now()
	if req.At != nil {
		at = *req.At
	}

	watermark, err := h.ledger.MarkAllViewed(c.Request.Context(), at)
	if err != nil {
		h.logger.Error("Failed to mark notifications as viewed", zap.Error(err))
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "All notifications marked as viewed.", gin.H{
		"last_viewed_at": watermark,
		"unread_count":   h.ledger.UnreadCount(),
	})
}

func (h *Handler) deleteNotification(c *gin.Context) {
	id, err := uuid.Parse(c.Param("notification_id"))
	if err != nil {
		common.RespondWithError(c, common.ErrBadRequest.WithDetails("Invalid notification ID format."))
		return
	}
	if err := h.ledger.Remove(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			common.RespondWithError(c, common.ErrNotFound.WithDetails("Notification not found."))
			return
		}
		h.logger.Error("Failed to delete notification", zap.String("notificationID", id.String()), zap.Error(err))
		common.RespondWithError(c, err)
		return
	}
	common.RespondNoContent(c)
}

func (h *Handler) deleteAllNotifications(c *gin.Context) {
	if err := h.ledger.RemoveAll(c.Request.Context()); err != nil {
		h.logger.Error("Failed to delete notifications", zap.Error(err))
		common.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
