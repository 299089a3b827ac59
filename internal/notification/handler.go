package notification

import (
	"errors"
	"strconv"
	"strings"

	"notification_hub_backend/internal/common"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes sets up the backend routes the feed engine polls and
// mutates through.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("", h.createNotification)
	router.GET("", h.listNotifications)
	router.GET("/counts", h.unreadCounts)
	router.POST("/:domain/:id/mark-read", h.markNotificationAsRead)
	router.DELETE("/:domain/:id", h.deleteNotification)
}

func (h *Handler) createNotification(c *gin.Context) {
	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Create notification: Invalid request body", zap.Error(err))
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			common.RespondWithError(c, common.NewValidationAPIError(common.FormatValidationErrors(ve)))
			return
		}
		common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
		return
	}

	notification, err := h.service.CreateNotification(c.Request.Context(), req)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondCreated(c, "Notification created successfully.", notification)
}

func (h *Handler) listNotifications(c *gin.Context) {
	var domains []string
	if raw := c.Query("domain"); raw != "" {
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				domains = append(domains, d)
			}
		}
	}
	cursor, limit := common.GetCursorParams(c)

	page, err := h.service.ListNotifications(c.Request.Context(), domains, cursor, limit)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Notifications retrieved successfully.", page)
}

func (h *Handler) unreadCounts(c *gin.Context) {
	counts, err := h.service.UnreadCounts(c.Request.Context())
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Unread counts retrieved successfully.", counts)
}

func (h *Handler) markNotificationAsRead(c *gin.Context) {
	domain, id, ok := h.parsePath(c)
	if !ok {
		return
	}
	if err := h.service.MarkNotificationAsRead(c.Request.Context(), domain, id); err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Notification marked as read successfully.", nil)
}

func (h *Handler) deleteNotification(c *gin.Context) {
	domain, id, ok := h.parsePath(c)
	if !ok {
		return
	}
	if err := h.service.DeleteNotification(c.Request.Context(), domain, id); err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondNoContent(c)
}

func (h *Handler) parsePath(c *gin.Context) (string, uint64, bool) {
	domain := c.Param("domain")
	if !validDomain(domain) {
		common.RespondWithError(c, common.ErrBadRequest.WithDetails("Unknown notification domain."))
		return "", 0, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.RespondWithError(c, common.ErrBadRequest.WithDetails("Invalid notification ID format."))
		return "", 0, false
	}
	return domain, id, true
}
