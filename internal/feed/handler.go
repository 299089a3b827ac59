package feed

import (
	"errors"
	"io"
	"net/http"
	"time"

	"notification_hub_backend/internal/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamKeepAlive = 25 * time.Second

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

// RegisterRoutes sets up the consumer-facing feed routes on the given group.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", h.getFeed)
	router.GET("/stream", h.streamFeed)
	router.GET("/status", h.getStatus)
	router.POST("/refresh", h.refresh)
	router.POST("/mark-all-read", h.markAllRead)
	router.POST("/:domain/:id/mark-read", h.markOneRead)
	router.DELETE("/:domain/:id", h.deleteOne)
}

// feedView is the JSON shape of a snapshot page.
type feedView struct {
	Revision  uint64         `json:"revision"`
	Records   []Notification `json:"records"`
	Counts    Counts         `json:"counts"`
	Stale     bool           `json:"stale"`
	LastError string         `json:"last_error,omitempty"`
	SyncedAt  *time.Time     `json:"synced_at,omitempty"`
	Upstream  *Counts        `json:"upstream,omitempty"`
}

func newFeedView(s Snapshot, records []Notification) feedView {
	if records == nil {
		records = []Notification{}
	}
	return feedView{
		Revision:  s.Revision,
		Records:   records,
		Counts:    s.Counts,
		Stale:     s.Stale,
		LastError: s.LastError,
		SyncedAt:  s.SyncedAt,
		Upstream:  s.Upstream,
	}
}

func (h *Handler) getFeed(c *gin.Context) {
	snap := h.service.Snapshot()
	records := snap.Records
	if d := c.Query("domain"); d != "" {
		domain, err := ParseDomain(d)
		if err != nil {
			common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
			return
		}
		records = snap.Filter(domain)
	}

	page, pageSize := common.GetPaginationParams(c)
	start, end := common.PageBounds(len(records), page, pageSize)
	pagination := common.NewPagination(int64(len(records)), page, pageSize)
	common.RespondPaginated(c, "Feed retrieved successfully.", newFeedView(snap, records[start:end]), pagination)
}

// streamFeed pushes a snapshot event on connect and after every change until
// the client goes away.
func (h *Handler) streamFeed(c *gin.Context) {
	box := NewMailbox()
	unsubscribe := h.service.Subscribe(box.Offer)
	defer unsubscribe()
	box.Offer(h.service.Snapshot())

	h.logger.Debug("Feed stream opened", zap.String("client_ip", c.ClientIP()))
	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case snap := <-box.C():
			c.SSEvent("snapshot", newFeedView(snap, snap.Records))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
	h.logger.Debug("Feed stream closed", zap.String("client_ip", c.ClientIP()))
}

func (h *Handler) getStatus(c *gin.Context) {
	common.RespondOK(c, "Poller status retrieved successfully.", h.service.Status())
}

func (h *Handler) refresh(c *gin.Context) {
	triggered := h.service.RefreshNow()
	common.RespondSuccess(c, http.StatusAccepted, "Refresh requested.", gin.H{"triggered": triggered})
}

func (h *Handler) markOneRead(c *gin.Context) {
	key, ok := h.keyFromPath(c)
	if !ok {
		return
	}
	if err := h.service.MarkOneRead(c.Request.Context(), key); err != nil {
		h.respondFeedError(c, err)
		return
	}
	common.RespondOK(c, "Notification marked as read successfully.", h.service.Snapshot().Counts)
}

func (h *Handler) markAllRead(c *gin.Context) {
	result := h.service.MarkAllRead(c.Request.Context())
	message := "All notifications marked as read successfully."
	if result.Failed > 0 {
		message = "Some notifications could not be marked as read."
	}
	common.RespondOK(c, message, result)
}

func (h *Handler) deleteOne(c *gin.Context) {
	key, ok := h.keyFromPath(c)
	if !ok {
		return
	}
	if err := h.service.DeleteOne(c.Request.Context(), key); err != nil {
		h.respondFeedError(c, err)
		return
	}
	common.RespondNoContent(c)
}

func (h *Handler) keyFromPath(c *gin.Context) (Key, bool) {
	domain, err := ParseDomain(c.Param("domain"))
	if err != nil {
		common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
		return Key{}, false
	}
	id := c.Param("id")
	if id == "" {
		common.RespondWithError(c, common.ErrBadRequest.WithDetails("Notification ID is required."))
		return Key{}, false
	}
	return Key{Domain: domain, ID: id}, true
}

func (h *Handler) respondFeedError(c *gin.Context, err error) {
	var mutErr *MutationError
	switch {
	case errors.Is(err, ErrNotFound):
		common.RespondWithError(c, common.ErrNotFound.WithDetails("Notification not found in feed."))
	case errors.As(err, &mutErr):
		common.RespondWithError(c, common.ErrUpstream.WithDetails(mutErr.Error()))
	default:
		common.RespondWithError(c, err)
	}
}
