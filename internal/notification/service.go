package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"notification_hub_backend/internal/common"

	"go.uber.org/zap"
)

// Service is the reference notification backend: per-item operations only,
// no batch endpoint.
type Service interface {
	CreateNotification(ctx context.Context, req CreateNotificationRequest) (*Notification, error)
	ListNotifications(ctx context.Context, domains []string, cursor string, limit int) (*ListPage, error)
	MarkNotificationAsRead(ctx context.Context, domain string, id uint64) error
	DeleteNotification(ctx context.Context, domain string, id uint64) error
	UnreadCounts(ctx context.Context) (map[string]int64, error)
	PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ServiceImplementation implements the Service interface.
type ServiceImplementation struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

var _ Service = (*ServiceImplementation)(nil)

// NewService creates a new notification service.
func NewService(repo Repository, logger *zap.Logger) *ServiceImplementation {
	return &ServiceImplementation{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// CreateNotification stores a new unread notification.
func (s *ServiceImplementation) CreateNotification(ctx context.Context, req CreateNotificationRequest) (*Notification, error) {
	if !validDomain(req.Domain) {
		return nil, common.ErrBadRequest.WithDetails(fmt.Sprintf("Unknown domain %q.", req.Domain))
	}
	createdAt := s.now().UTC()
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		createdAt = req.CreatedAt.UTC()
	}

	notification := &Notification{
		Domain:     req.Domain,
		Title:      req.Title,
		Body:       req.Body,
		Priority:   req.Priority,
		SenderName: req.SenderName,
		URL:        req.URL,
		CreatedAt:  createdAt,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		s.logger.Error("Failed to create notification", zap.Error(err), zap.String("domain", req.Domain))
		return nil, common.ErrInternalServer.WithDetails("Could not create notification.")
	}
	s.logger.Info("Notification created", zap.String("domain", notification.Domain), zap.Uint64("id", notification.ID))
	return notification, nil
}

// ListNotifications returns a page of notifications, newest first. cursor is
// the opaque value returned as NextCursor by the previous page.
func (s *ServiceImplementation) ListNotifications(ctx context.Context, domains []string, cursor string, limit int) (*ListPage, error) {
	for _, d := range domains {
		if !validDomain(d) {
			return nil, common.ErrBadRequest.WithDetails(fmt.Sprintf("Unknown domain %q.", d))
		}
	}
	var afterID uint64
	if cursor != "" {
		id, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil || id == 0 {
			return nil, common.ErrBadRequest.WithDetails("Invalid cursor.")
		}
		afterID = id
	}
	if limit <= 0 {
		limit = common.DefaultCursorLimit
	}

	// One extra row tells whether another page exists.
	rows, err := s.repo.List(ctx, ListFilter{Domains: domains, AfterID: afterID, Limit: limit + 1})
	if err != nil {
		s.logger.Error("Failed to list notifications", zap.Error(err))
		return nil, common.ErrInternalServer.WithDetails("Could not retrieve notifications.")
	}

	page := &ListPage{Notifications: rows}
	if len(rows) > limit {
		page.Notifications = rows[:limit]
		page.NextCursor = strconv.FormatUint(rows[limit-1].ID, 10)
	}
	if page.Notifications == nil {
		page.Notifications = []Notification{}
	}
	return page, nil
}

// MarkNotificationAsRead marks one notification read. It is idempotent.
func (s *ServiceImplementation) MarkNotificationAsRead(ctx context.Context, domain string, id uint64) error {
	err := s.repo.MarkAsRead(ctx, domain, id, s.now().UTC())
	if err != nil {
		if apiErr, ok := common.IsAPIError(err); ok {
			return apiErr
		}
		s.logger.Error("Failed to mark notification as read", zap.Error(err), zap.String("domain", domain), zap.Uint64("id", id))
		return common.ErrInternalServer.WithDetails("Could not mark notification as read.")
	}
	return nil
}

// DeleteNotification removes one notification.
func (s *ServiceImplementation) DeleteNotification(ctx context.Context, domain string, id uint64) error {
	err := s.repo.Delete(ctx, domain, id)
	if err != nil {
		if apiErr, ok := common.IsAPIError(err); ok {
			return apiErr
		}
		s.logger.Error("Failed to delete notification", zap.Error(err), zap.String("domain", domain), zap.Uint64("id", id))
		return common.ErrInternalServer.WithDetails("Could not delete notification.")
	}
	s.logger.Info("Notification deleted", zap.String("domain", domain), zap.Uint64("id", id))
	return nil
}

// UnreadCounts returns unread totals for every known domain, zero included.
func (s *ServiceImplementation) UnreadCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := s.repo.CountUnreadByDomain(ctx)
	if err != nil {
		s.logger.Error("Failed to count unread notifications", zap.Error(err))
		return nil, common.ErrInternalServer.WithDetails("Could not count notifications.")
	}
	out := make(map[string]int64, len(Domains))
	for _, d := range Domains {
		out[d] = counts[d]
	}
	return out, nil
}

// PurgeRead deletes notifications read more than olderThan ago.
func (s *ServiceImplementation) PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	n, err := s.repo.PurgeReadBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to purge read notifications", zap.Error(err), zap.Time("cutoff", cutoff))
		return 0, err
	}
	return n, nil
}

func validDomain(domain string) bool {
	for _, d := range Domains {
		if d == domain {
			return true
		}
	}
	return false
}
