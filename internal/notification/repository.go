package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notification_hub_backend/internal/common"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, notification *Notification) error
	List(ctx context.Context, filter ListFilter) ([]Notification, error)
	FindByID(ctx context.Context, domain string, id uint64) (*Notification, error)
	MarkAsRead(ctx context.Context, domain string, id uint64, at time.Time) error
	Delete(ctx context.Context, domain string, id uint64) error
	CountUnreadByDomain(ctx context.Context) (map[string]int64, error)
	PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GORMRepository implements the Repository interface using GORM.
type GORMRepository struct {
	db *gorm.DB
}

// NewGORMRepository creates a new GORM notification repository.
func NewGORMRepository(db *gorm.DB) Repository {
	return &GORMRepository{db: db}
}

// Create inserts a new notification into the database.
func (r *GORMRepository) Create(ctx context.Context, notification *Notification) error {
	if err := r.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// List returns up to filter.Limit notifications, newest first.
func (r *GORMRepository) List(ctx context.Context, filter ListFilter) ([]Notification, error) {
	var notifications []Notification
	query := r.db.WithContext(ctx).Model(&Notification{})
	if len(filter.Domains) > 0 {
		query = query.Where("domain IN ?", filter.Domains)
	}
	if filter.AfterID > 0 {
		query = query.Where("id < ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Order("id DESC").Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("listing notifications failed: %w", err)
	}
	return notifications, nil
}

// FindByID retrieves a notification by domain and ID.
func (r *GORMRepository) FindByID(ctx context.Context, domain string, id uint64) (*Notification, error) {
	var notification Notification
	err := r.db.WithContext(ctx).Where("id = ? AND domain = ?", id, domain).First(&notification).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound.WithDetails("Notification not found.")
		}
		return nil, fmt.Errorf("failed to find notification %s:%d: %w", domain, id, err)
	}
	return &notification, nil
}

// MarkAsRead marks a notification as read. Marking a read notification again
// succeeds and keeps the original read time.
func (r *GORMRepository) MarkAsRead(ctx context.Context, domain string, id uint64, at time.Time) error {
	if _, err := r.FindByID(ctx, domain, id); err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND domain = ? AND is_read = ?", id, domain, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification %s:%d as read: %w", domain, id, result.Error)
	}
	return nil
}

// Delete removes a notification.
func (r *GORMRepository) Delete(ctx context.Context, domain string, id uint64) error {
	result := r.db.WithContext(ctx).Where("id = ? AND domain = ?", id, domain).Delete(&Notification{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete notification %s:%d: %w", domain, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrNotFound.WithDetails("Notification not found.")
	}
	return nil
}

// CountUnreadByDomain returns the unread total of every domain that has any.
func (r *GORMRepository) CountUnreadByDomain(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Domain string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&Notification{}).
		Select("domain, COUNT(*) AS total").
		Where("is_read = ?", false).
		Group("domain").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting unread notifications failed: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Domain] = row.Total
	}
	return counts, nil
}

// PurgeReadBefore deletes read notifications whose read time is older than
// cutoff and returns how many were removed.
func (r *GORMRepository) PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_read = ? AND read_at < ?", true, cutoff).
		Delete(&Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge read notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}
