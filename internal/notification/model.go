package notification

import (
	"time"
)

// Domains accepted by the reference backend.
var Domains = []string{"message", "system", "promotion", "order", "product"}

// Notification is a stored notification row. Each row belongs to exactly one
// domain; its ID is unique across the table, so it is also unique within the
// domain.
type Notification struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain     string     `gorm:"type:varchar(32);not null;index:idx_notification_domain_read" json:"domain"`
	Title      string     `gorm:"type:varchar(255);not null" json:"title"`
	Body       string     `gorm:"type:text" json:"body,omitempty"`
	Priority   *int       `json:"priority,omitempty"`
	SenderName string     `gorm:"type:varchar(255)" json:"sender_name,omitempty"`
	URL        string     `gorm:"type:text" json:"url,omitempty"`
	IsRead     bool       `gorm:"not null;default:false;index:idx_notification_domain_read" json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// CreateNotificationRequest is the body of POST /notifications.
type CreateNotificationRequest struct {
	Domain     string     `json:"domain" binding:"required,oneof=message system promotion order product"`
	Title      string     `json:"title" binding:"required,max=255"`
	Body       string     `json:"body" binding:"omitempty,max=4000"`
	Priority   *int       `json:"priority,omitempty" binding:"omitempty,gte=0,lte=10"`
	SenderName string     `json:"sender_name,omitempty" binding:"omitempty,max=255"`
	URL        string     `json:"url,omitempty" binding:"omitempty,url"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// ListFilter narrows a listing. AfterID is an exclusive upper bound on the
// row ID; listings run newest first.
type ListFilter struct {
	Domains []string
	AfterID uint64
	Limit   int
}

// ListPage is one page of a cursor listing.
type ListPage struct {
	Notifications []Notification `json:"notifications"`
	NextCursor    string         `json:"next_cursor,omitempty"`
}
