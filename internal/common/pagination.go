// File: internal/common/pagination.go
package common

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100

	DefaultCursorLimit = 50
	MaxCursorLimit     = 200
)

// GetPaginationParams extracts page-based pagination parameters from Gin context.
func GetPaginationParams(c *gin.Context) (page, pageSize int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	if err != nil || page <= 0 {
		page = DefaultPage
	}

	pageSize, err = strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(DefaultPageSize)))
	if err != nil || pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// GetCursorParams extracts cursor-based paging parameters ("cursor", "limit").
func GetCursorParams(c *gin.Context) (cursor string, limit int) {
	cursor = c.Query("cursor")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultCursorLimit)))
	if err != nil || limit <= 0 {
		limit = DefaultCursorLimit
	}
	if limit > MaxCursorLimit {
		limit = MaxCursorLimit
	}
	return cursor, limit
}

// PageBounds returns the slice bounds of a page over total items.
func PageBounds(total, page, pageSize int) (start, end int) {
	start = (page - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
