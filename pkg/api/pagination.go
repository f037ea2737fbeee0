// Package api holds response shapes shared by the HTTP handlers.
package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// PageRequest is a 1-based page of pageSize items
type PageRequest struct {
	Page     int64 `json:"page"`
	PageSize int64 `json:"pageSize"`
}

// PageResponse wraps one page of a list endpoint
type PageResponse[T any] struct {
	Data       []T   `json:"data"`
	Page       int64 `json:"page"`
	PageSize   int64 `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int64 `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// ParsePagination reads page and pageSize from the query string. Missing or
// malformed values fall back to the defaults; pageSize is capped.
func ParsePagination(c *gin.Context) PageRequest {
	p := PageRequest{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", defaultPageSize),
	}
	p.PageSize = min(p.PageSize, maxPageSize)
	return p
}

func queryInt(c *gin.Context, name string, fallback int64) int64 {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

// Paginate slices an already ordered result set. A page past the end is
// empty, never null.
func Paginate[T any](items []T, p PageRequest) PageResponse[T] {
	total := int64(len(items))
	start := min((p.Page-1)*p.PageSize, total)
	end := min(start+p.PageSize, total)

	pages := max((total+p.PageSize-1)/p.PageSize, 1)
	data := items[start:end]
	if data == nil {
		data = []T{}
	}

	return PageResponse[T]{
		Data:       data,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalItems: total,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}
