package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Defaults match the clinic API's own page defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params holds page-based pagination parameters extracted from a request.
type Params struct {
	Page  int
	Limit int
}

// FromContext extracts pagination parameters from the echo context. Missing
// or malformed values fall back to the defaults.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page <= 0 {
		page = DefaultPage
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{Page: page, Limit: limit}
}

// Pages returns how many pages total items fill. Never less than 1.
func (p Params) Pages(total int) int {
	if p.Limit <= 0 || total <= 0 {
		return 1
	}
	return (total + p.Limit - 1) / p.Limit
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Page*p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Page > 1
}

// Links are the neighbouring pages of a listing, empty when absent.
type Links struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// Links builds the next and previous page URLs for basePath.
func (p Params) Links(basePath string, total int) Links {
	var l Links
	if p.HasNext(total) {
		l.Next = fmt.Sprintf("%s?page=%d&limit=%d", basePath, p.Page+1, p.Limit)
	}
	if p.HasPrevious() {
		l.Previous = fmt.Sprintf("%s?page=%d&limit=%d", basePath, p.Page-1, p.Limit)
	}
	return l
}
