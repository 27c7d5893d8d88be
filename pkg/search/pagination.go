package search

import "github.com/dan-solli/kgstore/pkg/store"

// DefaultPageSize is used when PaginationOptions.PageSize is not positive.
const DefaultPageSize = 100

// PaginationOptions selects a zero-based page.
type PaginationOptions struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// normalized clamps a negative page to 0 and a non-positive size to DefaultPageSize.
func (p PaginationOptions) normalized() PaginationOptions {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	return p
}

func (p PaginationOptions) offset() int {
	return p.Page * p.PageSize
}

// PaginationResult is one page of entities plus navigation metadata.
type PaginationResult struct {
	Data            []store.Entity `json:"data"`
	TotalCount      int            `json:"totalCount"`
	TotalPages      int            `json:"totalPages"`
	CurrentPage     int            `json:"currentPage"`
	PageSize        int            `json:"pageSize"`
	HasNextPage     bool           `json:"hasNextPage"`
	HasPreviousPage bool           `json:"hasPreviousPage"`
}

// Paginate slices an in-memory result set.
func Paginate(items []store.Entity, page PaginationOptions) *PaginationResult {
	page = page.normalized()

	start := min(page.offset(), len(items))
	end := min(start+page.PageSize, len(items))

	data := make([]store.Entity, end-start)
	copy(data, items[start:end])
	return newPaginationResult(data, len(items), page)
}

// newPaginationResult fills the metadata for a page whose data was already fetched.
func newPaginationResult(data []store.Entity, total int, page PaginationOptions) *PaginationResult {
	page = page.normalized()
	if data == nil {
		data = []store.Entity{}
	}
	totalPages := (total + page.PageSize - 1) / page.PageSize
	return &PaginationResult{
		Data:            data,
		TotalCount:      total,
		TotalPages:      totalPages,
		CurrentPage:     page.Page,
		PageSize:        page.PageSize,
		HasNextPage:     page.Page < totalPages-1,
		HasPreviousPage: page.Page > 0,
	}
}
