package crud

import (
	"context"
	"fmt"
	"math"

	"github.com/conduit-lang/querycache/internal/orm/query"
)

// PageOptions controls Paginate
type PageOptions struct {
	ReadOptions

	// Page is 1-based; values below 1 select the first page and values whose
	// offset would overflow select the last addressable page
	Page int
	// Limit defaults to Config.DefaultPageLimit and is clamped to MaxLimit
	Limit int
	// OrderBy replaces the spec's ordering when set
	OrderBy string
	// IncludeCount issues a COUNT(*) for Total and TotalPages
	IncludeCount bool
	// MaxLimit defaults to Config.MaxPageLimit
	MaxLimit int
}

// Pagination describes the returned page
type Pagination struct {
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
	Total       *int64 `json:"total"`
	TotalPages  *int   `json:"totalPages"`
	HasNextPage bool   `json:"hasNextPage"`
	HasPrevPage bool   `json:"hasPrevPage"`
	Offset      int    `json:"offset"`
}

// Page is one page of rows
type Page struct {
	Data       []map[string]interface{} `json:"data"`
	Pagination Pagination               `json:"pagination"`
}

// Paginate returns one page of spec's rows. Without IncludeCount the next
// page is assumed to exist whenever this page is full.
func (o *Operations) Paginate(ctx context.Context, spec *query.QuerySpec, opts PageOptions) (*Page, error) {
	if spec == nil {
		return nil, fmt.Errorf("paginate: nil spec")
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	maxLimit := opts.MaxLimit
	if maxLimit < 1 {
		maxLimit = o.config.MaxPageLimit
	}
	limit := opts.Limit
	if limit < 1 {
		limit = o.config.DefaultPageLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	// keep the offset representable
	if page-1 > math.MaxInt/limit {
		page = math.MaxInt/limit + 1
	}
	offset := (page - 1) * limit

	ts, err := o.catalog.GetSchema(ctx, spec.Table)
	if err != nil {
		return nil, err
	}

	pagination := Pagination{
		Page:        page,
		Limit:       limit,
		HasPrevPage: page > 1,
		Offset:      offset,
	}

	if opts.IncludeCount {
		total, err := o.Count(ctx, spec, &opts.ReadOptions)
		if err != nil {
			return nil, err
		}
		totalPages := int((total + int64(limit) - 1) / int64(limit))
		pagination.Total = &total
		pagination.TotalPages = &totalPages
		pagination.HasNextPage = page < totalPages
	}

	pageSpec := spec.Clone()
	if opts.OrderBy != "" {
		pageSpec.OrderBy = opts.OrderBy
	}
	pageSpec.Limit = limit
	pageSpec.Offset = offset

	rows, err := o.query(ctx, pageSpec, ts, &opts.ReadOptions)
	if err != nil {
		return nil, err
	}

	if !opts.IncludeCount {
		pagination.HasNextPage = len(rows) == limit
	}

	return &Page{Data: rows, Pagination: pagination}, nil
}
