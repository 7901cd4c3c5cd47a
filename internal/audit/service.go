// Package audit records every stock and catalog change as an activity log
// entry and serves the per-tenant timeline.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/storeledger/storeledger/internal/shared"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// Service coordinates activity timeline reads.
type Service struct {
	repo Repository
}

// NewService returns an activity timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if filters.TenantID <= 0 {
		return Result{}, shared.Validationf("tenant required")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := windowParams(filters)
	params.Offset = int32((page - 1) * pageSize)
	params.Limit = int32(pageSize + 1)

	rows, err := s.repo.TimelineWindow(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline: %w", err)
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching entry without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if filters.TenantID <= 0 {
		return nil, shared.Validationf("tenant required")
	}
	rows, err := s.repo.TimelineAll(ctx, windowParams(filters))
	if err != nil {
		return nil, fmt.Errorf("audit: export: %w", err)
	}
	return rows, nil
}

func windowParams(filters TimelineFilters) WindowParams {
	return WindowParams{
		TenantID: filters.TenantID,
		From:     toPgTime(filters.From),
		To:       toPgTime(filters.To),
		Model:    optionalText(filters.Model),
		Action:   optionalText(filters.Action),
	}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
