package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/storeledger/storeledger/internal/audit"
	"github.com/storeledger/storeledger/internal/platform/httpx"
	"github.com/storeledger/storeledger/internal/shared"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error)
}

// Handler serves the activity timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds the activity handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	filters, err := h.parseFilters(r, principal.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleError(w, r, "load activity timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	principal, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	filters, err := h.parseFilters(r, principal.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleError(w, r, "export activity timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.handleError(w, r, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"activity.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters defaults to the last seven days and caps ranges at ninety.
// Dates are whole days; to is inclusive.
func (h *Handler) parseFilters(r *http.Request, tenantID int64) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format(time.DateOnly)
	}
	toDay, err := time.Parse(time.DateOnly, toStr)
	if err != nil {
		return audit.TimelineFilters{}, shared.Validationf("invalid to %q", toStr)
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toDay.Add(-defaultDateRange).Format(time.DateOnly)
	}
	fromDay, err := time.Parse(time.DateOnly, fromStr)
	if err != nil {
		return audit.TimelineFilters{}, shared.Validationf("invalid from %q", fromStr)
	}
	if fromDay.After(toDay) {
		return audit.TimelineFilters{}, shared.Validationf("from must not be after to")
	}
	if toDay.Sub(fromDay) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, shared.Validationf("range exceeds %d days", maxDateRangeHours/24)
	}

	page := 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Validationf("invalid page %q", v)
		}
		page = parsed
	}
	pageSize := audit.DefaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Validationf("invalid page_size %q", v)
		}
		if parsed > audit.MaxPageSize {
			parsed = audit.MaxPageSize
		}
		pageSize = parsed
	}

	return audit.TimelineFilters{
		TenantID: tenantID,
		From:     fromDay,
		To:       toDay.AddDate(0, 0, 1),
		Model:    strings.TrimSpace(q.Get("model")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, message string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.ErrorContext(r.Context(), message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
