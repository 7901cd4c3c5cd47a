package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/audit"
	"github.com/storeledger/storeledger/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Entry
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newRouter(service *stubTimelineService) http.Handler {
	handler := NewHandler(nil, service)
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/activity", handler.MountRoutes)
	return r
}

func get(h http.Handler, path string, tenantID int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tenantID > 0 {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{TenantID: tenantID}))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTimelineRequiresPrincipal(t *testing.T) {
	rr := get(newRouter(&stubTimelineService{}), "/activity/", 0)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{
		Rows:   []audit.Entry{{Action: "sold", Model: "inventory", ModelID: "1"}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	rr := get(newRouter(service), "/activity/?model=inventory", 9)
	require.Equal(t, http.StatusOK, rr.Code)

	var body audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)

	f := service.lastFilters
	require.Equal(t, int64(9), f.TenantID)
	require.Equal(t, "inventory", f.Model)
	require.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), f.From)
	require.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), f.To)
	require.Equal(t, audit.DefaultPageSize, f.PageSize)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	h := newRouter(&stubTimelineService{})
	for _, path := range []string{
		"/activity/?from=2024-03-10&to=2024-03-01",
		"/activity/?from=2023-01-01&to=2024-03-01",
		"/activity/?to=march",
		"/activity/?page=0",
		"/activity/?page_size=abc",
	} {
		rr := get(h, path, 1)
		require.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestTimelineCapsPageSize(t *testing.T) {
	service := &stubTimelineService{}
	rr := get(newRouter(service), "/activity/?page=3&page_size=500", 1)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, audit.MaxPageSize, service.lastFilters.PageSize)
	require.Equal(t, 3, service.lastFilters.Page)
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.Entry{{Action: "restocked", Model: "inventory", ModelID: "4"}}}
	rr := get(newRouter(service), "/activity/export.csv", 1)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rr.Body.String(), "created_at,action,model"))
	require.Contains(t, rr.Body.String(), "restocked,inventory,4")
}

func TestExportIsRateLimitedPerTenant(t *testing.T) {
	h := newRouter(&stubTimelineService{})
	for i := 0; i < rateLimit; i++ {
		require.Equal(t, http.StatusOK, get(h, "/activity/export.csv", 5).Code)
	}
	require.Equal(t, http.StatusTooManyRequests, get(h, "/activity/export.csv", 5).Code)
	require.Equal(t, http.StatusOK, get(h, "/activity/export.csv", 6).Code)
}
