package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/seanankenbruck/analytics-nlq/internal/lineage"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
	"github.com/seanankenbruck/analytics-nlq/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(r *gin.Engine, method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(observability.TenantIDHeader, tenant)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRoutes_Compile(t *testing.T) {
	l := newTestLimiter(quota.Limits{Daily: 10, Hourly: 10, Concurrent: 2})
	r := newTestCompiler(l).SetupRoutes(RouterConfig{Limiter: l})

	w := doJSON(r, http.MethodPost, "/api/v1/compile", testTenant, revenueRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining-Daily"))

	body := decode(t, w)
	assert.Equal(t, "revenue", body["template_id"])
	assert.Equal(t, true, body["sanitized"])
	assert.Contains(t, body["sql"], testTenant)

	// the middleware admission was reused, not doubled
	q, err := l.Usage(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Used.Daily)
}

func TestRoutes_CompileValidationFailure(t *testing.T) {
	r := newTestCompiler(nil).SetupRoutes(RouterConfig{})

	req := revenueRequest()
	req.Slots.Filters = map[string]interface{}{"region": "mars", "cohort": "x"}
	w := doJSON(r, http.MethodPost, "/api/v1/compile", testTenant, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decode(t, w)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, string(errors.ErrCodeSlotValidation), errBody["code"])
	failures := errBody["failures"].([]interface{})
	require.Len(t, failures, 1)
	assert.Equal(t, string(errors.ErrCodeFilterValueNotAllowed), failures[0].(map[string]interface{})["code"])
	assert.Len(t, body["warnings"], 1)
}

func TestRoutes_CompileBadRequests(t *testing.T) {
	r := newTestCompiler(nil).SetupRoutes(RouterConfig{})

	w := doJSON(r, http.MethodPost, "/api/v1/compile", "", revenueRequest())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(errors.ErrCodeMissingRequired))

	w = doJSON(r, http.MethodPost, "/api/v1/compile", testTenant, map[string]string{"question": "revenue?"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(errors.ErrCodeInvalidInput))
}

func TestRoutes_RateLimited(t *testing.T) {
	l := newTestLimiter(quota.Limits{Daily: 1, Hourly: 10, Concurrent: 5})
	r := newTestCompiler(l).SetupRoutes(RouterConfig{Limiter: l})

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, "/api/v1/compile", testTenant, revenueRequest()).Code)

	w := doJSON(r, http.MethodPost, "/api/v1/compile", testTenant, revenueRequest())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), string(errors.ErrCodeRateLimitExceeded))
}

func TestRoutes_Quota(t *testing.T) {
	l := newTestLimiter(quota.Limits{Daily: 10, Hourly: 5, Concurrent: 2})
	r := newTestCompiler(l).SetupRoutes(RouterConfig{Limiter: l})

	w := doJSON(r, http.MethodGet, "/api/v1/quota", testTenant, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit-Hourly"))

	body := decode(t, w)
	assert.Equal(t, testTenant, body["tenant_id"])
	assert.Equal(t, float64(10), body["remaining"].(map[string]interface{})["daily"])
}

func TestRoutes_Lineage(t *testing.T) {
	store := new(MockLineageStore)
	r := newTestCompiler(nil).WithLineageStore(store).SetupRoutes(RouterConfig{})

	queryID := uuid.NewString()
	graph, err := lineage.NewBuilder(lineage.DefaultThresholds).Build(lineage.ExecutionRecord{
		QueryID:        queryID,
		TenantID:       testTenant,
		Question:       "revenue last week",
		TemplateID:     "revenue",
		Sources:        []lineage.Source{{Name: "orders"}},
		RowCount:       7,
		ExecutionTime:  12 * time.Millisecond,
		TenantIsolated: true,
		SafetyChecked:  true,
	})
	require.NoError(t, err)

	store.On("Get", mock.Anything, testTenant, queryID).Return(graph, nil)
	missing := uuid.NewString()
	store.On("Get", mock.Anything, testTenant, missing).Return(nil, errors.NewLineageNotFoundError(missing))

	tests := []struct {
		name     string
		path     string
		wantCode int
		contains string
	}{
		{"json", "/api/v1/lineage/" + queryID, http.StatusOK, `"query_id":"` + queryID + `"`},
		{"mermaid", "/api/v1/lineage/" + queryID + "?format=mermaid", http.StatusOK, "graph TD"},
		{"force", "/api/v1/lineage/" + queryID + "?format=force", http.StatusOK, `"links"`},
		{"cells", "/api/v1/lineage/" + queryID + "?format=cells", http.StatusOK, "standard.Rectangle"},
		{"summary", "/api/v1/lineage/" + queryID + "?format=summary", http.StatusOK, "Rows returned: 7"},
		{"bad format", "/api/v1/lineage/" + queryID + "?format=svg", http.StatusBadRequest, "INVALID_INPUT"},
		{"not found", "/api/v1/lineage/" + missing, http.StatusNotFound, "LINEAGE_NOT_FOUND"},
		{"not a uuid", "/api/v1/lineage/latest", http.StatusNotFound, "LINEAGE_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodGet, tt.path, testTenant, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestRoutes_ListLineage(t *testing.T) {
	store := new(MockLineageStore)
	r := newTestCompiler(nil).WithLineageStore(store).SetupRoutes(RouterConfig{})

	store.On("List", mock.Anything, testTenant, 5).Return([]*lineage.Graph{
		{Metadata: lineage.GraphMetadata{QueryID: "a", Complexity: lineage.ComplexityLow}},
	}, nil)

	w := doJSON(r, http.MethodGet, "/api/v1/lineage?limit=5", testTenant, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = doJSON(r, http.MethodGet, "/api/v1/lineage?limit=0", testTenant, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_TemplatesAndMetrics(t *testing.T) {
	checker := observability.NewHealthChecker("query-compiler", "test")
	r := newTestCompiler(nil).SetupRoutes(RouterConfig{HealthChecker: checker})

	w := doJSON(r, http.MethodGet, "/api/v1/templates", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["count"])

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/health", "", nil).Code)
}

func TestRoutes_InflightStats(t *testing.T) {
	l := newTestLimiter(quota.Limits{Daily: 10, Hourly: 10, Concurrent: 2})
	r := newTestCompiler(l).SetupRoutes(RouterConfig{Limiter: l})

	held, err := l.CheckAndAdmit(context.Background(), testTenant)
	require.NoError(t, err)
	defer held.Release(context.Background())

	w := doJSON(r, http.MethodGet, "/debug/inflight", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total_inflight"])
	assert.Equal(t, float64(1), body["total_tenants"])

	plain := newTestCompiler(nil).SetupRoutes(RouterConfig{})
	assert.Equal(t, http.StatusNotFound, doJSON(plain, http.MethodGet, "/debug/inflight", "", nil).Code)
}

func TestGetErrorStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&errors.ValidationErrors{}, http.StatusBadRequest},
		{errors.NewUnknownMetricError("nps"), http.StatusBadRequest},
		{errors.NewMissingParameterError("limit"), http.StatusBadRequest},
		{errors.NewSafetyGateError(errors.ErrCodeInjectionDetected, "DROP"), http.StatusBadRequest},
		{errors.NewRateLimitExceededError("hourly", time.Now().Add(time.Minute), time.Minute), http.StatusTooManyRequests},
		{errors.NewLineageNotFoundError("q"), http.StatusNotFound},
		{errors.Wrap(context.Canceled, errors.ErrCodeRequestCancelled, "cancelled"), http.StatusRequestTimeout},
		{errors.NewExecutionError(fmt.Errorf("boom")), http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getErrorStatusCode(tt.err), tt.err.Error())
	}
}
