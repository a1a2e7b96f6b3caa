package processor

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/seanankenbruck/analytics-nlq/internal/lineage"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
	"github.com/seanankenbruck/analytics-nlq/internal/quota"
)

// RouterConfig wires the compiler into an HTTP engine
type RouterConfig struct {
	Limiter       *quota.Limiter
	HealthChecker *observability.HealthChecker
	Logger        *observability.Logger
}

// SetupRoutes configures HTTP routes. Compile and query requests pass through
// the quota middleware when a limiter is configured.
func (qc *Compiler) SetupRoutes(config RouterConfig) *gin.Engine {
	logger := config.Logger
	if logger == nil {
		logger = observability.NewLogger("http")
	}

	r := gin.New()
	r.Use(observability.RecoveryMiddleware(logger))
	r.Use(observability.RequestLoggingMiddleware(logger))

	if config.HealthChecker != nil {
		r.GET("/health", observability.HealthHandler(config.HealthChecker))
	}
	r.GET("/metrics", observability.MetricsHandler(observability.GetGlobalMetrics()))
	if config.Limiter != nil {
		limiter := config.Limiter
		r.GET("/debug/inflight", func(c *gin.Context) {
			c.JSON(http.StatusOK, limiter.Stats())
		})
	}

	api := r.Group("/api/v1")
	{
		api.GET("/templates", qc.handleListTemplates)

		admitted := api.Group("")
		if config.Limiter != nil {
			admitted.Use(quota.Middleware(config.Limiter))
		}
		admitted.POST("/compile", qc.handleCompile)
		admitted.POST("/query", qc.handleQuery)

		api.GET("/quota", qc.handleGetQuota)
		api.GET("/lineage", qc.handleListLineage)
		api.GET("/lineage/:id", qc.handleGetLineage)
	}

	return r
}

func bindCompileRequest(c *gin.Context) (uuid.UUID, *CompileRequest, bool) {
	tenantID, err := quota.TenantFromRequest(c)
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return uuid.Nil, nil, false
	}

	var req CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		enhancedErr := errors.NewInvalidInputError("request body", err.Error())
		c.JSON(http.StatusBadRequest, formatErrorResponse(enhancedErr))
		return uuid.Nil, nil, false
	}
	return tenantID, &req, true
}

func (qc *Compiler) handleCompile(c *gin.Context) {
	tenantID, req, ok := bindCompileRequest(c)
	if !ok {
		return
	}

	response, err := qc.Compile(c.Request.Context(), tenantID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (qc *Compiler) handleQuery(c *gin.Context) {
	tenantID, req, ok := bindCompileRequest(c)
	if !ok {
		return
	}

	response, err := qc.Process(c.Request.Context(), tenantID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (qc *Compiler) handleListTemplates(c *gin.Context) {
	templates := make([]gin.H, 0, qc.catalog.Len())
	for _, id := range qc.catalog.IDs() {
		tmpl, _ := qc.catalog.Get(id)
		templates = append(templates, gin.H{
			"id":                       tmpl.ID,
			"description":              tmpl.Description,
			"allowed_time_ranges":      tmpl.AllowedTimeRangeNames(),
			"max_time_window_days":     tmpl.MaxTimeWindowDays,
			"allowed_group_by":         tmpl.AllowedGroupBy,
			"allowed_filters":          tmpl.AllowedFilters,
			"allowed_comparison_types": tmpl.AllowedComparisonTypes,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"count":     len(templates),
	})
}

func (qc *Compiler) handleGetQuota(c *gin.Context) {
	tenantID, err := quota.TenantFromRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	q, err := qc.Usage(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	quota.SetHeaders(c, *q)
	c.JSON(http.StatusOK, q)
}

func (qc *Compiler) handleListLineage(c *gin.Context) {
	tenantID, err := quota.TenantFromRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(c, errors.NewInvalidInputError("limit", "must be between 1 and 100"))
			return
		}
		limit = n
	}

	graphs, err := qc.RecentLineage(c.Request.Context(), tenantID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	summaries := make([]lineage.GraphMetadata, 0, len(graphs))
	for _, g := range graphs {
		summaries = append(summaries, g.Metadata)
	}
	c.JSON(http.StatusOK, gin.H{
		"queries": summaries,
		"count":   len(summaries),
	})
}

// handleGetLineage serves a recorded graph. The format query parameter picks
// the projection: json (default), mermaid, force, cells or summary.
func (qc *Compiler) handleGetLineage(c *gin.Context) {
	tenantID, err := quota.TenantFromRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	queryID := c.Param("id")
	if _, err := uuid.Parse(queryID); err != nil {
		writeError(c, errors.NewLineageNotFoundError(queryID))
		return
	}

	graph, err := qc.Lineage(c.Request.Context(), tenantID, queryID)
	if err != nil {
		writeError(c, err)
		return
	}

	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		c.JSON(http.StatusOK, graph)
	case "mermaid":
		c.String(http.StatusOK, graph.ToMermaid())
	case "force":
		c.JSON(http.StatusOK, graph.ToForceGraph())
	case "cells":
		c.JSON(http.StatusOK, graph.ToCells())
	case "summary":
		c.String(http.StatusOK, graph.Summary())
	default:
		writeError(c, errors.NewInvalidInputError("format", "must be one of json, mermaid, force, cells, summary"))
	}
}

func writeError(c *gin.Context, err error) {
	if seconds, ok := quota.RetryAfterSeconds(err); ok {
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	}
	c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
}

// formatErrorResponse formats an error into a user-friendly response
func formatErrorResponse(err error) gin.H {
	return gin.H(errors.Response(err))
}

// getErrorStatusCode returns the appropriate HTTP status code for an error
func getErrorStatusCode(err error) int {
	var verrs *errors.ValidationErrors
	if stderrors.As(err, &verrs) {
		return http.StatusBadRequest
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeMissingRequired:
		return http.StatusBadRequest
	case errors.ErrCodeUnknownMetric, errors.ErrCodeTimeRangeNotAllowed, errors.ErrCodeInvalidTimeRange,
		errors.ErrCodeWindowTooLarge, errors.ErrCodeGroupByNotAllowed, errors.ErrCodeFilterValueNotAllowed,
		errors.ErrCodeComparisonTypeNotAllowed:
		return http.StatusBadRequest
	case errors.ErrCodeMissingParameter, errors.ErrCodeInvalidUUID, errors.ErrCodeInvalidDate,
		errors.ErrCodeInvalidNumber, errors.ErrCodeInvalidEnum, errors.ErrCodeIncompleteRender,
		errors.ErrCodeUnexpectedTableSet, errors.ErrCodeInjectionDetected:
		return http.StatusBadRequest
	case errors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case errors.ErrCodeLineageNotFound:
		return http.StatusNotFound
	case errors.ErrCodeRequestCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
