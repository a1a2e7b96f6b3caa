package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/seanankenbruck/analytics-nlq/internal/catalog"
	"github.com/seanankenbruck/analytics-nlq/internal/errors"
	"github.com/seanankenbruck/analytics-nlq/internal/executor"
	"github.com/seanankenbruck/analytics-nlq/internal/lineage"
	"github.com/seanankenbruck/analytics-nlq/internal/observability"
	"github.com/seanankenbruck/analytics-nlq/internal/quota"
)

// CompileRequest is a classified intent ready for compilation
type CompileRequest struct {
	Question   string      `json:"question,omitempty"`
	IntentType string      `json:"intent_type" binding:"required"`
	Slots      IntentSlots `json:"slots"`
}

// CompileResponse describes a rendered query that passed the safety gate
type CompileResponse struct {
	QueryID          string              `json:"query_id"`
	TemplateID       string              `json:"template_id"`
	SQL              string              `json:"sql"`
	Sanitized        bool                `json:"sanitized"`
	SubstitutedTypes []TypeTag           `json:"substituted_types"`
	TimeRange        NormalizedTimeRange `json:"time_range"`
	Warnings         []string            `json:"warnings,omitempty"`
	Quota            *quota.Quota        `json:"quota,omitempty"`
	ProcessingTime   time.Duration       `json:"processing_time,omitempty"`
}

// QueryResponse is a compiled query together with its results and lineage
type QueryResponse struct {
	CompileResponse
	Columns         []string                 `json:"columns"`
	Rows            []map[string]interface{} `json:"rows"`
	RowCount        int                      `json:"row_count"`
	Truncated       bool                     `json:"truncated,omitempty"`
	ExecutionTimeMs int64                    `json:"execution_time_ms"`
	Metadata        *ResultMetadata          `json:"metadata,omitempty"`
	Lineage         *lineage.GraphMetadata   `json:"lineage,omitempty"`
	Summary         string                   `json:"summary,omitempty"`
}

// CompilerConfig holds configuration for the compiler
type CompilerConfig struct {
	DefaultRowLimit   int
	LineageThresholds lineage.Thresholds
}

// Compiler runs admission, validation, parameter building and rendering, and
// when asked, execution and lineage recording.
type Compiler struct {
	catalog   *catalog.Catalog
	validator *SlotValidator
	params    *ParamBuilder
	limiter   *quota.Limiter
	executor  executor.Executor
	lineage   *lineage.Builder
	store     lineage.Store
	hints     *MetadataGenerator
	logger    *observability.Logger
	now       func() time.Time
}

// NewCompiler creates a compiler over c. A nil limiter disables admission control.
func NewCompiler(c *catalog.Catalog, limiter *quota.Limiter, config CompilerConfig) *Compiler {
	return &Compiler{
		catalog:   c,
		validator: NewSlotValidator(c),
		params:    NewParamBuilder(c, config.DefaultRowLimit),
		limiter:   limiter,
		lineage:   lineage.NewBuilder(config.LineageThresholds),
		hints:     NewMetadataGenerator(),
		logger:    observability.NewLogger("query-compiler"),
		now:       time.Now,
	}
}

// WithExecutor sets the executor used by Process
func (qc *Compiler) WithExecutor(e executor.Executor) *Compiler {
	qc.executor = e
	return qc
}

// WithLineageStore sets where Process records lineage
func (qc *Compiler) WithLineageStore(s lineage.Store) *Compiler {
	qc.store = s
	return qc
}

// WithClock anchors relative time ranges and lineage timestamps to now
func (qc *Compiler) WithClock(now func() time.Time) *Compiler {
	qc.now = now
	qc.validator.WithClock(now)
	return qc
}

// WithLogger replaces the compiler's logger
func (qc *Compiler) WithLogger(logger *observability.Logger) *Compiler {
	qc.logger = logger
	return qc
}

// Catalog returns the template catalog the compiler validates against
func (qc *Compiler) Catalog() *catalog.Catalog {
	return qc.catalog
}

type compiled struct {
	response *CompileResponse
	template *catalog.MetricTemplate
	slots    *ValidatedSlots
}

// admit reuses an admission already made for this request, or makes one.
// The returned release func is always safe to call.
func (qc *Compiler) admit(ctx context.Context, tenantID uuid.UUID) (*quota.Quota, func(), error) {
	if a, ok := quota.AdmissionFromContext(ctx); ok {
		return &a.Quota, func() {}, nil
	}
	if qc.limiter == nil {
		return nil, func() {}, nil
	}

	a, err := qc.limiter.CheckAndAdmit(ctx, tenantID.String())
	if err != nil {
		return nil, func() {}, err
	}
	return &a.Quota, func() { a.Release(ctx) }, nil
}

// errorType labels failures for metrics and logs
func errorType(err error) string {
	var verrs *errors.ValidationErrors
	if stderrors.As(err, &verrs) {
		return "validation"
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeRateLimitExceeded:
		return "rate_limit"
	case errors.ErrCodeMissingParameter, errors.ErrCodeInvalidUUID, errors.ErrCodeInvalidDate,
		errors.ErrCodeInvalidNumber, errors.ErrCodeInvalidEnum:
		return "render"
	case errors.ErrCodeIncompleteRender, errors.ErrCodeUnexpectedTableSet, errors.ErrCodeInjectionDetected:
		return "safety_gate"
	case errors.ErrCodeExecutionFailed:
		return "execution"
	}
	return "internal"
}

func (qc *Compiler) compile(ctx context.Context, tenantID uuid.UUID, req *CompileRequest) (*compiled, error) {
	metrics := observability.GetGlobalMetrics()

	validated, warnings, err := qc.validator.Validate(req.Slots, req.IntentType)
	if len(warnings) > 0 {
		metrics.Add(observability.MetricValidationWarnings, float64(len(warnings)), map[string]string{"metric": req.Slots.Metric})
		qc.logger.Warn(ctx, "Slots dropped during validation", map[string]interface{}{
			"metric":   req.Slots.Metric,
			"warnings": warnings,
		})
	}
	if err != nil {
		var verrs *errors.ValidationErrors
		if stderrors.As(err, &verrs) {
			for _, f := range verrs.Failures {
				metrics.Inc(observability.MetricValidationFailures, map[string]string{"code": string(f.Code)})
			}
		}
		return nil, err
	}

	tmpl, ok := qc.catalog.Get(validated.TemplateID)
	if !ok {
		return nil, errors.NewUnknownMetricError(validated.TemplateID)
	}

	params := qc.params.Build(validated, tenantID)
	rendered, err := Render(tmpl.SQL, params, tmpl.ExpectedTables)
	if err != nil {
		metrics.Inc(observability.MetricRenderRejections, map[string]string{
			"template": tmpl.ID,
			"code":     string(errors.CodeOf(err)),
		})
		return nil, err
	}
	metrics.Inc(observability.MetricTemplateRenders, map[string]string{"template": tmpl.ID})

	return &compiled{
		response: &CompileResponse{
			QueryID:          uuid.New().String(),
			TemplateID:       tmpl.ID,
			SQL:              rendered.SQL,
			Sanitized:        rendered.Sanitized,
			SubstitutedTypes: rendered.SubstitutedTypes,
			TimeRange:        validated.TimeRange,
			Warnings:         warnings,
		},
		template: tmpl,
		slots:    validated,
	}, nil
}

// Compile validates slots and renders the tenant-scoped SQL without running it
func (qc *Compiler) Compile(ctx context.Context, tenantID uuid.UUID, req *CompileRequest) (*CompileResponse, error) {
	start := time.Now()

	var processingErr error
	var response *CompileResponse

	defer func() {
		duration := time.Since(start)
		observability.RecordQueryMetrics(req.Slots.Metric, duration, processingErr == nil, errorTypeOrEmpty(processingErr))

		if processingErr != nil {
			qc.logger.Error(ctx, "Query compilation failed", processingErr, map[string]interface{}{
				"metric":      req.Slots.Metric,
				"intent_type": req.IntentType,
				"duration_ms": duration.Milliseconds(),
				"error_type":  errorType(processingErr),
			})
		} else {
			qc.logger.Info(ctx, "Query compiled", map[string]interface{}{
				"query_id":    response.QueryID,
				"template":    response.TemplateID,
				"duration_ms": duration.Milliseconds(),
			})
		}
	}()

	q, release, err := qc.admit(ctx, tenantID)
	if err != nil {
		processingErr = err
		return nil, processingErr
	}
	defer release()

	c, err := qc.compile(ctx, tenantID, req)
	if err != nil {
		processingErr = err
		return nil, processingErr
	}

	response = c.response
	response.Quota = q
	response.ProcessingTime = time.Since(start)
	return response, nil
}

// Process compiles the query, runs it through the executor and records its lineage
func (qc *Compiler) Process(ctx context.Context, tenantID uuid.UUID, req *CompileRequest) (*QueryResponse, error) {
	start := time.Now()

	var processingErr error
	var response *QueryResponse

	defer func() {
		duration := time.Since(start)
		observability.RecordQueryMetrics(req.Slots.Metric, duration, processingErr == nil, errorTypeOrEmpty(processingErr))

		if processingErr != nil {
			qc.logger.Error(ctx, "Query processing failed", processingErr, map[string]interface{}{
				"metric":      req.Slots.Metric,
				"intent_type": req.IntentType,
				"duration_ms": duration.Milliseconds(),
				"error_type":  errorType(processingErr),
			})
		} else {
			qc.logger.Info(ctx, "Query processed successfully", map[string]interface{}{
				"query_id":    response.QueryID,
				"template":    response.TemplateID,
				"rows":        response.RowCount,
				"duration_ms": duration.Milliseconds(),
			})
		}
	}()

	if qc.executor == nil {
		processingErr = errors.NewExecutionError(fmt.Errorf("no executor configured"))
		return nil, processingErr
	}

	q, release, err := qc.admit(ctx, tenantID)
	if err != nil {
		processingErr = err
		return nil, processingErr
	}
	defer release()

	c, err := qc.compile(ctx, tenantID, req)
	if err != nil {
		processingErr = err
		return nil, processingErr
	}
	c.response.Quota = q

	execStart := time.Now()
	result, err := qc.executor.Execute(ctx, c.response.SQL)
	if err != nil {
		observability.RecordExecutorMetrics(c.template.ID, time.Since(execStart), 0, err)
		processingErr = err
		return nil, processingErr
	}
	observability.RecordExecutorMetrics(c.template.ID, result.ExecutionTime, result.RowCount, nil)

	response = &QueryResponse{
		CompileResponse: *c.response,
		Columns:         result.Columns,
		Rows:            result.Rows,
		RowCount:        result.RowCount,
		Truncated:       result.Truncated,
		ExecutionTimeMs: result.ExecutionTime.Milliseconds(),
		Metadata:        qc.hints.GenerateMetadata(c.template, c.slots, result),
	}

	record := qc.executionRecord(tenantID, req, c, result)
	graph, err := qc.lineage.Build(record)
	if err != nil {
		// the query already ran; lineage problems are reported, not fatal
		qc.logger.Error(ctx, "Failed to build lineage", err, map[string]interface{}{"query_id": record.QueryID})
	} else {
		observability.GetGlobalMetrics().Inc(observability.MetricLineageGraphs, map[string]string{"template": c.template.ID})
		observability.GetGlobalMetrics().Inc(observability.MetricLineageComplexity, map[string]string{"complexity": string(graph.Metadata.Complexity)})
		response.Lineage = &graph.Metadata
		response.Summary = graph.Summary()
		qc.saveLineage(ctx, graph)
	}

	response.ProcessingTime = time.Since(start)
	return response, nil
}

func (qc *Compiler) saveLineage(ctx context.Context, graph *lineage.Graph) {
	if qc.store == nil {
		return
	}
	if err := qc.store.Save(ctx, graph); err != nil {
		observability.GetGlobalMetrics().Inc(observability.MetricLineageStoreErrors, map[string]string{"code": string(errors.CodeOf(err))})
		qc.logger.Error(ctx, "Failed to record lineage", err, map[string]interface{}{
			"query_id": graph.Metadata.QueryID,
		})
	}
}

func (qc *Compiler) executionRecord(tenantID uuid.UUID, req *CompileRequest, c *compiled, result *executor.Result) lineage.ExecutionRecord {
	question := req.Question
	if question == "" {
		question = req.Slots.Metric
	}

	sources := make([]lineage.Source, 0, len(c.template.ExpectedTables))
	for i, table := range c.template.ExpectedTables {
		src := lineage.Source{Name: table, Kind: "table"}
		// the first table is the fact table the slot constraints scope
		if i == 0 {
			src.Evidence = evidence(c.slots)
		}
		sources = append(sources, src)
	}

	transformations := append([]string(nil), c.template.Transformations...)
	if c.slots.GroupBy != "" {
		transformations = append(transformations, "group by "+c.slots.GroupBy)
	}

	return lineage.ExecutionRecord{
		QueryID:          c.response.QueryID,
		TenantID:         tenantID.String(),
		Question:         question,
		Intent:           &lineage.Intent{Type: req.IntentType, Metric: req.Slots.Metric},
		TemplateID:       c.template.ID,
		SQL:              c.response.SQL,
		Sources:          sources,
		Transformations:  transformations,
		JoinCount:        c.template.JoinCount,
		AggregationCount: c.template.AggregationCount,
		RowCount:         result.RowCount,
		ExecutionTime:    result.ExecutionTime,
		TenantIsolated:   strings.Contains(c.response.SQL, "'"+tenantID.String()+"'"),
		SafetyChecked:    c.response.Sanitized,
		CreatedAt:        qc.now(),
	}
}

// evidence describes which rows of the fact table contributed
func evidence(slots *ValidatedSlots) string {
	parts := []string{fmt.Sprintf("rows from %s to %s", slots.TimeRange.StartString(), slots.TimeRange.EndString())}

	keys := make([]string, 0, len(slots.Filters))
	for k := range slots.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s in (%s)", k, strings.Join(slots.Filters[k], ", ")))
	}
	return strings.Join(parts, ", ")
}

// Lineage returns the recorded lineage of one of the tenant's queries
func (qc *Compiler) Lineage(ctx context.Context, tenantID uuid.UUID, queryID string) (*lineage.Graph, error) {
	if qc.store == nil {
		return nil, errors.NewLineageNotFoundError(queryID)
	}
	return qc.store.Get(ctx, tenantID.String(), queryID)
}

// RecentLineage lists the tenant's most recently recorded lineage
func (qc *Compiler) RecentLineage(ctx context.Context, tenantID uuid.UUID, limit int) ([]*lineage.Graph, error) {
	if qc.store == nil {
		return []*lineage.Graph{}, nil
	}
	return qc.store.List(ctx, tenantID.String(), limit)
}

// Usage reports the tenant's quota without consuming any of it
func (qc *Compiler) Usage(ctx context.Context, tenantID uuid.UUID) (*quota.Quota, error) {
	if qc.limiter == nil {
		unlimited := quota.Usage{Daily: -1, Hourly: -1, Concurrent: -1}
		return &quota.Quota{TenantID: tenantID.String(), Remaining: unlimited, Counted: false}, nil
	}
	return qc.limiter.Usage(ctx, tenantID.String())
}

func errorTypeOrEmpty(err error) string {
	if err == nil {
		return ""
	}
	return errorType(err)
}
