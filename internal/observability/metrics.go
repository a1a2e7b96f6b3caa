package observability

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric
type Metric struct {
	Name      string                 `json:"name"`
	Type      MetricType             `json:"type"`
	Value     float64                `json:"value"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// MetricsCollector collects and stores application metrics
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metric),
	}
}

// metricKey generates a unique key for a metric; labels are sorted so the key is stable
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString("." + k + "=" + labels[k])
	}
	return sb.String()
}

// Inc increments a counter metric
func (mc *MetricsCollector) Inc(name string, labels map[string]string) {
	mc.Add(name, 1, labels)
}

// Add adds a value to a counter metric
func (mc *MetricsCollector) Add(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	if metric, exists := mc.metrics[key]; exists {
		metric.Value += value
		metric.Timestamp = time.Now()
		return
	}
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      MetricTypeCounter,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Set sets a gauge metric value
func (mc *MetricsCollector) Set(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics[metricKey(name, labels)] = &Metric{
		Name:      name,
		Type:      MetricTypeGauge,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Observe records a histogram observation
func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	metric, exists := mc.metrics[key]
	if !exists {
		mc.metrics[key] = &Metric{
			Name:      name,
			Type:      MetricTypeHistogram,
			Value:     value,
			Labels:    labels,
			Timestamp: time.Now(),
			Extra: map[string]interface{}{
				"count": 1.0,
				"sum":   value,
			},
		}
		return
	}

	// Only count and sum are tracked; Value holds the running mean
	count, _ := metric.Extra["count"].(float64)
	sum, _ := metric.Extra["sum"].(float64)
	count++
	sum += value
	metric.Extra["count"] = count
	metric.Extra["sum"] = sum
	metric.Value = sum / count
	metric.Timestamp = time.Now()
}

// Get retrieves a metric by name and labels
func (mc *MetricsCollector) Get(name string, labels map[string]string) (*Metric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metric, exists := mc.metrics[metricKey(name, labels)]
	return metric, exists
}

// GetAll retrieves all metrics
func (mc *MetricsCollector) GetAll() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		copied := *v
		result[k] = &copied
	}
	return result
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
}

// Standard metric names
const (
	// Pipeline metrics
	MetricQueryTotal         = "nlq_queries_total"
	MetricQueryDuration      = "nlq_query_duration_seconds"
	MetricQuerySuccess       = "nlq_queries_success_total"
	MetricQueryFailure       = "nlq_queries_failure_total"
	MetricValidationFailures = "nlq_validation_failures_total"
	MetricValidationWarnings = "nlq_validation_warnings_total"
	MetricRenderRejections   = "nlq_render_rejections_total"
	MetricTemplateRenders    = "nlq_template_renders_total"
	MetricLineageGraphs      = "nlq_lineage_graphs_total"
	MetricLineageStoreErrors = "nlq_lineage_store_errors_total"
	MetricLineageComplexity  = "nlq_lineage_complexity_total"

	// Rate limit metrics
	MetricRateLimitAdmitted   = "nlq_rate_limit_admitted_total"
	MetricRateLimitRejections = "nlq_rate_limit_rejections_total"
	MetricRateLimitStoreError = "nlq_rate_limit_store_errors_total"
	MetricInflightRequests    = "nlq_inflight_requests"

	// Executor metrics
	MetricExecutorQueries  = "executor_queries_total"
	MetricExecutorDuration = "executor_query_duration_seconds"
	MetricExecutorErrors   = "executor_errors_total"
	MetricExecutorRows     = "executor_rows_returned"

	// HTTP metrics
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricHTTPErrors       = "http_errors_total"
	MetricHTTPResponseSize = "http_response_size_bytes"
)

// Global metrics collector instance
var globalMetrics = NewMetricsCollector()

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// RecordQueryMetrics records metrics for one pass through the pipeline
func RecordQueryMetrics(metric string, duration time.Duration, success bool, errorType string) {
	metrics := GetGlobalMetrics()

	metrics.Inc(MetricQueryTotal, map[string]string{"metric": metric})
	if success {
		metrics.Inc(MetricQuerySuccess, nil)
	} else {
		labels := map[string]string{}
		if errorType != "" {
			labels["error_type"] = errorType
		}
		metrics.Inc(MetricQueryFailure, labels)
	}
	metrics.Observe(MetricQueryDuration, duration.Seconds(), nil)
}

// RecordExecutorMetrics records metrics for a downstream SQL execution
func RecordExecutorMetrics(templateID string, duration time.Duration, rows int, err error) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{"template": templateID}
	metrics.Inc(MetricExecutorQueries, labels)
	metrics.Observe(MetricExecutorDuration, duration.Seconds(), labels)

	if err != nil {
		metrics.Inc(MetricExecutorErrors, labels)
		return
	}
	metrics.Observe(MetricExecutorRows, float64(rows), labels)
}

// RecordHTTPMetrics records metrics for HTTP requests
func RecordHTTPMetrics(method, path string, statusCode int, duration time.Duration, responseSize int) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(statusCode),
	}

	metrics.Inc(MetricHTTPRequests, labels)
	metrics.Observe(MetricHTTPDuration, duration.Seconds(), labels)

	if statusCode >= 400 {
		metrics.Inc(MetricHTTPErrors, labels)
	}

	if responseSize > 0 {
		metrics.Observe(MetricHTTPResponseSize, float64(responseSize), labels)
	}
}
