package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters by principal kind
	LoginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_login_total",
			Help: "Total number of login attempts",
		},
		[]string{"kind", "outcome"},
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // type can be "missing_token", "token_expired", "tenant_inactive" etc.
	)

	// Authorization denials
	ForbiddenCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_forbidden_total",
			Help: "Total number of authorization denials",
		},
		[]string{"check"},
	)

	// Tenant operation counter
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_tenant_operations_total",
			Help: "Total number of tenant operations",
		},
		[]string{"operation"}, // operation can be "create", "suspend", "activate"
	)

	// Provisioning attempts by outcome
	ProvisioningCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_provisioning_total",
			Help: "Total number of provisioning attempts by outcome",
		},
		[]string{"outcome"}, // "active", "retry", "failed"
	)

	// Jobs processed by the worker
	JobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_jobs_total",
			Help: "Total number of queue jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Provisioning step duration
	ProvisioningStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_provisioning_step_duration_seconds",
			Help:    "Duration of tenant provisioning steps in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"step", "status"},
	)
)

// Gauge metrics
var (
	// Open tenant connection pools
	TenantConnectionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_tenant_connections",
			Help: "Number of tenant database connection pools currently open",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_info",
			Help: "Information about the CRM service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(ForbiddenCounter)
	prometheus.MustRegister(TenantOperationCounter)
	prometheus.MustRegister(ProvisioningCounter)
	prometheus.MustRegister(JobCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ProvisioningStepDuration)

	prometheus.MustRegister(TenantConnectionsGauge)
	prometheus.MustRegister(InfoGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackProvisioningStep measures a provisioning step; call the returned func with the step error
func TrackProvisioningStep(step string) func(error) {
	startTime := time.Now()
	return func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		ProvisioningStepDuration.With(prometheus.Labels{
			"step":   step,
			"status": status,
		}).Observe(time.Since(startTime).Seconds())
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordLogin records a login attempt
func RecordLogin(kind string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	LoginCounter.With(prometheus.Labels{"kind": kind, "outcome": outcome}).Inc()
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordForbidden records an authorization denial
func RecordForbidden(check string) {
	ForbiddenCounter.With(prometheus.Labels{"check": check}).Inc()
}

// RecordTenantOperation records a tenant operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordProvisioning records the outcome of a provisioning attempt
func RecordProvisioning(outcome string) {
	ProvisioningCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordJob records the outcome of a processed queue job
func RecordJob(jobType, outcome string) {
	JobCounter.With(prometheus.Labels{"type": jobType, "outcome": outcome}).Inc()
}

// SetTenantConnections updates the open tenant connection pools gauge
func SetTenantConnections(count int) {
	TenantConnectionsGauge.Set(float64(count))
}
