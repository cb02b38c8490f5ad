package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Gauge reports a numeric reading such as a queue depth.
type Gauge func(ctx context.Context) (int64, error)

// HealthHandler reports dependency health and a few runtime readings.
type HealthHandler struct {
	startTime time.Time
	checks    map[string]HealthCheck
	gauges    map[string]Gauge
	log       zerolog.Logger
}

func NewHealthHandler(log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
		gauges:    make(map[string]Gauge),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

// AddCheck registers a dependency probe. A failing probe turns /health into a 503.
func (h *HealthHandler) AddCheck(name string, check HealthCheck) { h.checks[name] = check }

// AddGauge registers an informational reading. Failing gauges are reported as -1.
func (h *HealthHandler) AddGauge(name string, gauge Gauge) { h.gauges[name] = gauge }

type healthReport struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Goroutines int               `json:"goroutines"`
	GoVersion  string            `json:"go_version"`
	Checks     map[string]string `json:"checks"`
	Gauges     map[string]int64  `json:"gauges,omitempty"`
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	report := healthReport{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
		Checks:     make(map[string]string, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			report.Checks[name] = err.Error()
			report.Status = "degraded"
			continue
		}
		report.Checks[name] = "ok"
	}

	if len(h.gauges) > 0 {
		report.Gauges = make(map[string]int64, len(h.gauges))
		for name, gauge := range h.gauges {
			v, err := gauge(ctx)
			if err != nil {
				v = -1
			}
			report.Gauges[name] = v
		}
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
