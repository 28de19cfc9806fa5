// Package metrics records run results in a private Prometheus registry and
// writes them to a file for node_exporter's textfile collector.
package metrics

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"cf-ips-to-hcloud-fw/internal/client"
	"cf-ips-to-hcloud-fw/internal/logging"
	"cf-ips-to-hcloud-fw/internal/reconciler"
	"cf-ips-to-hcloud-fw/internal/scheduler"
	"cf-ips-to-hcloud-fw/pkg/models"
)

const namespace = "cf_hcloud_fw"

// Run results.
const (
	ResultSuccess      = "success"
	ResultSkipped      = "skipped"
	ResultCloudflare   = "cloudflare_error"
	ResultHetzner      = "hcloud_error"
	ResultOtherFailure = "error"
)

// Recorder collects metrics about sync runs.
type Recorder struct {
	path     string
	logger   *slog.Logger
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	firewalls   *prometheus.GaugeVec
	cidrs       *prometheus.GaugeVec
	lastRun     prometheus.Gauge
	lastSuccess prometheus.Gauge
	duration    prometheus.Gauge
}

var _ scheduler.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder. With an empty path nothing is written.
func NewRecorder(path string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Recorder{
		path:     path,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync runs by result.",
		}, []string{"result"}),
		firewalls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "firewalls",
			Help:      "Firewalls handled in the last run by state.",
		}, []string{"state"}),
		cidrs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cloudflare_cidrs",
			Help:      "Cloudflare ranges fetched in the last run by address family.",
		}, []string{"family"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
	}
	r.registry.MustRegister(r.runs, r.firewalls, r.cidrs, r.lastRun, r.lastSuccess, r.duration)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records the outcome of a run and flushes the textfile.
func (r *Recorder) Observe(report *models.SyncReport, err error) {
	result := Classify(err)
	r.runs.WithLabelValues(result).Inc()

	if report != nil {
		r.firewalls.WithLabelValues("updated").Set(float64(len(report.Updated)))
		r.firewalls.WithLabelValues("up_to_date").Set(float64(len(report.UpToDate)))
		r.firewalls.WithLabelValues("ignored").Set(float64(len(report.Ignored)))
		r.firewalls.WithLabelValues("skipped").Set(float64(len(report.Skipped)))
		r.cidrs.WithLabelValues("ipv4").Set(float64(report.IPv4CIDRs))
		r.cidrs.WithLabelValues("ipv6").Set(float64(report.IPv6CIDRs))
		if !report.EndTime.IsZero() {
			r.lastRun.Set(float64(report.EndTime.Unix()))
			r.duration.Set(report.Duration().Seconds())
			if result == ResultSuccess {
				r.lastSuccess.Set(float64(report.EndTime.Unix()))
			}
		}
	}

	if err := r.Flush(); err != nil {
		r.logger.Warn("Writing metrics failed", "path", r.path, "error", err)
	}
}

// Flush writes the textfile. It is a no-op without a path.
func (r *Recorder) Flush() error {
	if r.path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.path, r.registry)
}

// Classify maps a run error to a result label.
func Classify(err error) string {
	var skipped *scheduler.SkippedError
	switch {
	case err == nil:
		return ResultSuccess
	case errors.As(err, &skipped):
		return ResultSkipped
	case errors.Is(err, client.ErrCIDRFetch), errors.Is(err, client.ErrCIDRValidation):
		return ResultCloudflare
	case errors.Is(err, reconciler.ErrFirewallLookup), errors.Is(err, reconciler.ErrFirewallPush):
		return ResultHetzner
	default:
		return ResultOtherFailure
	}
}
