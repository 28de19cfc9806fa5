package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cf-ips-to-hcloud-fw/internal/client"
	"cf-ips-to-hcloud-fw/internal/reconciler"
	"cf-ips-to-hcloud-fw/internal/scheduler"
	"cf-ips-to-hcloud-fw/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ResultSuccess},
		{name: "skipped", err: &scheduler.SkippedError{Firewalls: []string{"project 1:'fw'"}}, want: ResultSkipped},
		{name: "wrapped skipped", err: fmt.Errorf("run: %w", &scheduler.SkippedError{}), want: ResultSkipped},
		{name: "cloudflare fetch", err: fmt.Errorf("%w: timeout", client.ErrCIDRFetch), want: ResultCloudflare},
		{name: "cloudflare validation", err: fmt.Errorf("%w: ipv4_cidrs is empty", client.ErrCIDRValidation), want: ResultCloudflare},
		{name: "hcloud lookup", err: fmt.Errorf("%w: boom", reconciler.ErrFirewallLookup), want: ResultHetzner},
		{name: "hcloud push", err: fmt.Errorf("%w: boom", reconciler.ErrFirewallPush), want: ResultHetzner},
		{name: "other", err: errors.New("boom"), want: ResultOtherFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func testReport() *models.SyncReport {
	start := time.Unix(1700000000, 0)
	return &models.SyncReport{
		RunID:     "run-1",
		StartTime: start,
		EndTime:   start.Add(1500 * time.Millisecond),
		IPv4CIDRs: 15,
		IPv6CIDRs: 7,
		Updated:   []string{"fw-1", "fw-2"},
		UpToDate:  []string{"fw-3"},
		Skipped:   []string{"project 1:'fw-x'"},
	}
}

func TestRecorder_Observe(t *testing.T) {
	r := NewRecorder("", nil)

	r.Observe(testReport(), nil)
	r.Observe(testReport(), &scheduler.SkippedError{})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(ResultSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.firewalls.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.firewalls.WithLabelValues("up_to_date")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.firewalls.WithLabelValues("ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.firewalls.WithLabelValues("skipped")))
	assert.Equal(t, 15.0, testutil.ToFloat64(r.cidrs.WithLabelValues("ipv4")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.cidrs.WithLabelValues("ipv6")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.duration))
	assert.Equal(t, 1700000001.0, testutil.ToFloat64(r.lastRun))
	assert.Equal(t, 1700000001.0, testutil.ToFloat64(r.lastSuccess))
}

func TestRecorder_Observe_FailureKeepsLastSuccess(t *testing.T) {
	r := NewRecorder("", nil)

	r.Observe(&models.SyncReport{StartTime: time.Unix(100, 0), EndTime: time.Unix(101, 0)}, nil)
	r.Observe(&models.SyncReport{StartTime: time.Unix(200, 0), EndTime: time.Unix(201, 0)}, client.ErrCIDRFetch)

	assert.Equal(t, 101.0, testutil.ToFloat64(r.lastSuccess))
	assert.Equal(t, 201.0, testutil.ToFloat64(r.lastRun))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(ResultCloudflare)))
}

func TestRecorder_WritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cf_hcloud_fw.prom")
	r := NewRecorder(path, nil)

	r.Observe(testReport(), nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `cf_hcloud_fw_runs_total{result="success"} 1`)
	assert.Contains(t, out, `cf_hcloud_fw_firewalls{state="updated"} 2`)
	assert.Contains(t, out, `cf_hcloud_fw_cloudflare_cidrs{family="ipv4"} 15`)
	assert.Contains(t, out, "cf_hcloud_fw_last_run_duration_seconds 1.5")
}

func TestRecorder_FlushWithoutPath(t *testing.T) {
	assert.NoError(t, NewRecorder("", nil).Flush())
}

func TestRecorder_FlushError(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "missing", "metrics.prom"), nil)
	assert.Error(t, r.Flush())

	// Observe only logs the failure.
	r.Observe(testReport(), nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(ResultSuccess)))
}
