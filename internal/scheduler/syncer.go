package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cf-ips-to-hcloud-fw/internal/config"
	"cf-ips-to-hcloud-fw/internal/logging"
	"cf-ips-to-hcloud-fw/internal/reconciler"
	"cf-ips-to-hcloud-fw/pkg/models"
)

// CIDRSource provides the current Cloudflare ranges.
type CIDRSource interface {
	FetchCIDRs(ctx context.Context) (*models.CIDRSet, error)
}

// SkippedError reports firewalls that were not found. It is returned only
// after every project has been processed.
type SkippedError struct {
	Firewalls []string
}

func (e *SkippedError) Error() string {
	return "Some firewalls have been skipped: " + strings.Join(e.Firewalls, ", ")
}

// Syncer performs one synchronization of all projects.
type Syncer struct {
	projects   []config.Project
	source     CIDRSource
	reconciler *reconciler.Reconciler
	logger     *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(projects []config.Project, source CIDRSource, r *reconciler.Reconciler, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Syncer{
		projects:   projects,
		source:     source,
		reconciler: r,
		logger:     logger,
	}
}

// RunOnce fetches the Cloudflare ranges once and reconciles every project
// in order, numbering projects from 1. API errors abort immediately; missing
// firewalls are collected and returned as a *SkippedError at the end. The
// report is always returned, even on error.
func (s *Syncer) RunOnce(ctx context.Context) (*models.SyncReport, error) {
	report := &models.SyncReport{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	defer func() {
		report.EndTime = time.Now()
	}()

	log := s.logger.With("run_id", report.RunID)

	cidrs, err := s.source.FetchCIDRs(ctx)
	if err != nil {
		return report, err
	}
	report.IPv4CIDRs = len(cidrs.IPv4CIDRs)
	report.IPv6CIDRs = len(cidrs.IPv6CIDRs)
	log.Info("Got Cloudflare IPs", "ipv4", report.IPv4CIDRs, "ipv6", report.IPv6CIDRs)
	log.Debug(fmt.Sprintf("Cloudflare CIDRs: ipv4_cidrs=%v ipv6_cidrs=%v", cidrs.IPv4CIDRs, cidrs.IPv6CIDRs))

	for i, project := range s.projects {
		result, err := s.reconciler.UpdateProject(ctx, project, cidrs, i+1)
		if result != nil {
			report.Updated = append(report.Updated, result.Updated...)
			report.UpToDate = append(report.UpToDate, result.UpToDate...)
			report.Ignored = append(report.Ignored, result.Ignored...)
			report.Skipped = append(report.Skipped, result.Skipped...)
		}
		if err != nil {
			return report, err
		}
	}

	if len(report.Skipped) > 0 {
		return report, &SkippedError{Firewalls: report.Skipped}
	}
	log.Info("Sync finished",
		"updated", len(report.Updated),
		"up_to_date", len(report.UpToDate),
		"ignored", len(report.Ignored))
	return report, nil
}
