// Package reconciler rewrites the source addresses of Cloudflare-marked
// inbound rules in Hetzner Cloud firewalls.
//
// A rule is managed when it is inbound and its description contains one of
// the marker strings below. Matching is a plain, case-sensitive substring
// search, so a description may carry other text around the markers.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"cf-ips-to-hcloud-fw/internal/config"
	"cf-ips-to-hcloud-fw/internal/logging"
	"cf-ips-to-hcloud-fw/pkg/models"
)

// Description markers.
const (
	MarkerIPv4 = "__CLOUDFLARE_IPS_V4__"
	MarkerIPv6 = "__CLOUDFLARE_IPS_V6__"
	MarkerAll  = "__CLOUDFLARE_IPS__"
)

var (
	ErrFirewallLookup = errors.New("firewall lookup failed")
	ErrFirewallPush   = errors.New("firewall update failed")
)

// FirewallAPI is the part of the Hetzner Cloud API the reconciler needs.
type FirewallAPI interface {
	// GetFirewallByName returns nil and no error when nothing matches.
	GetFirewallByName(ctx context.Context, name string) (*models.Firewall, error)
	SetFirewallRules(ctx context.Context, fw *models.Firewall) error
}

// ClientFactory creates the API client for one project token.
type ClientFactory func(token config.Secret) FirewallAPI

// Outcome is what happened to a single firewall.
type Outcome int

const (
	OutcomeUpToDate Outcome = iota
	OutcomeUpdated
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "up-to-date"
	}
}

// ProjectResult lists the firewalls of a project by outcome. Skipped holds
// labels of the form "project N:'name'" for firewalls that do not exist.
type ProjectResult struct {
	Updated  []string
	UpToDate []string
	Ignored  []string
	Skipped  []string
}

// Reconciler updates the firewalls of projects.
type Reconciler struct {
	newClient ClientFactory
	logger    *slog.Logger
}

// New creates a Reconciler.
func New(newClient ClientFactory, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{newClient: newClient, logger: logger}
}

// SkipLabel identifies a firewall across projects.
func SkipLabel(projectIndex int, name string) string {
	return fmt.Sprintf("project %d:%s", projectIndex, logging.Quote(name))
}

// UpdateProject processes every firewall of the project in listed order. A
// missing firewall is recorded and does not stop processing; any API error
// does.
func (r *Reconciler) UpdateProject(ctx context.Context, project config.Project, cidrs *models.CIDRSet, projectIndex int) (*ProjectResult, error) {
	api := r.newClient(project.Token)
	result := &ProjectResult{}

	for _, name := range project.Firewalls {
		fw, err := api.GetFirewallByName(ctx, name)
		if err != nil {
			return result, fmt.Errorf("%w: hcloud/firewalls.get_by_name failed for %s in project %d: %v",
				ErrFirewallLookup, logging.Quote(name), projectIndex, err)
		}
		if fw == nil {
			r.logger.Warn(fmt.Sprintf("hcloud firewall %s not found in project %d", logging.Quote(name), projectIndex))
			result.Skipped = append(result.Skipped, SkipLabel(projectIndex, name))
			continue
		}

		r.logger.Info(fmt.Sprintf("Inspecting hcloud firewall %s in project %d", logging.Quote(name), projectIndex))
		outcome, err := r.UpdateFirewall(ctx, api, fw, cidrs, projectIndex)
		if err != nil {
			return result, err
		}
		switch outcome {
		case OutcomeUpdated:
			result.Updated = append(result.Updated, name)
		case OutcomeIgnored:
			result.Ignored = append(result.Ignored, name)
		default:
			result.UpToDate = append(result.UpToDate, name)
		}
	}
	return result, nil
}

// UpdateFirewall points every managed rule of fw at the Cloudflare ranges
// and, if any rule changed, writes the whole rule list back in one call.
// Rules keep their order and unmanaged rules are sent back as they were.
func (r *Reconciler) UpdateFirewall(ctx context.Context, api FirewallAPI, fw *models.Firewall, cidrs *models.CIDRSet, projectIndex int) (Outcome, error) {
	name := logging.Quote(fw.Name)
	if !fw.HasRules() {
		r.logger.Warn(fmt.Sprintf("hcloud firewall %s in project %d has no rules - ignoring it", name, projectIndex))
		return OutcomeIgnored, nil
	}

	dirty := false
	for i := range fw.Rules {
		rule := &fw.Rules[i]
		desc := rule.DescriptionText()
		if !rule.IsInbound() || desc == "" {
			continue
		}
		ipv4 := strings.Contains(desc, MarkerAll) || strings.Contains(desc, MarkerIPv4)
		ipv6 := strings.Contains(desc, MarkerAll) || strings.Contains(desc, MarkerIPv6)
		if r.updateRule(fw, rule, cidrs, ipv4, ipv6, projectIndex) {
			dirty = true
		}
	}

	if !dirty {
		r.logger.Info(fmt.Sprintf("hcloud firewall %s in project %d already up-to-date", name, projectIndex))
		return OutcomeUpToDate, nil
	}

	r.logger.Info(fmt.Sprintf("Updating rules for hcloud firewall %s in project %d", name, projectIndex))
	if err := api.SetFirewallRules(ctx, fw); err != nil {
		return OutcomeUpdated, fmt.Errorf("%w: hcloud/firewall.set_rules failed for %s in project %d: %v",
			ErrFirewallPush, name, projectIndex, err)
	}
	return OutcomeUpdated, nil
}

// updateRule sets the rule's sources for the requested families and
// reports whether they changed.
func (r *Reconciler) updateRule(fw *models.Firewall, rule *models.FirewallRule, cidrs *models.CIDRSet, ipv4, ipv6 bool, projectIndex int) bool {
	var (
		want []string
		kind string
	)
	switch {
	case ipv4 && ipv6:
		want, kind = cidrs.All(), "IPv4+IPv6"
	case ipv4:
		want, kind = cidrs.IPv4CIDRs, "IPv4"
	case ipv6:
		want, kind = cidrs.IPv6CIDRs, "IPv6"
	default:
		return false
	}

	label := fmt.Sprintf("%s/%s", logging.Quote(fw.Name), logging.Quote(rule.DescriptionText()))
	if slices.Equal(rule.SourceIPs, want) {
		r.logger.Debug(fmt.Sprintf("%s already up-to-date in project %d", label, projectIndex))
		return false
	}
	rule.SourceIPs = slices.Clone(want)
	r.logger.Debug(fmt.Sprintf("Updating %s with %s addresses in project %d", label, kind, projectIndex))
	return true
}
