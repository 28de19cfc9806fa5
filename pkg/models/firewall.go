package models

import (
	"slices"
	"time"
)

// Rule directions as used by the Hetzner Cloud API.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// FirewallRule is a single rule of a Hetzner Cloud firewall.
//
// Mirrors every field of a Hetzner Cloud firewall rule so that rules which are
// not managed here can be written back unchanged.
type FirewallRule struct {
	Direction      string   `json:"direction"`
	Protocol       string   `json:"protocol"`
	Port           *string  `json:"port,omitempty"`
	Description    *string  `json:"description,omitempty"`
	SourceIPs      []string `json:"source_ips"`
	DestinationIPs []string `json:"destination_ips"`
}

// IsInbound reports whether the rule applies to incoming traffic.
func (r *FirewallRule) IsInbound() bool {
	return r.Direction == DirectionIn
}

// DescriptionText returns the description, or "" when the rule has none.
func (r *FirewallRule) DescriptionText() string {
	if r.Description == nil {
		return ""
	}
	return *r.Description
}

// Firewall is a Hetzner Cloud firewall and its rules.
type Firewall struct {
	ID    int64          `json:"id"`
	Name  string         `json:"name"`
	Rules []FirewallRule `json:"rules"`
}

// HasRules reports whether the firewall carries at least one rule.
func (f *Firewall) HasRules() bool {
	return len(f.Rules) > 0
}

// Clone returns a deep copy of the firewall.
func (f *Firewall) Clone() *Firewall {
	out := &Firewall{ID: f.ID, Name: f.Name}
	if f.Rules != nil {
		out.Rules = make([]FirewallRule, len(f.Rules))
		for i, r := range f.Rules {
			r.SourceIPs = slices.Clone(r.SourceIPs)
			r.DestinationIPs = slices.Clone(r.DestinationIPs)
			out.Rules[i] = r
		}
	}
	return out
}

// SyncReport summarizes one synchronization run.
type SyncReport struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	IPv4CIDRs int       `json:"ipv4_cidrs"`
	IPv6CIDRs int       `json:"ipv6_cidrs"`
	Updated   []string  `json:"updated"`
	UpToDate  []string  `json:"up_to_date"`
	Ignored   []string  `json:"ignored"`
	Skipped   []string  `json:"skipped"`
}

// Duration returns how long the run took. Zero while the run is in progress.
func (r *SyncReport) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
