package client

import (
	"context"
	"fmt"
	"net"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"cf-ips-to-hcloud-fw/pkg/models"
)

// ApplicationName is sent to the Hetzner Cloud API with every request.
const ApplicationName = "cf-ips-to-hcloud-fw"

// HetznerClient talks to the firewall API of one Hetzner Cloud project.
type HetznerClient struct {
	client *hcloud.Client
}

// Option customizes a HetznerClient.
type Option func(*[]hcloud.ClientOption)

// WithEndpoint points the client at a different API base URL.
func WithEndpoint(endpoint string) Option {
	return func(opts *[]hcloud.ClientOption) {
		*opts = append(*opts, hcloud.WithEndpoint(endpoint))
	}
}

// NewHetznerClient creates a client authenticated with the project token.
func NewHetznerClient(token, version string, options ...Option) *HetznerClient {
	opts := []hcloud.ClientOption{
		hcloud.WithToken(token),
		hcloud.WithApplication(ApplicationName, version),
	}
	for _, o := range options {
		o(&opts)
	}
	return &HetznerClient{client: hcloud.NewClient(opts...)}
}

// GetFirewallByName looks up a firewall. It returns nil and no error when
// the project has no firewall with that name.
func (c *HetznerClient) GetFirewallByName(ctx context.Context, name string) (*models.Firewall, error) {
	fw, _, err := c.client.Firewall.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if fw == nil {
		return nil, nil
	}
	return firewallFromAPI(fw), nil
}

// SetFirewallRules replaces the complete rule list of fw in a single call.
func (c *HetznerClient) SetFirewallRules(ctx context.Context, fw *models.Firewall) error {
	rules, err := rulesToAPI(fw.Rules)
	if err != nil {
		return err
	}
	_, _, err = c.client.Firewall.SetRules(ctx, &hcloud.Firewall{ID: fw.ID}, hcloud.FirewallSetRulesOpts{
		Rules: rules,
	})
	return err
}

func firewallFromAPI(fw *hcloud.Firewall) *models.Firewall {
	out := &models.Firewall{
		ID:    fw.ID,
		Name:  fw.Name,
		Rules: make([]models.FirewallRule, 0, len(fw.Rules)),
	}
	for _, r := range fw.Rules {
		out.Rules = append(out.Rules, models.FirewallRule{
			Direction:      string(r.Direction),
			Protocol:       string(r.Protocol),
			Port:           r.Port,
			Description:    r.Description,
			SourceIPs:      networksToStrings(r.SourceIPs),
			DestinationIPs: networksToStrings(r.DestinationIPs),
		})
	}
	return out
}

func rulesToAPI(rules []models.FirewallRule) ([]hcloud.FirewallRule, error) {
	out := make([]hcloud.FirewallRule, 0, len(rules))
	for i, r := range rules {
		src, err := stringsToNetworks(r.SourceIPs)
		if err != nil {
			return nil, fmt.Errorf("rule %d: source_ips: %w", i+1, err)
		}
		dst, err := stringsToNetworks(r.DestinationIPs)
		if err != nil {
			return nil, fmt.Errorf("rule %d: destination_ips: %w", i+1, err)
		}
		out = append(out, hcloud.FirewallRule{
			Direction:      hcloud.FirewallRuleDirection(r.Direction),
			Protocol:       hcloud.FirewallRuleProtocol(r.Protocol),
			Port:           r.Port,
			Description:    r.Description,
			SourceIPs:      src,
			DestinationIPs: dst,
		})
	}
	return out, nil
}

func networksToStrings(nets []net.IPNet) []string {
	out := make([]string, 0, len(nets))
	for _, n := range nets {
		out = append(out, n.String())
	}
	return out
}

func stringsToNetworks(cidrs []string) ([]net.IPNet, error) {
	out := make([]net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}
