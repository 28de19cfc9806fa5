package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/cloudflare/cloudflare-go"

	"cf-ips-to-hcloud-fw/pkg/models"
)

var (
	ErrCIDRFetch      = errors.New("error getting Cloudflare IPs")
	ErrCIDRValidation = errors.New("Cloudflare IP ranges didn't validate")
)

// IPRangesFunc retrieves Cloudflare's published IP ranges.
type IPRangesFunc func() (cloudflare.IPRanges, error)

// CloudflareClient fetches the address ranges Cloudflare proxies from.
type CloudflareClient struct {
	fetch IPRangesFunc
}

// NewCloudflareClient returns a client backed by Cloudflare's public
// IP-ranges endpoint. The endpoint needs no credentials.
func NewCloudflareClient() *CloudflareClient {
	return NewCloudflareClientWithFunc(cloudflare.IPs)
}

// NewCloudflareClientWithFunc returns a client that gets its ranges from fetch.
func NewCloudflareClientWithFunc(fetch IPRangesFunc) *CloudflareClient {
	return &CloudflareClient{fetch: fetch}
}

// FetchCIDRs downloads, validates and sorts the current ranges.
func (c *CloudflareClient) FetchCIDRs(ctx context.Context) (*models.CIDRSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCIDRFetch, err)
	}

	ranges, err := c.fetch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCIDRFetch, err)
	}
	if len(ranges.IPv4CIDRs) == 0 && len(ranges.IPv6CIDRs) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrCIDRFetch)
	}

	set := &models.CIDRSet{
		IPv4CIDRs: slices.Clone(ranges.IPv4CIDRs),
		IPv6CIDRs: slices.Clone(ranges.IPv6CIDRs),
	}
	if err := validateCIDRs(set); err != nil {
		return nil, err
	}

	slices.Sort(set.IPv4CIDRs)
	slices.Sort(set.IPv6CIDRs)
	return set, nil
}

// validateCIDRs checks that every entry is a network of the right family and
// rewrites it in canonical prefix form.
func validateCIDRs(set *models.CIDRSet) error {
	if len(set.IPv4CIDRs) == 0 {
		return fmt.Errorf("%w: ipv4_cidrs is empty", ErrCIDRValidation)
	}
	if len(set.IPv6CIDRs) == 0 {
		return fmt.Errorf("%w: ipv6_cidrs is empty", ErrCIDRValidation)
	}
	for i, cidr := range set.IPv4CIDRs {
		network, err := parseNetwork(cidr, true)
		if err != nil {
			return fmt.Errorf("%w: ipv4_cidrs: %v", ErrCIDRValidation, err)
		}
		set.IPv4CIDRs[i] = network
	}
	for i, cidr := range set.IPv6CIDRs {
		network, err := parseNetwork(cidr, false)
		if err != nil {
			return fmt.Errorf("%w: ipv6_cidrs: %v", ErrCIDRValidation, err)
		}
		set.IPv6CIDRs[i] = network
	}
	return nil
}

// parseNetwork returns cidr in canonical form. A bare address is a
// single-host network.
func parseNetwork(cidr string, ipv4 bool) (string, error) {
	var prefix netip.Prefix
	if strings.Contains(cidr, "/") {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return "", fmt.Errorf("%q is not a valid network: %v", cidr, err)
		}
		prefix = p
	} else {
		addr, err := netip.ParseAddr(cidr)
		if err != nil || addr.Zone() != "" {
			return "", fmt.Errorf("%q is not a valid network", cidr)
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	addr := prefix.Addr()
	if ipv4 && !addr.Is4() {
		return "", fmt.Errorf("%q is not an IPv4 network", cidr)
	}
	if !ipv4 && !addr.Is6() {
		return "", fmt.Errorf("%q is not an IPv6 network", cidr)
	}
	if prefix.Masked() != prefix {
		return "", fmt.Errorf("%q has host bits set", cidr)
	}
	return prefix.String(), nil
}
