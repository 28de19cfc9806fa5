package models

// CIDRSet holds Cloudflare's published address ranges.
type CIDRSet struct {
	IPv4CIDRs []string `json:"ipv4_cidrs"`
	IPv6CIDRs []string `json:"ipv6_cidrs"`
}

// All returns the IPv4 ranges followed by the IPv6 ranges. The result is a
// new slice; the two blocks keep their own order and are not merged.
func (s *CIDRSet) All() []string {
	all := make([]string, 0, len(s.IPv4CIDRs)+len(s.IPv6CIDRs))
	all = append(all, s.IPv4CIDRs...)
	return append(all, s.IPv6CIDRs...)
}
