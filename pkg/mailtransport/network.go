// Package mailtransport implements mfa.Sender over email and SMS, adapting
// the teacher's internal/mailer (SSRF-hardened SMTP delivery) and
// internal/notify (a simpler transactional mailer) into the single
// Send(ctx, to, code string) error contract the MFA Engine calls against.
package mailtransport

import (
	"fmt"
	"net"
	"strings"
)

// validateSMTPHost blocks connections to private networks, localhost, and
// link-local addresses, re-resolved and re-checked on every send (not just
// at configuration time) so a hostname repointed at an internal address
// after startup is refused. The send then dials by hostname, which resolves
// again, so a repoint between this check and the dial is not caught.
// Grounded in the teacher's
// internal/mailer/network_validator.go ValidateSMTPHost.
func validateSMTPHost(host string) error {
	host = strings.ToLower(strings.TrimSpace(host))

	for _, blocked := range []string{"localhost", "0.0.0.0", "127.0.0.1", "::1", "[::1]", "ip6-localhost", "ip6-loopback"} {
		if host == blocked {
			return fmt.Errorf("mailtransport: localhost connections forbidden")
		}
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("mailtransport: hostname resolution failed")
	}
	if len(ips) == 0 {
		return fmt.Errorf("mailtransport: hostname resolves to no IP addresses")
	}

	for _, ip := range ips {
		if err := validatePublicIP(ip); err != nil {
			return fmt.Errorf("mailtransport: connection to private network blocked")
		}
	}
	return nil
}

func validatePublicIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("mailtransport: blocked address range")
	}

	// net.IP's Is* helpers cover the common cases; the explicit CIDR list
	// below is defense-in-depth for ranges (CG-NAT, IETF reserved blocks)
	// those helpers don't classify.
	for _, block := range []string{
		"100.64.0.0/10",   // RFC 6598 (carrier-grade NAT)
		"169.254.0.0/16",  // RFC 3927 (link-local, cloud metadata API)
		"192.0.0.0/24",    // RFC 6890 (IETF protocol assignments)
		"192.0.2.0/24",    // RFC 5737 (TEST-NET-1)
		"198.18.0.0/15",   // RFC 2544 (benchmarking)
		"198.51.100.0/24", // RFC 5737 (TEST-NET-2)
		"203.0.113.0/24",  // RFC 5737 (TEST-NET-3)
		"224.0.0.0/4",     // multicast
		"240.0.0.0/4",     // reserved
	} {
		_, cidr, err := net.ParseCIDR(block)
		if err != nil {
			continue
		}
		if cidr.Contains(ip) {
			return fmt.Errorf("mailtransport: blocked CIDR range %s", block)
		}
	}
	return nil
}

// validateSMTPPort restricts connections to the conventional SMTP
// submission ports, closing off port-scanning abuse of an SMTP sender
// aimed at arbitrary internal services.
func validateSMTPPort(port int) error {
	switch port {
	case 25, 465, 587, 2525:
		return nil
	default:
		return fmt.Errorf("mailtransport: non-standard SMTP port blocked")
	}
}
