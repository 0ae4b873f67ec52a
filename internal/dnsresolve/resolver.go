// Package dnsresolve resolves a domain's mail hosts: an MX lookup with
// an A/AAAA fallback when no MX records exist, tagged by status so
// callers can distinguish NXDOMAIN and timeouts from an ordinary
// lookup failure.
package dnsresolve

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Status classifies the outcome of a mail host resolution.
type Status int

const (
	MXFound Status = iota
	FallbackARecord
	NXDomain
	Timeout
	Failure
)

func (s Status) String() string {
	switch s {
	case MXFound:
		return "MX_FOUND"
	case FallbackARecord:
		return "FALLBACK_A_RECORD"
	case NXDomain:
		return "NXDOMAIN"
	case Timeout:
		return "TIMEOUT"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN_STATUS"
	}
}

// Result is the DnsResolutionResult tagged variant. MailHosts is
// non-empty iff Status is MXFound or FallbackARecord; MailHosts[0] is
// the primary mail host.
type Result struct {
	Status    Status
	MailHosts []string
	Err       error
}

// DefaultServer is used when Resolver.Server is unset. It is expected
// that production deployments override this with their own recursive
// resolver.
const DefaultServer = "8.8.8.8:53"

// Resolver is the reference DNS resolver implementation, backed by
// github.com/miekg/dns rather than net.LookupMX.
type Resolver struct {
	// Server is a "host:port" recursive resolver to query.
	Server string
}

// NewResolver builds a Resolver against server, or DefaultServer when
// server is empty.
func NewResolver(server string) *Resolver {
	if server == "" {
		server = DefaultServer
	}
	return &Resolver{Server: server}
}

// Resolve queries MX records for domain; if none are found (and the
// domain exists), it falls back to an A/AAAA lookup of the domain
// itself. NXDOMAIN and timeout are surfaced as distinct statuses from a
// generic failure.
func (r *Resolver) Resolve(domain string, timeout time.Duration) Result {
	client := &dns.Client{Timeout: timeout}
	fqdn := dns.Fqdn(domain)

	mxMsg, mxErr := exchange(client, r.Server, fqdn, dns.TypeMX)
	if mxErr != nil {
		return classifyErr(mxErr)
	}
	if mxMsg.Rcode == dns.RcodeNameError {
		return Result{Status: NXDomain, Err: fmt.Errorf("NXDOMAIN for %s", domain)}
	}

	hosts := mxHosts(mxMsg)
	if len(hosts) > 0 {
		return Result{Status: MXFound, MailHosts: hosts}
	}

	aMsg, aErr := exchange(client, r.Server, fqdn, dns.TypeA)
	if aErr != nil {
		return classifyErr(aErr)
	}
	if aMsg.Rcode == dns.RcodeNameError {
		return Result{Status: NXDomain, Err: fmt.Errorf("NXDOMAIN for %s", domain)}
	}
	if hasARecord(aMsg) {
		return Result{Status: FallbackARecord, MailHosts: []string{domain}}
	}

	aaaaMsg, aaaaErr := exchange(client, r.Server, fqdn, dns.TypeAAAA)
	if aaaaErr != nil {
		return classifyErr(aaaaErr)
	}
	if hasARecord(aaaaMsg) {
		return Result{Status: FallbackARecord, MailHosts: []string{domain}}
	}

	return Result{Status: Failure, Err: fmt.Errorf("no MX or A records for %s", domain)}
}

func exchange(client *dns.Client, server, fqdn string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)
	msg.RecursionDesired = true
	resp, _, err := client.Exchange(msg, server)
	return resp, err
}

// mxHosts parses "<pref> <host>" MX answers in arrival order, stripping
// the trailing dot from each hostname. Ties in preference are not
// re-sorted; the resolver's answer order is taken as given.
func mxHosts(msg *dns.Msg) []string {
	var hosts []string
	for _, rr := range msg.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			hosts = append(hosts, strings.TrimSuffix(mx.Mx, "."))
		}
	}
	return hosts
}

func hasARecord(msg *dns.Msg) bool {
	for _, rr := range msg.Answer {
		switch rr.(type) {
		case *dns.A, *dns.AAAA:
			return true
		}
	}
	return false
}

func classifyErr(err error) Result {
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return Result{Status: Timeout, Err: err}
	}
	return Result{Status: Failure, Err: err}
}
