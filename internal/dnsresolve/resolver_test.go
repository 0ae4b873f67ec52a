package dnsresolve

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startFakeDNS runs an in-process DNS server over a local UDP socket
// driven by handler, so Resolve can be exercised without real network
// access.
func startFakeDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := dns.NewServeMux()
	mux.HandleFunc(".", handler)
	srv := &dns.Server{PacketConn: conn, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown(); conn.Close() })
	return conn.LocalAddr().String()
}

func TestResolveMXFound(t *testing.T) {
	addr := startFakeDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		if req.Question[0].Qtype == dns.TypeMX {
			mx := &dns.MX{
				Hdr:        dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeMX, Class: dns.ClassINET, Ttl: 300},
				Preference: 10,
				Mx:         "mail.example.com.",
			}
			m.Answer = append(m.Answer, mx)
		}
		w.WriteMsg(m)
	})
	r := NewResolver(addr)
	result := r.Resolve("example.com", time.Second)
	if result.Status != MXFound {
		t.Fatalf("status = %v, want MXFound", result.Status)
	}
	if len(result.MailHosts) != 1 || result.MailHosts[0] != "mail.example.com" {
		t.Fatalf("mail hosts = %v", result.MailHosts)
	}
}

func TestResolveFallsBackToARecord(t *testing.T) {
	addr := startFakeDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		if req.Question[0].Qtype == dns.TypeA {
			a := &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
				A:   net.ParseIP("93.184.216.34"),
			}
			m.Answer = append(m.Answer, a)
		}
		w.WriteMsg(m)
	})
	r := NewResolver(addr)
	result := r.Resolve("example.com", time.Second)
	if result.Status != FallbackARecord {
		t.Fatalf("status = %v, want FallbackARecord", result.Status)
	}
	if len(result.MailHosts) != 1 || result.MailHosts[0] != "example.com" {
		t.Fatalf("mail hosts = %v", result.MailHosts)
	}
}

func TestResolveNXDomain(t *testing.T) {
	addr := startFakeDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Rcode = dns.RcodeNameError
		w.WriteMsg(m)
	})
	r := NewResolver(addr)
	result := r.Resolve("no-such-domain.invalid", time.Second)
	if result.Status != NXDomain {
		t.Fatalf("status = %v, want NXDomain", result.Status)
	}
}

func TestResolveFailureWhenNoRecordsAtAll(t *testing.T) {
	addr := startFakeDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		w.WriteMsg(m)
	})
	r := NewResolver(addr)
	result := r.Resolve("example.com", time.Second)
	if result.Status != Failure {
		t.Fatalf("status = %v, want Failure", result.Status)
	}
}

func TestResolveTimeout(t *testing.T) {
	// Nothing listening on this address: the query either times out or
	// is refused, so Timeout and Failure are both accepted.
	r := NewResolver("127.0.0.1:1")
	result := r.Resolve("example.com", 200*time.Millisecond)
	if result.Status != Timeout && result.Status != Failure {
		t.Fatalf("status = %v, want Timeout or Failure", result.Status)
	}
}

func TestNewResolverDefaultsServer(t *testing.T) {
	r := NewResolver("")
	if r.Server != DefaultServer {
		t.Fatalf("server = %q, want default", r.Server)
	}
}
