package catchall

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/devyanshu/mailcheck/internal/smtp"
)

// fakeServer starts a one-shot TCP listener that plays back a greeting
// followed by one response per command line it receives, in order.
func fakeServer(t *testing.T, greeting string, responses []string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		conn.Write([]byte(greeting))
		reader := bufio.NewReader(conn)
		for _, resp := range responses {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
			conn.Write([]byte(resp))
		}
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func dialerFor(addr string) Dialer {
	host, port, _ := net.SplitHostPort(addr)
	return func(string) *smtp.Transport {
		t := smtp.NewTransport(host, port, nil)
		t.ConnectTimeout = 2 * time.Second
		t.ReadTimeout = 2 * time.Second
		return t
	}
}

func TestDetectorSelectiveServerNoProbes(t *testing.T) {
	d := NewDetector(Config{ProbeCount: 2, HeloDomain: "h", MailFrom: "f@h"}, dialerFor("127.0.0.1:1"))
	responses := []smtp.Response{{Code: 550, Phase: smtp.PhaseRcptTo}}
	result := d.Analyze("example.com", "mail.example.com", responses)
	if result.Confidence != NotDetected {
		t.Fatalf("got %v, want NotDetected", result.Confidence)
	}
}

func TestDetectorIndeterminateWithoutRcpt(t *testing.T) {
	d := NewDetector(Config{ProbeCount: 2, HeloDomain: "h", MailFrom: "f@h"}, dialerFor("127.0.0.1:1"))
	result := d.Analyze("example.com", "mail.example.com", nil)
	if result.Confidence != CatchAllIndeterminate {
		t.Fatalf("got %v, want CatchAllIndeterminate", result.Confidence)
	}
}

func TestDetectorConfirmedAllProbesAccepted(t *testing.T) {
	addr := fakeServer(t, "220 hi\r\n", []string{
		"250 helo ok\r\n",
		"250 from ok\r\n",
		"250 accepted\r\n",
		"250 accepted\r\n",
		"221 bye\r\n",
	})
	d := NewDetector(Config{ProbeCount: 2, HeloDomain: "h", MailFrom: "f@h"}, dialerFor(addr))
	primary := []smtp.Response{{Code: 250, Phase: smtp.PhaseRcptTo}}
	result := d.Analyze("example.com", addr, primary)
	if result.Confidence != Confirmed {
		t.Fatalf("got %v, want Confirmed", result.Confidence)
	}
}

func TestDetectorNotDetectedWhenAnyProbeRejected(t *testing.T) {
	addr := fakeServer(t, "220 hi\r\n", []string{
		"250 helo ok\r\n",
		"250 from ok\r\n",
		"550 no such user\r\n",
		"250 accepted\r\n",
		"221 bye\r\n",
	})
	d := NewDetector(Config{ProbeCount: 2, HeloDomain: "h", MailFrom: "f@h"}, dialerFor(addr))
	primary := []smtp.Response{{Code: 250, Phase: smtp.PhaseRcptTo}}
	result := d.Analyze("example.com", addr, primary)
	if result.Confidence != NotDetected {
		t.Fatalf("got %v, want NotDetected", result.Confidence)
	}
}

func TestDetectorSuspectedWhenAllProbesFail(t *testing.T) {
	addr := fakeServer(t, "220 hi\r\n", []string{
		"250 helo ok\r\n",
		"250 from ok\r\n",
		"450 try later\r\n",
		"450 try later\r\n",
		"221 bye\r\n",
	})
	d := NewDetector(Config{ProbeCount: 2, HeloDomain: "h", MailFrom: "f@h"}, dialerFor(addr))
	primary := []smtp.Response{{Code: 250, Phase: smtp.PhaseRcptTo}}
	result := d.Analyze("example.com", addr, primary)
	if result.Confidence != Suspected {
		t.Fatalf("got %v, want Suspected", result.Confidence)
	}
}

func TestDetectorUsesCacheOnSecondCall(t *testing.T) {
	addr := fakeServer(t, "220 hi\r\n", []string{
		"250 helo ok\r\n",
		"250 from ok\r\n",
		"250 accepted\r\n",
		"250 accepted\r\n",
		"221 bye\r\n",
	})
	d := NewDetector(Config{ProbeCount: 2, HeloDomain: "h", MailFrom: "f@h", CachingEnabled: true, CacheTTL: time.Hour, MaxCacheSize: 10}, dialerFor(addr))
	primary := []smtp.Response{{Code: 250, Phase: smtp.PhaseRcptTo}}

	first := d.Analyze("example.com", addr, primary)
	if first.Confidence != Confirmed {
		t.Fatalf("first call: got %v", first.Confidence)
	}

	// Second call must not open a new connection: the fake server only
	// accepts once and this would hang/fail if a second dial happened.
	second := d.Analyze("example.com", addr, primary)
	if second.Confidence != Confirmed {
		t.Fatalf("second call: got %v", second.Confidence)
	}
	if d.Stats().Hits != 1 {
		t.Fatalf("cache hits = %d, want 1", d.Stats().Hits)
	}
}

func TestProbeTokensAreDistinct(t *testing.T) {
	seen := make(map[string]struct{})
	tokens := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		tok := probeToken(seen)
		if _, dup := tokens[tok]; dup {
			t.Fatalf("duplicate probe token: %s", tok)
		}
		tokens[tok] = struct{}{}
	}
}
