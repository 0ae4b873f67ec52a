package verify

import (
	"fmt"
	"time"

	"github.com/devyanshu/mailcheck/internal/catchall"
	"github.com/devyanshu/mailcheck/internal/dnsresolve"
	"github.com/devyanshu/mailcheck/internal/smtp"
	"github.com/devyanshu/mailcheck/internal/syntaxcheck"
)

// Config is the pipeline's configuration.
type Config struct {
	HeloDomain         string
	MailFrom           string
	DNSTimeout         time.Duration
	SMTPConnectTimeout time.Duration
	SMTPReadTimeout    time.Duration
	ProbeCount         int
	CachingEnabled     bool
	CacheTTL           time.Duration
	MaxCacheSize       int
	Proxy              *smtp.ProxyConfig
}

// DefaultConfig returns the documented defaults; HeloDomain and
// MailFrom are required and left blank.
func DefaultConfig() Config {
	return Config{
		DNSTimeout:         5 * time.Second,
		SMTPConnectTimeout: smtp.DefaultConnectTimeout,
		SMTPReadTimeout:    smtp.DefaultReadTimeout,
		ProbeCount:         2,
		CachingEnabled:     true,
		CacheTTL:           time.Hour,
		MaxCacheSize:       10000,
	}
}

// SyntaxValidator is the interface the pipeline consumes for syntax
// checking.
type SyntaxValidator interface {
	Validate(address string) syntaxcheck.Result
}

// DNSResolver is the interface the pipeline consumes for mail host
// resolution.
type DNSResolver interface {
	Resolve(domain string, timeout time.Duration) dnsresolve.Result
}

// Pipeline fuses syntax, DNS, SMTP, and behavioral signals into a
// single classification under a conservative interpretation policy. It
// owns exactly one transport per call and releases it before returning
// on every exit path.
type Pipeline struct {
	cfg      Config
	syntax   SyntaxValidator
	dns      DNSResolver
	detector *catchall.Detector

	// dialPrimary builds the transport for the primary verification
	// session. Defaults to a real Transport bound to smtp.DefaultPort;
	// overridable in tests the same way the detector's Dialer is.
	dialPrimary func(mailHost string) *smtp.Transport
}

// NewPipeline wires a Pipeline from its collaborators. detectorDial
// builds a fresh transport bound to a mail host for the catch-all
// detector's independent probe session.
func NewPipeline(cfg Config, syntax SyntaxValidator, dns DNSResolver, detectorDial catchall.Dialer) *Pipeline {
	detCfg := catchall.Config{
		ProbeCount:     cfg.ProbeCount,
		HeloDomain:     cfg.HeloDomain,
		MailFrom:       cfg.MailFrom,
		CachingEnabled: cfg.CachingEnabled,
		CacheTTL:       cfg.CacheTTL,
		MaxCacheSize:   cfg.MaxCacheSize,
	}
	p := &Pipeline{
		cfg:      cfg,
		syntax:   syntax,
		dns:      dns,
		detector: catchall.NewDetector(detCfg, detectorDial),
	}
	p.dialPrimary = func(mailHost string) *smtp.Transport {
		tr := smtp.NewTransport(mailHost, smtp.DefaultPort, p.cfg.Proxy)
		tr.ConnectTimeout = p.cfg.SMTPConnectTimeout
		tr.ReadTimeout = p.cfg.SMTPReadTimeout
		return tr
	}
	return p
}

// CacheStats exposes the detector's cache statistics.
func (p *Pipeline) CacheStats() catchall.Stats { return p.detector.Stats() }

// Verify runs the full staged pipeline for address, failing fast at
// the first stage that cannot proceed.
func (p *Pipeline) Verify(address string) Result {
	syn := p.syntax.Validate(address)
	if !syn.Valid {
		return Result{
			Status:             Invalid,
			SyntaxValid:        false,
			DomainResolvable:   false,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.NotDetected,
			Diagnostic:         "Invalid email syntax",
		}
	}

	dnsResult := p.dns.Resolve(syn.Domain, p.cfg.DNSTimeout)
	if len(dnsResult.MailHosts) == 0 {
		return Result{
			Status:             Invalid,
			SyntaxValid:        true,
			DomainResolvable:   false,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.NotDetected,
			Diagnostic:         "Domain has no valid MX/A mail hosts",
		}
	}
	mailHost := dnsResult.MailHosts[0]

	transport := p.dialPrimary(mailHost)

	if err := transport.Connect(); err != nil {
		return Result{
			Status:             Unknown,
			SyntaxValid:        true,
			DomainResolvable:   true,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.CatchAllIndeterminate,
			Diagnostic:         fmt.Sprintf("SMTP transport failure: %v", err),
		}
	}

	session := &smtp.Session{Transport: transport, HeloDomain: p.cfg.HeloDomain, MailFrom: p.cfg.MailFrom}
	responses, sessionErr := session.Verify(address)
	transport.Close()

	if sessionErr != nil {
		return Result{
			Status:             Unknown,
			SyntaxValid:        true,
			DomainResolvable:   true,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.CatchAllIndeterminate,
			Diagnostic:         fmt.Sprintf("SMTP transport failure: %v", sessionErr),
		}
	}

	interp := smtp.Interpret(responses)

	switch interp.Outcome {
	case smtp.Accepted:
		caResult := p.detector.Analyze(syn.Domain, mailHost, responses)
		if caResult.Confidence == catchall.Confirmed {
			return Result{
				Status:             CatchAll,
				SyntaxValid:        true,
				DomainResolvable:   true,
				SMTPAccepted:       true,
				CatchAllConfidence: caResult.Confidence,
				Diagnostic:         caResult.Diagnostic,
			}
		}
		return Result{
			Status:             Valid,
			SyntaxValid:        true,
			DomainResolvable:   true,
			SMTPAccepted:       true,
			CatchAllConfidence: caResult.Confidence,
			Diagnostic:         caResult.Diagnostic,
		}
	case smtp.Rejected:
		return Result{
			Status:             Invalid,
			SyntaxValid:        true,
			DomainResolvable:   true,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.NotDetected,
			Diagnostic:         fmt.Sprintf("SMTP rejected RCPT TO: %s", rcptDiagnostic(responses)),
		}
	default: // smtp.Indeterminate
		return Result{
			Status:             Unknown,
			SyntaxValid:        true,
			DomainResolvable:   true,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.CatchAllIndeterminate,
			Diagnostic:         interp.Diagnostic,
		}
	}
}

// rcptDiagnostic renders the RCPT_TO response (if any) as "<code>
// <message>" for inclusion in an INVALID diagnostic.
func rcptDiagnostic(responses []smtp.Response) string {
	for _, r := range responses {
		if r.Phase == smtp.PhaseRcptTo {
			return fmt.Sprintf("%d %s", r.Code, r.Message)
		}
	}
	return "no RCPT_TO response"
}
