package catchall

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devyanshu/mailcheck/internal/smtp"
)

// Config holds the detector's constructor parameters.
type Config struct {
	ProbeCount     int // [1,5], default 2
	HeloDomain     string
	MailFrom       string
	CachingEnabled bool
	CacheTTL       time.Duration
	MaxCacheSize   int
}

// DefaultConfig returns the documented defaults, leaving
// HeloDomain/MailFrom for the caller to fill in (they are required).
func DefaultConfig() Config {
	return Config{
		ProbeCount:     2,
		CachingEnabled: true,
		CacheTTL:       time.Hour,
		MaxCacheSize:   10000,
	}
}

// Dialer constructs a fresh transport bound to a mail host; injected so
// tests can substitute an in-memory transport.
type Dialer func(mailHost string) *smtp.Transport

// Detector performs multi-probe catch-all behavioral analysis with a
// domain-scoped result cache.
type Detector struct {
	cfg   Config
	cache *Cache
	dial  Dialer
}

// NewDetector builds a Detector. ProbeCount defaults to 2 when zero or
// negative and is capped at 5.
func NewDetector(cfg Config, dial Dialer) *Detector {
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = 2
	}
	if cfg.ProbeCount > 5 {
		cfg.ProbeCount = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 10000
	}
	return &Detector{
		cfg:   cfg,
		cache: NewCache(cfg.CacheTTL, cfg.MaxCacheSize, cfg.CachingEnabled),
		dial:  dial,
	}
}

// Stats exposes the cache's observable statistics.
func (d *Detector) Stats() Stats { return d.cache.Stats() }

// Analyze inspects the primary verification's RCPT_TO response and, if
// warranted, opens a second session to probe for catch-all behavior.
// primaryResponses is the pipeline's already-collected response list;
// mailHost is the same host the primary session talked to.
func (d *Detector) Analyze(domain, mailHost string, primaryResponses []smtp.Response) Result {
	rcpt, ok := findRcpt(primaryResponses)

	// Step 1: single-probe pre-analysis on the primary RCPT_TO response.
	switch {
	case !ok:
		return Result{Confidence: CatchAllIndeterminate, Diagnostic: "no RCPT_TO response to analyze"}
	case rcpt.Code >= 500 && rcpt.Code < 600:
		result := Result{Confidence: NotDetected, Diagnostic: "server is selective"}
		d.cache.Put(domain, result)
		return result
	case rcpt.Code >= 200 && rcpt.Code < 300:
		// continue to the batched probe session below
	default:
		return Result{Confidence: CatchAllIndeterminate, Diagnostic: "ambiguous primary RCPT_TO response"}
	}

	// Step 2: cache lookup.
	if cached, found := d.cache.Get(domain); found {
		return cached
	}

	// Step 3-5: batched probe session + aggregation.
	result := d.runProbeSession(domain, mailHost)

	// Step 6: cache unless INDETERMINATE.
	d.cache.Put(domain, result)
	return result
}

type probeOutcome int

const (
	probeAccepted probeOutcome = iota
	probeRejected
	probeFailed
)

func (d *Detector) runProbeSession(domain, mailHost string) Result {
	transport := d.dial(mailHost)
	if err := transport.Connect(); err != nil {
		return allFailed()
	}
	defer transport.Close()

	if code, _, err := transport.ReadResponse(); err != nil || code/100 != 2 {
		return allFailed()
	}

	if code, _, err := roundTrip(transport, fmt.Sprintf("HELO %s", d.cfg.HeloDomain)); err != nil || code/100 != 2 {
		return allFailed()
	}

	if code, _, err := roundTrip(transport, fmt.Sprintf("MAIL FROM:<%s>", d.cfg.MailFrom)); err != nil || code/100 != 2 {
		return allFailed()
	}

	outcomes := make([]probeOutcome, 0, d.cfg.ProbeCount)
	tokens := make(map[string]struct{}, d.cfg.ProbeCount)
	for i := 0; i < d.cfg.ProbeCount; i++ {
		probeAddr := fmt.Sprintf("probe-%s@%s", probeToken(tokens), domain)
		code, _, err := roundTrip(transport, fmt.Sprintf("RCPT TO:<%s>", probeAddr))
		outcomes = append(outcomes, classifyProbe(code, err))
	}

	transport.SendCommand("QUIT")
	transport.ReadResponse()

	return aggregate(outcomes)
}

// probeToken mints a pairwise-distinct, collision-negligible local
// part: a v4 UUID with dashes stripped.
func probeToken(seen map[string]struct{}) string {
	for {
		tok := strings.ReplaceAll(uuid.New().String(), "-", "")
		if _, dup := seen[tok]; !dup {
			seen[tok] = struct{}{}
			return tok
		}
	}
}

func roundTrip(t *smtp.Transport, cmd string) (int, string, error) {
	if err := t.SendCommand(cmd); err != nil {
		return smtp.NoResponseCode, "", err
	}
	return t.ReadResponse()
}

func classifyProbe(code int, err error) probeOutcome {
	if err != nil {
		return probeFailed
	}
	switch {
	case code >= 200 && code < 300:
		return probeAccepted
	case code >= 500 && code < 600:
		return probeRejected
	default:
		return probeFailed
	}
}

func aggregate(outcomes []probeOutcome) Result {
	var accepted, rejected, failed int
	for _, o := range outcomes {
		switch o {
		case probeAccepted:
			accepted++
		case probeRejected:
			rejected++
		case probeFailed:
			failed++
		}
	}
	total := len(outcomes)

	switch {
	case rejected > 0:
		return Result{Confidence: NotDetected, Diagnostic: "server is selective"}
	case accepted == total:
		return Result{Confidence: Confirmed, Diagnostic: "all probes accepted"}
	case failed == total:
		return Result{Confidence: Suspected, Diagnostic: "probes failed to complete"}
	default:
		return Result{Confidence: Suspected, Diagnostic: "mixed probe outcomes"}
	}
}

func allFailed() Result {
	return Result{Confidence: Suspected, Diagnostic: "probes failed to complete"}
}

func findRcpt(responses []smtp.Response) (smtp.Response, bool) {
	for _, r := range responses {
		if r.Phase == smtp.PhaseRcptTo {
			return r, true
		}
	}
	return smtp.Response{}, false
}
