// Package verify orchestrates syntax, DNS, SMTP, and catch-all
// detection into a single, conservatively-classified verification
// result.
package verify

import "github.com/devyanshu/mailcheck/internal/catchall"

// Status is the final classification of an address.
type Status int

const (
	Valid Status = iota
	CatchAll
	Invalid
	Unknown
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "VALID"
	case CatchAll:
		return "CATCH_ALL"
	case Invalid:
		return "INVALID"
	case Unknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN_STATUS"
	}
}

// Result is the final verification outcome. Its invariants are
// enforced by construction in Pipeline.Verify, not by validation here:
//
//	status=VALID     => syntax_valid && domain_resolvable && smtp_accepted && catch_all_confidence != CONFIRMED
//	status=CATCH_ALL => syntax_valid && domain_resolvable && smtp_accepted && catch_all_confidence == CONFIRMED
//	status=INVALID   => !smtp_accepted
//	status=UNKNOWN   => catch_all_confidence == INDETERMINATE
type Result struct {
	Status             Status
	SyntaxValid        bool
	DomainResolvable   bool
	SMTPAccepted       bool
	CatchAllConfidence catchall.Confidence
	Diagnostic         string
}
