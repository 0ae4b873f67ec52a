package smtp

// Outcome is the interpreter's classification of an SMTP dialogue.
type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	Indeterminate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "ACCEPTED"
	case Rejected:
		return "REJECTED"
	case Indeterminate:
		return "INDETERMINATE"
	default:
		return "UNKNOWN_OUTCOME"
	}
}

// VerificationResult is the interpreter's output: an outcome, the phase
// whose response decided it, and an optional diagnostic.
type VerificationResult struct {
	Outcome       Outcome
	DecisivePhase *Phase
	Diagnostic    string
}

// Interpret classifies a phase-tagged response list into
// {ACCEPTED, REJECTED, INDETERMINATE}. It is a pure function: the same
// input always yields the same output, and it never mutates its
// argument.
//
// Rules, in order: RCPT_TO is authoritative when present — earlier
// rejections are blocks (anti-verification), not evidence about the
// mailbox. Only absent a RCPT_TO response do we fall back to walking
// GREETING/HELO/MAIL_FROM looking for a block.
func Interpret(responses []Response) VerificationResult {
	if len(responses) == 0 {
		return VerificationResult{Outcome: Indeterminate, Diagnostic: "Empty response collection"}
	}

	if rcpt, ok := findPhase(responses, PhaseRcptTo); ok {
		return interpretRcptTo(rcpt)
	}

	for _, phase := range []Phase{PhaseGreeting, PhaseHelo, PhaseMailFrom} {
		resp, ok := findPhase(responses, phase)
		if !ok {
			continue
		}
		if resp.CodeClass() < 2 || resp.CodeClass() >= 4 {
			p := phase
			return VerificationResult{
				Outcome:       Indeterminate,
				DecisivePhase: &p,
				Diagnostic:    "blocked at " + phase.String(),
			}
		}
	}

	last := responses[len(responses)-1]
	p := last.Phase
	return VerificationResult{Outcome: Indeterminate, DecisivePhase: &p}
}

func interpretRcptTo(r Response) VerificationResult {
	p := PhaseRcptTo
	switch {
	case r.Code >= 200 && r.Code < 300:
		return VerificationResult{Outcome: Accepted, DecisivePhase: &p}
	case r.Code >= 400 && r.Code < 500:
		return VerificationResult{Outcome: Indeterminate, DecisivePhase: &p, Diagnostic: "transient failure"}
	case r.Code >= 500 && r.Code < 600:
		return VerificationResult{Outcome: Rejected, DecisivePhase: &p}
	default:
		return VerificationResult{Outcome: Indeterminate, DecisivePhase: &p}
	}
}

func findPhase(responses []Response, phase Phase) (Response, bool) {
	for _, r := range responses {
		if r.Phase == phase {
			return r, true
		}
	}
	return Response{}, false
}
