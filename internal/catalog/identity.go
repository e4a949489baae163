package catalog

import (
	"strings"

	"github.com/roach88/procrecon/internal/ir"
)

// IdentityAssessment is the outcome of ranking a candidate's identity.
type IdentityAssessment struct {
	Signal      ir.IdentitySignal
	Confidence  float64 // candidate confidence capped by the signal's cap
	CandidateID string  // supplied or derived; empty when no signal exists
	High        bool    // usable as a merge key
}

// AssessIdentity ranks the identity signals of a candidate and decides
// whether its candidate id may serve as a merge key. A first name alone
// never qualifies, whatever confidence the upstream stage reported.
func (c *Catalog) AssessIdentity(id ir.CandidateIdentity) IdentityAssessment {
	rules := c.Identity
	a := IdentityAssessment{Signal: ir.SignalNone, CandidateID: strings.TrimSpace(id.CandidateID)}

	var limit float64
	switch tokens := len(strings.Fields(id.NameRaw)); {
	case strings.TrimSpace(id.Email) != "":
		a.Signal, limit = ir.SignalEmail, rules.Signals.Email
		if a.CandidateID == "" {
			a.CandidateID = ir.CandidateIDFromEmail(id.Email)
		}
	case tokens >= 2:
		a.Signal, limit = ir.SignalFullName, rules.Signals.FullName
		if a.CandidateID == "" {
			a.CandidateID = ir.CandidateIDFromName(id.NameRaw)
		}
	case a.CandidateID != "" && tokens == 0:
		a.Signal, limit = ir.SignalOpaque, rules.Signals.FullName
	case tokens == 1:
		a.Signal, limit = ir.SignalFirstName, rules.Signals.FirstName
	default:
		a.CandidateID = ""
		return a
	}

	a.Confidence = min(id.Confidence, limit)
	a.High = a.Signal != ir.SignalFirstName && a.CandidateID != "" && a.Confidence >= rules.HighConfidence
	return a
}
