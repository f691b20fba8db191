package care

import (
	"slices"
	"time"

	"github.com/linnemanlabs/erpath/internal/facility"
	"github.com/linnemanlabs/erpath/internal/pathway"
	"github.com/linnemanlabs/erpath/internal/triage"
)

// ActionPending is reported while classification is still running.
const ActionPending triage.NextAction = "pending"

// PathwaySource records where a session's pathway came from.
type PathwaySource string

const (
	PathwayGenerated PathwaySource = "generated"
	PathwayDefault   PathwaySource = "default"
)

// Session is one user's pass through triage, facility choice and pathway.
type Session struct {
	ID         string             `json:"id"`
	Assessment triage.Assessment  `json:"assessment"`
	RuleMatch  triage.RuleMatch   `json:"rule_match"`
	Decision   *triage.Decision   `json:"decision,omitempty"`
	Facility   *facility.Facility `json:"facility,omitempty"`
	Pathway    *pathway.Pathway   `json:"pathway,omitempty"`

	// ClassifyGen and PathwayGen identify the latest request of each kind;
	// an async result carrying an older generation is discarded.
	ClassifyGen    uint64        `json:"classify_generation"`
	PathwayGen     uint64        `json:"pathway_generation"`
	PathwayPending bool          `json:"pathway_pending"`
	PathwaySource  PathwaySource `json:"pathway_source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Classified reports whether the current assessment has a decision.
func (s *Session) Classified() bool { return s.Decision != nil }

// Critical reports whether the session is on the emergency-contact route.
func (s *Session) Critical() bool {
	return s.Decision != nil && s.Decision.IsCritical()
}

// NextAction is the decision's route, or ActionPending before classification.
func (s *Session) NextAction() triage.NextAction {
	if s.Decision == nil {
		return ActionPending
	}
	return s.Decision.NextAction()
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Assessment = s.Assessment.Clone()
	cp.RuleMatch.Reasons = slices.Clone(s.RuleMatch.Reasons)
	if s.Decision != nil {
		d := *s.Decision
		d.RuleReasons = slices.Clone(s.Decision.RuleReasons)
		if s.Decision.ExternalLevel != nil {
			lvl := *s.Decision.ExternalLevel
			d.ExternalLevel = &lvl
		}
		cp.Decision = &d
	}
	if s.Facility != nil {
		f := *s.Facility
		cp.Facility = &f
	}
	cp.Pathway = s.Pathway.Clone()
	return &cp
}
