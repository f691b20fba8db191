package triage

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/erpath/internal/severity"
)

// Source identifies which classifier produced the effective level.
type Source string

const (
	SourceExternal Source = "external"
	SourceRules    Source = "rules"
)

// FallbackReason explains why the external classification was not used.
type FallbackReason string

const (
	FallbackNone         FallbackReason = ""
	FallbackUnavailable  FallbackReason = "unavailable"
	FallbackTimeout      FallbackReason = "timeout"
	FallbackMalformed    FallbackReason = "malformed"
	FallbackInvalidLevel FallbackReason = "invalid_level"
	FallbackCircuitOpen  FallbackReason = "circuit_open"
)

// NextAction is the route the caller takes after triage.
type NextAction string

const (
	ActionCallEmergency       NextAction = "call_emergency_services"
	ActionRecommendFacilities NextAction = "recommend_facilities"
)

// ExternalResult is a validated classification from the external classifier.
type ExternalResult struct {
	Level     severity.Level `json:"level"`
	Rationale string         `json:"rationale"`
}

// Decision is the reconciled triage outcome for one assessment.
type Decision struct {
	RuleLevel      severity.Level  `json:"rule_level"`
	RuleReasons    []string        `json:"rule_reasons,omitempty"`
	ExternalLevel  *severity.Level `json:"external_level,omitempty"`
	EffectiveLevel severity.Level  `json:"effective_level"`
	Rationale      string          `json:"rationale"`
	Source         Source          `json:"source"`
	FallbackReason FallbackReason  `json:"fallback_reason,omitempty"`
}

// IsCritical reports whether the decision routes to the emergency-contact
// path. It is derived from EffectiveLevel alone; callers must not recompute it.
func (d Decision) IsCritical() bool {
	return d.EffectiveLevel == severity.LevelI
}

// NextAction returns the route implied by IsCritical.
func (d Decision) NextAction() NextAction {
	if d.IsCritical() {
		return ActionCallEmergency
	}
	return ActionRecommendFacilities
}

// Reconcile combines the rule engine's match with an optional external result.
// A present external result always wins; a nil one falls back to the rules.
func Reconcile(rule RuleMatch, external *ExternalResult) Decision {
	return reconcile(rule, external, FallbackUnavailable)
}

// ReconcileOutcome is Reconcile for a classifier call that may have failed.
// Any error degrades to the rule level with the error's fallback reason.
func ReconcileOutcome(rule RuleMatch, external *ExternalResult, err error) Decision {
	if err != nil {
		return reconcile(rule, nil, FallbackReasonFor(err))
	}
	return reconcile(rule, external, FallbackUnavailable)
}

func reconcile(rule RuleMatch, external *ExternalResult, reason FallbackReason) Decision {
	d := Decision{
		RuleLevel:   rule.Level,
		RuleReasons: append([]string(nil), rule.Reasons...),
	}

	if external != nil && external.Level.Valid() {
		lvl := external.Level
		d.ExternalLevel = &lvl
		d.EffectiveLevel = lvl
		d.Rationale = external.Rationale
		d.Source = SourceExternal
		return d
	}

	if external != nil {
		reason = FallbackInvalidLevel
	}

	d.EffectiveLevel = rule.Level
	d.Source = SourceRules
	d.FallbackReason = reason
	d.Rationale = ruleRationale(rule)
	return d
}

func ruleRationale(rule RuleMatch) string {
	if len(rule.Reasons) == 0 {
		return fmt.Sprintf("Rule-based classification: %s (no urgent criteria met)", rule.Level.Label())
	}
	return fmt.Sprintf("Rule-based classification: %s (%s)", rule.Level.Label(), strings.Join(rule.Reasons, ", "))
}
