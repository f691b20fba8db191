package triage

import (
	"fmt"

	"github.com/linnemanlabs/erpath/internal/severity"
)

// RuleMatch is the outcome of the deterministic rule engine: the level of the
// first matching tier and the criteria within that tier that matched.
type RuleMatch struct {
	Level   severity.Level `json:"level"`
	Reasons []string       `json:"reasons,omitempty"`
}

// rule is one criterion within a tier. It returns a reason when it matches.
type rule func(a Assessment) (string, bool)

type tier struct {
	level severity.Level
	rules []rule
}

// tiers are evaluated in order, most urgent first. LevelV has no rules and is
// the default.
var tiers = []tier{
	{severity.LevelI, []rule{
		when(func(a Assessment) bool { return a.Consciousness == ConsciousnessUnconscious }, "patient unconscious"),
		when(func(a Assessment) bool { return a.Breathing == BreathingSevere }, "severe breathing difficulty"),
		when(func(a Assessment) bool { return a.Bleeding == BleedingSevere }, "severe bleeding"),
		painAtLeast(severity.LevelI.PainThreshold()),
		tempOutside(40, 35),
	}},
	{severity.LevelII, []rule{
		when(func(a Assessment) bool { return a.Consciousness == ConsciousnessConfused }, "patient confused"),
		when(func(a Assessment) bool { return a.Breathing == BreathingDifficult }, "difficulty breathing"),
		painAtLeast(severity.LevelII.PainThreshold()),
		tempOutside(39, 35.5),
		when(func(a Assessment) bool { return a.Pregnant && a.RecentTrauma }, "pregnant with recent trauma"),
		when(func(a Assessment) bool { return ageAtLeast(a, 75) && a.RecentTrauma }, "age 75+ with recent trauma"),
	}},
	{severity.LevelIII, []rule{
		painAtLeast(severity.LevelIII.PainThreshold()),
		tempAtLeast(38.5),
		when(Assessment.HasChronicConditions, "chronic conditions reported"),
		when(func(a Assessment) bool { return a.Pregnant }, "pregnant"),
		when(func(a Assessment) bool { return a.RecentTrauma }, "recent trauma"),
		when(func(a Assessment) bool { return ageAtLeast(a, 75) }, "age 75+"),
	}},
	{severity.LevelIV, []rule{
		painAtLeast(severity.LevelIV.PainThreshold()),
		tempAtLeast(38),
	}},
}

// Classify returns the severity level for an assessment. It is total: every
// assessment gets a level, and absent numeric fields never raise urgency.
func Classify(a Assessment) severity.Level {
	return Evaluate(a).Level
}

// Evaluate runs the tiers in order and returns the first tier that matches,
// with every matching criterion of that tier.
func Evaluate(a Assessment) RuleMatch {
	for _, t := range tiers {
		var reasons []string
		for _, r := range t.rules {
			if reason, ok := r(a); ok {
				reasons = append(reasons, reason)
			}
		}
		if len(reasons) > 0 {
			return RuleMatch{Level: t.level, Reasons: reasons}
		}
	}
	return RuleMatch{Level: severity.LevelV}
}

func when(pred func(Assessment) bool, reason string) rule {
	return func(a Assessment) (string, bool) {
		if pred(a) {
			return reason, true
		}
		return "", false
	}
}

func painAtLeast(threshold int) rule {
	return func(a Assessment) (string, bool) {
		if a.PainLevel == nil || *a.PainLevel < threshold {
			return "", false
		}
		return fmt.Sprintf("pain %d/10", *a.PainLevel), true
	}
}

func tempAtLeast(high float64) rule {
	return func(a Assessment) (string, bool) {
		if a.TemperatureC == nil || *a.TemperatureC < high {
			return "", false
		}
		return fmt.Sprintf("temperature %.1f°C", *a.TemperatureC), true
	}
}

func tempOutside(high, low float64) rule {
	return func(a Assessment) (string, bool) {
		if a.TemperatureC == nil {
			return "", false
		}
		t := *a.TemperatureC
		if t >= high || t <= low {
			return fmt.Sprintf("temperature %.1f°C", t), true
		}
		return "", false
	}
}

func ageAtLeast(a Assessment, years int) bool {
	return a.Age != nil && *a.Age >= years
}
