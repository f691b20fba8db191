package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/linnemanlabs/erpath/internal/breaker"
	"github.com/linnemanlabs/erpath/internal/severity"
)

func TestReconcile_AbsentExternalUsesRuleLevel(t *testing.T) {
	t.Parallel()

	for _, lvl := range severity.All() {
		d := Reconcile(RuleMatch{Level: lvl, Reasons: []string{"x"}}, nil)
		if d.EffectiveLevel != lvl {
			t.Errorf("EffectiveLevel = %s, want %s", d.EffectiveLevel, lvl)
		}
		if d.Source != SourceRules {
			t.Errorf("Source = %q, want rules", d.Source)
		}
		if d.ExternalLevel != nil {
			t.Errorf("ExternalLevel = %v, want nil", *d.ExternalLevel)
		}
		if d.FallbackReason != FallbackUnavailable {
			t.Errorf("FallbackReason = %q, want unavailable", d.FallbackReason)
		}
		if !strings.Contains(d.Rationale, "Rule-based") {
			t.Errorf("Rationale = %q, want deterministic basis", d.Rationale)
		}
	}
}

func TestReconcile_ExternalWins(t *testing.T) {
	t.Parallel()

	// external is less urgent than the rules; it still wins
	d := Reconcile(
		RuleMatch{Level: severity.LevelII, Reasons: []string{"pain 7/10"}},
		&ExternalResult{Level: severity.LevelIV, Rationale: "mild symptoms"},
	)
	if d.EffectiveLevel != severity.LevelIV {
		t.Errorf("EffectiveLevel = %s, want LEVEL_IV", d.EffectiveLevel)
	}
	if d.RuleLevel != severity.LevelII {
		t.Errorf("RuleLevel = %s, want LEVEL_II", d.RuleLevel)
	}
	if d.ExternalLevel == nil || *d.ExternalLevel != severity.LevelIV {
		t.Errorf("ExternalLevel = %v, want LEVEL_IV", d.ExternalLevel)
	}
	if d.Rationale != "mild symptoms" {
		t.Errorf("Rationale = %q, want external rationale", d.Rationale)
	}
	if d.Source != SourceExternal || d.FallbackReason != FallbackNone {
		t.Errorf("Source/FallbackReason = %q/%q", d.Source, d.FallbackReason)
	}
}

func TestReconcile_InvalidExternalLevelFallsBack(t *testing.T) {
	t.Parallel()

	d := Reconcile(RuleMatch{Level: severity.LevelIII}, &ExternalResult{Level: severity.Level(9)})
	if d.EffectiveLevel != severity.LevelIII {
		t.Errorf("EffectiveLevel = %s, want LEVEL_III", d.EffectiveLevel)
	}
	if d.FallbackReason != FallbackInvalidLevel {
		t.Errorf("FallbackReason = %q, want invalid_level", d.FallbackReason)
	}
}

func TestReconcileOutcome_ErrorsDegrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want FallbackReason
	}{
		{"network", errors.New("connection refused"), FallbackUnavailable},
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), FallbackTimeout},
		{"malformed", fmt.Errorf("%w: bad", ErrMalformedResponse), FallbackMalformed},
		{"invalid level", fmt.Errorf("%w: LEVEL_9", ErrInvalidLevel), FallbackInvalidLevel},
		{"circuit open", fmt.Errorf("call: %w", breaker.ErrOpen), FallbackCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ext := &ExternalResult{Level: severity.LevelI, Rationale: "ignored on error"}
			d := ReconcileOutcome(RuleMatch{Level: severity.LevelIV}, ext, tt.err)
			if d.EffectiveLevel != severity.LevelIV {
				t.Errorf("EffectiveLevel = %s, want LEVEL_IV", d.EffectiveLevel)
			}
			if d.FallbackReason != tt.want {
				t.Errorf("FallbackReason = %q, want %q", d.FallbackReason, tt.want)
			}
		})
	}
}

func TestDecision_IsCriticalFromEffectiveLevelOnly(t *testing.T) {
	t.Parallel()

	// rules say LEVEL_I but the external classifier downgrades: not critical
	d := Reconcile(RuleMatch{Level: severity.LevelI}, &ExternalResult{Level: severity.LevelII, Rationale: "r"})
	if d.IsCritical() {
		t.Error("IsCritical() = true, want false when effective level is LEVEL_II")
	}
	if d.NextAction() != ActionRecommendFacilities {
		t.Errorf("NextAction() = %q", d.NextAction())
	}

	d = Reconcile(RuleMatch{Level: severity.LevelIII}, &ExternalResult{Level: severity.LevelI, Rationale: "r"})
	if !d.IsCritical() {
		t.Error("IsCritical() = false, want true when effective level is LEVEL_I")
	}
	if d.NextAction() != ActionCallEmergency {
		t.Errorf("NextAction() = %q", d.NextAction())
	}
}
