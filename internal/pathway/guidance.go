package pathway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/linnemanlabs/erpath/internal/llm"
)

// ErrMalformedGuidance is returned when generator output is not the expected
// JSON document.
var ErrMalformedGuidance = errors.New("malformed pathway guidance")

// Guidance is a validated pathway document from the generator.
type Guidance struct {
	CurrentStep            string         `json:"currentStep"`
	EstimatedTotalDuration string         `json:"estimatedTotalDuration"`
	Pathway                []GuidanceStep `json:"pathway"`
}

// GuidanceStep is one generated step. Status is what the generator reported
// and is display-only; the state machine assigns the real status.
type GuidanceStep struct {
	Step               string   `json:"step"`
	Status             string   `json:"status,omitempty"`
	Location           string   `json:"location"`
	Instructions       string   `json:"instructions"`
	EstimatedDuration  string   `json:"estimatedDuration"`
	EstimatedStartTime string   `json:"estimatedStartTime"`
	WhatToExpect       string   `json:"whatToExpect"`
	Requirements       []string `json:"requirements"`
	Tips               []string `json:"tips"`
}

// Steps converts the guidance into state machine steps.
func (g *Guidance) Steps() []Step {
	out := make([]Step, len(g.Pathway))
	for i, s := range g.Pathway {
		out[i] = Step{
			Index:              i,
			Name:               s.Step,
			Location:           s.Location,
			Instructions:       s.Instructions,
			EstimatedDuration:  s.EstimatedDuration,
			EstimatedStartTime: s.EstimatedStartTime,
			WhatToExpect:       s.WhatToExpect,
			Requirements:       nonNil(s.Requirements),
			Tips:               nonNil(s.Tips),
		}
	}
	return out
}

// Build returns a fresh pathway for the guidance.
func (g *Guidance) Build() *Pathway {
	return New(g.Steps())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// DefaultGuidance is the single-step pathway used when generation fails.
func DefaultGuidance() Guidance {
	return Guidance{
		CurrentStep:            "Vital Signs Check",
		EstimatedTotalDuration: "15 minutes",
		Pathway: []GuidanceStep{{
			Step:              "Vital Signs Check",
			Status:            string(StatusActive),
			Location:          "Triage Area",
			Instructions:      "Check in at the front desk, then wait to be called for your vital signs.",
			EstimatedDuration: "15 minutes",
			WhatToExpect:      "A nurse will measure your blood pressure, heart rate, temperature and oxygen level.",
			Requirements:      []string{"Health insurance card", "List of current medications"},
			Tips:              []string{"Tell staff right away if your symptoms get worse while you wait."},
		}},
	}
}

// DecodeGuidance strictly decodes generator output. Unknown fields, trailing
// data, a missing pathway list or a step without a name are rejected. An
// empty list is valid. A markdown code fence around the document is
// tolerated.
func DecodeGuidance(text string) (*Guidance, error) {
	body := llm.StripCodeFence(text)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedGuidance)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var g Guidance
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGuidance, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformedGuidance)
	}
	if g.Pathway == nil {
		return nil, fmt.Errorf("%w: missing pathway", ErrMalformedGuidance)
	}
	for i := range g.Pathway {
		s := &g.Pathway[i]
		s.Step = strings.TrimSpace(s.Step)
		if s.Step == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrMalformedGuidance, i)
		}
	}
	return &g, nil
}
