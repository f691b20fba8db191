package triage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidAssessment is returned for assessments that fail intake validation.
var ErrInvalidAssessment = errors.New("invalid assessment")

// Consciousness is the patient's reported level of consciousness.
type Consciousness string

const (
	ConsciousnessAlert       Consciousness = "alert"
	ConsciousnessConfused    Consciousness = "confused"
	ConsciousnessUnconscious Consciousness = "unconscious"
)

// Breathing is the patient's reported breathing difficulty.
type Breathing string

const (
	BreathingNormal    Breathing = "normal"
	BreathingDifficult Breathing = "difficult"
	BreathingSevere    Breathing = "severe"
)

// Bleeding is the patient's reported bleeding.
type Bleeding string

const (
	BleedingNone   Bleeding = "none"
	BleedingMild   Bleeding = "mild"
	BleedingSevere Bleeding = "severe"
)

// NoChronicConditions is the sentinel condition meaning "none reported". It
// cannot be combined with any other condition.
const NoChronicConditions = "None"

// Assessment is a patient-reported symptom record. It is a value: once it has
// been submitted for classification nothing mutates it.
type Assessment struct {
	PrimaryComplaint  string        `json:"primary_complaint"`
	PainLevel         *int          `json:"pain_level,omitempty"`
	Duration          string        `json:"duration,omitempty"`
	Consciousness     Consciousness `json:"consciousness"`
	Breathing         Breathing     `json:"breathing"`
	Bleeding          Bleeding      `json:"bleeding"`
	ChronicConditions []string      `json:"chronic_conditions,omitempty"`
	Age               *int          `json:"age,omitempty"`
	Pregnant          bool          `json:"is_pregnant"`
	RecentTrauma      bool          `json:"recent_trauma"`
	TemperatureC      *float64      `json:"temperature_c,omitempty"`
}

// rawAssessment mirrors Assessment but keeps numeric fields undecoded so that
// non-numeric inputs can be treated as absent instead of failing the request.
type rawAssessment struct {
	PrimaryComplaint  string          `json:"primary_complaint"`
	PainLevel         json.RawMessage `json:"pain_level"`
	Duration          string          `json:"duration"`
	Consciousness     Consciousness   `json:"consciousness"`
	Breathing         Breathing       `json:"breathing"`
	Bleeding          Bleeding        `json:"bleeding"`
	ChronicConditions []string        `json:"chronic_conditions"`
	Age               json.RawMessage `json:"age"`
	Pregnant          bool            `json:"is_pregnant"`
	RecentTrauma      bool            `json:"recent_trauma"`
	TemperatureC      json.RawMessage `json:"temperature_c"`
}

// ParseAssessment decodes and validates an intake payload. Numeric fields that
// are missing or cannot be read as numbers are left absent. Empty enum fields
// default to their least urgent value.
func ParseAssessment(data []byte) (Assessment, error) {
	var raw rawAssessment
	if err := json.Unmarshal(data, &raw); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrInvalidAssessment, err)
	}

	a := Assessment{
		PrimaryComplaint:  strings.TrimSpace(raw.PrimaryComplaint),
		Duration:          strings.TrimSpace(raw.Duration),
		Consciousness:     raw.Consciousness,
		Breathing:         raw.Breathing,
		Bleeding:          raw.Bleeding,
		ChronicConditions: raw.ChronicConditions,
		Pregnant:          raw.Pregnant,
		RecentTrauma:      raw.RecentTrauma,
	}

	var err error
	if a.PainLevel, err = wholeNumber("pain_level", raw.PainLevel); err != nil {
		return Assessment{}, err
	}
	if a.Age, err = wholeNumber("age", raw.Age); err != nil {
		return Assessment{}, err
	}
	if f, ok := parseNumber(raw.TemperatureC); ok {
		a.TemperatureC = &f
	}

	return a.Normalize()
}

// Normalize applies enum defaults, canonicalizes chronic conditions into a
// fresh slice and validates the result.
func (a Assessment) Normalize() (Assessment, error) {
	if a.Consciousness == "" {
		a.Consciousness = ConsciousnessAlert
	}
	if a.Breathing == "" {
		a.Breathing = BreathingNormal
	}
	if a.Bleeding == "" {
		a.Bleeding = BleedingNone
	}
	a.ChronicConditions = canonicalConditions(a.ChronicConditions)
	if err := a.Validate(); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// Validate checks enum membership, numeric ranges and the chronic-condition
// exclusivity rule.
func (a Assessment) Validate() error {
	var errs []error

	switch a.Consciousness {
	case ConsciousnessAlert, ConsciousnessConfused, ConsciousnessUnconscious:
	default:
		errs = append(errs, fmt.Errorf("consciousness %q (want alert|confused|unconscious)", a.Consciousness))
	}
	switch a.Breathing {
	case BreathingNormal, BreathingDifficult, BreathingSevere:
	default:
		errs = append(errs, fmt.Errorf("breathing %q (want normal|difficult|severe)", a.Breathing))
	}
	switch a.Bleeding {
	case BleedingNone, BleedingMild, BleedingSevere:
	default:
		errs = append(errs, fmt.Errorf("bleeding %q (want none|mild|severe)", a.Bleeding))
	}

	if a.PainLevel != nil && (*a.PainLevel < 0 || *a.PainLevel > 10) {
		errs = append(errs, fmt.Errorf("pain_level %d (must be 0..10)", *a.PainLevel))
	}
	if a.Age != nil && *a.Age < 0 {
		errs = append(errs, fmt.Errorf("age %d (must be >= 0)", *a.Age))
	}

	if len(a.ChronicConditions) > 1 && slices.Contains(a.ChronicConditions, NoChronicConditions) {
		errs = append(errs, fmt.Errorf("chronic_conditions: %q cannot be combined with other conditions", NoChronicConditions))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidAssessment, errors.Join(errs...))
	}
	return nil
}

// HasChronicConditions reports whether any real chronic condition is listed.
func (a Assessment) HasChronicConditions() bool {
	if len(a.ChronicConditions) == 0 {
		return false
	}
	return !(len(a.ChronicConditions) == 1 && a.ChronicConditions[0] == NoChronicConditions)
}

// Clone returns a copy that shares no memory with a.
func (a Assessment) Clone() Assessment {
	cp := a
	cp.ChronicConditions = slices.Clone(a.ChronicConditions)
	if a.PainLevel != nil {
		v := *a.PainLevel
		cp.PainLevel = &v
	}
	if a.Age != nil {
		v := *a.Age
		cp.Age = &v
	}
	if a.TemperatureC != nil {
		v := *a.TemperatureC
		cp.TemperatureC = &v
	}
	return cp
}

func canonicalConditions(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.EqualFold(c, NoChronicConditions) {
			c = NoChronicConditions
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// wholeNumber reads an integer field. Fractional and non-numeric values are
// absent. A value outside the int32 range is rejected as sent.
func wholeNumber(field string, raw json.RawMessage) (*int, error) {
	f, ok := parseNumber(raw)
	if !ok || f != math.Trunc(f) {
		return nil, nil
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %s %s out of range", ErrInvalidAssessment, field, strconv.FormatFloat(f, 'g', -1, 64))
	}
	n := int(f)
	return &n, nil
}

// parseNumber reads a JSON number or numeric string. Anything else, including
// null, reports ok=false.
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
