// Package severity defines the five-level emergency urgency scale shared by
// triage, facility ranking and care pathways.
package severity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Level is an ordered urgency classification. LevelI is the most urgent and
// compares lowest.
type Level int

const (
	LevelI Level = iota + 1
	LevelII
	LevelIII
	LevelIV
	LevelV
)

// ErrInvalidLevel is returned when a level identifier is not one of the five
// canonical values.
var ErrInvalidLevel = errors.New("invalid severity level")

// Info is the display metadata attached to a level.
type Info struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	Description    string `json:"description"`
	Clinical       string `json:"clinical_description"`
	TargetResponse string `json:"target_response"`
	Colour         string `json:"colour"`
	PainThreshold  int    `json:"-"`
}

var levels = [...]Info{
	LevelI: {
		ID:             "LEVEL_I",
		Label:          "Level I - Resuscitation",
		Description:    "Critical condition requiring immediate life-saving interventions",
		Clinical:       "Immediate threat to airway, breathing, or circulation",
		TargetResponse: "Immediate Medical Intervention",
		Colour:         "Blue",
		PainThreshold:  9,
	},
	LevelII: {
		ID:             "LEVEL_II",
		Label:          "Level II - Emergent",
		Description:    "High-risk condition requiring rapid medical intervention",
		Clinical:       "Potentially life-threatening condition requiring immediate assessment",
		TargetResponse: "10-15 minutes maximum",
		Colour:         "Red",
		PainThreshold:  7,
	},
	LevelIII: {
		ID:             "LEVEL_III",
		Label:          "Level III - Urgent",
		Description:    "Acute condition requiring timely intervention",
		Clinical:       "Stable vital signs with serious symptoms requiring prompt treatment",
		TargetResponse: "30-60 minutes target",
		Colour:         "Yellow",
		PainThreshold:  5,
	},
	LevelIV: {
		ID:             "LEVEL_IV",
		Label:          "Level IV - Semi-Urgent",
		Description:    "Sub-acute condition requiring non-immediate intervention",
		Clinical:       "Stable condition with moderate symptoms",
		TargetResponse: "1-2 hours acceptable",
		Colour:         "Green",
		PainThreshold:  3,
	},
	LevelV: {
		ID:             "LEVEL_V",
		Label:          "Level V - Non-Urgent",
		Description:    "Chronic or minor condition suitable for routine care",
		Clinical:       "Stable condition with minor symptoms",
		TargetResponse: "2-4 hours acceptable",
		Colour:         "White",
		PainThreshold:  0,
	},
}

// All returns the levels from most to least urgent.
func All() []Level {
	return []Level{LevelI, LevelII, LevelIII, LevelIV, LevelV}
}

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	return l >= LevelI && l <= LevelV
}

// Info returns the display metadata for l. Invalid levels return a zero Info.
func (l Level) Info() Info {
	if !l.Valid() {
		return Info{}
	}
	return levels[l]
}

// String returns the canonical identifier, e.g. "LEVEL_III".
func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levels[l].ID
}

// Label returns the display label, e.g. "Level III - Urgent".
func (l Level) Label() string { return l.Info().Label }

// TargetResponse returns the target response-time text.
func (l Level) TargetResponse() string { return l.Info().TargetResponse }

// PainThreshold returns the minimum pain score that alone qualifies for l.
func (l Level) PainThreshold() int { return l.Info().PainThreshold }

// Index returns the zero-based position of l (LevelI is 0).
func (l Level) Index() int { return int(l) - 1 }

// MoreUrgentThan reports whether l is strictly more urgent than other.
func (l Level) MoreUrgentThan(other Level) bool { return l < other }

// Parse converts a canonical identifier into a Level.
func Parse(s string) (Level, error) {
	for _, l := range All() {
		if levels[l].ID == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// MarshalJSON encodes the level as its canonical identifier.
func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return json.Marshal(levels[l].ID)
}

// UnmarshalJSON decodes a canonical identifier.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLevel, string(b))
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
