// Package pathway is the care-pathway state machine: an ordered list of care
// steps and the user's position in it.
//
// Statuses are derived from the current index and are never set directly.
// Steps before the current one are completed, the current step is active and
// later steps are pending. The last step is closed out only by Finish.
package pathway

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Status is the progression state of one step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

var (
	// ErrStepOutOfRange is returned for an index outside 0..N-1.
	ErrStepOutOfRange = errors.New("step index out of range")

	// ErrInvalidEdit is returned when an edit would leave a step without a name.
	ErrInvalidEdit = errors.New("invalid step edit")

	// ErrNotAtLastStep is returned by Finish before the last step is active.
	ErrNotAtLastStep = errors.New("pathway is not at its last step")

	// ErrInvalidState is returned when a stored pathway does not satisfy the
	// status invariant.
	ErrInvalidState = errors.New("invalid pathway state")
)

// Step is one stage of a care pathway.
type Step struct {
	Index              int      `json:"index"`
	Name               string   `json:"name"`
	Location           string   `json:"location,omitempty"`
	Instructions       string   `json:"instructions,omitempty"`
	EstimatedDuration  string   `json:"estimated_duration,omitempty"`
	EstimatedStartTime string   `json:"estimated_start_time,omitempty"`
	WhatToExpect       string   `json:"what_to_expect,omitempty"`
	Requirements       []string `json:"requirements"`
	Tips               []string `json:"tips"`
	Status             Status   `json:"status"`
}

func (s Step) clone() Step {
	s.Requirements = slices.Clone(s.Requirements)
	s.Tips = slices.Clone(s.Tips)
	return s
}

// Pathway is a care pathway. The zero value is an empty, terminal pathway.
// It is not safe for concurrent use.
type Pathway struct {
	steps    []Step
	current  int
	finished bool
}

// New builds a pathway from steps. Any incoming status is ignored: step 0
// starts active and the rest pending.
func New(steps []Step) *Pathway {
	p := &Pathway{steps: make([]Step, len(steps))}
	for i, s := range steps {
		s = s.clone()
		s.Index = i
		p.steps[i] = s
	}
	p.derive()
	return p
}

// derive rewrites every status from current and finished.
func (p *Pathway) derive() {
	for i := range p.steps {
		switch {
		case i < p.current, p.finished:
			p.steps[i].Status = StatusCompleted
		case i == p.current:
			p.steps[i].Status = StatusActive
		default:
			p.steps[i].Status = StatusPending
		}
	}
}

// Len returns the number of steps.
func (p *Pathway) Len() int { return len(p.steps) }

// CurrentIndex returns the current step index. It is 0 for an empty pathway.
func (p *Pathway) CurrentIndex() int { return p.current }

// Current returns the active step, if any.
func (p *Pathway) Current() (Step, bool) {
	if len(p.steps) == 0 || p.finished {
		return Step{}, false
	}
	return p.steps[p.current].clone(), true
}

// Finished reports whether the pathway is terminal: empty, or every step
// completed through Finish.
func (p *Pathway) Finished() bool {
	return len(p.steps) == 0 || p.finished
}

// Steps returns a copy of the steps.
func (p *Pathway) Steps() []Step {
	out := make([]Step, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.clone()
	}
	return out
}

// Clone returns a deep copy.
func (p *Pathway) Clone() *Pathway {
	if p == nil {
		return nil
	}
	return &Pathway{steps: p.Steps(), current: p.current, finished: p.finished}
}

// SelectStep moves to step i in either direction. It also reopens a finished
// pathway.
func (p *Pathway) SelectStep(i int) error {
	if i < 0 || i >= len(p.steps) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrStepOutOfRange, i, len(p.steps))
	}
	p.current = i
	p.finished = false
	p.derive()
	return nil
}

// Advance completes the current step and activates the next one. At the
// last step, or on an empty or finished pathway, it changes nothing and
// returns true.
func (p *Pathway) Advance() (complete bool) {
	if p.Finished() || p.current >= len(p.steps)-1 {
		return true
	}
	p.steps[p.current].Status = StatusCompleted
	p.current++
	p.steps[p.current].Status = StatusActive
	return false
}

// Finish completes the last step. It is idempotent and a no-op on an empty
// pathway.
func (p *Pathway) Finish() error {
	if p.Finished() {
		return nil
	}
	if p.current != len(p.steps)-1 {
		return fmt.Errorf("%w: at step %d of %d", ErrNotAtLastStep, p.current, len(p.steps))
	}
	p.finished = true
	p.derive()
	return nil
}

// StepEdit carries replacement display fields. Nil fields are left as they are.
type StepEdit struct {
	Name               *string   `json:"name,omitempty"`
	Location           *string   `json:"location,omitempty"`
	Instructions       *string   `json:"instructions,omitempty"`
	EstimatedDuration  *string   `json:"estimated_duration,omitempty"`
	EstimatedStartTime *string   `json:"estimated_start_time,omitempty"`
	WhatToExpect       *string   `json:"what_to_expect,omitempty"`
	Requirements       *[]string `json:"requirements,omitempty"`
	Tips               *[]string `json:"tips,omitempty"`
}

// EditStep replaces display fields of step i. Status, position and the
// current index are untouched. On error nothing changes.
func (p *Pathway) EditStep(i int, e StepEdit) error {
	if i < 0 || i >= len(p.steps) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrStepOutOfRange, i, len(p.steps))
	}
	if e.Name != nil && strings.TrimSpace(*e.Name) == "" {
		return fmt.Errorf("%w: name must not be blank", ErrInvalidEdit)
	}

	s := p.steps[i]
	set := func(dst, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&s.Name, e.Name)
	set(&s.Location, e.Location)
	set(&s.Instructions, e.Instructions)
	set(&s.EstimatedDuration, e.EstimatedDuration)
	set(&s.EstimatedStartTime, e.EstimatedStartTime)
	set(&s.WhatToExpect, e.WhatToExpect)
	if e.Requirements != nil {
		s.Requirements = slices.Clone(*e.Requirements)
	}
	if e.Tips != nil {
		s.Tips = slices.Clone(*e.Tips)
	}
	p.steps[i] = s
	return nil
}

// Validate checks the status invariant.
func (p *Pathway) Validate() error {
	if len(p.steps) == 0 {
		if p.current != 0 {
			return fmt.Errorf("%w: empty pathway at index %d", ErrInvalidState, p.current)
		}
		return nil
	}
	if p.current < 0 || p.current >= len(p.steps) {
		return fmt.Errorf("%w: current index %d not in [0,%d)", ErrInvalidState, p.current, len(p.steps))
	}
	if p.finished && p.current != len(p.steps)-1 {
		return fmt.Errorf("%w: finished before last step", ErrInvalidState)
	}
	for i, s := range p.steps {
		want := StatusPending
		switch {
		case i < p.current, p.finished:
			want = StatusCompleted
		case i == p.current:
			want = StatusActive
		}
		if s.Status != want {
			return fmt.Errorf("%w: step %d is %q, want %q", ErrInvalidState, i, s.Status, want)
		}
		if s.Index != i {
			return fmt.Errorf("%w: step %d has index %d", ErrInvalidState, i, s.Index)
		}
	}
	return nil
}

type pathwayJSON struct {
	CurrentStep int    `json:"current_step"`
	Finished    bool   `json:"finished"`
	Steps       []Step `json:"steps"`
}

// MarshalJSON implements json.Marshaler.
func (p *Pathway) MarshalJSON() ([]byte, error) {
	steps := p.steps
	if steps == nil {
		steps = []Step{}
	}
	return json.Marshal(pathwayJSON{CurrentStep: p.current, Finished: p.finished, Steps: steps})
}

// UnmarshalJSON implements json.Unmarshaler. Stored statuses must match the
// ones derived from the current index.
func (p *Pathway) UnmarshalJSON(b []byte) error {
	var w pathwayJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	next := Pathway{steps: w.Steps, current: w.CurrentStep, finished: w.Finished && len(w.Steps) > 0}
	if err := next.Validate(); err != nil {
		return err
	}
	*p = next
	return nil
}
