package facility

import (
	"math"
	"sort"

	"github.com/linnemanlabs/erpath/internal/severity"
)

// Ranked is a facility with its total expected time-to-care.
type Ranked struct {
	Facility             Facility `json:"facility"`
	TotalExpectedMinutes int      `json:"total_expected_minutes"`
}

// Score is the total expected time-to-care at f for level: travel plus the
// level's on-site wait. Negative operands count as 0 and the sum saturates
// at math.MaxInt.
func Score(f Facility, level severity.Level) int {
	travel := max(f.TravelTimeMinutes, 0)
	wait := max(f.WaitMinutes(level), 0)
	if travel > math.MaxInt-wait {
		return math.MaxInt
	}
	return travel + wait
}

// Rank orders facilities by ascending Score. Ties keep input order.
func Rank(facilities []Facility, level severity.Level) []Ranked {
	out := make([]Ranked, len(facilities))
	for i, f := range facilities {
		out[i] = Ranked{Facility: f, TotalExpectedMinutes: Score(f, level)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalExpectedMinutes < out[j].TotalExpectedMinutes
	})
	return out
}
