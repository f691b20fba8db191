package facility

import "math"

// QueueStats are the emergency-department occupancy figures the per-level
// wait model is built from.
type QueueStats struct {
	WaitingCount          float64 // N
	TotalPeople           float64 // T
	StretcherOccupancy    float64 // O, as a fraction
	AvgWaitingRoomMinutes float64 // A
	AvgStretcherMinutes   float64 // S
}

// EstimateLevelWaits applies the queue model to each level i in 1..5:
//
//	0.75^(5.5-i) * ((i/5)^4 * (90N/T + 60O + 0.6A + 0.4S) + 0.35A(i/5)^1.5 + 0.25S(i/5)^2)
//
// A zero TotalPeople drops the 90N/T load term. Results are rounded to whole
// minutes and capped at MaxQuantity.
func EstimateLevelWaits(s QueueStats) [5]int {
	var load float64
	if s.TotalPeople > 0 {
		load = 90 * s.WaitingCount / s.TotalPeople
	}
	base := load + 60*s.StretcherOccupancy + 0.6*s.AvgWaitingRoomMinutes + 0.4*s.AvgStretcherMinutes

	var out [5]int
	for idx := range out {
		i := float64(idx + 1)
		r := i / 5
		v := math.Pow(0.75, 5.5-i) * (math.Pow(r, 4)*base + 0.35*s.AvgWaitingRoomMinutes*math.Pow(r, 1.5) + 0.25*s.AvgStretcherMinutes*r*r)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			v = 0
		}
		v = min(v, MaxQuantity)
		out[idx] = int(math.Round(v))
	}
	return out
}
