// Package facility holds the hospital catalog: normalization of raw feed
// records, per-level wait estimation, scoring and ranking.
package facility

import (
	"github.com/linnemanlabs/erpath/internal/severity"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DefaultCoordinate is used when a record carries no location.
var DefaultCoordinate = Coordinate{Latitude: 45.5017, Longitude: -73.5673}

// Facility is a normalized hospital record. Every numeric field is finite
// and non-negative.
type Facility struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Address               string     `json:"address"`
	Coordinate            Coordinate `json:"coordinate"`
	LevelWaits            [5]int     `json:"level_wait_minutes"`
	TravelTimeMinutes     int        `json:"travel_time_minutes"`
	AvgWaitingRoomMinutes int        `json:"avg_waiting_room_minutes"`
	AvgStretcherMinutes   int        `json:"avg_stretcher_minutes"`
	StretcherOccupancy    float64    `json:"stretcher_occupancy_percent"`
	WaitingCount          int        `json:"waiting_count"`
	TotalPeople           int        `json:"total_people"`
	EstimatedWaitingTime  string     `json:"estimated_waiting_time"`
	AvgWaitingRoomTime    string     `json:"avg_waiting_room_time"`
	AvgStretcherTime      string     `json:"avg_stretcher_time"`
}

// WaitMinutes returns the expected wait once on site for the given level.
// Unknown levels wait 0.
func (f Facility) WaitMinutes(l severity.Level) int {
	if !l.Valid() {
		return 0
	}
	return f.LevelWaits[l.Index()]
}

// QueueStats returns the inputs of the per-level queue model.
func (f Facility) QueueStats() QueueStats {
	return QueueStats{
		WaitingCount:          float64(f.WaitingCount),
		TotalPeople:           float64(f.TotalPeople),
		StretcherOccupancy:    f.StretcherOccupancy / 100,
		AvgWaitingRoomMinutes: float64(f.AvgWaitingRoomMinutes),
		AvgStretcherMinutes:   float64(f.AvgStretcherMinutes),
	}
}
