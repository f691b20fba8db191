package facility

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	unknownName  = "Unknown Hospital"
	notAvailable = "N/A"

	// MaxQuantity is the largest count or minute value a record may carry.
	// Anything larger is treated as unusable.
	MaxQuantity = math.MaxInt32
)

// ErrMalformedFeed is returned when a feed payload is neither a record array
// nor an object with a "hospitals" array.
var ErrMalformedFeed = errors.New("malformed facility feed")

// RawRecord is one untyped hospital record as delivered by the feed.
// Numbers decode as json.Number.
type RawRecord map[string]any

// Options controls normalization.
type Options struct {
	// EstimateMissingWaits fills per-level waits from the queue model when a
	// record has none of them.
	EstimateMissingWaits bool

	// MaxTravelMinutes drops facilities farther than this many minutes away.
	// Zero keeps every record.
	MaxTravelMinutes int
}

// Defaulted names the fields of one record that were missing or unusable.
type Defaulted struct {
	Index  int      `json:"index"`
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// DecodeRecords parses a feed payload. It accepts a JSON array of records or
// an object of the form {"hospitals": [...]}.
func DecodeRecords(data []byte) ([]RawRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFeed)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '[' {
		var recs []RawRecord
		if err := dec.Decode(&recs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
		}
		return dropNil(recs), nil
	}

	var doc struct {
		Hospitals *[]RawRecord `json:"hospitals"`
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	if doc.Hospitals == nil {
		return nil, fmt.Errorf("%w: missing hospitals array", ErrMalformedFeed)
	}
	return dropNil(*doc.Hospitals), nil
}

func dropNil(recs []RawRecord) []RawRecord {
	out := recs[:0]
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Normalize converts a raw record into a Facility. index is the record's
// position in the feed and stands in for a missing id. The returned slice
// names every field that fell back to its default.
func Normalize(index int, rec RawRecord) (Facility, []string) {
	return NormalizeWith(index, rec, Options{})
}

// NormalizeWith is Normalize with options.
func NormalizeWith(index int, rec RawRecord, opts Options) (Facility, []string) {
	var (
		f        Facility
		defaults []string
	)
	miss := func(field string) { defaults = append(defaults, field) }

	if s, ok := text(rec["id"]); ok {
		f.ID = s
	} else if n, ok := number(rec["id"]); ok {
		f.ID = strconv.FormatFloat(n, 'f', -1, 64)
	} else {
		f.ID = strconv.Itoa(index)
		miss("id")
	}

	if s, ok := text(rec["name"]); ok {
		f.Name = s
	} else {
		f.Name = unknownName
		miss("name")
	}

	if s, ok := text(rec["address"]); ok {
		f.Address = s
	} else {
		miss("address")
	}

	if c, ok := coordinate(rec); ok {
		f.Coordinate = c
	} else {
		f.Coordinate = DefaultCoordinate
		miss("coordinate")
	}

	var missingWaits []string
	for i := range f.LevelWaits {
		key := "triage_level_" + strconv.Itoa(i+1)
		if n, ok := number(rec[key]); ok {
			f.LevelWaits[i] = int(math.Round(n))
		} else {
			missingWaits = append(missingWaits, key)
		}
	}

	f.TravelTimeMinutes = wholeNumber(rec, "travel_time", miss)
	f.WaitingCount = wholeNumber(rec, "waiting_count", miss)
	f.TotalPeople = wholeNumber(rec, "total_people", miss)

	if p, ok := percent(rec["stretcher_occupancy"]); ok {
		f.StretcherOccupancy = p
	} else {
		miss("stretcher_occupancy")
	}

	f.AvgWaitingRoomTime, f.AvgWaitingRoomMinutes = durationField(rec, "avg_waiting_room_time", miss)
	f.AvgStretcherTime, f.AvgStretcherMinutes = durationField(rec, "avg_stretcher_time", miss)

	if s, ok := text(rec["estimated_waiting_time"]); ok {
		f.EstimatedWaitingTime = s
	} else {
		f.EstimatedWaitingTime = notAvailable
		miss("estimated_waiting_time")
	}

	if opts.EstimateMissingWaits && len(missingWaits) == len(f.LevelWaits) {
		f.LevelWaits = EstimateLevelWaits(f.QueueStats())
	} else {
		defaults = append(defaults, missingWaits...)
	}

	return f, defaults
}

// NormalizeAll normalizes a whole feed and collects the defaulted fields of
// every kept record that had any. Records beyond opts.MaxTravelMinutes are
// left out.
func NormalizeAll(recs []RawRecord, opts Options) ([]Facility, []Defaulted) {
	out := make([]Facility, 0, len(recs))
	var report []Defaulted
	for i, rec := range recs {
		f, fields := NormalizeWith(i, rec, opts)
		if opts.MaxTravelMinutes > 0 && f.TravelTimeMinutes > opts.MaxTravelMinutes {
			continue
		}
		out = append(out, f)
		if len(fields) > 0 {
			report = append(report, Defaulted{Index: i, ID: f.ID, Fields: fields})
		}
	}
	return out, report
}

func wholeNumber(rec RawRecord, key string, miss func(string)) int {
	n, ok := number(rec[key])
	if !ok {
		miss(key)
		return 0
	}
	return int(math.Trunc(n))
}

func durationField(rec RawRecord, key string, miss func(string)) (string, int) {
	m, ok := minutes(rec[key])
	if !ok {
		miss(key)
		return notAvailable, 0
	}
	display, isText := text(rec[key])
	if !isText {
		display = fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
	}
	return display, int(math.Round(m))
}

func text(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// number coerces numbers and numeric strings. Negative, non-finite and
// out-of-range values are rejected.
func number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = x
	case int:
		f = float64(x)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > MaxQuantity {
		return 0, false
	}
	return f, true
}

// minutes accepts "HH:MM" strings or plain minute counts.
func minutes(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, ":") {
		return number(v)
	}
	hh, mm, _ := strings.Cut(strings.TrimSpace(s), ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > MaxQuantity/60 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	total := float64(h)*60 + float64(m)
	if total > MaxQuantity {
		return 0, false
	}
	return total, true
}

// percent accepts "NN%" strings or plain numbers, on a 0..100 scale.
func percent(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		return number(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	}
	return number(v)
}

func coordinate(rec RawRecord) (Coordinate, bool) {
	src := rec
	if nested, ok := rec["coordinate"].(map[string]any); ok {
		src = nested
	}
	lat, ok1 := signed(src["latitude"])
	lng, ok2 := signed(src["longitude"])
	if !ok1 || !ok2 || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Coordinate{}, false
	}
	return Coordinate{Latitude: lat, Longitude: lng}, true
}

func signed(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	if f, ok := v.(float64); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f, true
	}
	return 0, false
}
