// Package arrivals turns OpenTripPlanner stoptimes patterns into the
// upcoming arrivals shown on dashboards.
package arrivals

import (
	"slices"
	"strings"
	"time"
)

// MaxArrivals is how many arrivals are shown per line.
const MaxArrivals = 3

// routeSuffixes are the direction/variant suffixes GTT appends to route
// codes in pattern ids. Order matters: the first match is stripped.
var routeSuffixes = []string{"CDU", "CSU", "SU", "U", "E"}

// Pattern is one route+direction served at a stop, as returned by the
// stoptimes endpoint.
type Pattern struct {
	Pattern PatternRef `json:"pattern"`
	Times   []StopTime `json:"times"`
}

// PatternRef identifies a pattern, e.g. "gtt:42U".
type PatternRef struct {
	ID string `json:"id"`
}

// StopTime is a single scheduled call. Arrival offsets are seconds since
// ServiceDay (epoch seconds at the start of the service day).
type StopTime struct {
	ServiceDay       int64   `json:"serviceDay"`
	ScheduledArrival int64   `json:"scheduledArrival"`
	RealtimeArrival  *int64  `json:"realtimeArrival,omitempty"`
	Realtime         bool    `json:"realtime"`
	Headsign         *string `json:"headsign,omitempty"`
}

// Arrival is an upcoming vehicle at a stop.
type Arrival struct {
	Line     string
	Minutes  int
	Headsign string
	Realtime bool
}

// StopData is the result of one batch fetch: stoptimes and display names,
// keyed by stop id.
type StopData struct {
	Times map[string][]Pattern
	Names map[string]string
}

// NewStopData returns an empty StopData.
func NewStopData() StopData {
	return StopData{
		Times: map[string][]Pattern{},
		Names: map[string]string{},
	}
}

// Name returns the display name of stopID, falling back to the id.
func (d StopData) Name(stopID string) string {
	if n, ok := d.Names[stopID]; ok && n != "" {
		return n
	}
	return stopID
}

// RouteCode extracts the bare route code from a pattern id: "gtt:42U"
// gives "42", "gtt:16CDU" gives "16". Ids without a ':' give "".
func RouteCode(patternID string) string {
	parts := strings.Split(patternID, ":")
	if len(parts) < 2 {
		return ""
	}
	rp := parts[1]
	upper := strings.ToUpper(rp)
	for _, sfx := range routeSuffixes {
		if strings.HasSuffix(upper, sfx) {
			return rp[:len(rp)-len(sfx)]
		}
	}
	return rp
}

// Extract returns the next MaxArrivals arrivals of line across patterns,
// soonest first. Line matching is exact after trimming and case folding.
func Extract(patterns []Pattern, line string, now time.Time) []Arrival {
	want := strings.ToLower(strings.TrimSpace(line))
	out := collect(patterns, now, func(code string) bool {
		return strings.ToLower(code) == want
	})
	if len(out) > MaxArrivals {
		out = out[:MaxArrivals]
	}
	return out
}

// ExtractAll returns every upcoming arrival at the stop, all lines,
// soonest first.
func ExtractAll(patterns []Pattern, now time.Time) []Arrival {
	return collect(patterns, now, nil)
}

// LineGroup is the arrivals of one line at a stop.
type LineGroup struct {
	Line     string
	Arrivals []Arrival
}

// GroupByLine groups arrivals by line, lines sorted lexically, keeping the
// input order within a line and at most MaxArrivals per line.
func GroupByLine(arrivals []Arrival) []LineGroup {
	byLine := map[string][]Arrival{}
	for _, a := range arrivals {
		byLine[a.Line] = append(byLine[a.Line], a)
	}
	lines := make([]string, 0, len(byLine))
	for l := range byLine {
		lines = append(lines, l)
	}
	slices.Sort(lines)

	groups := make([]LineGroup, 0, len(lines))
	for _, l := range lines {
		arrs := byLine[l]
		if len(arrs) > MaxArrivals {
			arrs = arrs[:MaxArrivals]
		}
		groups = append(groups, LineGroup{Line: l, Arrivals: arrs})
	}
	return groups
}

func collect(patterns []Pattern, now time.Time, match func(code string) bool) []Arrival {
	nowTS := now.Unix()
	var out []Arrival
	for _, p := range patterns {
		code := RouteCode(p.Pattern.ID)
		if match != nil && !match(code) {
			continue
		}
		for _, t := range p.Times {
			offset := t.ScheduledArrival
			if t.RealtimeArrival != nil {
				offset = *t.RealtimeArrival
			}
			ts := t.ServiceDay + offset
			if ts <= nowTS {
				continue
			}
			headsign := "?"
			if t.Headsign != nil {
				headsign = *t.Headsign
			}
			out = append(out, Arrival{
				Line:     code,
				Minutes:  int((ts - nowTS) / 60),
				Headsign: headsign,
				Realtime: t.Realtime,
			})
		}
	}
	slices.SortStableFunc(out, func(a, b Arrival) int { return a.Minutes - b.Minutes })
	return out
}
