package arrivals

import (
	"encoding/json"
	"testing"
	"time"
)

func i64(v int64) *int64 { return &v }
func str(s string) *string { return &s }

func TestRouteCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gtt:16CDU", "16"},
		{"gtt:42U", "42"},
		{"gtt:10SU", "10"},
		{"gtt:3CSU", "3"},
		{"gtt:4E", "4"},
		{"gtt:15", "15"},
		{"gtt:4u", "4"},
		{"gtt:SU", ""},
		{"gtt:55:1", "55"},
		{"nocolon", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := RouteCode(tt.in); got != tt.want {
				t.Errorf("RouteCode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtract_RealtimeExample(t *testing.T) {
	patterns := []Pattern{{
		Pattern: PatternRef{ID: "gtt:42U"},
		Times:   []StopTime{{ServiceDay: 1000, ScheduledArrival: 100, RealtimeArrival: i64(500), Realtime: true}},
	}}
	got := Extract(patterns, "42", time.Unix(1300, 0))
	if len(got) != 1 {
		t.Fatalf("got %d arrivals, want 1", len(got))
	}
	if got[0].Minutes != 3 {
		t.Errorf("minutes = %d, want 3", got[0].Minutes)
	}
	if !got[0].Realtime {
		t.Error("realtime = false, want true")
	}
	if got[0].Headsign != "?" {
		t.Errorf("headsign = %q, want default %q", got[0].Headsign, "?")
	}
}

func TestExtract_ExcludesPast(t *testing.T) {
	patterns := []Pattern{{
		Pattern: PatternRef{ID: "gtt:4U"},
		Times: []StopTime{
			{ServiceDay: 0, ScheduledArrival: 999},
			{ServiceDay: 0, ScheduledArrival: 1000},
			{ServiceDay: 0, ScheduledArrival: 1001},
			{ServiceDay: 0, ScheduledArrival: 1059},
			{ServiceDay: 0, ScheduledArrival: 1060},
		},
	}}
	got := Extract(patterns, "4", time.Unix(1000, 0))
	if len(got) != 3 {
		t.Fatalf("got %d arrivals, want 3", len(got))
	}
	want := []int{0, 0, 1}
	for i, a := range got {
		if a.Minutes != want[i] {
			t.Errorf("arrival %d minutes = %d, want %d", i, a.Minutes, want[i])
		}
	}
}

func TestExtract_FiltersSortsTruncates(t *testing.T) {
	now := time.Unix(10_000, 0)
	patterns := []Pattern{
		{
			Pattern: PatternRef{ID: "gtt:42U"},
			Times: []StopTime{
				{ServiceDay: 10_000, ScheduledArrival: 600, Headsign: str("Late")},
				{ServiceDay: 10_000, ScheduledArrival: 120, Headsign: str("First")},
			},
		},
		{
			Pattern: PatternRef{ID: "gtt:15U"},
			Times:   []StopTime{{ServiceDay: 10_000, ScheduledArrival: 60}},
		},
		{
			Pattern: PatternRef{ID: "gtt:42E"},
			Times: []StopTime{
				{ServiceDay: 10_000, ScheduledArrival: 300, Headsign: str("Second")},
				{ServiceDay: 10_000, ScheduledArrival: 480, Headsign: str("Third")},
			},
		},
	}
	got := Extract(patterns, "  42 ", now)
	if len(got) != MaxArrivals {
		t.Fatalf("got %d arrivals, want %d", len(got), MaxArrivals)
	}
	for i, want := range []string{"First", "Second", "Third"} {
		if got[i].Headsign != want {
			t.Errorf("arrival %d headsign = %q, want %q", i, got[i].Headsign, want)
		}
		if got[i].Line != "42" {
			t.Errorf("arrival %d line = %q, want 42", i, got[i].Line)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Minutes < got[i-1].Minutes {
			t.Errorf("arrivals not sorted: %+v", got)
		}
	}
}

func TestExtract_CaseInsensitive(t *testing.T) {
	patterns := []Pattern{{
		Pattern: PatternRef{ID: "gtt:STAR1U"},
		Times:   []StopTime{{ServiceDay: 0, ScheduledArrival: 200}},
	}}
	if got := Extract(patterns, "star1", time.Unix(0, 0)); len(got) != 1 {
		t.Errorf("got %d arrivals, want 1", len(got))
	}
}

func TestExtract_StableOnTies(t *testing.T) {
	patterns := []Pattern{{
		Pattern: PatternRef{ID: "gtt:4U"},
		Times: []StopTime{
			{ServiceDay: 0, ScheduledArrival: 130, Headsign: str("a")},
			{ServiceDay: 0, ScheduledArrival: 150, Headsign: str("b")},
		},
	}}
	got := Extract(patterns, "4", time.Unix(0, 0))
	if len(got) != 2 || got[0].Headsign != "a" || got[1].Headsign != "b" {
		t.Errorf("tie order not preserved: %+v", got)
	}
}

func TestExtractAll_NoTruncation(t *testing.T) {
	var times []StopTime
	for i := int64(1); i <= 5; i++ {
		times = append(times, StopTime{ServiceDay: 0, ScheduledArrival: i * 60})
	}
	patterns := []Pattern{
		{Pattern: PatternRef{ID: "gtt:4U"}, Times: times},
		{Pattern: PatternRef{ID: "gtt:15U"}, Times: []StopTime{{ServiceDay: 0, ScheduledArrival: 90}}},
	}
	got := ExtractAll(patterns, time.Unix(0, 0))
	if len(got) != 6 {
		t.Fatalf("got %d arrivals, want 6", len(got))
	}
	if got[1].Line != "15" {
		t.Errorf("second arrival line = %q, want 15", got[1].Line)
	}
}

func TestGroupByLine(t *testing.T) {
	arrs := []Arrival{
		{Line: "4", Minutes: 1},
		{Line: "15", Minutes: 2},
		{Line: "4", Minutes: 3},
		{Line: "4", Minutes: 4},
		{Line: "4", Minutes: 5},
	}
	groups := GroupByLine(arrs)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Line != "15" || groups[1].Line != "4" {
		t.Errorf("lines not sorted lexically: %q, %q", groups[0].Line, groups[1].Line)
	}
	if len(groups[1].Arrivals) != MaxArrivals {
		t.Errorf("line 4 has %d arrivals, want %d", len(groups[1].Arrivals), MaxArrivals)
	}
	if groups[1].Arrivals[0].Minutes != 1 {
		t.Errorf("line 4 first arrival = %d, want 1", groups[1].Arrivals[0].Minutes)
	}
}

func TestPattern_DecodesProviderJSON(t *testing.T) {
	body := `[{"pattern": {"id": "gtt:42U", "desc": "x"}, "times": [
		{"serviceDay": 1000, "scheduledArrival": 100, "realtimeArrival": 200, "realtime": true, "headsign": "Centro"},
		{"serviceDay": 1000, "scheduledArrival": 400}
	]}]`
	var patterns []Pattern
	if err := json.Unmarshal([]byte(body), &patterns); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := Extract(patterns, "42", time.Unix(1000, 0))
	if len(got) != 2 {
		t.Fatalf("got %d arrivals, want 2", len(got))
	}
	if got[0].Headsign != "Centro" || !got[0].Realtime || got[0].Minutes != 3 {
		t.Errorf("first arrival = %+v", got[0])
	}
	if got[1].Headsign != "?" || got[1].Realtime || got[1].Minutes != 6 {
		t.Errorf("second arrival = %+v", got[1])
	}
}

func TestStopData_Name(t *testing.T) {
	d := NewStopData()
	d.Names["1"] = "Porta Nuova"
	if got := d.Name("1"); got != "Porta Nuova" {
		t.Errorf("Name(1) = %q", got)
	}
	if got := d.Name("2"); got != "2" {
		t.Errorf("Name(2) = %q, want id fallback", got)
	}
}
