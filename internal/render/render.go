package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/tramtram/internal/arrivals"
	"github.com/zulandar/tramtram/internal/models"
)

// Renderer formats messages in one markup dialect, stamping times in Location.
type Renderer struct {
	Markup   Markup
	Location *time.Location
}

// New returns a Renderer. A nil markup means Telegram Markdown and a nil
// location means UTC.
func New(markup Markup, loc *time.Location) *Renderer {
	if markup == nil {
		markup = TelegramMarkdown{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{Markup: markup, Location: loc}
}

// Trip renders the dashboard card for one trip.
func (r *Renderer) Trip(trip models.Trip, data arrivals.StopData, at time.Time) string {
	m := r.Markup
	parts := []string{
		"🚋  " + m.Bold(m.Escape(trip.Name)),
		"⏱  " + r.clock(at),
	}
	for _, combo := range trip.Combos {
		parts = append(parts, "", "━━━  "+m.Italic(m.Escape(combo.Name))+"  ━━━", "")
		for _, leg := range combo.Legs {
			arrs := arrivals.Extract(data.Times[leg.BoardingStopID], leg.Line, at)
			parts = append(parts,
				"  🚌  "+m.Bold(m.Escape(leg.Line)),
				"        "+m.Escape(data.Name(leg.BoardingStopID))+"  ➜  "+m.Escape(data.Name(leg.AlightingStopID)),
			)
			if len(arrs) > 0 {
				parts = append(parts, "        ⏳  "+m.Bold(joinArrivals(arrs)))
			} else {
				parts = append(parts, "        ⏳  "+m.Italic("no upcoming arrivals"))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Stop renders a live-stop card listing every line at the stop. The
// expiry line is shown only when expiresInMin is positive.
func (r *Renderer) Stop(name, stopID string, patterns []arrivals.Pattern, at time.Time, expiresInMin int) string {
	m := r.Markup
	parts := []string{
		"🚏  " + m.Bold(m.Escape(name)) + "  (" + m.Code(stopID) + ")",
		"⏱  " + r.clock(at),
	}
	if expiresInMin > 0 {
		parts = append(parts, "⏳  "+m.Italic(fmt.Sprintf("expires in %d min", expiresInMin)))
	}
	parts = append(parts, "")

	groups := arrivals.GroupByLine(arrivals.ExtractAll(patterns, at))
	if len(groups) == 0 {
		parts = append(parts, m.Italic("No arrivals"), "")
	}
	for _, g := range groups {
		parts = append(parts,
			"  🚌  "+m.Bold(m.Escape(g.Line))+"  ➜  "+m.Escape(g.Arrivals[0].Headsign),
			"        ⏳  "+m.Bold(joinArrivals(g.Arrivals)),
			"",
		)
	}
	return strings.Join(parts, "\n")
}

// FormatArrival renders one arrival: "now!" at zero minutes, otherwise
// N', with a green dot for realtime predictions.
func FormatArrival(a arrivals.Arrival) string {
	s := fmt.Sprintf("%d'", a.Minutes)
	if a.Minutes == 0 {
		s = "now!"
	}
	if a.Realtime {
		return "🟢" + s
	}
	return s
}

func joinArrivals(arrs []arrivals.Arrival) string {
	out := make([]string, len(arrs))
	for i, a := range arrs {
		out[i] = FormatArrival(a)
	}
	return strings.Join(out, "   ")
}

func (r *Renderer) clock(at time.Time) string {
	return at.In(r.Location).Format("15:04:05")
}
