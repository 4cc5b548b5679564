package telegraph

import (
	"sort"

	"github.com/zulandar/tramtram/internal/models"
)

// Plan is what one cycle has to fetch and who it has to update.
type Plan struct {
	StopIDs []string   // sorted, unique
	Active  []*Session // sessions with a dashboard or a live stop
}

// Aggregate scans sessions and collects the union of stop ids they need.
// Dashboard stops count only while the chat has dashboard messages;
// live-stop stops always count. Sessions with nothing tracked are left out.
func Aggregate(sessions []*Session) Plan {
	var plan Plan
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			plan.StopIDs = append(plan.StopIDs, id)
		}
	}
	for _, s := range sessions {
		s.Lock()
		data := s.Data()
		if data.Active() {
			plan.Active = append(plan.Active, s)
			if data.HasDashboard() {
				for _, id := range models.StopIDs(data.Trips) {
					add(id)
				}
			}
			for _, view := range data.State.StopMsgs {
				add(view.StopID)
			}
		}
		s.Unlock()
	}
	sort.Strings(plan.StopIDs)
	return plan
}
