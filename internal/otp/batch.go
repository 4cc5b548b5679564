package otp

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/zulandar/tramtram/internal/arrivals"
)

// FetchAll requests the name and stoptimes of every stop in ids, all in
// parallel, and returns once every request has finished. Each requested id
// has an entry in both maps of the result.
func (c *Client) FetchAll(ctx context.Context, ids []string) arrivals.StopData {
	data := arrivals.NewStopData()
	var mu sync.Mutex

	p := pool.New()
	if c.maxInFlight > 0 {
		p = p.WithMaxGoroutines(c.maxInFlight)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		p.Go(func() {
			times := c.StopTimes(ctx, id)
			mu.Lock()
			data.Times[id] = times
			mu.Unlock()
		})
		p.Go(func() {
			name := c.StopName(ctx, id)
			mu.Lock()
			data.Names[id] = name
			mu.Unlock()
		})
	}
	p.Wait()
	return data
}

// FetchOne returns the name and stoptimes of a single stop.
func (c *Client) FetchOne(ctx context.Context, stopID string) (string, []arrivals.Pattern) {
	data := c.FetchAll(ctx, []string{stopID})
	return data.Name(stopID), data.Times[stopID]
}
