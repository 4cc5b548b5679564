package models

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
)

// MessageID identifies a chat message on its platform. Telegram ids are
// integers; Slack uses timestamps and Discord snowflakes, so the id is kept
// as an opaque string.
type MessageID string

// MarshalJSON writes canonical integer ids as JSON numbers so data files
// keep the shape Telegram clients already have on disk.
func (m MessageID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(m), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(m) {
		return []byte(m), nil
	}
	return json.Marshal(string(m))
}

// UnmarshalJSON accepts a JSON number or string.
func (m *MessageID) UnmarshalJSON(data []byte) error {
	s, err := flexString(data)
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*m = MessageID(s)
	return nil
}

// StopView is a time-boxed live view of every line at one stop.
type StopView struct {
	StopID  string
	Expires time.Time
}

// MarshalJSON writes the expiry as float epoch seconds.
func (v StopView) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		StopID  string  `json:"stop_id"`
		Expires float64 `json:"expires"`
	}{
		StopID:  v.StopID,
		Expires: float64(v.Expires.UnixNano()) / float64(time.Second),
	})
}

// UnmarshalJSON accepts the object form with either "expires" or
// "expires_epoch", and the legacy bare stop-id form. A missing expiry is
// left zero for DecodeUserData to fill in.
func (v *StopView) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var sid string
		if err := json.Unmarshal(data, &sid); err != nil {
			return err
		}
		*v = StopView{StopID: sid}
		return nil
	}
	var raw struct {
		StopID       json.RawMessage `json:"stop_id"`
		Expires      *float64        `json:"expires"`
		ExpiresEpoch *float64        `json:"expires_epoch"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sid, err := flexString(raw.StopID)
	if err != nil {
		return fmt.Errorf("stop_id: %w", err)
	}
	*v = StopView{StopID: sid}
	exp := raw.Expires
	if exp == nil {
		exp = raw.ExpiresEpoch
	}
	if exp != nil {
		sec, frac := math.Modf(*exp)
		v.Expires = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	}
	return nil
}

// TrackedState is the set of chat messages the engine keeps in sync for
// one chat.
type TrackedState struct {
	// DashboardMsgs is index-aligned with the chat's trips. A nil slot is a
	// message that is gone and will not be edited again.
	DashboardMsgs []*MessageID `json:"dashboard_msgs"`
	// StopMsgs maps a live-stop message to the stop it shows.
	StopMsgs map[MessageID]StopView `json:"stop_msgs"`
	// AllMsgIDs is every message sent or received, for full cleanup.
	AllMsgIDs []MessageID `json:"all_msg_ids"`
}

// UserData is everything persisted for one chat.
type UserData struct {
	Trips []Trip       `json:"trips"`
	State TrackedState `json:"state"`
}

// NewUserData returns an empty chat record.
func NewUserData() *UserData {
	return &UserData{
		Trips: []Trip{},
		State: TrackedState{
			DashboardMsgs: []*MessageID{},
			StopMsgs:      map[MessageID]StopView{},
			AllMsgIDs:     []MessageID{},
		},
	}
}

// HasDashboard reports whether dashboard messages have been built.
func (u *UserData) HasDashboard() bool {
	return len(u.State.DashboardMsgs) > 0
}

// Active reports whether the chat has anything for the engine to refresh.
func (u *UserData) Active() bool {
	return u.HasDashboard() || len(u.State.StopMsgs) > 0
}

// Remember records id for cleanup. It reports whether id was new.
func (u *UserData) Remember(id MessageID) bool {
	if id == "" || slices.Contains(u.State.AllMsgIDs, id) {
		return false
	}
	u.State.AllMsgIDs = append(u.State.AllMsgIDs, id)
	return true
}

// TrackDashboard replaces the dashboard slots with ids, one per trip.
func (u *UserData) TrackDashboard(ids []MessageID) {
	slots := make([]*MessageID, len(ids))
	for i := range ids {
		id := ids[i]
		slots[i] = &id
		u.Remember(id)
	}
	u.State.DashboardMsgs = slots
}

// TrackStop starts a live view of stopID in message id until expires.
func (u *UserData) TrackStop(id MessageID, stopID string, expires time.Time) {
	if u.State.StopMsgs == nil {
		u.State.StopMsgs = map[MessageID]StopView{}
	}
	u.State.StopMsgs[id] = StopView{StopID: stopID, Expires: expires}
	u.Remember(id)
}

// AddTrip appends trip. A built dashboard gets an empty slot for it so
// slots stay aligned with trips until the dashboard is rebuilt.
func (u *UserData) AddTrip(trip Trip) {
	u.Trips = append(u.Trips, trip)
	if u.HasDashboard() {
		u.State.DashboardMsgs = append(u.State.DashboardMsgs, nil)
	}
}

// RemoveTrip drops trip i together with its dashboard slot and returns
// the message that showed it, if any.
func (u *UserData) RemoveTrip(i int) *MessageID {
	if i < 0 || i >= len(u.Trips) {
		return nil
	}
	u.Trips = slices.Delete(slices.Clone(u.Trips), i, i+1)
	if i >= len(u.State.DashboardMsgs) {
		return nil
	}
	slot := u.State.DashboardMsgs[i]
	u.State.DashboardMsgs = slices.Delete(slices.Clone(u.State.DashboardMsgs), i, i+1)
	return slot
}

// UntrackStop forgets a live view. It reports whether it was tracked.
func (u *UserData) UntrackStop(id MessageID) bool {
	if _, ok := u.State.StopMsgs[id]; !ok {
		return false
	}
	delete(u.State.StopMsgs, id)
	return true
}

// CleanupIDs lists every message a full cleanup must delete: all remembered
// ids, then dashboard and stop messages that were never remembered.
func (u *UserData) CleanupIDs() []MessageID {
	out := slices.Clone(u.State.AllMsgIDs)
	seen := make(map[MessageID]bool, len(out))
	for _, id := range out {
		seen[id] = true
	}
	add := func(id MessageID) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, slot := range u.State.DashboardMsgs {
		if slot != nil {
			add(*slot)
		}
	}
	for _, id := range u.SortedStopMsgIDs() {
		add(id)
	}
	return out
}

// ResetState drops every tracked message.
func (u *UserData) ResetState() {
	u.State = NewUserData().State
}

// SortedStopMsgIDs returns live-stop message ids in a stable order:
// numerically when both ids are integers, lexically otherwise.
func (u *UserData) SortedStopMsgIDs() []MessageID {
	ids := make([]MessageID, 0, len(u.State.StopMsgs))
	for id := range u.State.StopMsgs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, CompareMessageIDs)
	return ids
}

// CompareMessageIDs orders integer ids numerically and everything else
// lexically, with integers first.
func CompareMessageIDs(a, b MessageID) int {
	ai, aErr := strconv.ParseInt(string(a), 10, 64)
	bi, bErr := strconv.ParseInt(string(b), 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
