package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DecodeUserData parses a persisted chat record and normalizes the older
// shapes it may be stored in:
//
//   - missing sections default to empty
//   - "fermata_msgs" is read as "stop_msgs"
//   - a live view stored as a bare stop id, or without an expiry, expires
//     stopTTL after loadedAt
//
// After decoding every field is typed; nothing downstream needs to handle
// the legacy forms.
func DecodeUserData(data []byte, loadedAt time.Time, stopTTL time.Duration) (*UserData, error) {
	var raw struct {
		Trips []Trip `json:"trips"`
		State struct {
			DashboardMsgs []*MessageID           `json:"dashboard_msgs"`
			StopMsgs      map[MessageID]StopView `json:"stop_msgs"`
			FermataMsgs   map[MessageID]StopView `json:"fermata_msgs"`
			AllMsgIDs     []MessageID            `json:"all_msg_ids"`
		} `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("models: decode user data: %w", err)
	}

	u := NewUserData()
	if raw.Trips != nil {
		u.Trips = raw.Trips
	}
	if raw.State.DashboardMsgs != nil {
		u.State.DashboardMsgs = raw.State.DashboardMsgs
	}
	if raw.State.AllMsgIDs != nil {
		u.State.AllMsgIDs = raw.State.AllMsgIDs
	}
	views := raw.State.StopMsgs
	if views == nil {
		views = raw.State.FermataMsgs
	}
	for id, v := range views {
		if v.Expires.IsZero() {
			v.Expires = loadedAt.Add(stopTTL)
		}
		u.State.StopMsgs[id] = v
	}
	return u, nil
}

// Encode serializes u in the on-disk form, indented by two spaces.
func (u *UserData) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("models: encode user data: %w", err)
	}
	return data, nil
}
