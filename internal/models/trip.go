// Package models holds the per-chat data TramTram persists: trips and the
// tracked message state that the live dashboard keeps in sync.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Trip is a named journey shown as one dashboard message.
type Trip struct {
	Name   string  `json:"name"`
	Combos []Combo `json:"combos"`
}

// Combo is one way of doing a trip, e.g. "Direct 42" or "15 then 4".
type Combo struct {
	Name string `json:"name"`
	Legs []Leg  `json:"legs"`
}

// Leg is a single ride on one line between two stops.
type Leg struct {
	Line            string `json:"line"`
	BoardingStopID  string `json:"stop_id_boarding"`
	AlightingStopID string `json:"stop_id_alighting"`
}

// UnmarshalJSON accepts stop ids and line codes written as JSON numbers.
func (l *Leg) UnmarshalJSON(data []byte) error {
	var raw struct {
		Line      json.RawMessage `json:"line"`
		Boarding  json.RawMessage `json:"stop_id_boarding"`
		Alighting json.RawMessage `json:"stop_id_alighting"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if l.Line, err = flexString(raw.Line); err != nil {
		return fmt.Errorf("line: %w", err)
	}
	if l.BoardingStopID, err = flexString(raw.Boarding); err != nil {
		return fmt.Errorf("stop_id_boarding: %w", err)
	}
	if l.AlightingStopID, err = flexString(raw.Alighting); err != nil {
		return fmt.Errorf("stop_id_alighting: %w", err)
	}
	return nil
}

// StopIDs returns every boarding and alighting stop referenced by trips,
// in first-seen order and without duplicates. Empty ids are skipped.
func StopIDs(trips []Trip) []string {
	seen := make(map[string]bool)
	var out []string
	for _, trip := range trips {
		for _, combo := range trip.Combos {
			for _, leg := range combo.Legs {
				for _, id := range []string{leg.BoardingStopID, leg.AlightingStopID} {
					if id == "" || seen[id] {
						continue
					}
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// flexString decodes a JSON string or number into its string form.
// A missing or null value decodes to "".
func flexString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("want string or number, got %s", raw)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}
