// Package dashboard holds the per-session dashboard state and the reducer
// that every browser action and fetch completion flows through.
package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pitabwire/clubpulse/model"
)

// State is everything the browser renders for one dashboard session. It is
// serialised into a session.Record between requests.
type State struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Version int64  `json:"version"`

	Applied      model.FilterState `json:"applied"`
	Pending      model.FilterState `json:"pending"`
	DefaultRange model.DateRange   `json:"default_range"`

	Section        model.Section   `json:"section"`
	Snapshot       *model.Snapshot `json:"snapshot,omitempty"`
	Loading        bool            `json:"loading"`
	Error          string          `json:"error,omitempty"`
	LoadGeneration int64           `json:"load_generation"`

	Modal model.DrilldownModal `json:"modal"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns the state of a fresh session: default filters, the
// default section and no data yet.
func NewState(id, ownerID string, defaultRange model.DateRange, section model.Section) State {
	filters := model.DefaultFilters(defaultRange)
	return State{
		ID:           id,
		OwnerID:      ownerID,
		Applied:      filters,
		Pending:      filters,
		DefaultRange: defaultRange,
		Section:      section,
	}
}

// Clone returns a copy of s whose modal can be mutated freely. Filters and
// snapshots are only ever replaced whole.
func (s State) Clone() State {
	out := s
	out.Modal = s.Modal.Clone()
	return out
}

func encodeState(s State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("dashboard: marshal state %q: %w", s.ID, err)
	}
	return data, nil
}

func decodeState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("dashboard: unmarshal state: %w", err)
	}
	return s, nil
}
