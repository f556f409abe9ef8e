package aggregator

import "github.com/thaveesi/blackRabbit/internal/domain"

// NoSelection is the selected index of an empty view.
const NoSelection = -1

// View is the ordered set of entries the UI renders plus the index of the
// entry currently shown. Selected is always a valid index into Entries when
// Entries is non-empty, and NoSelection otherwise.
type View struct {
	Entries  []domain.AggregationEntry `json:"entries"`
	Selected int                       `json:"selected"`
}

// NewView builds a view over entries with the first entry selected.
func NewView(entries []domain.AggregationEntry) View {
	if entries == nil {
		entries = []domain.AggregationEntry{}
	}
	v := View{Entries: entries, Selected: NoSelection}
	if len(entries) > 0 {
		v.Selected = 0
	}
	return v
}

// Empty reports whether the view has no entries to show.
func (v View) Empty() bool {
	return len(v.Entries) == 0
}

// Select returns a copy of the view with index selected. Out-of-range
// indexes select the first entry. Selecting on an empty view is a no-op.
func (v View) Select(index int) View {
	if v.Empty() {
		v.Selected = NoSelection
		return v
	}
	if index < 0 || index >= len(v.Entries) {
		index = 0
	}
	v.Selected = index
	return v
}

// Current returns the selected entry.
func (v View) Current() (domain.AggregationEntry, bool) {
	if v.Empty() || v.Selected < 0 || v.Selected >= len(v.Entries) {
		return domain.AggregationEntry{}, false
	}
	return v.Entries[v.Selected], true
}
