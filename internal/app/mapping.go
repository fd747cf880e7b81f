package app

import "slices"

// MappingEntry links a monitoring reference to a status-page component.
// TriggerID is empty for service-only entries, which are not watched.
type MappingEntry struct {
	TriggerID     string `json:"trigger_id,omitempty"`
	ServiceID     string `json:"service_id,omitempty"`
	ComponentID   int    `json:"component_id"`
	ComponentName string `json:"component_name"`
	GroupID       int    `json:"group_id,omitempty"`
	GroupName     string `json:"group_name,omitempty"`
}

// Watched reports whether the entry is bound to a trigger.
func (e MappingEntry) Watched() bool { return e.TriggerID != "" }

// Mapping is an immutable, ordered snapshot of mapping entries.
// The zero value is an empty mapping.
type Mapping struct {
	entries []MappingEntry
}

// NewMapping copies entries into a new snapshot.
func NewMapping(entries []MappingEntry) Mapping {
	return Mapping{entries: slices.Clone(entries)}
}

// Entries returns a copy of the snapshot's entries.
func (m Mapping) Entries() []MappingEntry { return slices.Clone(m.entries) }

// Len returns the number of entries.
func (m Mapping) Len() int { return len(m.entries) }

// Empty reports whether the snapshot has no entries.
func (m Mapping) Empty() bool { return len(m.entries) == 0 }

// Equal compares two snapshots by value, order included.
func (m Mapping) Equal(other Mapping) bool {
	return slices.Equal(m.entries, other.entries)
}

// Watched returns the number of trigger-bound entries.
func (m Mapping) Watched() int {
	n := 0
	for _, e := range m.entries {
		if e.Watched() {
			n++
		}
	}
	return n
}
