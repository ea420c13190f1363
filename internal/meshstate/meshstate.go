// Package meshstate implements the Mesh State Store: the durable
// JSON-backed record of Sync Groups and Event References described in
// spec sections 3 and 4.B.
package meshstate

// EventReference is one calendar's pointer into a Sync Group, spec
// section 3.
type EventReference struct {
	CalendarID   string   `json:"calendarId"`
	EventID      string   `json:"eventId"`
	LastModified float64  `json:"lastModified"`
	StartDate    *float64 `json:"startDate"`
	IsDeleted    bool     `json:"isDeleted"`
}

// SyncGroup is a maximal set of references representing one logical event
// across the mesh, with at most one Source, spec section 3.
type SyncGroup struct {
	ID               string           `json:"id"`
	SourceCalendarID *string          `json:"sourceCalendarId"`
	SourceEventID    *string          `json:"sourceEventId"`
	References       []EventReference `json:"events"`
}

// document is the on-disk shape of the state file, spec section 6.
type document struct {
	Groups []SyncGroup `json:"groups"`
}

// HasSource reports whether g currently has a Source designation.
func (g *SyncGroup) HasSource() bool {
	return g.SourceCalendarID != nil && g.SourceEventID != nil
}

// IsSource reports whether (calendarID, eventID) is g's Source.
func (g *SyncGroup) IsSource(calendarID, eventID string) bool {
	return g.HasSource() && *g.SourceCalendarID == calendarID && *g.SourceEventID == eventID
}

// SourceReference returns g's Source reference, if any.
func (g *SyncGroup) SourceReference() (EventReference, bool) {
	if !g.HasSource() {
		return EventReference{}, false
	}
	for _, ref := range g.References {
		if ref.CalendarID == *g.SourceCalendarID && ref.EventID == *g.SourceEventID {
			return ref, true
		}
	}
	return EventReference{}, false
}

// findRef returns the index of the reference matching (calendarID,
// eventID) within g, or -1.
func (g *SyncGroup) findRef(calendarID, eventID string) int {
	for i := range g.References {
		if g.References[i].CalendarID == calendarID && g.References[i].EventID == eventID {
			return i
		}
	}
	return -1
}
