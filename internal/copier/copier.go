// Package copier implements the Event Field Copier, the deterministic
// projection of a Source event's observable fields (plus a Sync Metadata
// block) onto a Target event, spec section 4.C.
package copier

import (
	"fmt"
	"strings"

	"github.com/dalbodeule/calmesh/internal/backend"
)

const metadataSeparator = "\n\n\n--- Sync Metadata ---\n"

// CopyFields overwrites target's Title, Start, End, IsAllDay, Location,
// URL, and Notes with a deterministic projection of source. sourceName is
// the Source calendar's display name, rendered into the Sync Metadata
// block. Fields the backend would silently drop on copy (e.g. Attendees)
// are never copied onto target.
//
// This transformation is deterministic: applying it repeatedly to the
// same (source, sourceName, target) produces byte-identical Notes, so
// repeated updates are idempotent once a round-trip stabilizes (spec
// section 8.4).
func CopyFields(source backend.Event, sourceName string, target *backend.Event) {
	target.Title = source.Title
	target.Start = source.Start
	target.End = source.End
	target.IsAllDay = source.IsAllDay
	target.Location = source.Location
	target.URL = source.URL
	target.Notes = composeNotes(source, sourceName)
}

// composeNotes builds: the Source's notes, then the metadata separator,
// then a Sync Metadata block naming the Source calendar and, if any
// attendees are present, a Participants list.
func composeNotes(source backend.Event, sourceName string) string {
	var b strings.Builder
	b.WriteString(source.Notes)
	b.WriteString(metadataSeparator)
	b.WriteString("Source: ")
	b.WriteString(sourceName)

	if len(source.Attendees) > 0 {
		b.WriteString("\nParticipants\n")
		for _, a := range source.Attendees {
			status := a.ParticipationStatus
			if status == "" {
				status = backend.StatusUnknown
			}
			fmt.Fprintf(&b, "- %s (%s)\n", a.Name, status)
		}
		// Trim the trailing newline left by the last participant line so
		// repeated application produces byte-identical output regardless
		// of how the caller subsequently appends to Notes.
		return strings.TrimRight(b.String(), "\n")
	}

	return b.String()
}
