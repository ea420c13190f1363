package copier

import (
	"strings"
	"testing"
	"time"

	"github.com/dalbodeule/calmesh/internal/backend"
)

func TestCopyFieldsOverwritesObservableFields(t *testing.T) {
	source := backend.Event{
		Title:    "Team sync",
		Start:    time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 8, 3, 10, 30, 0, 0, time.UTC),
		IsAllDay: false,
		Location: "Room 4",
		URL:      "https://example.test/meet",
		Notes:    "Bring the roadmap doc.",
	}
	target := backend.Event{
		EventID: "evt-existing",
		Title:   "stale title",
	}

	CopyFields(source, "Work", &target)

	if target.Title != source.Title {
		t.Errorf("Title = %q, want %q", target.Title, source.Title)
	}
	if !target.Start.Equal(source.Start) {
		t.Errorf("Start = %v, want %v", target.Start, source.Start)
	}
	if !target.End.Equal(source.End) {
		t.Errorf("End = %v, want %v", target.End, source.End)
	}
	if target.Location != source.Location {
		t.Errorf("Location = %q, want %q", target.Location, source.Location)
	}
	if target.URL != source.URL {
		t.Errorf("URL = %q, want %q", target.URL, source.URL)
	}
	if target.EventID != "evt-existing" {
		t.Error("CopyFields must never touch EventID")
	}
	if !strings.HasSuffix(target.Notes, "--- Sync Metadata ---\nSource: Work") {
		t.Errorf("Notes = %q, expected suffix naming Source: Work", target.Notes)
	}
	if !strings.HasPrefix(target.Notes, source.Notes) {
		t.Errorf("Notes = %q, expected to start with source notes", target.Notes)
	}
}

func TestCopyFieldsRendersParticipants(t *testing.T) {
	source := backend.Event{
		Title: "Planning",
		Notes: "Agenda TBD",
		Attendees: []backend.Attendee{
			{Name: "Alice", ParticipationStatus: backend.StatusAccepted},
			{Name: "Bob", ParticipationStatus: backend.StatusTentative},
		},
	}
	var target backend.Event

	CopyFields(source, "Personal", &target)

	if !strings.Contains(target.Notes, "Participants") {
		t.Fatalf("Notes = %q, expected a Participants section", target.Notes)
	}
	if !strings.Contains(target.Notes, "- Alice (Accepted)") {
		t.Errorf("Notes missing Alice line: %q", target.Notes)
	}
	if !strings.Contains(target.Notes, "- Bob (Tentative)") {
		t.Errorf("Notes missing Bob line: %q", target.Notes)
	}
	if strings.HasSuffix(target.Notes, "\n") {
		t.Errorf("Notes = %q, expected trailing newline trimmed", target.Notes)
	}
}

func TestCopyFieldsRepeatedApplicationIsIdempotent(t *testing.T) {
	source := backend.Event{
		Title: "Standup",
		Notes: "Daily notes",
		Attendees: []backend.Attendee{
			{Name: "Carol", ParticipationStatus: backend.StatusDeclined},
		},
	}
	var target backend.Event

	CopyFields(source, "Team", &target)
	first := target.Notes

	CopyFields(source, "Team", &target)
	second := target.Notes

	if first != second {
		t.Fatalf("expected repeated CopyFields to be idempotent on Notes, got %q then %q", first, second)
	}
}

func TestCopyFieldsUnknownParticipationStatusDefaultsUnknown(t *testing.T) {
	source := backend.Event{
		Title: "Retro",
		Attendees: []backend.Attendee{
			{Name: "Dave", ParticipationStatus: ""},
		},
	}
	var target backend.Event

	CopyFields(source, "Team", &target)

	if !strings.Contains(target.Notes, "- Dave (Unknown)") {
		t.Errorf("Notes = %q, expected Dave's blank status to render as Unknown", target.Notes)
	}
}
