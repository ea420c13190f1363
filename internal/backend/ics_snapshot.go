package backend

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// ErrReadOnly is returned by ICSSnapshot's Save/Remove: it exists to seed
// or inspect calendars from a static .ics export, never to write back to
// them (real platform write-back is out of scope, spec section 1).
var ErrReadOnly = errors.New("backend: ics snapshot is read-only")

// parsedEvent is the normalized form of a single VEVENT, prior to
// recurrence expansion. Adapted from the teacher's ICS parser.
type parsedEvent struct {
	calendarID string
	uid        string

	summary     string
	description string
	location    string

	start, end time.Time
	allDay     bool

	rawRRule   string
	exDates    []time.Time
	recurrence *time.Time
	isOverride bool
}

// ICSSnapshot is a read-only Backend loading one or more named calendars
// from static .ics payloads. It expands RRULE recurrences within a fixed
// window and materializes each occurrence as its own backend.Event with a
// synthetic, stable EventID.
type ICSSnapshot struct {
	calendars map[string]Calendar
	events    map[string]map[string]Event
}

// LoadICSSnapshot parses each (calendarID, icsBody) pair and expands
// recurrences into concrete events within [windowStart, windowEnd).
func LoadICSSnapshot(sources map[string]struct {
	Name string
	ICS  []byte
}, windowStart, windowEnd time.Time) (*ICSSnapshot, error) {
	snap := &ICSSnapshot{
		calendars: make(map[string]Calendar),
		events:    make(map[string]map[string]Event),
	}

	for calID, src := range sources {
		cal := Calendar{ID: calID, Name: src.Name}
		snap.calendars[calID] = cal
		snap.events[calID] = make(map[string]Event)

		parsed, err := parseICS(calID, src.ICS)
		if err != nil {
			return nil, fmt.Errorf("backend: parse %s: %w", calID, err)
		}

		occs, err := expandOccurrences(parsed, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("backend: expand %s: %w", calID, err)
		}

		for i, ev := range occs {
			ev.Calendar = cal
			ev.EventID = fmt.Sprintf("%s-%s-%d", calID, ev.EventID, i)
			snap.events[calID][ev.EventID] = ev
		}
	}

	return snap, nil
}

// LoadICSFile is a convenience wrapper reading a single .ics file from disk
// into a one-calendar snapshot.
func LoadICSFile(calendarID, calendarName, path string, windowStart, windowEnd time.Time) (*ICSSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadICSSnapshot(map[string]struct {
		Name string
		ICS  []byte
	}{
		calendarID: {Name: calendarName, ICS: data},
	}, windowStart, windowEnd)
}

func (s *ICSSnapshot) ListCalendars() ([]Calendar, error) {
	out := make([]Calendar, 0, len(s.calendars))
	for _, c := range s.calendars {
		out = append(out, c)
	}
	return out, nil
}

func (s *ICSSnapshot) GetEvents(calendarIDs []string, start, end time.Time) ([]Event, error) {
	want := make(map[string]bool, len(calendarIDs))
	for _, id := range calendarIDs {
		want[id] = true
	}
	out := make([]Event, 0)
	for calID, m := range s.events {
		if !want[calID] {
			continue
		}
		for _, ev := range m {
			if !ev.Start.Before(start) && ev.Start.Before(end) {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (s *ICSSnapshot) GetEvent(calendarID, eventID string) (Event, bool, error) {
	m, ok := s.events[calendarID]
	if !ok {
		return Event{}, false, nil
	}
	ev, ok := m[eventID]
	return ev, ok, nil
}

func (s *ICSSnapshot) CreateEvent(calendar Calendar) Event {
	return Event{Calendar: calendar}
}

func (s *ICSSnapshot) Save(Event) (Event, error) {
	return Event{}, ErrReadOnly
}

func (s *ICSSnapshot) Remove(string, string) error {
	return ErrReadOnly
}

func parseICS(calendarID string, body []byte) ([]parsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]parsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(calendarID, comp)
		if perr != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(calendarID string, ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent
	out.calendarID = calendarID

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.location = p.Value
	}

	start, _ := ve.GetStartAt()
	end, _ := ve.GetEndAt()
	out.start = start
	out.end = end

	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		val := dtStartProp.Value
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.allDay = true
			}
		}
		if !strings.Contains(val, "T") {
			out.allDay = true
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.rawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value); err == nil {
			out.recurrence = &t
			out.isOverride = true
		}
	}

	return out, nil
}

func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}

const maxOccurrencesPerEvent = 5000

// expandOccurrences expands RRULE-based recurrence for each base event,
// applying RECURRENCE-ID overrides and materializing one backend.Event per
// recurring occurrence starting within [rangeStart, rangeEnd] (both ends
// inclusive), plus one per non-recurring event that overlaps that range
// even if it starts before rangeStart. EventID on the returned events
// is set to a strconv-based occurrence index; the caller rewrites it to a
// stable per-calendar id.
func expandOccurrences(events []parsedEvent, rangeStart, rangeEnd time.Time) ([]Event, error) {
	if rangeEnd.Before(rangeStart) {
		return nil, errors.New("expand: rangeEnd before rangeStart")
	}

	baseByUID := make(map[string][]parsedEvent)
	overridesByUID := make(map[string][]parsedEvent)
	for _, ev := range events {
		if ev.isOverride && ev.recurrence != nil {
			overridesByUID[ev.uid] = append(overridesByUID[ev.uid], ev)
		} else {
			baseByUID[ev.uid] = append(baseByUID[ev.uid], ev)
		}
	}

	out := make([]Event, 0)
	for uid, bases := range baseByUID {
		ov := overridesByUID[uid]
		for _, ev := range bases {
			occs := expandEvent(ev, ov, rangeStart, rangeEnd)
			out = append(out, occs...)
		}
	}
	return out, nil
}

func expandEvent(ev parsedEvent, overrides []parsedEvent, rangeStart, rangeEnd time.Time) []Event {
	if ev.rawRRule == "" {
		// A non-recurring event that ends before the window starts, or
		// starts after the window ends, contributes no occurrences.
		if ev.end.Before(rangeStart) || rangeEnd.Before(ev.start) {
			return nil
		}
		start, end, use := ev.start, ev.end, ev
		if o, ok := findOverrideForStart(overrides, start); ok {
			start, end, use = o.start, o.end, o
		}
		return []Event{makeOccurrenceEvent(use, 0, start, end)}
	}

	r, err := rrule.StrToRRule(ev.rawRRule)
	if err != nil {
		return nil
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	occTimes := set.Between(rangeStart.In(ev.start.Location()), rangeEnd.In(ev.start.Location()), true)
	if len(occTimes) > maxOccurrencesPerEvent {
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	out := make([]Event, 0, len(occTimes))
	for i, occStart := range occTimes {
		var occEnd time.Time
		if ev.allDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.Add(24 * time.Hour)
		} else {
			occEnd = occStart.Add(ev.end.Sub(ev.start))
		}

		start, end, use := occStart, occEnd, ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			start, end, use = o.start, o.end, o
		}
		out = append(out, makeOccurrenceEvent(use, i, start, end))
	}
	return out
}

func findOverrideForStart(overrides []parsedEvent, start time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.recurrence == nil {
			continue
		}
		if ov.recurrence.In(start.Location()).Equal(start) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}

func makeOccurrenceEvent(ev parsedEvent, index int, start, end time.Time) Event {
	return Event{
		EventID:  ev.uid + "#" + strconv.Itoa(index),
		Title:    ev.summary,
		Location: ev.location,
		Notes:    ev.description,
		IsAllDay: ev.allDay,
		Start:    start,
		End:      end,
	}
}
