package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalbodeule/calmesh/internal/backend"
)

// icsSource is one --ics flag value, of the form "id:name:path".
type icsSource struct {
	id, name, path string
}

func parseICSFlag(raw string) (icsSource, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return icsSource{}, fmt.Errorf("calmesh: --ics value %q must be id:name:path", raw)
	}
	return icsSource{id: parts[0], name: parts[1], path: parts[2]}, nil
}

// buildFakeFromICS loads each --ics source into a backend.Fake, so the
// reconciler always has a writable Backend to run against. The real
// platform calendar backend is out of scope for this repository (spec
// section 1); this is the CLI's stand-in for local runs and demos.
func buildFakeFromICS(sources []string, now func() time.Time, windowStart, windowEnd time.Time) (*backend.Fake, error) {
	fake := backend.NewFake(now)

	for _, raw := range sources {
		src, err := parseICSFlag(raw)
		if err != nil {
			return nil, err
		}

		snap, err := backend.LoadICSFile(src.id, src.name, src.path, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("calmesh: loading %s: %w", src.path, err)
		}

		cal := backend.Calendar{ID: src.id, Name: src.name}
		fake.AddCalendar(cal)

		events, err := snap.GetEvents([]string{src.id}, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			ev.Calendar = cal
			ev.LastModified = now()
			fake.Seed(ev)
		}
	}

	return fake, nil
}
