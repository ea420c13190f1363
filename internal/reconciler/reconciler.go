// Package reconciler implements the Sync Engine: the single-shot
// reconciliation algorithm described in spec section 4.D, the subject of
// this specification.
package reconciler

import (
	"strings"
	"time"

	"github.com/dalbodeule/calmesh/internal/backend"
	"github.com/dalbodeule/calmesh/internal/clock"
	"github.com/dalbodeule/calmesh/internal/copier"
	"github.com/dalbodeule/calmesh/internal/idgen"
	"github.com/dalbodeule/calmesh/internal/meshstate"
	"github.com/dalbodeule/calmesh/internal/synclog"
)

const (
	// reconciliationPast is how far back the reconciliation window
	// reaches, spec section 4.D.
	reconciliationPast = 30 * 24 * time.Hour
	// reconciliationFuture is how far forward the reconciliation window
	// reaches, spec section 4.D.
	reconciliationFuture = 365 * 24 * time.Hour
	// pruneHorizonPast is how far back references and log lines are
	// retained, spec section 4.D step 4 and the Horizon glossary entry.
	pruneHorizonPast = 30 * 24 * time.Hour

	// fuzzyWindow is the ±1 day window fuzzy-match candidates are searched
	// within, spec section 4.D / glossary.
	fuzzyWindow = 24 * time.Hour
	// fuzzyStartTolerance is the ±300s start-time proximity fuzzy-match
	// requires, spec section 4.D / glossary.
	fuzzyStartTolerance = 300 * time.Second
)

// Reconciler runs one reconciliation pass over a fixed set of calendars.
// Clock and ID generation are injected collaborators, per spec section
// 9's design note against hidden module-level state.
type Reconciler struct {
	backend backend.Backend
	store   *meshstate.Store
	log     *synclog.Logger
	now     clock.Source
	newID   idgen.Source

	calendars       []backend.Calendar
	calendarNameByID map[string]string
}

// New constructs a Reconciler over the given backend/store/log, reconciling
// exactly the given calendars.
func New(be backend.Backend, store *meshstate.Store, log *synclog.Logger, now clock.Source, newID idgen.Source, calendars []backend.Calendar) *Reconciler {
	names := make(map[string]string, len(calendars))
	for _, c := range calendars {
		names[c.ID] = c.Name
	}
	return &Reconciler{
		backend:          be,
		store:            store,
		log:              log,
		now:              now,
		newID:            newID,
		calendars:        calendars,
		calendarNameByID: names,
	}
}

func (r *Reconciler) calendarIDs() []string {
	ids := make([]string, 0, len(r.calendars))
	for _, c := range r.calendars {
		ids = append(ids, c.ID)
	}
	return ids
}

func (r *Reconciler) inSelection(calendarID string) bool {
	for _, c := range r.calendars {
		if c.ID == calendarID {
			return true
		}
	}
	return false
}

// Run executes one full reconciliation pass: collect, classify/propagate,
// detect/handle deletions, prune, persist. Spec section 4.D.
func (r *Reconciler) Run() error {
	now := r.now()
	windowStart := now.Add(-reconciliationPast)
	windowEnd := now.Add(reconciliationFuture)

	// Step 1 — Collect.
	live, err := r.backend.GetEvents(r.calendarIDs(), windowStart, windowEnd)
	if err != nil {
		return err
	}
	liveIDs := make(map[eventKey]bool, len(live))
	for _, e := range live {
		liveIDs[key(e.Calendar.ID, e.EventID)] = true
	}

	// Step 2 — Classify and propagate.
	for _, e := range live {
		r.classifyAndPropagate(e, liveIDs)
	}

	// Step 3 — Detect and handle deletions.
	r.handleDeletions(liveIDs)

	// Step 4 — Prune.
	horizon := now.Add(-pruneHorizonPast)
	r.store.Prune(float64(horizon.Unix()))
	if err := r.log.Prune(horizon.UTC().Format(time.RFC3339Nano)); err != nil {
		r.log.Error("log-prune-failed", err)
	}

	// Step 5 — Persist.
	return r.store.Save()
}

type eventKey struct {
	calendarID, eventID string
}

func key(calendarID, eventID string) eventKey {
	return eventKey{calendarID: calendarID, eventID: eventID}
}

// classifyAndPropagate implements spec section 4.D step 2 for one live
// event.
func (r *Reconciler) classifyAndPropagate(e backend.Event, liveIDs map[eventKey]bool) {
	group, ref, found := r.store.FindByEventID(e.Calendar.ID, e.EventID)

	if !found {
		// Unknown event: found a new group, source it here, propagate.
		groupID := r.newID()
		ts := float64(e.LastModified.Unix())
		start := float64(e.Start.Unix())
		r.store.UpsertReference(e.Calendar.ID, e.EventID, ts, start, groupID)
		r.store.SetSource(groupID, e.Calendar.ID, e.EventID)
		r.propagateNew(e, groupID, liveIDs)
		return
	}

	if !e.LastModified.After(unixTime(ref.LastModified)) {
		// Known, not modified: no propagation, no timestamp rewrite.
		return
	}

	isSource := group.IsSource(e.Calendar.ID, e.EventID)
	sourceless := !group.HasSource()

	if isSource || sourceless {
		if sourceless {
			r.log.Warn("sourceless-group-propagation",
				"group_id", group.ID, "calendar_id", e.Calendar.ID, "event_id", e.EventID)
		}
		r.propagateUpdate(e, group.ID)
	}
	// Advance the reference's lastModified either way, so the same event
	// does not appear modified on the next run (spec section 4.D step 2).
	ref.LastModified = float64(e.LastModified.Unix())
	ref.StartDate = floatPtr(float64(e.Start.Unix()))
}

// propagateNew implements spec section 4.D's PropagateNew: for every other
// selected calendar, adopt a fuzzy-matched existing event or create a
// fresh copy.
func (r *Reconciler) propagateNew(source backend.Event, groupID string, liveIDs map[eventKey]bool) {
	for _, cal := range r.calendars {
		if cal.ID == source.Calendar.ID {
			continue
		}

		match, ok := r.fuzzyMatch(cal.ID, source)
		if ok {
			ts := float64(match.LastModified.Unix())
			start := float64(match.Start.Unix())
			r.store.UpsertReference(cal.ID, match.EventID, ts, start, groupID)
			liveIDs[key(cal.ID, match.EventID)] = true
			continue
		}

		target := r.backend.CreateEvent(cal)
		copier.CopyFields(source, r.calendarNameByID[source.Calendar.ID], &target)
		saved, err := r.backend.Save(target)
		if err != nil {
			r.log.Error("propagate-new-save-failed", err, "calendar_id", cal.ID, "group_id", groupID)
			continue
		}
		ts := float64(saved.LastModified.Unix())
		start := float64(saved.Start.Unix())
		r.store.UpsertReference(cal.ID, saved.EventID, ts, start, groupID)
	}
}

// propagateUpdate implements spec section 4.D's PropagateUpdate: push the
// Source's fields to every Copy in the group. The event passed as source is
// never written back, even in a sourceless group.
func (r *Reconciler) propagateUpdate(source backend.Event, groupID string) {
	group, ok := r.store.Group(groupID)
	if !ok {
		return
	}

	sourceName := r.calendarNameByID[source.Calendar.ID]

	for _, ref := range group.References {
		if group.IsSource(ref.CalendarID, ref.EventID) || ref.IsDeleted {
			continue
		}
		if ref.CalendarID == source.Calendar.ID && ref.EventID == source.EventID {
			continue
		}

		target, ok, err := r.backend.GetEvent(ref.CalendarID, ref.EventID)
		if err != nil {
			r.log.Error("propagate-update-lookup-failed", err, "calendar_id", ref.CalendarID, "event_id", ref.EventID)
			continue
		}
		if !ok {
			// Missing copy; healing handles this in the deletion pass.
			r.log.Warn("propagate-update-target-missing", "calendar_id", ref.CalendarID, "event_id", ref.EventID)
			continue
		}

		copier.CopyFields(source, sourceName, &target)
		saved, err := r.backend.Save(target)
		if err != nil {
			r.log.Error("propagate-update-save-failed", err, "calendar_id", ref.CalendarID, "event_id", ref.EventID)
			continue
		}

		r.store.UpsertReference(ref.CalendarID, ref.EventID, float64(saved.LastModified.Unix()), float64(saved.Start.Unix()), groupID)
	}
}

// handleDeletions implements spec section 4.D step 3: every reference not
// seen live is handed to HandleMissing, grouped by Sync Group so the
// per-group procedure in spec section 4.D runs once per group.
func (r *Reconciler) handleDeletions(liveIDs map[eventKey]bool) {
	missingByGroup := make(map[string]bool)
	for _, ref := range r.store.AllReferences(r.calendarIDs()) {
		if !liveIDs[key(ref.CalendarID, ref.EventID)] {
			if g, _, ok := r.store.FindByEventID(ref.CalendarID, ref.EventID); ok {
				missingByGroup[g.ID] = true
			}
		}
	}

	for groupID := range missingByGroup {
		r.handleMissing(groupID, liveIDs)
	}
}

// handleMissing implements spec section 4.D's HandleMissing. It is
// idempotent when called more than once per run, since it only acts on
// references that are still non-deleted and still absent from liveIDs.
func (r *Reconciler) handleMissing(groupID string, liveIDs map[eventKey]bool) {
	group, ok := r.store.Group(groupID)
	if !ok {
		return
	}

	// presentRefs holds every reference the backend still has an event for,
	// whether it showed up in this run's live window or is only confirmed
	// by an individual lookup; missingRefs holds the rest. A reference
	// still in the live window counts as present even though it never
	// enters this function's processing loop below.
	var presentRefs, missingRefs []meshstate.EventReference
	for _, ref := range group.References {
		if ref.IsDeleted {
			continue
		}
		if liveIDs[key(ref.CalendarID, ref.EventID)] {
			presentRefs = append(presentRefs, ref)
			continue
		}
		if _, ok, err := r.backend.GetEvent(ref.CalendarID, ref.EventID); err == nil && ok {
			presentRefs = append(presentRefs, ref)
		} else {
			missingRefs = append(missingRefs, ref)
		}
	}

	if len(missingRefs) == 0 {
		return
	}

	if len(presentRefs) == 0 {
		for _, ref := range group.References {
			r.store.Tombstone(ref.CalendarID, ref.EventID)
		}
		return
	}

	anchorRef := presentRefs[0]
	anchor, ok, err := r.backend.GetEvent(anchorRef.CalendarID, anchorRef.EventID)
	if err != nil || !ok {
		return
	}

	for _, m := range missingRefs {
		if !r.inSelection(m.CalendarID) {
			r.store.Tombstone(m.CalendarID, m.EventID)
			continue
		}

		match, found := r.fuzzyMatch(m.CalendarID, anchor)
		if found {
			if otherGroup, _, ok := r.store.FindByEventID(m.CalendarID, match.EventID); ok && otherGroup.ID != groupID {
				r.store.MergeGroups(otherGroup.ID, groupID)
			} else {
				r.store.UpsertReference(m.CalendarID, match.EventID, float64(match.LastModified.Unix()), float64(match.Start.Unix()), groupID)
			}
			r.store.Tombstone(m.CalendarID, m.EventID)
			liveIDs[key(m.CalendarID, match.EventID)] = true
			continue
		}

		// Re-fetch the group by id: an earlier iteration of this loop may
		// have merged another group into it, which can shift positions in
		// the store's backing slice and invalidate a pointer held across
		// mutating calls.
		currentGroup, ok := r.store.Group(groupID)
		if !ok {
			return
		}
		source, sourceAlive := r.aliveSource(currentGroup, presentRefs)
		if sourceAlive {
			// Copy was deleted by a user: recreate it from the Source.
			cal := backend.Calendar{ID: m.CalendarID, Name: r.calendarNameByID[m.CalendarID]}
			target := r.backend.CreateEvent(cal)
			copier.CopyFields(source, r.calendarNameByID[source.Calendar.ID], &target)
			saved, err := r.backend.Save(target)
			if err != nil {
				r.log.Error("resurrect-save-failed", err, "calendar_id", m.CalendarID, "group_id", groupID)
				continue
			}
			r.store.UpsertReference(m.CalendarID, saved.EventID, float64(saved.LastModified.Unix()), float64(saved.Start.Unix()), groupID)
			r.store.Tombstone(m.CalendarID, m.EventID)
			continue
		}

		// Source itself is missing (or undefined): honor the deletion.
		r.store.Tombstone(m.CalendarID, m.EventID)
		for _, v := range presentRefs {
			if err := r.backend.Remove(v.CalendarID, v.EventID); err != nil {
				r.log.Error("teardown-remove-failed", err, "calendar_id", v.CalendarID, "event_id", v.EventID)
			}
			r.store.Tombstone(v.CalendarID, v.EventID)
		}
		return
	}
}

// aliveSource reports whether group's Source reference is among
// presentRefs (i.e. the backend still has it), returning the live Source
// event if so.
func (r *Reconciler) aliveSource(group *meshstate.SyncGroup, presentRefs []meshstate.EventReference) (backend.Event, bool) {
	srcRef, ok := group.SourceReference()
	if !ok {
		return backend.Event{}, false
	}
	for _, v := range presentRefs {
		if v.CalendarID == srcRef.CalendarID && v.EventID == srcRef.EventID {
			ev, ok, err := r.backend.GetEvent(v.CalendarID, v.EventID)
			if err != nil || !ok {
				return backend.Event{}, false
			}
			return ev, true
		}
	}
	return backend.Event{}, false
}

// fuzzyMatch implements the fuzzy-match rule, spec section 4.D /
// glossary: trimmed-title equality and start-time proximity within
// ±300s, searched within a ±1 day window of anchor's start. The first
// candidate the backend returns wins; no further ranking (tie-breaking
// rule i).
func (r *Reconciler) fuzzyMatch(calendarID string, anchor backend.Event) (backend.Event, bool) {
	candidates, err := r.backend.GetEvents([]string{calendarID}, anchor.Start.Add(-fuzzyWindow), anchor.Start.Add(fuzzyWindow))
	if err != nil {
		return backend.Event{}, false
	}

	anchorTitle := strings.TrimSpace(anchor.Title)
	for _, c := range candidates {
		if strings.TrimSpace(c.Title) != anchorTitle {
			continue
		}
		diff := c.Start.Sub(anchor.Start)
		if diff < 0 {
			diff = -diff
		}
		if diff <= fuzzyStartTolerance {
			return c, true
		}
	}
	return backend.Event{}, false
}

func unixTime(sec float64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func floatPtr(f float64) *float64 {
	return &f
}
