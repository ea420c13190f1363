package meshstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dalbodeule/calmesh/internal/clock"
	"github.com/dalbodeule/calmesh/internal/synclog"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	backupDir := filepath.Join(dir, "backups")
	log := synclog.New(nil, "")
	now := clock.Fixed(time.Unix(1_700_000_000, 0).UTC())
	return NewStore(statePath, backupDir, now, log), statePath
}

func TestStoreLoadMissingFileIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Groups()) != 0 {
		t.Fatalf("expected no groups, got %d", len(s.Groups()))
	}
}

func TestStoreUpsertAndFind(t *testing.T) {
	s, _ := newTestStore(t)

	s.UpsertReference("cal-a", "evt-1", 100, 50, "group-1")
	s.SetSource("group-1", "cal-a", "evt-1")

	group, ref, ok := s.FindByEventID("cal-a", "evt-1")
	if !ok {
		t.Fatal("expected to find reference")
	}
	if group.ID != "group-1" {
		t.Fatalf("expected group-1, got %s", group.ID)
	}
	if ref.LastModified != 100 {
		t.Fatalf("expected lastModified 100, got %v", ref.LastModified)
	}
	if !group.IsSource("cal-a", "evt-1") {
		t.Fatal("expected cal-a/evt-1 to be the source")
	}
}

func TestStoreUpsertResurrectsTombstone(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpsertReference("cal-a", "evt-1", 100, 50, "group-1")
	s.Tombstone("cal-a", "evt-1")

	_, ref, _ := s.FindByEventID("cal-a", "evt-1")
	if !ref.IsDeleted {
		t.Fatal("expected reference to be tombstoned")
	}

	s.UpsertReference("cal-a", "evt-1", 200, 60, "group-1")
	_, ref, _ = s.FindByEventID("cal-a", "evt-1")
	if ref.IsDeleted {
		t.Fatal("expected resurrection to clear the tombstone")
	}
	if ref.LastModified != 200 {
		t.Fatalf("expected refreshed lastModified 200, got %v", ref.LastModified)
	}
}

func TestStoreMergeGroups(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpsertReference("cal-a", "evt-1", 100, 50, "group-1")
	s.UpsertReference("cal-b", "evt-2", 100, 50, "group-2")

	s.MergeGroups("group-2", "group-1")

	if _, ok := s.Group("group-2"); ok {
		t.Fatal("expected group-2 to be removed after merge")
	}
	winner, ok := s.Group("group-1")
	if !ok {
		t.Fatal("expected group-1 to survive merge")
	}
	if len(winner.References) != 2 {
		t.Fatalf("expected 2 references after merge, got %d", len(winner.References))
	}
}

func TestStoreMergeGroupsNoOpOnSameID(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpsertReference("cal-a", "evt-1", 100, 50, "group-1")
	s.MergeGroups("group-1", "group-1")

	if len(s.Groups()) != 1 {
		t.Fatalf("expected 1 group, got %d", len(s.Groups()))
	}
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	s, statePath := newTestStore(t)
	s.UpsertReference("cal-a", "evt-1", 100, 50, "group-1")
	s.SetSource("group-1", "cal-a", "evt-1")
	s.UpsertReference("cal-b", "evt-2", 100, 50, "group-1")

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewStore(statePath, filepath.Dir(statePath)+"/backups", clock.Fixed(time.Now()), synclog.New(nil, ""))
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded.Groups()) != 1 {
		t.Fatalf("expected 1 group after reload, got %d", len(reloaded.Groups()))
	}
	if len(reloaded.Groups()[0].References) != 2 {
		t.Fatalf("expected 2 references after reload, got %d", len(reloaded.Groups()[0].References))
	}
}

func TestStoreSaveWritesBackupOfPriorState(t *testing.T) {
	s, statePath := newTestStore(t)
	s.UpsertReference("cal-a", "evt-1", 100, 50, "group-1")
	if err := s.Save(); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	s.UpsertReference("cal-a", "evt-2", 100, 50, "group-2")
	if err := s.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	backupDir := filepath.Dir(statePath) + "/backups"
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("ReadDir backups: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one backup file after the second Save")
	}
}

func TestStoreLoadCorruptFileIsQuarantined(t *testing.T) {
	s, statePath := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(statePath), 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(statePath, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Groups()) != 0 {
		t.Fatal("expected empty state after quarantining a corrupt file")
	}

	matches, _ := filepath.Glob(statePath + ".corrupt.*")
	if len(matches) != 1 {
		t.Fatalf("expected exactly one quarantined file, found %d", len(matches))
	}
}

func TestStorePruneDropsOldReferencesAndEmptyGroups(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpsertReference("cal-a", "evt-old", 100, 10, "group-old")
	s.UpsertReference("cal-a", "evt-new", 100, 1000, "group-new")

	s.Prune(500)

	if _, ok := s.Group("group-old"); ok {
		t.Fatal("expected group-old to be pruned entirely")
	}
	if _, ok := s.Group("group-new"); !ok {
		t.Fatal("expected group-new to survive pruning")
	}
}

func TestStorePruneKeepsReferencesWithoutStartDate(t *testing.T) {
	s, _ := newTestStore(t)
	s.groups = []SyncGroup{
		{
			ID: "group-nil-start",
			References: []EventReference{
				{CalendarID: "cal-a", EventID: "evt-1", LastModified: 100, StartDate: nil},
			},
		},
	}

	s.Prune(500)

	if _, ok := s.Group("group-nil-start"); !ok {
		t.Fatal("expected a reference with no StartDate to survive pruning regardless of horizon")
	}
}

func TestDocumentMarshalsGroupsKey(t *testing.T) {
	doc := document{Groups: []SyncGroup{{ID: "g1"}}}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := back["groups"]; !ok {
		t.Fatal(`expected top-level "groups" key`)
	}
}
