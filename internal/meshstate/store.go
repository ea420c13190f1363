package meshstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dalbodeule/calmesh/internal/clock"
	"github.com/dalbodeule/calmesh/internal/synclog"
)

// Store is the Mesh State Store: durable, JSON-backed, single-writer.
// It is not safe for concurrent use by more than one goroutine — the
// Reconciler is itself single-threaded with respect to state mutation
// (spec section 5).
type Store struct {
	statePath string
	backupDir string
	now       clock.Source
	log       *synclog.Logger

	groups []SyncGroup
}

// NewStore constructs a Store rooted at statePath, with backups written to
// backupDir. now and log are explicit collaborators per spec section 9's
// design note against module-level singletons.
func NewStore(statePath, backupDir string, now clock.Source, log *synclog.Logger) *Store {
	return &Store{
		statePath: statePath,
		backupDir: backupDir,
		now:       now,
		log:       log,
	}
}

// Groups returns the store's current groups. Callers must not mutate the
// returned slice's contents directly; use the Store's mutation methods.
func (s *Store) Groups() []SyncGroup {
	return s.groups
}

// Load reads the state file. A missing file is treated as empty state. A
// corrupt file is renamed aside with a .corrupt.<epoch> suffix and the
// store starts empty, per spec section 7's recoverable "state file
// corrupt" error kind.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.groups = nil
			return nil
		}
		return err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		corruptPath := fmt.Sprintf("%s.corrupt.%d", s.statePath, s.now().Unix())
		if renameErr := os.Rename(s.statePath, corruptPath); renameErr != nil {
			s.log.Error("state-corrupt-rename-failed", renameErr, "path", s.statePath)
		} else {
			s.log.Warn("state-corrupt", "moved_to", corruptPath, "parse_error", err.Error())
		}
		s.groups = nil
		return nil
	}

	s.groups = doc.Groups
	return nil
}

// Save writes a backup of the prior state file (if any), then atomically
// overwrites the state file with the current in-memory groups via a
// temp-file-then-rename discipline, per spec section 4.B.
func (s *Store) Save() error {
	if err := s.backupExisting(); err != nil {
		return err
	}

	dir := filepath.Dir(s.statePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	doc := document{Groups: s.groups}
	if doc.Groups == nil {
		doc.Groups = []SyncGroup{}
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmesh-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.statePath)
}

// backupExisting copies the current on-disk state file into
// backups/state_backup_<epoch>.json before it is overwritten. A missing
// state file (first-ever save) is not an error.
func (s *Store) backupExisting() error {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(s.backupDir, 0o700); err != nil {
		return err
	}

	backupPath := filepath.Join(s.backupDir, fmt.Sprintf("state_backup_%d.json", s.now().Unix()))
	return os.WriteFile(backupPath, data, 0o600)
}

// FindByEventID scans all groups for the reference matching (calendarID,
// eventID). Linear scan is acceptable per spec section 4.B: state sizes
// are small.
func (s *Store) FindByEventID(calendarID, eventID string) (*SyncGroup, *EventReference, bool) {
	for gi := range s.groups {
		g := &s.groups[gi]
		if idx := g.findRef(calendarID, eventID); idx != -1 {
			return g, &g.References[idx], true
		}
	}
	return nil, nil, false
}

// UpsertReference records (calendarID, eventID) as live with the given
// timestamps. If the pair already exists anywhere in the state, its
// timestamps are refreshed and any tombstone cleared (resurrection).
// Otherwise a new reference is appended to the group named groupID if it
// exists, or a freshly created group with that id.
func (s *Store) UpsertReference(calendarID, eventID string, lastModified, startDate float64, groupID string) {
	if g, ref, ok := s.FindByEventID(calendarID, eventID); ok {
		ref.LastModified = lastModified
		ref.StartDate = &startDate
		ref.IsDeleted = false
		_ = g
		return
	}

	ref := EventReference{
		CalendarID:   calendarID,
		EventID:      eventID,
		LastModified: lastModified,
		StartDate:    &startDate,
		IsDeleted:    false,
	}

	for gi := range s.groups {
		if s.groups[gi].ID == groupID {
			s.groups[gi].References = append(s.groups[gi].References, ref)
			return
		}
	}

	s.groups = append(s.groups, SyncGroup{
		ID:         groupID,
		References: []EventReference{ref},
	})
}

// Tombstone marks (calendarID, eventID) deleted, per the reference state
// machine's Live/Missing -> Tombstoned transition.
func (s *Store) Tombstone(calendarID, eventID string) {
	if _, ref, ok := s.FindByEventID(calendarID, eventID); ok {
		ref.IsDeleted = true
	}
}

// SetSource records groupID's Source pointer.
func (s *Store) SetSource(groupID, calendarID, eventID string) {
	for gi := range s.groups {
		if s.groups[gi].ID == groupID {
			cID, eID := calendarID, eventID
			s.groups[gi].SourceCalendarID = &cID
			s.groups[gi].SourceEventID = &eID
			return
		}
	}
}

// Group returns the group with the given id, if any.
func (s *Store) Group(groupID string) (*SyncGroup, bool) {
	for gi := range s.groups {
		if s.groups[gi].ID == groupID {
			return &s.groups[gi], true
		}
	}
	return nil, false
}

// MergeGroups concatenates loserID's references into winnerID, then
// removes loserID. winnerID's Source pointer is retained; loserID's is
// discarded, per spec section 4.B and the tie-breaking rule that the
// group currently being processed always wins a merge.
func (s *Store) MergeGroups(loserID, winnerID string) {
	if loserID == winnerID {
		return
	}

	winnerIdx, loserIdx := -1, -1
	for gi := range s.groups {
		switch s.groups[gi].ID {
		case winnerID:
			winnerIdx = gi
		case loserID:
			loserIdx = gi
		}
	}
	if winnerIdx == -1 || loserIdx == -1 {
		return
	}

	s.groups[winnerIdx].References = append(s.groups[winnerIdx].References, s.groups[loserIdx].References...)
	s.groups = append(s.groups[:loserIdx], s.groups[loserIdx+1:]...)
}

// AllReferences returns every non-deleted reference whose calendar is in
// calendarIDs.
func (s *Store) AllReferences(calendarIDs []string) []EventReference {
	want := make(map[string]bool, len(calendarIDs))
	for _, id := range calendarIDs {
		want[id] = true
	}

	out := make([]EventReference, 0)
	for _, g := range s.groups {
		for _, ref := range g.References {
			if ref.IsDeleted {
				continue
			}
			if want[ref.CalendarID] {
				out = append(out, ref)
			}
		}
	}
	return out
}

// Prune drops references whose StartDate is strictly less than horizon,
// then removes groups left with no references, per spec section 4.B.
// References with no recorded StartDate (nullable for backward
// compatibility, spec section 6) are never pruned by age.
func (s *Store) Prune(horizon float64) {
	kept := make([]SyncGroup, 0, len(s.groups))
	for _, g := range s.groups {
		refs := make([]EventReference, 0, len(g.References))
		for _, ref := range g.References {
			if ref.StartDate != nil && *ref.StartDate < horizon {
				continue
			}
			refs = append(refs, ref)
		}
		if len(refs) == 0 {
			continue
		}
		g.References = refs
		kept = append(kept, g)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	s.groups = kept
}
