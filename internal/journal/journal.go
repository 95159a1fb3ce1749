// Package journal implements the persisted ".outstanding_transfers" lock
// journal: CRUD on (snapshot_basename, destination_key) pairs with
// crash-atomic write-temp-then-rename persistence.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// FileName is the fixed name of the lock journal within a snapshot directory.
const FileName = ".outstanding_transfers"

// ErrCorrupt is returned by Load when the on-disk journal cannot be parsed.
// The coordinator surfaces this as a fatal CorruptJournal error for the run.
var ErrCorrupt = errors.New("journal: corrupt lock file")

// Journal tracks in-flight transfers keyed by snapshot basename, each mapped
// to the set of destination keys still holding an open lock for it.
type Journal struct {
	path    string
	entries map[string]map[string]struct{}
}

// Load reads the journal at dir/.outstanding_transfers. A missing file is
// not an error and yields an empty journal; a malformed file yields
// ErrCorrupt.
func Load(dir string) (*Journal, error) {
	path := filepath.Join(dir, FileName)
	// A previous crash mid-write leaves a stale temp file behind; it never
	// reflects a completed write, so it is safe to discard on open.
	_ = os.Remove(path + ".tmp")

	j := &Journal{path: path, entries: make(map[string]map[string]struct{})}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return j, nil
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	for basename, dests := range raw {
		set := make(map[string]struct{}, len(dests))
		for _, d := range dests {
			set[d] = struct{}{}
		}
		j.entries[basename] = set
	}
	return j, nil
}

// Lock adds destKey to the lock set for basename and persists the journal.
func (j *Journal) Lock(basename, destKey string) error {
	set, ok := j.entries[basename]
	if !ok {
		set = make(map[string]struct{})
		j.entries[basename] = set
	}
	set[destKey] = struct{}{}
	return j.save()
}

// Unlock removes destKey from basename's lock set, dropping the key entirely
// once its set is empty, and persists the journal.
func (j *Journal) Unlock(basename, destKey string) error {
	set, ok := j.entries[basename]
	if !ok {
		return nil
	}
	delete(set, destKey)
	if len(set) == 0 {
		delete(j.entries, basename)
	}
	return j.save()
}

// RemoveAll drops every lock entry for basename regardless of destination.
// It persists the journal.
func (j *Journal) RemoveAll(basename string) error {
	delete(j.entries, basename)
	return j.save()
}

// Locked reports whether a lock entry exists for (basename, destKey).
func (j *Journal) Locked(basename, destKey string) bool {
	set, ok := j.entries[basename]
	if !ok {
		return false
	}
	_, ok = set[destKey]
	return ok
}

// Entry is a flattened (basename, destKey) lock pair.
type Entry struct {
	Basename string
	DestKey  string
}

// Entries returns every lock entry in the journal, ordered by basename then
// destination key for deterministic iteration.
func (j *Journal) Entries() []Entry {
	out := make([]Entry, 0)
	for basename, set := range j.entries {
		for dest := range set {
			out = append(out, Entry{Basename: basename, DestKey: dest})
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Basename != out[k].Basename {
			return out[i].Basename < out[k].Basename
		}
		return out[i].DestKey < out[k].DestKey
	})
	return out
}

// LockedBasenames returns the set of basenames that hold at least one open
// lock entry, for any destination. Used by the retention planner (spec
// invariant 3: the source must retain every snapshot with a live lock).
func (j *Journal) LockedBasenames() map[string]struct{} {
	out := make(map[string]struct{}, len(j.entries))
	for basename := range j.entries {
		out[basename] = struct{}{}
	}
	return out
}

// DestKeys returns every distinct destination key appearing anywhere in the
// journal, used to expand the destination set under --locked-dests.
func (j *Journal) DestKeys() []string {
	seen := make(map[string]struct{})
	for _, set := range j.entries {
		for dest := range set {
			seen[dest] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for dest := range seen {
		out = append(out, dest)
	}
	sort.Strings(out)
	return out
}

// save persists the journal to disk using write-temp-then-rename, fsyncing
// the file and its parent directory both before and after the rename so a
// crash at any point leaves either the pre-image or the post-image, never a
// truncated or syntactically invalid file.
func (j *Journal) save() error {
	raw := make(map[string][]string, len(j.entries))
	for basename, set := range j.entries {
		dests := make([]string, 0, len(set))
		for d := range set {
			dests = append(dests, d)
		}
		sort.Strings(dests)
		raw[basename] = dests
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: creating %s: %w", dir, err)
	}

	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("journal: writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("journal: syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: closing temp file: %w", err)
	}

	if err := fsyncDir(dir); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: syncing directory: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: renaming into place: %w", err)
	}
	if err := fsyncDir(dir); err != nil {
		return fmt.Errorf("journal: syncing directory after rename: %w", err)
	}
	return nil
}

func fsyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
