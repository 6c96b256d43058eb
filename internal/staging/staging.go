// Package staging records the changes a user proposes for the partitions of
// the host without applying them.
//
// A Store holds two things: the edits of partitions (label, mount point,
// filesystem, format flag) keyed by disk.Identity, and a journal of
// structural operations (table replacements, creates, deletes). Neither ever
// touches a real device; Replay applies the journal to a copy of a catalog
// snapshot so that the staged layout can be displayed and validated.
package staging

import (
	"fmt"
	"sort"
	"sync"

	"github.com/osbuild/disk-stager/internal/disk"
)

// Edit is the staged state of a partition. For partitions that are not
// created by the plan, an empty FSType with Format unset keeps the
// filesystem found on the partition.
type Edit struct {
	Label      string      `toml:"label,omitempty"`
	Mountpoint string      `toml:"mountpoint,omitempty"`
	FSType     disk.FSType `toml:"fstype,omitempty"`
	Format     bool        `toml:"format,omitempty"`
}

// Entry is an edit together with the partition it belongs to.
type Entry struct {
	Identity disk.Identity
	Edit     Edit
}

// Store holds the staged edits and the structural journal.
type Store struct {
	mu    sync.RWMutex
	edits map[disk.Identity]Edit
	ops   []Operation
}

func NewStore() *Store {
	return &Store{edits: make(map[disk.Identity]Edit)}
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := NewStore()
	for id, edit := range s.edits {
		clone.edits[id] = edit
	}
	clone.ops = append([]Operation(nil), s.ops...)
	return clone
}

// Stage sets the edit of a partition, replacing any earlier one.
func (s *Store) Stage(id disk.Identity, edit Edit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits[id] = edit
}

// Unstage removes the edit of a partition.
func (s *Store) Unstage(id disk.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edits, id)
}

func (s *Store) Lookup(id disk.Identity) (Edit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edit, ok := s.edits[id]
	return edit, ok
}

// All returns every staged edit, sorted by identity.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.edits))
	for id, edit := range s.edits {
		entries = append(entries, Entry{Identity: id, Edit: edit})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity.Less(entries[j].Identity)
	})
	return entries
}

// Clear discards every edit and the whole journal.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = make(map[disk.Identity]Edit)
	s.ops = nil
}

// RecordCreate journals the creation of a partition and stages its edit in
// the same step. Extended partitions hold no filesystem and never get an
// edit; edit is ignored for them.
func (s *Store) RecordCreate(device string, kind disk.PartitionKind, g disk.Geometry, edit Edit) disk.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := Operation{Type: OpCreate, Device: device, Kind: kind, Geometry: g}
	s.ops = append(s.ops, op)
	if kind != disk.KindExtended {
		s.edits[op.Identity()] = edit
	}
	return op.Identity()
}

// RecordDelete journals the removal of a partition and drops its edit. A
// partition that was itself created by the plan is removed from the
// journal instead.
func (s *Store) RecordDelete(device string, kind disk.PartitionKind, g disk.Geometry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := Operation{Type: OpDelete, Device: device, Kind: kind, Geometry: g}
	delete(s.edits, op.Identity())

	if idx := s.createIndex(op.Identity()); idx >= 0 {
		s.ops = append(s.ops[:idx], s.ops[idx+1:]...)
		return
	}
	s.ops = append(s.ops, op)
}

// RecordReplaceTable journals a new, empty partition table for a device.
// Earlier operations and edits of the device are dropped; the identities of
// the dropped edits are returned.
func (s *Store) RecordReplaceTable(device string, table disk.PartitionTableType) []disk.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []Operation
	for _, op := range s.ops {
		if op.Device != device {
			kept = append(kept, op)
		}
	}
	s.ops = append(kept, Operation{Type: OpReplaceTable, Device: device, Table: table})

	var orphans []disk.Identity
	for id := range s.edits {
		if id.Device == device {
			orphans = append(orphans, id)
			delete(s.edits, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].Less(orphans[j])
	})
	return orphans
}

// Operations returns the journal in the order it was recorded.
func (s *Store) Operations() []Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Operation(nil), s.ops...)
}

// IsCreated reports whether the partition is created by the plan.
func (s *Store) IsCreated(id disk.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createIndex(id) >= 0
}

// Devices returns the sorted paths of the devices touched by the journal.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var paths []string
	for _, op := range s.ops {
		if !seen[op.Device] {
			seen[op.Device] = true
			paths = append(paths, op.Device)
		}
	}
	sort.Strings(paths)
	return paths
}

func (s *Store) createIndex(id disk.Identity) int {
	for idx, op := range s.ops {
		if op.Type == OpCreate && op.Identity() == id {
			return idx
		}
	}
	return -1
}

// Replay applies the journal to a copy of snapshot and returns the staged
// devices. The snapshot is not modified.
func (s *Store) Replay(snapshot map[string]*disk.Device) (map[string]*disk.Device, error) {
	devices := make(map[string]*disk.Device, len(snapshot))
	for path, dev := range snapshot {
		devices[path] = dev.Clone()
	}

	for _, op := range s.Operations() {
		dev, ok := devices[op.Device]
		if !ok {
			return nil, fmt.Errorf("cannot replay %s: unknown device %s", op, op.Device)
		}
		if err := op.apply(dev); err != nil {
			return nil, fmt.Errorf("cannot replay %s: %w", op, err)
		}
	}
	return devices, nil
}
