package branch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/types"
)

// CollectionSnapshot is one collection's captured state.
type CollectionSnapshot struct {
	DocCount int
	Docs     map[string]types.Document
	Checksum string
}

// Snapshot is an immutable captured state of a branch.
type Snapshot struct {
	ID               string
	Branch           string
	Timestamp        time.Time
	Label            string
	ParentSnapshotID string
	Collections      map[string]CollectionSnapshot
}

// Snapshot captures the current branch's data under the retention policy.
func (m *Manager) Snapshot(label string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captureLocked(m.current, label), nil
}

// captureLocked records a snapshot of one branch and applies retention.
func (m *Manager) captureLocked(branch, label string) *Snapshot {
	var parentID string
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].Branch == branch {
			parentID = m.snapshots[i].ID
			break
		}
	}

	snap := &Snapshot{
		ID:               uuid.NewString(),
		Branch:           branch,
		Timestamp:        time.Now(),
		Label:            label,
		ParentSnapshotID: parentID,
		Collections:      make(map[string]CollectionSnapshot),
	}
	for coll, docs := range m.data[branch] {
		cs := CollectionSnapshot{
			DocCount: len(docs),
			Docs:     make(map[string]types.Document, len(docs)),
		}
		for id, doc := range docs {
			cs.Docs[id] = doc.Clone()
		}
		cs.Checksum = checksum(cs.Docs)
		snap.Collections[coll] = cs
	}

	m.snapshots = append(m.snapshots, snap)
	m.byID[snap.ID] = snap

	if m.cfg.SnapshotRetention > 0 {
		for len(m.snapshots) > m.cfg.SnapshotRetention {
			evicted := m.snapshots[0]
			m.snapshots = m.snapshots[1:]
			delete(m.byID, evicted.ID)
		}
	}

	m.broker.Publish(Event{Type: EventSnapshotCreated, Branch: branch,
		Details: map[string]any{"snapshot": snap.ID}})
	return snap
}

// Snapshots lists all retained snapshots, oldest first.
func (m *Manager) Snapshots() []*Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Snapshot(nil), m.snapshots...)
}

// GetSnapshot returns one snapshot by id.
func (m *Manager) GetSnapshot(id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.byID[id]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "branch.snapshot", "snapshot %q", id)
	}
	return snap, nil
}

// Restore replaces the current branch's data with a snapshot's contents.
func (m *Manager) Restore(snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.byID[snapshotID]
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, "branch.restore", "snapshot %q", snapshotID)
	}

	data := make(Data, len(snap.Collections))
	for coll, cs := range snap.Collections {
		docs := make(map[string]types.Document, len(cs.Docs))
		for id, doc := range cs.Docs {
			docs[id] = doc.Clone()
		}
		data[coll] = docs
	}
	m.data[m.current] = data
	m.branches[m.current].UpdatedAt = time.Now()
	m.broker.Publish(Event{Type: EventSnapshotRestored, Branch: m.current,
		Details: map[string]any{"snapshot": snapshotID}})
	return nil
}

// checksum is a deterministic digest over a collection's contents: ids in
// sorted order, each followed by its canonical JSON (Go marshals map keys
// sorted).
func checksum(docs map[string]types.Document) string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		data, err := json.Marshal(docs[id])
		if err != nil {
			continue
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
