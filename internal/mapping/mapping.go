// Package mapping implements the durable bidirectional identity table
// linking canonical (synced) bookmark ids to host-native bookmark ids.
package mapping

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateMapping is returned when adding a mapping whose synced or
// native id is already present. The table never merges or overwrites; a
// duplicate add is a caller bug.
var ErrDuplicateMapping = errors.New("mapping already exists for id")

// Mapping links one canonical id to one native id. The persisted layout is
// an unordered sequence of these records.
type Mapping struct {
	SyncedID int    `json:"syncedId"`
	NativeID string `json:"nativeId"`
}

// New constructs a mapping value. Pure construction, no registration.
func New(syncedID int, nativeID string) Mapping {
	return Mapping{SyncedID: syncedID, NativeID: nativeID}
}

// Table is the in-memory id mapping table. At most one mapping exists per
// syncedId and per nativeId.
type Table struct {
	bySynced map[int]Mapping
	byNative map[string]Mapping
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		bySynced: make(map[int]Mapping),
		byNative: make(map[string]Mapping),
	}
}

// Load builds a table from persisted records.
func Load(records []Mapping) (*Table, error) {
	t := NewTable()
	for _, m := range records {
		if err := t.Add(m); err != nil {
			return nil, fmt.Errorf("load mapping table: %w", err)
		}
	}
	return t, nil
}

// Add registers a mapping. Fails with ErrDuplicateMapping if either side is
// already mapped.
func (t *Table) Add(m Mapping) error {
	if _, ok := t.bySynced[m.SyncedID]; ok {
		return fmt.Errorf("synced id %d: %w", m.SyncedID, ErrDuplicateMapping)
	}
	if _, ok := t.byNative[m.NativeID]; ok {
		return fmt.Errorf("native id %q: %w", m.NativeID, ErrDuplicateMapping)
	}
	t.bySynced[m.SyncedID] = m
	t.byNative[m.NativeID] = m
	return nil
}

// BySyncedID looks up the mapping for a canonical id.
func (t *Table) BySyncedID(id int) (Mapping, bool) {
	m, ok := t.bySynced[id]
	return m, ok
}

// ByNativeID looks up the mapping for a native id.
func (t *Table) ByNativeID(id string) (Mapping, bool) {
	m, ok := t.byNative[id]
	return m, ok
}

// RemoveSynced deletes the mappings for the given canonical ids, if
// present. Returns the number of mappings removed. Used for bulk descendant
// cleanup when a canonical subtree goes away.
func (t *Table) RemoveSynced(ids ...int) int {
	removed := 0
	for _, id := range ids {
		if m, ok := t.bySynced[id]; ok {
			delete(t.bySynced, id)
			delete(t.byNative, m.NativeID)
			removed++
		}
	}
	return removed
}

// RemoveNative deletes the mappings for the given native ids, if present.
// Returns the number of mappings removed.
func (t *Table) RemoveNative(ids ...string) int {
	removed := 0
	for _, id := range ids {
		if m, ok := t.byNative[id]; ok {
			delete(t.byNative, id)
			delete(t.bySynced, m.SyncedID)
			removed++
		}
	}
	return removed
}

// Len returns the number of mappings in the table.
func (t *Table) Len() int {
	return len(t.bySynced)
}

// All returns every mapping ordered by synced id. The order is imposed only
// to keep persistence and test output deterministic.
func (t *Table) All() []Mapping {
	out := make([]Mapping, 0, len(t.bySynced))
	for _, m := range t.bySynced {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyncedID < out[j].SyncedID })
	return out
}

// Clone returns an independent copy of the table. The engine mutates a copy
// during a reconciliation pass and commits it only after the corresponding
// tree mutation is confirmed.
func (t *Table) Clone() *Table {
	c := NewTable()
	for _, m := range t.bySynced {
		c.bySynced[m.SyncedID] = m
		c.byNative[m.NativeID] = m
	}
	return c
}
