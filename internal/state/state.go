// Package state tracks which upstream records have already been mirrored to
// the calendar. A [SyncState] maps (subject, kind) to the ordered list of
// record ids seen so far. Ids are only ever added.
//
// Two persistent backends exist: the SQLite [Store] (default) and the JSON
// [FileStore]. Both load leniently: a missing or unreadable backing store
// yields an empty state so a cycle can still run.
package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/njoerd114/growrelay/internal/model"
)

const keyPrefix = "subject:"

// Key identifies one seen-id list.
type Key struct {
	SubjectID string
	Kind      model.Kind
}

// String returns the persisted form "subject:<id>:<kind>".
func (k Key) String() string {
	return keyPrefix + k.SubjectID + ":" + string(k.Kind)
}

// ParseKey parses the persisted form written by [Key.String]. The subject id
// may itself contain colons; the kind is always the last segment.
func ParseKey(s string) (Key, error) {
	rest, ok := strings.CutPrefix(s, keyPrefix)
	if !ok {
		return Key{}, fmt.Errorf("state key %q: missing %q prefix", s, keyPrefix)
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return Key{}, fmt.Errorf("state key %q: want subject:<id>:<kind>", s)
	}
	kind, err := model.ParseKind(rest[i+1:])
	if err != nil {
		return Key{}, fmt.Errorf("state key %q: %w", s, err)
	}
	return Key{SubjectID: rest[:i], Kind: kind}, nil
}

// SyncState is the in-memory seen-record set. It is not safe for concurrent
// use; the sync engine mutates it from a single goroutine.
type SyncState struct {
	ids  map[Key][]string
	seen map[Key]map[string]struct{}
}

// New returns an empty state.
func New() *SyncState {
	return &SyncState{
		ids:  make(map[Key][]string),
		seen: make(map[Key]map[string]struct{}),
	}
}

// Has reports whether id has been seen under k.
func (s *SyncState) Has(k Key, id string) bool {
	_, ok := s.seen[k][id]
	return ok
}

// Merge appends the ids not already present under k, preserving their order,
// and returns how many were added. Empty ids are ignored.
func (s *SyncState) Merge(k Key, ids []string) int {
	set := s.seen[k]
	if set == nil {
		set = make(map[string]struct{}, len(ids))
		s.seen[k] = set
	}
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		s.ids[k] = append(s.ids[k], id)
		added++
	}
	return added
}

// IDs returns a copy of the ids seen under k, in insertion order.
func (s *SyncState) IDs(k Key) []string {
	return append([]string(nil), s.ids[k]...)
}

// Keys returns every key holding at least one id, sorted by their string form.
func (s *SyncState) Keys() []Key {
	keys := make([]Key, 0, len(s.ids))
	for k, ids := range s.ids {
		if len(ids) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the total number of seen ids across all keys.
func (s *SyncState) Len() int {
	n := 0
	for _, ids := range s.ids {
		n += len(ids)
	}
	return n
}

// Map returns the persisted layout: key string to ordered ids.
func (s *SyncState) Map() map[string][]string {
	out := make(map[string][]string, len(s.ids))
	for k, ids := range s.ids {
		if len(ids) > 0 {
			out[k.String()] = append([]string(nil), ids...)
		}
	}
	return out
}
