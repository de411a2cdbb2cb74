// Package skeleton encapsulates the on-disk format of the hidden
// structural summary written by the explode engine and consumed by the
// rebuild engine: ids, types, container membership, sibling order, and
// structural (layout/wiring) fields. Content fields never live here.
package skeleton

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/layout"
)

// FileName is the hidden skeleton file's name within a tree root.
const FileName = ".flow-skeleton.json"

// Entry records everything the rebuild engine needs to place one node
// back into the document without consulting its content files.
type Entry struct {
	ID               string         `json:"-"`
	Type             string         `json:"type"`
	Z                string         `json:"z,omitempty"`
	HasZ             bool           `json:"hasZ"`
	Order            int            `json:"order"`
	StructuralFields map[string]any `json:"structuralFields,omitempty"`
}

// Skeleton is the decoded structural summary. Nodes is keyed by id for
// O(1) lookup; ContainerOrder fixes the order containers are concatenated
// in during rebuild.
type Skeleton struct {
	Nodes          map[string]*Entry `json:"nodes"`
	ContainerOrder []string          `json:"containerOrder"`
}

// New returns an empty skeleton ready for Append calls.
func New() *Skeleton {
	return &Skeleton{Nodes: make(map[string]*Entry)}
}

// ListContainers returns container ids in document order.
func (s *Skeleton) ListContainers() []string {
	out := make([]string, len(s.ContainerOrder))
	copy(out, s.ContainerOrder)
	return out
}

// NodesIn returns the ids of nodes whose z is containerID (groups placed
// in that container included), sorted by their recorded sibling order.
func (s *Skeleton) NodesIn(containerID string) []string {
	type pair = struct {
		id    string
		order int
	}
	var pairs []pair
	for id, e := range s.Nodes {
		if e.HasZ && e.Z == containerID {
			pairs = append(pairs, pair{id, e.Order})
		}
	}
	sortPairsByOrder(pairs)
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// sortPairsByOrder performs a stable insertion sort; the slices involved
// are per-container and small, so this avoids pulling in sort.Slice's
// reflection-based comparator for a hot path called once per container.
func sortPairsByOrder(pairs []struct {
	id    string
	order int
}) {
	for i := 1; i < len(pairs); i++ {
		j := i
		for j > 0 && pairs[j-1].order > pairs[j].order {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
			j--
		}
	}
}

// ConfigNodes returns the ids of nodes with no z, in recorded order
// (config nodes and top-level containers alike; callers filter further).
func (s *Skeleton) ConfigNodes() []string {
	type pair = struct {
		id    string
		order int
	}
	var pairs []pair
	for id, e := range s.Nodes {
		if !e.HasZ {
			pairs = append(pairs, pair{id, e.Order})
		}
	}
	sortPairsByOrder(pairs)
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// StructuralFieldsFor returns the structural field map recorded for id,
// or nil if the id is unknown.
func (s *Skeleton) StructuralFieldsFor(id string) map[string]any {
	e, ok := s.Nodes[id]
	if !ok {
		return nil
	}
	return e.StructuralFields
}

// TypeOf returns the recorded type for id.
func (s *Skeleton) TypeOf(id string) (string, bool) {
	e, ok := s.Nodes[id]
	if !ok {
		return "", false
	}
	return e.Type, true
}

// Has reports whether id is present in the skeleton.
func (s *Skeleton) Has(id string) bool {
	_, ok := s.Nodes[id]
	return ok
}

// Append adds or overwrites an entry, adding its id to ContainerOrder if
// the entry is a container and not already listed.
func (s *Skeleton) Append(e *Entry) {
	if s.Nodes == nil {
		s.Nodes = make(map[string]*Entry)
	}
	s.Nodes[e.ID] = e
	if layout.IsContainerType(e.Type) {
		for _, id := range s.ContainerOrder {
			if id == e.ID {
				return
			}
		}
		s.ContainerOrder = append(s.ContainerOrder, e.ID)
	}
}

// Remove deletes id from the skeleton and ContainerOrder.
func (s *Skeleton) Remove(id string) {
	delete(s.Nodes, id)
	for i, cid := range s.ContainerOrder {
		if cid == id {
			s.ContainerOrder = append(s.ContainerOrder[:i], s.ContainerOrder[i+1:]...)
			return
		}
	}
}

// Replace is Append under a different name for call-site clarity when the
// intent is "overwrite an existing entry" rather than "add a new one".
func (s *Skeleton) Replace(e *Entry) { s.Append(e) }

// FromDocument builds a fresh skeleton from a document, assigning sibling
// order by position within each node's container (or among config nodes).
func FromDocument(doc flowdoc.Document) (*Skeleton, error) {
	s := New()
	counters := make(map[string]int)
	for _, n := range doc {
		id := n.ID()
		if id == "" {
			return nil, fmt.Errorf("node missing id")
		}
		z, hasZ := n.Z()
		key := z
		if !hasZ {
			key = ""
		}
		order := counters[key]
		counters[key] = order + 1

		e := &Entry{
			ID:               id,
			Type:             n.Type(),
			Z:                z,
			HasZ:             hasZ,
			Order:            order,
			StructuralFields: structuralFields(n),
		}
		s.Append(e)
	}
	return s, nil
}

func structuralFields(n flowdoc.Node) map[string]any {
	out := make(map[string]any)
	for _, f := range layout.StructuralFieldNames {
		if v, ok := n[f]; ok {
			out[f] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Store reads and atomically writes the skeleton file within a tree root.
type Store struct {
	Root string
}

// NewStore returns a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (st *Store) path() string {
	return filepath.Join(st.Root, FileName)
}

// Load reads and decodes the skeleton file. Returns os.ErrNotExist
// (wrapped) if absent; callers needing the spec's fatal "missing
// skeleton" behavior should check with os.IsNotExist on the unwrapped
// error.
func (st *Store) Load() (*Skeleton, error) {
	data, err := os.ReadFile(st.path())
	if err != nil {
		return nil, err
	}
	var s Skeleton
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse skeleton: %w", err)
	}
	if s.Nodes == nil {
		s.Nodes = make(map[string]*Entry)
	}
	for id, e := range s.Nodes {
		e.ID = id
	}
	return &s, nil
}

// Save writes the skeleton atomically: encode, write to a temp file in
// the same directory, then rename over the target.
func (st *Store) Save(s *Skeleton) error {
	if err := os.MkdirAll(st.Root, 0o750); err != nil {
		return fmt.Errorf("create tree root: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	target := st.path()
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write skeleton temp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename skeleton: %w", err)
	}
	return nil
}
