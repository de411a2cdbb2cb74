// Package flowdoc defines the document/node data model shared by the
// explode, rebuild, and verify engines: an ordered list of flat JSON
// objects (nodes), grouped into containers by a "z" parent reference.
package flowdoc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kraklabs/flowsync/internal/layout"
)

// Node is a single flow element: an arbitrary JSON object that always
// carries an id and a type. Field values are left as decoded JSON
// (map[string]any, []any, json.Number, string, bool, nil) so that the
// fingerprinting pass can normalize them without a second decode.
type Node map[string]any

// ID returns the node's id field. Every valid node has one.
func (n Node) ID() string {
	s, _ := n["id"].(string)
	return s
}

// Type returns the node's type field.
func (n Node) Type() string {
	s, _ := n["type"].(string)
	return s
}

// Z returns the node's parent container id and whether it is present.
// Top-level and config nodes have no z.
func (n Node) Z() (string, bool) {
	v, ok := n["z"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow copy of the node's top-level fields. Nested
// values (maps, slices) are shared with the original; callers that mutate
// nested structures must deep-copy those themselves.
func (n Node) Clone() Node {
	c := make(Node, len(n))
	for k, v := range n {
		c[k] = v
	}
	return c
}

// IsContainer reports whether a node partitions the document (tab,
// subflow, or group).
func IsContainer(n Node) bool {
	return layout.IsContainerType(n.Type())
}

// Document is an ordered sequence of nodes. Sibling order is semantically
// significant and must survive explode/rebuild unchanged.
type Document []Node

// ByID builds an id -> node index. Returns an error if two nodes share an
// id, which is invalid per the data model.
func (d Document) ByID() (map[string]Node, error) {
	idx := make(map[string]Node, len(d))
	for _, n := range d {
		id := n.ID()
		if id == "" {
			return nil, fmt.Errorf("node missing id: %v", n)
		}
		if _, dup := idx[id]; dup {
			return nil, fmt.Errorf("duplicate node id %q", id)
		}
		idx[id] = n
	}
	return idx, nil
}

// DecodeDocument parses a top-level JSON array of node objects, preserving
// sibling order.
func DecodeDocument(data []byte) (Document, error) {
	var raw []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc := make(Document, len(raw))
	for i, m := range raw {
		doc[i] = Node(m)
	}
	return doc, nil
}

// EncodeDocument serializes a Document back to a top-level JSON array.
// Key order within each node is not preserved (Go map iteration order is
// not stable); this is safe because Fingerprint equality sorts keys too.
func EncodeDocument(doc Document) ([]byte, error) {
	raw := make([]map[string]any, len(doc))
	for i, n := range doc {
		raw[i] = n
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}
