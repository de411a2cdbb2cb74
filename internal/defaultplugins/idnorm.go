package defaultplugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
)

// idRewriteFields are the fields that carry id references and must be
// rewritten in one pass alongside a node's own id (spec §9, "ID rewrites
// are a table transform").
var idRewriteFields = []string{"wires", "links", "z", "scope"}

// IDNorm rewrites opaque Node-RED ids (e.g. "a1b2c3d4.e5f6g7") to
// human-readable ones derived from the node's name, for every
// non-container node that carries one (spec §8(b)).
func IDNorm() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "idnorm",
		Stage:    plugin.StagePreExplode,
		Priority: plugin.StagePreExplode.PriorityBase(),
		Hooks: plugin.Hooks{
			PreExplode: idNormRun,
		},
	}
}

func idNormRun(_ context.Context, doc flowdoc.Document) (flowdoc.Document, bool, error) {
	rewrites := make(map[string]string)
	used := make(map[string]bool)
	for _, n := range doc {
		used[n.ID()] = true
	}

	for _, n := range doc {
		if flowdoc.IsContainer(n) {
			continue
		}
		name, _ := n["name"].(string)
		if name == "" {
			continue
		}
		newID := slugify(name)
		if newID == "" || newID == n.ID() {
			continue
		}
		newID = disambiguate(newID, used)
		used[newID] = true
		rewrites[n.ID()] = newID
	}
	if len(rewrites) == 0 {
		return doc, false, nil
	}

	out := make(flowdoc.Document, len(doc))
	for i, n := range doc {
		c := n.Clone()
		if newID, ok := rewrites[n.ID()]; ok {
			c["id"] = newID
		}
		for _, field := range idRewriteFields {
			rewriteField(c, field, rewrites)
		}
		out[i] = c
	}
	return out, true, nil
}

// rewriteField applies rewrites to an id-bearing field in place. wires and
// links nest ids inside arrays of arrays; z and scope are flat strings or
// arrays of strings.
func rewriteField(n flowdoc.Node, field string, rewrites map[string]string) {
	v, ok := n[field]
	if !ok {
		return
	}
	n[field] = rewriteValue(v, rewrites)
}

func rewriteValue(v any, rewrites map[string]string) any {
	switch t := v.(type) {
	case string:
		if newID, ok := rewrites[t]; ok {
			return newID
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = rewriteValue(e, rewrites)
		}
		return out
	default:
		return v
	}
}

// slugify produces "func_<slug>" from a human name: lowercase, spaces and
// punctuation collapsed to single underscores, leading/trailing
// underscores trimmed.
func slugify(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return ""
	}
	return "func_" + slug
}

// disambiguate appends a numeric suffix when id is already taken, per
// spec §8's "suffix policy" boundary test.
func disambiguate(id string, used map[string]bool) string {
	if !used[id] {
		return id
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", id, i)
		if !used[candidate] {
			return candidate
		}
	}
}
