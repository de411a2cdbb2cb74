// Package verify implements the round-trip check: explode a document,
// rebuild it, and compare under fingerprint equality, reporting a minimal
// diff when they disagree (spec §4.7).
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/kraklabs/flowsync/internal/explode"
	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
	"github.com/kraklabs/flowsync/internal/rebuild"
)

// DiffEntry locates one disagreement: the container a node lives in, the
// node id, and the field that differs (spec §4.7, "container, node id,
// field").
type DiffEntry struct {
	Container string
	NodeID    string
	Field     string
	Detail    string
}

// Result is the outcome of one verification run.
type Result struct {
	Equal bool
	Diff  []DiffEntry
}

// Verifier runs Document -> Explode -> Rebuild -> Document and compares
// the two under Fingerprint. It excludes the formatter plugin from its
// own host regardless of what the caller's host has active, since
// formatting differences must never be reported as inequality (spec
// §4.7).
type Verifier struct {
	exp    *explode.Engine
	reb    *rebuild.Engine
	logger *slog.Logger
}

// New builds a Verifier whose own host holds every plugin active in host
// except "formatter".
func New(host *plugin.Host, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	var kept []plugin.Descriptor
	for _, d := range host.All() {
		if d.Name != "formatter" {
			kept = append(kept, d)
		}
	}
	host = plugin.NewHost(logger, kept, plugin.Selection{AddAll: true})
	return &Verifier{
		exp:    explode.New(host, explode.DefaultOptions(), logger),
		reb:    rebuild.New(host, rebuild.Options{}, logger),
		logger: logger,
	}
}

// Verify explodes doc into a scratch tree rooted at treeRoot, rebuilds it,
// and reports whether the result is fingerprint-equal to doc.
func (v *Verifier) Verify(ctx context.Context, doc flowdoc.Document, treeRoot string) (*Result, error) {
	if _, err := v.exp.Explode(ctx, doc, treeRoot); err != nil {
		return nil, fmt.Errorf("verify: explode: %w", err)
	}
	rebuilt, err := v.reb.Rebuild(ctx, treeRoot)
	if err != nil {
		return nil, fmt.Errorf("verify: rebuild: %w", err)
	}

	equal, err := flowdoc.Equal(doc, rebuilt.Document)
	if err != nil {
		return nil, fmt.Errorf("verify: fingerprint: %w", err)
	}
	if equal {
		return &Result{Equal: true}, nil
	}

	diff, err := minimalDiff(doc, rebuilt.Document)
	if err != nil {
		return nil, fmt.Errorf("verify: diff: %w", err)
	}
	v.logger.Warn("verify.mismatch", "entries", len(diff))
	return &Result{Equal: false, Diff: diff}, nil
}

// minimalDiff walks both documents by id, reporting per-field
// disagreements via go-cmp over each node's canonical JSON-ish value.
func minimalDiff(a, b flowdoc.Document) ([]DiffEntry, error) {
	byIDa, err := a.ByID()
	if err != nil {
		return nil, err
	}
	byIDb, err := b.ByID()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(byIDa)+len(byIDb))
	for id := range byIDa {
		ids[id] = true
	}
	for id := range byIDb {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var entries []DiffEntry
	for _, id := range sorted {
		na, inA := byIDa[id]
		nb, inB := byIDb[id]
		container := ""
		if inA {
			container, _ = na.Z()
		} else if inB {
			container, _ = nb.Z()
		}
		switch {
		case inA && !inB:
			entries = append(entries, DiffEntry{Container: container, NodeID: id, Field: "*", Detail: "missing after rebuild"})
		case !inA && inB:
			entries = append(entries, DiffEntry{Container: container, NodeID: id, Field: "*", Detail: "unexpected after rebuild"})
		default:
			entries = append(entries, diffNode(container, id, na, nb)...)
		}
	}
	return entries, nil
}

func diffNode(container, id string, a, b flowdoc.Node) []DiffEntry {
	var entries []DiffEntry
	fields := make(map[string]bool, len(a)+len(b))
	for f := range a {
		fields[f] = true
	}
	for f := range b {
		fields[f] = true
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		va, inA := a[f]
		vb, inB := b[f]
		if inA == inB {
			same, err := flowdoc.Equal(flowdoc.Document{{f: va}}, flowdoc.Document{{f: vb}})
			if err == nil && same {
				continue
			}
		}
		entries = append(entries, DiffEntry{
			Container: container, NodeID: id, Field: f,
			Detail: cmp.Diff(a[f], b[f]),
		})
	}
	return entries
}
