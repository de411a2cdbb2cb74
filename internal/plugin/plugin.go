// Package plugin implements the pluggable transformation protocol shared
// by the explode and rebuild engines: stage-ordered, priority-ordered
// plugin descriptors with an explicit field-claim fold instead of
// inheritance or runtime attribute lookup (spec §4.1, §9).
package plugin

import (
	"context"
	"sort"

	"github.com/kraklabs/flowsync/internal/flowdoc"
)

// Stage selects which hook on a Descriptor the host invokes.
type Stage int

const (
	StagePreExplode Stage = iota
	StageExplode
	StagePostExplode
	StagePreRebuild
	StageRebuild
	StagePostRebuild
)

func (s Stage) String() string {
	switch s {
	case StagePreExplode:
		return "pre-explode"
	case StageExplode:
		return "explode"
	case StagePostExplode:
		return "post-explode"
	case StagePreRebuild:
		return "pre-rebuild"
	case StageRebuild:
		return "rebuild"
	case StagePostRebuild:
		return "post-rebuild"
	default:
		return "unknown"
	}
}

// PriorityBase returns the conventional 100-block base for a stage, per
// spec §4.1: "Priority intervals (by convention: 100-block pre-explode,
// 200-block explode, 300-block post-explode, 400-block pre-rebuild,
// 500-block post-rebuild)". Plugins that run at both explode and rebuild
// (e.g. a content-claiming plugin) conventionally use the 200-block for
// both, since rebuild has no block of its own in the source convention;
// this implementation gives rebuild-stage plugins the 200-block too, to
// keep the pairing (claim on explode, inject on rebuild) at one priority.
func (s Stage) PriorityBase() int {
	switch s {
	case StagePreExplode:
		return 100
	case StageExplode, StageRebuild:
		return 200
	case StagePostExplode:
		return 300
	case StagePreRebuild:
		return 400
	case StagePostRebuild:
		return 500
	default:
		return 0
	}
}

// NodeDir is the on-disk home for one node's content files during
// explode or rebuild. It does not interpret filename extensions; that is
// entirely a plugin concern (spec §6).
type NodeDir struct {
	Path string // absolute or tree-relative directory path
	ID   string
}

// ExplodeResult is what an explode-stage plugin hands back for one node:
// the field names it claimed and the sibling files it wrote (file paths
// are informational, for logging/reporting only — the plugin already
// wrote them).
type ExplodeResult struct {
	Claimed []string
	Files   []string
}

// PreExplodeFunc runs once over the whole document before any node files
// are written. It may rewrite ids/fields document-wide (e.g. id
// normalization) and reports whether it changed anything.
type PreExplodeFunc func(ctx context.Context, doc flowdoc.Document) (flowdoc.Document, bool, error)

// ExplodeFunc runs once per non-skeleton-only node. claimed is the
// node-local accumulator folded across all explode-stage plugins in
// priority order; the plugin must not claim a field claimed is no longer
// counted — enforcement of disjointness lives in the host, not here.
type ExplodeFunc func(ctx context.Context, node flowdoc.Node, dir NodeDir, claimed *ClaimedFields) (ExplodeResult, error)

// PostExplodeFunc runs once over the whole written tree.
type PostExplodeFunc func(ctx context.Context, treeRoot, docPath string) (bool, error)

// PreRebuildFunc runs once before any node directory is read.
// continuedFromExplode lets a plugin skip redundant work it just did.
type PreRebuildFunc func(ctx context.Context, treeRoot string, continuedFromExplode bool) error

// RebuildFunc runs once per node directory, injecting any fields the
// plugin claimed at explode time back into the residual node.
type RebuildFunc func(ctx context.Context, dir NodeDir, id string, node flowdoc.Node) (flowdoc.Node, error)

// PostRebuildFunc runs once over the reconstructed document.
type PostRebuildFunc func(ctx context.Context, docPath string) (bool, error)

// CanInferTypeFunc answers whether this plugin recognizes a node
// directory found on disk with no matching skeleton entry, and if so,
// what type it should be treated as. The host consults these in priority
// order, lowest first; first non-empty answer wins (spec §9).
type CanInferTypeFunc func(dir NodeDir, id string) (nodeType string, ok bool)

// Hooks bundles the optional callbacks a plugin implements. A plugin
// ordinarily implements exactly the hook matching its declared Stage,
// plus optionally CanInferType regardless of stage.
type Hooks struct {
	PreExplode   PreExplodeFunc
	Explode      ExplodeFunc
	PostExplode  PostExplodeFunc
	PreRebuild   PreRebuildFunc
	Rebuild      RebuildFunc
	PostRebuild  PostRebuildFunc
	CanInferType CanInferTypeFunc
}

// Descriptor is the explicit, inspectable description of one plugin:
// name, stage, priority, and hooks. Registration is a plain value append;
// ordering is a pure function of the descriptor list (spec §9).
type Descriptor struct {
	Name     string
	Stage    Stage
	Priority int
	Hooks    Hooks
}

// SortDescriptors orders a slice of descriptors by priority ascending,
// ties broken by name ascending, in place, and also returns it.
func SortDescriptors(ds []Descriptor) []Descriptor {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].Name < ds[j].Name
	})
	return ds
}
