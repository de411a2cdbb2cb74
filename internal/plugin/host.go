package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kraklabs/flowsync/internal/flowdoc"
)

// Selection picks an active subset of a registered plugin list. The
// computation is: clear-all -> add-all -> per-name disable -> per-name
// enable, applied in that order (spec §4.1).
type Selection struct {
	ClearAll bool
	AddAll   bool
	Disable  []string
	Enable   []string
}

// Apply computes the active, stage/priority-ordered subset of all.
func (sel Selection) Apply(all []Descriptor) []Descriptor {
	active := make(map[string]bool, len(all))
	for _, d := range all {
		active[d.Name] = true
	}
	if sel.ClearAll {
		for k := range active {
			active[k] = false
		}
	}
	if sel.AddAll {
		for k := range active {
			active[k] = true
		}
	}
	for _, n := range sel.Disable {
		active[n] = false
	}
	for _, n := range sel.Enable {
		active[n] = true
	}
	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		if active[d.Name] {
			out = append(out, d)
		}
	}
	return SortDescriptors(out)
}

// activeSet is the immutable, stage-bucketed result of applying a
// Selection to a registered descriptor list. Host swaps a pointer to one
// of these atomically on ReloadPlugins.
type activeSet struct {
	byStage map[Stage][]Descriptor
	all     []Descriptor
}

func buildActiveSet(active []Descriptor) *activeSet {
	as := &activeSet{byStage: make(map[Stage][]Descriptor), all: active}
	for _, d := range active {
		as.byStage[d.Stage] = append(as.byStage[d.Stage], d)
	}
	return as
}

// Host owns a plugin collection and routes stage invocations to it,
// enforcing the field-claim protocol and isolating per-plugin failures
// (spec §4.1). It is a value with explicit dependencies, not a global
// singleton (spec §9).
type Host struct {
	logger *slog.Logger
	active atomic.Pointer[activeSet]
}

// NewHost registers all descriptors, applies sel, and returns a ready
// Host. A nil logger defaults to slog.Default().
func NewHost(logger *slog.Logger, all []Descriptor, sel Selection) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{logger: logger}
	h.active.Store(buildActiveSet(sel.Apply(all)))
	return h
}

// Reload atomically swaps the active plugin set between reactions (spec
// §5, operator command "reload-plugins").
func (h *Host) Reload(all []Descriptor, sel Selection) {
	h.active.Store(buildActiveSet(sel.Apply(all)))
}

// ForStage returns the active, ordered descriptors for a stage.
func (h *Host) ForStage(stage Stage) []Descriptor {
	return h.active.Load().byStage[stage]
}

// All returns every active descriptor, in stage-agnostic priority order.
func (h *Host) All() []Descriptor {
	return h.active.Load().all
}

// PluginFailure records one isolated plugin error: the plugin continues
// to be skipped for this invocation only; the caller (explode/rebuild
// engine) is expected to mark the affected node unstable rather than
// abort (spec §4.1, §7).
type PluginFailure struct {
	Plugin string
	Stage  Stage
	NodeID string
	Err    error
}

func (f PluginFailure) Error() string {
	return fmt.Sprintf("plugin %q (%s) failed for node %q: %v", f.Plugin, f.Stage, f.NodeID, f.Err)
}

// invokeSafely calls fn and converts a panic into an error, so one
// misbehaving plugin never takes down the node loop.
func invokeSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// RunExplode offers node to every active explode-stage plugin in
// priority order, folding claims into claimed and collecting isolated
// failures. It returns the union of files the plugins reported writing.
func (h *Host) RunExplode(ctx context.Context, node flowdoc.Node, dir NodeDir, claimed *ClaimedFields) (files []string, failures []PluginFailure) {
	for _, d := range h.ForStage(StageExplode) {
		if d.Hooks.Explode == nil {
			continue
		}
		var res ExplodeResult
		err := invokeSafely(func() error {
			var innerErr error
			res, innerErr = d.Hooks.Explode(ctx, node, dir, claimed)
			return innerErr
		})
		if err != nil {
			failures = append(failures, PluginFailure{Plugin: d.Name, Stage: StageExplode, NodeID: node.ID(), Err: err})
			h.logger.Warn("plugin.explode.error", "plugin", d.Name, "node", node.ID(), "err", err)
			continue
		}
		for _, field := range res.Claimed {
			if owner, ok := claimed.Claim(field, d.Name); !ok {
				failures = append(failures, PluginFailure{
					Plugin: d.Name,
					Stage:  StageExplode,
					NodeID: node.ID(),
					Err:    fmt.Errorf("field %q already claimed by %q", field, owner),
				})
				h.logger.Warn("plugin.explode.claim_conflict",
					"field", field, "claimant", d.Name, "owner", owner, "node", node.ID())
			}
		}
		files = append(files, res.Files...)
	}
	return files, failures
}

// RunRebuild offers dir/id to every active rebuild-stage plugin in
// priority order, each injecting claimed fields back into node.
func (h *Host) RunRebuild(ctx context.Context, dir NodeDir, id string, node flowdoc.Node) (flowdoc.Node, []PluginFailure) {
	var failures []PluginFailure
	for _, d := range h.ForStage(StageRebuild) {
		if d.Hooks.Rebuild == nil {
			continue
		}
		var next flowdoc.Node
		err := invokeSafely(func() error {
			var innerErr error
			next, innerErr = d.Hooks.Rebuild(ctx, dir, id, node)
			return innerErr
		})
		if err != nil {
			failures = append(failures, PluginFailure{Plugin: d.Name, Stage: StageRebuild, NodeID: id, Err: err})
			h.logger.Warn("plugin.rebuild.error", "plugin", d.Name, "node", id, "err", err)
			continue
		}
		if next != nil {
			node = next
		}
	}
	return node, failures
}

// RunPreExplode runs pre-explode plugins in order over the whole
// document, threading the (possibly rewritten) document through each.
func (h *Host) RunPreExplode(ctx context.Context, doc flowdoc.Document) (flowdoc.Document, bool, []PluginFailure) {
	var failures []PluginFailure
	modified := false
	for _, d := range h.ForStage(StagePreExplode) {
		if d.Hooks.PreExplode == nil {
			continue
		}
		var next flowdoc.Document
		var didModify bool
		err := invokeSafely(func() error {
			var innerErr error
			next, didModify, innerErr = d.Hooks.PreExplode(ctx, doc)
			return innerErr
		})
		if err != nil {
			failures = append(failures, PluginFailure{Plugin: d.Name, Stage: StagePreExplode, Err: err})
			h.logger.Warn("plugin.pre_explode.error", "plugin", d.Name, "err", err)
			continue
		}
		if didModify {
			doc = next
			modified = true
		}
	}
	return doc, modified, failures
}

// RunPostExplode runs post-explode plugins in order, returning whether
// any reported a modification and which plugins did so (the watch
// orchestrator surfaces this list on oscillation, spec §5g).
func (h *Host) RunPostExplode(ctx context.Context, treeRoot, docPath string) (modified bool, modifiedBy []string, failures []PluginFailure) {
	for _, d := range h.ForStage(StagePostExplode) {
		if d.Hooks.PostExplode == nil {
			continue
		}
		var didModify bool
		err := invokeSafely(func() error {
			var innerErr error
			didModify, innerErr = d.Hooks.PostExplode(ctx, treeRoot, docPath)
			return innerErr
		})
		if err != nil {
			failures = append(failures, PluginFailure{Plugin: d.Name, Stage: StagePostExplode, Err: err})
			h.logger.Warn("plugin.post_explode.error", "plugin", d.Name, "err", err)
			continue
		}
		if didModify {
			modified = true
			modifiedBy = append(modifiedBy, d.Name)
		}
	}
	return modified, modifiedBy, failures
}

// RunPreRebuild runs pre-rebuild plugins in order; a plugin opting out
// when continuedFromExplode is communicated by the plugin itself
// returning nil immediately (spec §4.3 step 2).
func (h *Host) RunPreRebuild(ctx context.Context, treeRoot string, continuedFromExplode bool) []PluginFailure {
	var failures []PluginFailure
	for _, d := range h.ForStage(StagePreRebuild) {
		if d.Hooks.PreRebuild == nil {
			continue
		}
		err := invokeSafely(func() error {
			return d.Hooks.PreRebuild(ctx, treeRoot, continuedFromExplode)
		})
		if err != nil {
			failures = append(failures, PluginFailure{Plugin: d.Name, Stage: StagePreRebuild, Err: err})
			h.logger.Warn("plugin.pre_rebuild.error", "plugin", d.Name, "err", err)
		}
	}
	return failures
}

// RunPostRebuild runs post-rebuild plugins in order.
func (h *Host) RunPostRebuild(ctx context.Context, docPath string) (modified bool, modifiedBy []string, failures []PluginFailure) {
	for _, d := range h.ForStage(StagePostRebuild) {
		if d.Hooks.PostRebuild == nil {
			continue
		}
		var didModify bool
		err := invokeSafely(func() error {
			var innerErr error
			didModify, innerErr = d.Hooks.PostRebuild(ctx, docPath)
			return innerErr
		})
		if err != nil {
			failures = append(failures, PluginFailure{Plugin: d.Name, Stage: StagePostRebuild, Err: err})
			h.logger.Warn("plugin.post_rebuild.error", "plugin", d.Name, "err", err)
			continue
		}
		if didModify {
			modified = true
			modifiedBy = append(modifiedBy, d.Name)
		}
	}
	return modified, modifiedBy, failures
}

// InferType consults CanInferType hooks in priority order, lowest first;
// the first non-empty answer wins (spec §9).
func (h *Host) InferType(dir NodeDir, id string) (string, bool) {
	for _, d := range h.All() {
		if d.Hooks.CanInferType == nil {
			continue
		}
		if t, ok := d.Hooks.CanInferType(dir, id); ok {
			return t, true
		}
	}
	return "", false
}
