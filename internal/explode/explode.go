// Package explode turns a Document into a directory tree: a hidden
// skeleton plus per-node content files, running the plugin host's
// pre-explode, per-node explode, and post-explode stages (spec §4.2).
package explode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/layout"
	"github.com/kraklabs/flowsync/internal/plugin"
	"github.com/kraklabs/flowsync/internal/skeleton"
)

// OrphanPolicy controls what happens to a pre-existing NodeDirectory
// whose id no longer appears in the freshly computed skeleton.
type OrphanPolicy int

const (
	// OrphanMove relocates the orphan's files under .orphaned/<path>.
	OrphanMove OrphanPolicy = iota
	// OrphanDelete removes the orphan's files outright.
	OrphanDelete
)

// Options tunes the engine's concurrency and orphan handling.
type Options struct {
	// OrphanPolicy selects what happens to files left behind by nodes
	// that disappeared from the document.
	OrphanPolicy OrphanPolicy

	// ParallelThreshold is the per-container node count above which
	// nodes are processed with a worker pool instead of sequentially
	// (spec §4.2: "when their count exceeds a small threshold (~20)").
	ParallelThreshold int

	// WorkerPoolSize bounds the per-container worker pool. Zero means
	// "CPU count capped at 8" (spec §5).
	WorkerPoolSize int
}

// DefaultOptions returns the spec's suggested defaults.
func DefaultOptions() Options {
	return Options{OrphanPolicy: OrphanMove, ParallelThreshold: 20}
}

func (o Options) workers() int {
	if o.WorkerPoolSize > 0 {
		return o.WorkerPoolSize
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// NodeOutcome reports what happened to one node during explode.
type NodeOutcome struct {
	ID       string
	Files    []string
	Unstable bool
	Failures []plugin.PluginFailure
}

// Result summarizes one explode run.
type Result struct {
	Modified      bool     // true if pre- or post-explode plugins changed anything
	ModifiedBy    []string // post-explode plugin names that reported a change
	Nodes         []NodeOutcome
	UnstableIDs   []string
	OrphanedIDs   []string
	PluginErrors  []plugin.PluginFailure
	FinalDocument flowdoc.Document // the document after pre-explode rewrites
}

// Engine turns documents into trees.
type Engine struct {
	Host    *plugin.Host
	Options Options
	Logger  *slog.Logger
}

// New builds an Engine. A nil logger defaults to slog.Default().
func New(host *plugin.Host, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Host: host, Options: opts, Logger: logger}
}

type workItem struct {
	dirPath string
	stem    string
	node    flowdoc.Node
}

// Explode writes doc to root, per spec §4.2's six-step algorithm.
func (e *Engine) Explode(ctx context.Context, doc flowdoc.Document, root string) (*Result, error) {
	store := skeleton.NewStore(root)

	// Step 1: pre-explode plugins, whole document.
	oldSkeleton, loadErr := store.Load()
	if loadErr != nil && !os.IsNotExist(loadErr) {
		return nil, fmt.Errorf("load previous skeleton: %w", loadErr)
	}

	doc2, preModified, preFailures := e.Host.RunPreExplode(ctx, doc)
	e.Logger.Info("explode.pre_explode.done", "modified", preModified, "failures", len(preFailures))

	// Step 2: compute and persist skeleton.
	newSkeleton, err := skeleton.FromDocument(doc2)
	if err != nil {
		return nil, fmt.Errorf("build skeleton: %w", err)
	}
	if err := store.Save(newSkeleton); err != nil {
		return nil, fmt.Errorf("save skeleton: %w", err)
	}

	// Step 3/4: group nodes by directory and explode each.
	items := make(map[string][]workItem)
	for _, n := range doc2 {
		z, hasZ := n.Z()
		dirPath, stem := layout.ResolveDir(root, n.ID(), n.Type(), z, hasZ)
		items[dirPath] = append(items[dirPath], workItem{dirPath: dirPath, stem: stem, node: n})
	}

	var (
		mu       sync.Mutex
		outcomes []NodeOutcome
		wg       sync.WaitGroup
	)
	for _, bucket := range items {
		bucket := bucket
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := e.explodeBucket(ctx, bucket)
			mu.Lock()
			outcomes = append(outcomes, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var unstable []string
	var pluginErrs []plugin.PluginFailure
	pluginErrs = append(pluginErrs, preFailures...)
	for _, o := range outcomes {
		if o.Unstable {
			unstable = append(unstable, o.ID)
		}
		pluginErrs = append(pluginErrs, o.Failures...)
	}

	// Orphans: ids present in the old skeleton, absent from the new one.
	var orphaned []string
	if oldSkeleton != nil {
		for id, oldEntry := range oldSkeleton.Nodes {
			if newSkeleton.Has(id) {
				continue
			}
			if err := e.handleOrphan(root, oldEntry); err != nil {
				e.Logger.Warn("explode.orphan.error", "id", id, "err", err)
				continue
			}
			orphaned = append(orphaned, id)
		}
	}

	// Step 6: post-explode plugins, whole tree.
	postModified, modifiedBy, postFailures := e.Host.RunPostExplode(ctx, root, filepath.Join(root, "document.json"))
	pluginErrs = append(pluginErrs, postFailures...)

	res := &Result{
		Modified:      preModified || postModified,
		ModifiedBy:    modifiedBy,
		Nodes:         outcomes,
		UnstableIDs:   unstable,
		OrphanedIDs:   orphaned,
		PluginErrors:  pluginErrs,
		FinalDocument: doc2,
	}
	e.Logger.Info("explode.complete",
		"nodes", len(outcomes), "unstable", len(unstable), "orphaned", len(orphaned),
		"modified", res.Modified, "plugin_errors", len(pluginErrs))
	return res, nil
}

// explodeBucket processes every node sharing one directory, in original
// order, sequentially or via a worker pool depending on count.
func (e *Engine) explodeBucket(ctx context.Context, bucket []workItem) []NodeOutcome {
	if len(bucket) <= e.Options.ParallelThreshold || e.Options.ParallelThreshold == 0 {
		out := make([]NodeOutcome, len(bucket))
		for i, it := range bucket {
			out[i] = e.explodeOne(ctx, it)
		}
		return out
	}

	out := make([]NodeOutcome, len(bucket))
	jobs := make(chan int, len(bucket))
	var wg sync.WaitGroup
	workers := e.Options.workers()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.explodeOne(ctx, bucket[i])
			}
		}()
	}
	for i := range bucket {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// explodeOne runs every explode-stage plugin over one node, writes the
// residual, and immediately rebuilds the node from disk to check
// stability (spec §4.2 step 5).
func (e *Engine) explodeOne(ctx context.Context, it workItem) NodeOutcome {
	dir := plugin.NodeDir{Path: it.dirPath, ID: it.stem}
	claimed := plugin.NewClaimedFields()

	files, failures := e.Host.RunExplode(ctx, it.node, dir, claimed)

	residual := residualOf(it.node, claimed)
	if it.stem == layout.SelfStem {
		// A container's own file also carries its id: directory names are
		// sanitized, so rebuild reads the id back from here.
		residual["id"] = it.node.ID()
	}
	data, err := json.MarshalIndent(residual, "", "  ")
	if err != nil {
		failures = append(failures, plugin.PluginFailure{
			Plugin: "explode.residual", NodeID: it.node.ID(), Err: err,
		})
		return NodeOutcome{ID: it.node.ID(), Files: files, Unstable: true, Failures: failures}
	}
	if err := dir.WriteSibling(".json", data); err != nil {
		failures = append(failures, plugin.PluginFailure{
			Plugin: "explode.residual", NodeID: it.node.ID(), Err: err,
		})
		return NodeOutcome{ID: it.node.ID(), Files: files, Unstable: true, Failures: failures}
	}
	files = append(files, dir.SiblingPath(".json"))

	unstable := len(failures) > 0 || !e.checkStability(ctx, dir, it.node)

	return NodeOutcome{ID: it.node.ID(), Files: files, Unstable: unstable, Failures: failures}
}

// checkStability immediately rebuilds the just-written node in memory
// and fingerprint-compares it to the original (spec §4.2 step 5). A
// rebuild-side error or mismatch is reported as instability, never a
// hard failure: the explode pipeline is deterministic even when content
// does not yet round-trip.
func (e *Engine) checkStability(ctx context.Context, dir plugin.NodeDir, original flowdoc.Node) bool {
	data, err := dir.ReadSibling(".json")
	if err != nil {
		return false
	}
	var residual map[string]any
	if err := json.Unmarshal(data, &residual); err != nil {
		return false
	}
	node := flowdoc.Node(residual)
	node, failures := e.Host.RunRebuild(ctx, dir, dir.ID, node)
	if len(failures) > 0 {
		return false
	}
	// Merge back the fields the skeleton alone would supply, since this
	// is a node-local check that never consults the skeleton file.
	for k, v := range original {
		if layout.IsReservedField(k) || layout.IsStructuralField(k) {
			node[k] = v
		}
	}
	equal, err := flowdoc.Equal(flowdoc.Document{original}, flowdoc.Document{node})
	if err != nil {
		return false
	}
	return equal
}

// residualOf returns the fields of node that are neither reserved
// (id/type/z), structural (recorded in the skeleton), nor claimed by a
// plugin.
func residualOf(node flowdoc.Node, claimed *plugin.ClaimedFields) map[string]any {
	out := make(map[string]any)
	for k, v := range node {
		if layout.IsReservedField(k) || layout.IsStructuralField(k) {
			continue
		}
		if claimed.Has(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// handleOrphan relocates or deletes the files belonging to a node that
// disappeared from the document, per e.Options.OrphanPolicy.
func (e *Engine) handleOrphan(root string, entry *skeleton.Entry) error {
	dirPath, stem := layout.ResolveDir(root, entry.ID, entry.Type, entry.Z, entry.HasZ)
	dir := plugin.NodeDir{Path: dirPath, ID: stem}
	exts, err := dir.ListSiblings()
	if err != nil {
		return err
	}
	if len(exts) == 0 {
		return nil
	}
	switch e.Options.OrphanPolicy {
	case OrphanDelete:
		return dir.RemoveAllSiblings()
	default: // OrphanMove
		rel, err := filepath.Rel(root, dirPath)
		if err != nil {
			rel = dirPath
		}
		destDir := filepath.Join(root, layout.OrphanDirName, rel)
		if err := os.MkdirAll(destDir, 0o750); err != nil {
			return err
		}
		for _, ext := range exts {
			src := dir.SiblingPath(ext)
			dst := filepath.Join(destDir, stem+ext)
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
		return nil
	}
}
