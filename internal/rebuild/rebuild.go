// Package rebuild reassembles a Document from a directory tree written by
// the explode engine: the hidden skeleton supplies sibling order and
// structural fields, node residual files supply content, and rebuild-stage
// plugins inject back whatever they claimed at explode time (spec §4.3).
package rebuild

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/layout"
	"github.com/kraklabs/flowsync/internal/plugin"
	"github.com/kraklabs/flowsync/internal/skeleton"
)

// Options tunes the engine's handling of divergence between skeleton and
// disk.
type Options struct {
	// Tolerant: a skeleton entry with no matching directory on disk drops
	// from the rebuilt document instead of failing (spec §4.3 step 3).
	Tolerant bool

	// ContinuedFromExplode tells pre-rebuild plugins this rebuild
	// immediately follows an explode of the same tree, so they may skip
	// redundant work (spec §4.3 step 2).
	ContinuedFromExplode bool
}

// DroppedNode records a skeleton entry tolerated away because its
// directory was missing on disk.
type DroppedNode struct {
	ID     string
	Reason string
}

// QuarantinedNode records an on-disk directory with no skeleton entry and
// no plugin willing to infer its type.
type QuarantinedNode struct {
	ID   string
	Path string
}

// Result summarizes one rebuild run.
type Result struct {
	Document     flowdoc.Document
	Dropped      []DroppedNode
	Quarantined  []QuarantinedNode
	Modified     bool
	ModifiedBy   []string
	PluginErrors []plugin.PluginFailure
}

// Engine turns a tree back into a Document.
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

// Rebuild reconstructs the document rooted at root, per spec §4.3's
// six-step algorithm.
func (e *Engine) Rebuild(ctx context.Context, root string) (*Result, error) {
	// Step 1: load the skeleton, fatal if absent.
	store := skeleton.NewStore(root)
	sk, err := store.Load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, flowdoc.NewError(flowdoc.ErrKindSkeletonMissing, "rebuild.load_skeleton", err)
		}
		return nil, flowdoc.NewError(flowdoc.ErrKindIO, "rebuild.load_skeleton", err)
	}

	// Step 2: pre-rebuild plugins.
	preFailures := e.Host.RunPreRebuild(ctx, root, e.Options.ContinuedFromExplode)

	// Step 3: discover node directories on disk, reconciling with the
	// skeleton in both directions.
	onDisk, err := discoverNodeDirs(root)
	if err != nil {
		return nil, flowdoc.NewError(flowdoc.ErrKindIO, "rebuild.discover", err)
	}

	var (
		dropped      []DroppedNode
		quarantined  []QuarantinedNode
		pluginErrors []plugin.PluginFailure
	)
	pluginErrors = append(pluginErrors, preFailures...)

	present := make(map[string]nodeLocation)
	for id := range sk.Nodes {
		loc, ok := onDisk[id]
		if !ok {
			if !e.Options.Tolerant {
				return nil, flowdoc.NewError(flowdoc.ErrKindIO, "rebuild.missing_node",
					fmt.Errorf("node %q in skeleton but missing on disk", id)).WithContext("id", id)
			}
			dropped = append(dropped, DroppedNode{ID: id, Reason: "missing on disk"})
			e.Logger.Warn("rebuild.node.dropped", "id", id, "reason", "missing on disk")
			continue
		}
		present[id] = loc
		delete(onDisk, id)
	}

	// Remaining onDisk entries have no skeleton entry: new nodes added
	// directly in the tree by an editor.
	newEntries := make(map[string]*skeleton.Entry)
	for id, loc := range onDisk {
		dir := plugin.NodeDir{Path: loc.dir, ID: loc.stem}
		t, ok := e.Host.InferType(dir, id)
		if !ok {
			if err := quarantine(root, loc); err != nil {
				e.Logger.Warn("rebuild.quarantine.error", "id", id, "err", err)
			}
			quarantined = append(quarantined, QuarantinedNode{ID: id, Path: loc.dir})
			e.Logger.Warn("rebuild.node.quarantined", "id", id, "path", loc.dir)
			continue
		}
		z, hasZ := loc.z, loc.hasZ
		newEntries[id] = &skeleton.Entry{ID: id, Type: t, Z: z, HasZ: hasZ}
		present[id] = loc
		e.Logger.Info("rebuild.node.inferred", "id", id, "type", t)
	}

	// Step 4: per-node read + rebuild-stage plugin injection + structural
	// field merge.
	nodes := make(map[string]flowdoc.Node, len(present))
	for id, loc := range present {
		node, failures := e.rebuildOne(ctx, id, loc, sk, newEntries)
		pluginErrors = append(pluginErrors, failures...)
		nodes[id] = node
	}

	// Step 5: assemble in skeleton-defined sibling order, containers in
	// skeleton order, config nodes in their recorded order, then newly
	// inferred top-level nodes.
	doc := assemble(sk, newEntries, nodes)

	// Step 6: post-rebuild plugins.
	docPath := filepath.Join(root, "document.json")
	modified, modifiedBy, postFailures := e.Host.RunPostRebuild(ctx, docPath)
	pluginErrors = append(pluginErrors, postFailures...)

	res := &Result{
		Document:     doc,
		Dropped:      dropped,
		Quarantined:  quarantined,
		Modified:     modified,
		ModifiedBy:   modifiedBy,
		PluginErrors: pluginErrors,
	}
	e.Logger.Info("rebuild.complete",
		"nodes", len(doc), "dropped", len(dropped), "quarantined", len(quarantined),
		"modified", modified, "plugin_errors", len(pluginErrors))
	return res, nil
}

// rebuildOne reads a node's residual file, runs rebuild-stage plugins over
// it, and merges in the reserved/structural fields the skeleton owns.
func (e *Engine) rebuildOne(ctx context.Context, id string, loc nodeLocation, sk *skeleton.Skeleton, newEntries map[string]*skeleton.Entry) (flowdoc.Node, []plugin.PluginFailure) {
	dir := plugin.NodeDir{Path: loc.dir, ID: loc.stem}
	data, err := dir.ReadSibling(".json")
	var residual map[string]any
	if err != nil {
		residual = make(map[string]any)
	} else if jerr := json.Unmarshal(data, &residual); jerr != nil {
		return flowdoc.Node{"id": id}, []plugin.PluginFailure{{
			Plugin: "rebuild.residual", Stage: plugin.StageRebuild, NodeID: id, Err: jerr,
		}}
	}

	node := flowdoc.Node(residual)
	node, failures := e.Host.RunRebuild(ctx, dir, id, node)

	entry, ok := sk.Nodes[id]
	if !ok {
		entry = newEntries[id]
	}
	node["id"] = id
	if entry != nil {
		node["type"] = entry.Type
		if entry.HasZ {
			node["z"] = entry.Z
		}
		for k, v := range entry.StructuralFields {
			node[k] = v
		}
	}
	return node, failures
}

// nodeLocation is where one node's files were found on disk, plus the z
// layout.ResolveDir would have computed — recovered here by walking the
// tree rather than recomputing from a skeleton entry that may not exist
// for newly added nodes.
type nodeLocation struct {
	dir    string
	stem   string
	z      string
	hasZ   bool
	parent string // container id this directory belongs to, "" if none
}

// discoverNodeDirs walks root and indexes every node id found via a
// "<id>.json" residual file, recovering enough placement info to rebuild
// nodes whose skeleton entry is missing (new-node inference path).
func discoverNodeDirs(root string) (map[string]nodeLocation, error) {
	out := make(map[string]nodeLocation)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case name == layout.ConfigDirName:
			if err := scanDir(filepath.Join(root, name), "", false, out); err != nil {
				return nil, err
			}
		case name == layout.OrphanDirName:
			continue
		case strings.HasPrefix(name, "c_"):
			dirPath := filepath.Join(root, name)
			selfID, hasSelf, err := readSelfID(dirPath)
			if err != nil {
				return nil, err
			}
			if hasSelf {
				out[selfID] = nodeLocation{dir: dirPath, stem: layout.SelfStem, hasZ: false}
			}
			if err := scanDir(dirPath, selfID, true, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// readSelfID recovers the id of a container whose own node file lives at
// c_<sanitized>/_self.json, by reading the id back out of that file.
func readSelfID(dirPath string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(dirPath, layout.SelfStem+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", false, err
	}
	id, _ := m["id"].(string)
	return id, id != "", nil
}

func scanDir(dirPath, parent string, hasZ bool, out map[string]nodeLocation) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		if stem == layout.SelfStem {
			continue
		}
		out[stem] = nodeLocation{dir: dirPath, stem: stem, z: parent, hasZ: hasZ, parent: parent}
	}
	return nil
}

// quarantine moves an unrecognized node's files to a reserved directory
// for operator inspection.
func quarantine(root string, loc nodeLocation) error {
	destDir := filepath.Join(root, ".quarantine")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return err
	}
	entries, err := os.ReadDir(loc.dir)
	if err != nil {
		return err
	}
	prefix := loc.stem + "."
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		src := filepath.Join(loc.dir, e.Name())
		dst := filepath.Join(destDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// assemble concatenates nodes in skeleton-defined container order, each
// container's own node first (if any), then its children in sibling
// order followed by newly inferred children, then appends config nodes in
// recorded order and newly inferred nodes with no z.
func assemble(sk *skeleton.Skeleton, newEntries map[string]*skeleton.Entry, nodes map[string]flowdoc.Node) flowdoc.Document {
	var doc flowdoc.Document
	emitted := make(map[string]bool)

	emit := func(id string) {
		if n, ok := nodes[id]; ok && !emitted[id] {
			doc = append(doc, n)
			emitted[id] = true
		}
	}

	for _, cid := range sk.ListContainers() {
		emit(cid)
		for _, id := range sk.NodesIn(cid) {
			emit(id)
		}
		for id, e := range newEntries {
			if e.HasZ && e.Z == cid {
				emit(id)
			}
		}
	}
	for _, id := range sk.ConfigNodes() {
		emit(id)
	}
	// Newly inferred nodes the skeleton never knew about: child ones were
	// emitted after their parent's children above, top-level ones append
	// after config nodes. Order among several new nodes is not defined.
	for id, e := range newEntries {
		if emitted[id] {
			continue
		}
		if e.HasZ {
			continue // parent known: emitted in the container loop; unknown parent: appended below
		}
		emit(id)
	}
	for id, e := range newEntries {
		if emitted[id] || !e.HasZ {
			continue
		}
		emit(id)
	}
	return doc
}
