package rebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/flowsync/internal/defaultplugins"
	"github.com/kraklabs/flowsync/internal/explode"
	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
)

func testHost() *plugin.Host {
	return plugin.NewHost(nil, defaultplugins.All(nil), plugin.Selection{ClearAll: true, AddAll: true})
}

// seedTree explodes a minimal tab+function document so the reconciliation
// tests below have a real skeleton and real node directories to diverge
// from, rather than a hand-written skeleton file.
func seedTree(t *testing.T, root string, host *plugin.Host) {
	t.Helper()
	doc := flowdoc.Document{
		flowdoc.Node{"id": "t1", "type": "tab", "label": "Flow 1"},
		flowdoc.Node{
			"id": "func_double", "type": "function", "z": "t1", "name": "double",
			"func": "return msg;", "x": 1, "y": 2, "wires": []any{[]any{}},
		},
	}
	eng := explode.New(host, explode.DefaultOptions(), nil)
	_, err := eng.Explode(context.Background(), doc, root)
	require.NoError(t, err)
}

func TestRebuild_SkeletonMissingIsFatal(t *testing.T) {
	eng := New(testHost(), Options{}, nil)
	_, err := eng.Rebuild(context.Background(), t.TempDir())
	require.Error(t, err)
	var fdErr *flowdoc.Error
	require.True(t, errors.As(err, &fdErr))
	assert.Equal(t, flowdoc.ErrKindSkeletonMissing, fdErr.Kind)
}

func TestRebuild_MissingNodeFatalByDefault(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, ".flow-skeleton.json"),
		[]byte(`{"nodes":{"cfg1":{"type":"mqtt-broker","hasZ":false,"order":0}},"containerOrder":[]}`),
		0o600,
	))
	eng := New(testHost(), Options{Tolerant: false}, nil)
	_, err := eng.Rebuild(context.Background(), root)
	assert.Error(t, err, "a skeleton entry missing on disk must fail without the tolerant flag")
}

func TestRebuild_MissingNodeToleratedWhenFlagged(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, ".flow-skeleton.json"),
		[]byte(`{"nodes":{"cfg1":{"type":"mqtt-broker","hasZ":false,"order":0}},"containerOrder":[]}`),
		0o600,
	))
	eng := New(testHost(), Options{Tolerant: true}, nil)
	res, err := eng.Rebuild(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, res.Document)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "cfg1", res.Dropped[0].ID)
}

// TestRebuild_UntrackedDirectoryQuarantined grounds spec §4.3 step 3's
// other reconciliation branch: a node directory present on disk with no
// matching skeleton entry, which no plugin can infer a type for, is
// quarantined rather than silently dropped or fabricated into the
// document.
func TestRebuild_UntrackedDirectoryQuarantined(t *testing.T) {
	root := t.TempDir()
	host := testHost()
	seedTree(t, root, host)

	extra := filepath.Join(root, "c_t1", "extra_node.json")
	require.NoError(t, os.WriteFile(extra, []byte(`{"id":"extra_node","type":"comment"}`), 0o600))

	eng := New(host, Options{}, nil)
	res, err := eng.Rebuild(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Quarantined, 1)
	assert.Equal(t, "extra_node", res.Quarantined[0].ID)
	assert.NoFileExists(t, extra, "the untracked file must be moved out of the live tree")
	assert.FileExists(t, filepath.Join(root, ".quarantine", "extra_node.json"))

	for _, n := range res.Document {
		assert.NotEqual(t, "extra_node", n.ID(), "a quarantined node must not appear in the rebuilt document")
	}
}

// TestRebuild_UntrackedDirectoryInferred covers the other side of the
// same branch: when a plugin's CanInferType hook recognizes the
// untracked node, it is folded into the document instead of quarantined.
func TestRebuild_UntrackedDirectoryInferred(t *testing.T) {
	root := t.TempDir()
	inferring := plugin.Descriptor{
		Name:  "infer-comment-stub",
		Stage: plugin.StageRebuild,
		Hooks: plugin.Hooks{
			CanInferType: func(dir plugin.NodeDir, id string) (string, bool) {
				if id == "extra_node" {
					return "comment", true
				}
				return "", false
			},
		},
	}
	all := append(defaultplugins.All(nil), inferring)
	host := plugin.NewHost(nil, all, plugin.Selection{ClearAll: true, AddAll: true})
	seedTree(t, root, host)

	extra := filepath.Join(root, "c_t1", "extra_node.json")
	require.NoError(t, os.WriteFile(extra, []byte(`{"id":"extra_node","type":"comment","info":"added live"}`), 0o600))

	eng := New(host, Options{}, nil)
	res, err := eng.Rebuild(context.Background(), root)
	require.NoError(t, err)

	assert.Empty(t, res.Quarantined)
	var found flowdoc.Node
	var ok bool
	for _, n := range res.Document {
		if n.ID() == "extra_node" {
			found, ok = n, true
		}
	}
	require.True(t, ok, "an inferrable untracked node must be folded into the rebuilt document")
	assert.Equal(t, "comment", found["type"])
}
