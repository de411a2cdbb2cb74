package skeleton

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/flowsync/internal/flowdoc"
)

func TestFromDocument_OrderAndContainers(t *testing.T) {
	doc := flowdoc.Document{
		flowdoc.Node{"id": "t1", "type": "tab"},
		flowdoc.Node{"id": "n1", "type": "function", "z": "t1", "x": 1, "y": 2, "wires": []any{}},
		flowdoc.Node{"id": "n2", "type": "function", "z": "t1", "wires": []any{}},
		flowdoc.Node{"id": "cfg1", "type": "mqtt-broker"},
	}
	sk, err := FromDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"t1"}, sk.ListContainers())
	assert.Equal(t, []string{"n1", "n2"}, sk.NodesIn("t1"))
	assert.Contains(t, sk.ConfigNodes(), "cfg1")
	assert.Contains(t, sk.ConfigNodes(), "t1")

	fields := sk.StructuralFieldsFor("n1")
	require.NotNil(t, fields)
	assert.Equal(t, 1, fields["x"])
	assert.Equal(t, 2, fields["y"])
}

func TestStore_SaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	sk := New()
	sk.Append(&Entry{ID: "t1", Type: "tab", Order: 0})
	sk.Append(&Entry{ID: "n1", Type: "function", Z: "t1", HasZ: true, Order: 0})

	store := NewStore(dir)
	require.NoError(t, store.Save(sk))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Has("n1"))
	assert.Equal(t, "n1", loaded.Nodes["n1"].ID, "ID must be repopulated from the map key after unmarshal")
	assert.Equal(t, []string{"t1"}, loaded.ListContainers())

	assert.FileExists(t, filepath.Join(dir, FileName))
}

func TestStore_Load_MissingFile(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load()
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	sk := New()
	sk.Append(&Entry{ID: "t1", Type: "tab"})
	sk.Remove("t1")
	assert.False(t, sk.Has("t1"))
	assert.Empty(t, sk.ListContainers())
}
