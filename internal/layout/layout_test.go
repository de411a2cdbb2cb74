package layout

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDir_Container(t *testing.T) {
	dir, stem := ResolveDir("/root", "t1", "tab", "", false)
	assert.Equal(t, filepath.Join("/root", "c_t1"), dir)
	assert.Equal(t, SelfStem, stem)
}

func TestResolveDir_ConfigNode(t *testing.T) {
	dir, stem := ResolveDir("/root", "cfg1", "mqtt-broker", "", false)
	assert.Equal(t, filepath.Join("/root", ConfigDirName), dir)
	assert.Equal(t, "cfg1", stem)
}

func TestResolveDir_ChildOfContainer(t *testing.T) {
	dir, stem := ResolveDir("/root", "n1", "function", "t1", true)
	assert.Equal(t, filepath.Join("/root", "c_t1"), dir)
	assert.Equal(t, "n1", stem)
}

func TestResolveDir_GroupIsChildOfTab(t *testing.T) {
	// Groups carry z pointing at their parent tab, not a z of their own
	// members; they are placed exactly like any other node with a z.
	dir, stem := ResolveDir("/root", "g1", "group", "t1", true)
	assert.Equal(t, filepath.Join("/root", "c_t1"), dir)
	assert.Equal(t, "g1", stem)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a.b-c_d", SanitizeID("a.b-c_d"))
	assert.Equal(t, "a_b_c", SanitizeID("a/b\\c"))
	assert.Equal(t, "_", SanitizeID(""))
}

func TestIsContainerType(t *testing.T) {
	assert.True(t, IsContainerType("tab"))
	assert.True(t, IsContainerType("subflow"))
	assert.True(t, IsContainerType("group"))
	assert.False(t, IsContainerType("function"))
}
