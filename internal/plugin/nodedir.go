package plugin

import (
	"os"
	"path/filepath"
	"strings"
)

// SiblingPath returns the path of a sibling file for this node, e.g.
// dir.SiblingPath(".wrapped.js"). Extensions are an opaque plugin
// concern; the engine never interprets them (spec §6).
func (d NodeDir) SiblingPath(ext string) string {
	return filepath.Join(d.Path, d.ID+ext)
}

// WriteSibling writes data to the sibling file for ext, creating the
// directory if needed.
func (d NodeDir) WriteSibling(ext string, data []byte) error {
	if err := os.MkdirAll(d.Path, 0o750); err != nil {
		return err
	}
	return os.WriteFile(d.SiblingPath(ext), data, 0o644)
}

// ReadSibling reads the sibling file for ext.
func (d NodeDir) ReadSibling(ext string) ([]byte, error) {
	return os.ReadFile(d.SiblingPath(ext))
}

// HasSibling reports whether the sibling file for ext exists.
func (d NodeDir) HasSibling(ext string) bool {
	_, err := os.Stat(d.SiblingPath(ext))
	return err == nil
}

// ListSiblings returns the extensions (suffixes after the id stem) of
// every file present for this node id in its directory.
func (d NodeDir) ListSiblings() ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := d.ID + "."
	var exts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) {
			exts = append(exts, name[len(d.ID):])
		}
	}
	return exts, nil
}

// RemoveAllSiblings deletes every file belonging to this node id.
func (d NodeDir) RemoveAllSiblings() error {
	exts, err := d.ListSiblings()
	if err != nil {
		return err
	}
	for _, ext := range exts {
		if err := os.Remove(d.SiblingPath(ext)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
