// Package layout fixes the directory-naming conventions shared by the
// explode and rebuild engines, so both sides agree on where a node's
// files live without consulting each other's code.
package layout

import (
	"path/filepath"
	"strings"
)

// ConfigDirName is where nodes with no z and no container type live
// (spec §4.2: "config nodes... placed at the root or a reserved config/
// directory"). This implementation picks a reserved directory.
const ConfigDirName = "config"

// OrphanDirName is where node directories whose id no longer appears in
// the skeleton are moved, under explode.OrphanMove (spec §4.2).
const OrphanDirName = ".orphaned"

// SelfStem is the filename stem used for a container's own node file
// within the directory it owns (its children use their own id as stem).
const SelfStem = "_self"

// ContainerDirName derives a deterministic, filesystem-safe directory
// name for a container (tab or subflow) id.
func ContainerDirName(containerID string) string {
	return "c_" + SanitizeID(containerID)
}

// SanitizeID replaces characters that are awkward or unsafe in a path
// segment with underscores, leaving alphanumerics, dot, dash, and
// underscore untouched.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// StructuralFieldNames lists the fields the skeleton owns outright:
// layout and wiring metadata that never gets claimed as content.
var StructuralFieldNames = []string{"x", "y", "wires", "links", "scope", "nodes"}

// IsStructuralField reports whether name is one of StructuralFieldNames.
func IsStructuralField(name string) bool {
	for _, f := range StructuralFieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// ResolveDir returns the directory a node's files live in and the
// filename stem to use within it, given the node's id/type/z. A no-z
// container gets its own directory and the SelfStem; a no-z non-container
// is a config node living in ConfigDirName; anything with a z lives in
// its owning container's directory under its own id.
func ResolveDir(root, id, nodeType, z string, hasZ bool) (dirPath, stem string) {
	if !hasZ {
		if IsContainerType(nodeType) {
			return filepath.Join(root, ContainerDirName(id)), SelfStem
		}
		return filepath.Join(root, ConfigDirName), id
	}
	return filepath.Join(root, ContainerDirName(z)), id
}

// IsContainerType reports whether a node type partitions the document
// (tab, subflow, or group) — the single definition shared by flowdoc and
// skeleton so the two never drift apart.
func IsContainerType(t string) bool {
	return t == "tab" || t == "subflow" || t == "group"
}

// ReservedFieldNames are fields the skeleton records by other means (as
// typed Entry fields, not inside StructuralFields) and which therefore
// never belong in a node's residual file either. The one exception is a
// container's own SelfStem file, which also carries the container's id.
var ReservedFieldNames = []string{"id", "type", "z"}

// IsReservedField reports whether name is id, type, or z.
func IsReservedField(name string) bool {
	for _, f := range ReservedFieldNames {
		if f == name {
			return true
		}
	}
	return false
}
