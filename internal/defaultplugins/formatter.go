package defaultplugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/flowsync/internal/plugin"
)

// Formatter runs an external code formatter as a subprocess over one file
// in place. Treated as opaque: the core never interprets its output
// beyond the exit status (spec §1, §7).
type Formatter interface {
	Format(ctx context.Context, path string) error
}

// formattedExts are the sibling file extensions the formatter plugin
// rewrites in place (spec §5c: "every claimed .js/.vue file").
var formattedExts = []string{".wrapped.js", ".initialize.js", ".finalize.js", ".vue"}

// FormatterPlugin invokes fmtr over every claimed .js/.vue file discovered
// under a tree at post-explode time. Its post-rebuild registration formats
// nothing and always reports no modification. A nil fmtr makes the plugin
// a no-op, so it can be registered unconditionally.
func FormatterPlugin(fmtr Formatter) (postExplode, postRebuild plugin.Descriptor) {
	run := func(ctx context.Context, treeRoot string) (bool, error) {
		if fmtr == nil {
			return false, nil
		}
		return formatTree(ctx, fmtr, treeRoot)
	}
	postExplode = plugin.Descriptor{
		Name:     "formatter",
		Stage:    plugin.StagePostExplode,
		Priority: plugin.StagePostExplode.PriorityBase() + 10,
		Hooks: plugin.Hooks{
			PostExplode: func(ctx context.Context, treeRoot, _ string) (bool, error) {
				return run(ctx, treeRoot)
			},
		},
	}
	postRebuild = plugin.Descriptor{
		Name:     "formatter",
		Stage:    plugin.StagePostRebuild,
		Priority: plugin.StagePostRebuild.PriorityBase() + 10,
		Hooks: plugin.Hooks{
			PostRebuild: func(ctx context.Context, _ string) (bool, error) {
				return false, nil // rebuild reads the files; nothing to reformat in place
			},
		},
	}
	return postExplode, postRebuild
}

func formatTree(ctx context.Context, fmtr Formatter, treeRoot string) (bool, error) {
	var touched bool
	err := filepath.WalkDir(treeRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, ext := range formattedExts {
			if strings.HasSuffix(path, ext) {
				if ferr := fmtr.Format(ctx, path); ferr != nil {
					return ferr
				}
				touched = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return touched, err
	}
	return touched, nil
}
