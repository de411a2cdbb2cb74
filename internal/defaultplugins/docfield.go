package defaultplugins

import (
	"context"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
)

const docFieldExt = ".md"

// DocField claims a non-empty "info" field to a sibling markdown file
// (spec §4a "comment nodes", §5c).
func DocField() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "docfield",
		Stage:    plugin.StageExplode,
		Priority: plugin.StageExplode.PriorityBase() + 10,
		Hooks: plugin.Hooks{
			Explode: docFieldExplode,
		},
	}
}

// DocFieldRebuild is docfield's paired rebuild-stage registration.
func DocFieldRebuild() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "docfield",
		Stage:    plugin.StageRebuild,
		Priority: plugin.StageRebuild.PriorityBase() + 10,
		Hooks: plugin.Hooks{
			Rebuild: docFieldRebuild,
		},
	}
}

func docFieldExplode(_ context.Context, node flowdoc.Node, dir plugin.NodeDir, claimed *plugin.ClaimedFields) (plugin.ExplodeResult, error) {
	var res plugin.ExplodeResult
	info, ok := node["info"].(string)
	if !ok || info == "" || claimed.Has("info") {
		return res, nil
	}
	if err := dir.WriteSibling(docFieldExt, []byte(info)); err != nil {
		return res, err
	}
	res.Claimed = []string{"info"}
	res.Files = []string{dir.SiblingPath(docFieldExt)}
	return res, nil
}

func docFieldRebuild(_ context.Context, dir plugin.NodeDir, _ string, node flowdoc.Node) (flowdoc.Node, error) {
	if !dir.HasSibling(docFieldExt) {
		return node, nil
	}
	data, err := dir.ReadSibling(docFieldExt)
	if err != nil {
		return nil, err
	}
	node["info"] = string(data)
	return node, nil
}
