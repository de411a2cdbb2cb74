package defaultplugins

import (
	"context"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
)

// funcBodyFields maps a node's JSON field to the sibling file extension it
// claims, per spec §6's filename table ("Wrapped function body").
var funcBodyFields = map[string]string{
	"func":       ".wrapped.js",
	"initialize": ".initialize.js",
	"finalize":   ".finalize.js",
}

// FuncBody claims a function node's code fields to sibling .js files
// (spec §8(a), §5c).
func FuncBody() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "funcbody",
		Stage:    plugin.StageExplode,
		Priority: plugin.StageExplode.PriorityBase(),
		Hooks: plugin.Hooks{
			Explode: funcBodyExplode,
			Rebuild: funcBodyRebuild,
		},
	}
}

// FuncBodyRebuild registers the paired rebuild-stage hook at the matching
// priority, so claim (explode) and injection (rebuild) stay locked
// together even though they run against two different stage lists.
func FuncBodyRebuild() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "funcbody",
		Stage:    plugin.StageRebuild,
		Priority: plugin.StageRebuild.PriorityBase(),
		Hooks: plugin.Hooks{
			Rebuild: funcBodyRebuild,
		},
	}
}

func funcBodyExplode(_ context.Context, node flowdoc.Node, dir plugin.NodeDir, claimed *plugin.ClaimedFields) (plugin.ExplodeResult, error) {
	var res plugin.ExplodeResult
	for field, ext := range funcBodyFields {
		v, ok := node[field]
		if !ok {
			continue
		}
		code, ok := v.(string)
		if !ok {
			continue
		}
		if claimed.Has(field) {
			continue
		}
		if err := dir.WriteSibling(ext, []byte(code)); err != nil {
			return res, err
		}
		res.Claimed = append(res.Claimed, field)
		res.Files = append(res.Files, dir.SiblingPath(ext))
	}
	return res, nil
}

func funcBodyRebuild(_ context.Context, dir plugin.NodeDir, _ string, node flowdoc.Node) (flowdoc.Node, error) {
	for field, ext := range funcBodyFields {
		if !dir.HasSibling(ext) {
			continue
		}
		data, err := dir.ReadSibling(ext)
		if err != nil {
			return nil, err
		}
		node[field] = string(data)
	}
	return node, nil
}
