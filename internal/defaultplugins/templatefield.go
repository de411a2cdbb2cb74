package defaultplugins

import (
	"context"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
)

// TemplateField claims a "template" field to a sibling file whose
// extension depends on node type and hints (spec §4a):
//   - "template" nodes: "<id>.template.<fmt>", fmt from the node's
//     "format" field (html/json/yaml, else txt).
//   - "ui_template" nodes with templateScope:"ui": "<id>.ui-template.html",
//     or "<id>.vue" when the template content looks like a Vue SFC.
func TemplateField() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "templatefield",
		Stage:    plugin.StageExplode,
		Priority: plugin.StageExplode.PriorityBase() + 20,
		Hooks: plugin.Hooks{
			Explode: templateFieldExplode,
		},
	}
}

// TemplateFieldRebuild is templatefield's paired rebuild-stage
// registration.
func TemplateFieldRebuild() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "templatefield",
		Stage:    plugin.StageRebuild,
		Priority: plugin.StageRebuild.PriorityBase() + 20,
		Hooks: plugin.Hooks{
			Rebuild: templateFieldRebuild,
		},
	}
}

func templateFieldExplode(_ context.Context, node flowdoc.Node, dir plugin.NodeDir, claimed *plugin.ClaimedFields) (plugin.ExplodeResult, error) {
	var res plugin.ExplodeResult
	tmpl, ok := node["template"].(string)
	if !ok || claimed.Has("template") {
		return res, nil
	}
	ext := templateExt(node, tmpl)
	if err := dir.WriteSibling(ext, []byte(tmpl)); err != nil {
		return res, err
	}
	res.Claimed = []string{"template"}
	res.Files = []string{dir.SiblingPath(ext)}
	return res, nil
}

func templateFieldRebuild(_ context.Context, dir plugin.NodeDir, _ string, node flowdoc.Node) (flowdoc.Node, error) {
	for _, ext := range []string{".vue", ".ui-template.html", ".template.html", ".template.json", ".template.yaml", ".template.txt"} {
		if !dir.HasSibling(ext) {
			continue
		}
		data, err := dir.ReadSibling(ext)
		if err != nil {
			return nil, err
		}
		node["template"] = string(data)
		return node, nil
	}
	return node, nil
}

func templateExt(node flowdoc.Node, content string) string {
	if node.Type() == "ui_template" {
		if scope, _ := node["templateScope"].(string); scope == "ui" {
			if isVueSFC(content) {
				return ".vue"
			}
			return ".ui-template.html"
		}
	}
	format, _ := node["format"].(string)
	switch format {
	case "html", "json", "yaml":
		return ".template." + format
	default:
		return ".template.txt"
	}
}

// isVueSFC is a narrow heuristic: a Vue single-file component starts with
// a <template> block, distinguishing it from a plain dashboard HTML
// fragment.
func isVueSFC(content string) bool {
	for i := 0; i < len(content) && i < 64; i++ {
		switch content[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return len(content) > i+9 && content[i:i+9] == "<template"
	}
	return false
}
