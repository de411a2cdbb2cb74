package defaultplugins

import "github.com/kraklabs/flowsync/internal/plugin"

// All returns the full default plugin descriptor set: idnorm, funcbody,
// docfield, templatefield, and formatter, paired across explode/rebuild
// and post-explode/post-rebuild stages as applicable (spec §5c). fmtr may
// be nil, in which case the formatter plugin is registered but inert.
func All(fmtr Formatter) []plugin.Descriptor {
	postExplode, postRebuild := FormatterPlugin(fmtr)
	return []plugin.Descriptor{
		IDNorm(),
		FuncBody(),
		FuncBodyRebuild(),
		DocField(),
		DocFieldRebuild(),
		TemplateField(),
		TemplateFieldRebuild(),
		postExplode,
		postRebuild,
	}
}

// Names lists every default plugin's name, for Selection.Disable/Enable
// call sites that want to address them by name (e.g. disabling
// "formatter" during a verify run, spec §4.7).
var Names = []string{"idnorm", "funcbody", "docfield", "templatefield", "formatter"}
