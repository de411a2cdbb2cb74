package watch

import (
	"context"
	"fmt"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/remote"
)

// handleCommand answers one operator command synchronously, inline in
// the mailbox-draining goroutine (spec §4.6's operator command list).
func (o *Orchestrator) handleCommand(ctx context.Context, cmd Command) {
	var result CommandResult
	switch cmd.Kind {
	case CmdDownload:
		result = o.cmdDownload(ctx)
	case CmdUpload:
		o.reactLocalEdit(ctx)
		result = CommandResult{Status: o.snapshot()}
	case CmdCheck:
		result = o.cmdCheck(ctx)
	case CmdStatus:
		result = CommandResult{Status: o.snapshot()}
	case CmdPause:
		o.mu.Lock()
		o.paused = true
		o.mu.Unlock()
		pausedGauge.Set(1)
		result = CommandResult{Status: o.snapshot()}
	case CmdResume:
		o.mu.Lock()
		o.paused = false
		o.consecutiveErrs = 0
		o.mu.Unlock()
		o.osc.reset()
		pausedGauge.Set(0)
		result = CommandResult{Status: o.snapshot()}
	case CmdReloadPlugins:
		result = o.cmdReloadPlugins()
	case CmdQuit:
		close(o.quit)
		result = CommandResult{Status: o.snapshot()}
	default:
		result = CommandResult{Err: fmt.Errorf("unknown command %v", cmd.Kind)}
	}
	if cmd.Reply != nil {
		cmd.Reply <- result
	}
}

func (o *Orchestrator) cmdDownload(ctx context.Context) CommandResult {
	o.client.ClearETag()
	fr := o.client.Fetch(ctx)
	switch fr.Status {
	case remote.Fresh:
		o.reactRemoteUpdate(ctx, reaction{
			id: newReactionID(), kind: reactionRemoteUpdate,
			document: fr.Document, etag: fr.ETag, revision: fr.Revision,
		})
	case remote.FetchError:
		return CommandResult{Status: o.snapshot(), Err: fr.Err}
	}
	return CommandResult{Status: o.snapshot()}
}

// cmdCheck rebuilds without pushing and compares against the last fetched
// document, per spec §4.6 "check (rebuild and compare ... without
// pushing)".
func (o *Orchestrator) cmdCheck(ctx context.Context) CommandResult {
	res, err := o.reb.Rebuild(ctx, o.cfg.TreeRoot)
	if err != nil {
		return CommandResult{Status: o.snapshot(), Err: err}
	}
	o.mu.Lock()
	last := o.lastFetched
	o.mu.Unlock()
	if last == nil {
		return CommandResult{Status: o.snapshot()}
	}
	equal, err := flowdoc.Equal(res.Document, last)
	if err != nil {
		return CommandResult{Status: o.snapshot(), Err: err}
	}
	if !equal {
		return CommandResult{Status: o.snapshot(), Err: fmt.Errorf("tree diverges from last fetched document")}
	}
	return CommandResult{Status: o.snapshot()}
}

func (o *Orchestrator) cmdReloadPlugins() CommandResult {
	o.mu.Lock()
	ps := o.pluginSet
	o.mu.Unlock()
	if ps == nil {
		return CommandResult{Status: o.snapshot(), Err: fmt.Errorf("no plugin set registered")}
	}
	o.host.Reload(ps.All, ps.Selection)
	o.logger.Info("watch.plugins.reloaded")
	return CommandResult{Status: o.snapshot()}
}
