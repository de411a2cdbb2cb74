package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/flowsync/internal/explode"
	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
	"github.com/kraklabs/flowsync/internal/rebuild"
	"github.com/kraklabs/flowsync/internal/remote"
)

// Config tunes the orchestrator's timing and tolerance (spec §4.6).
type Config struct {
	TreeRoot             string
	DocPath              string
	PollInterval         time.Duration // default 1s
	DebounceWindow       time.Duration // default 2s
	OscillationWindow    time.Duration // default 60s
	OscillationThreshold int           // default 5
	Tolerant             bool
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = 2 * time.Second
	}
	if c.OscillationWindow == 0 {
		c.OscillationWindow = 60 * time.Second
	}
	if c.OscillationThreshold == 0 {
		c.OscillationThreshold = 5
	}
	return c
}

// PluginSet is the registered descriptor list and active selection,
// snapshotted so reload-plugins has something to re-apply (spec §4.6
// "reload-plugins... swaps it atomically between reactions").
type PluginSet struct {
	All       []plugin.Descriptor
	Selection plugin.Selection
}

// Orchestrator is the single-mailbox reconciler between a tree on disk
// and a remote document endpoint. It is a value with explicit
// dependencies (spec §9): no package-level state.
type Orchestrator struct {
	cfg    Config
	client *remote.Client
	host   *plugin.Host
	exp    *explode.Engine
	reb    *rebuild.Engine
	logger *slog.Logger

	mailbox  chan reaction
	commands chan Command
	quit     chan struct{}

	mu              sync.Mutex
	paused          bool
	currentEtag     string
	currentRevision string
	lastError       error
	lastFetched     flowdoc.Document
	consecutiveErrs int

	watcherActive atomic.Bool
	osc           *oscillationWindow
	pluginSet     *PluginSet
}

// SetPluginSet registers the descriptor list/selection reload-plugins
// replays against the host. Must be called before Run if reload-plugins
// is to be supported.
func (o *Orchestrator) SetPluginSet(ps PluginSet) {
	o.mu.Lock()
	o.pluginSet = &ps
	o.mu.Unlock()
}

// New builds an Orchestrator. The plugin host is constructed by the
// caller (spec §9, "dependency is explicit"); reload-plugins replays
// pluginSet against it.
func New(cfg Config, client *remote.Client, host *plugin.Host, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		client:   client,
		host:     host,
		exp:      explode.New(host, explode.DefaultOptions(), logger),
		reb:      rebuild.New(host, rebuild.Options{Tolerant: cfg.Tolerant}, logger),
		logger:   logger,
		mailbox:  make(chan reaction, 64),
		commands: make(chan Command, 8),
		quit:     make(chan struct{}),
		osc:      newOscillationWindow(cfg.OscillationWindow, cfg.OscillationThreshold),
	}
	o.watcherActive.Store(true)
	return o
}

// Commands returns the channel operators send Command values on.
func (o *Orchestrator) Commands() chan<- Command { return o.commands }

// Run starts the poller and filesystem watcher producers and drains the
// mailbox serially until ctx is cancelled or a quit command arrives
// (spec §4.6 "Ordering guarantees", "Cancellation").
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.runPoller(ctx)
	}()

	fsEvents, fsErr := o.startFSWatcher(ctx)
	if fsErr != nil {
		cancel()
		wg.Wait()
		return fsErr
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-o.quit:
			cancel()
			wg.Wait()
			return nil
		case r := <-o.mailbox:
			o.process(ctx, r)
		case <-fsEvents:
			o.enqueueLocalEdit()
		case cmd := <-o.commands:
			o.enqueueCommand(cmd)
		}
	}
}

func (o *Orchestrator) enqueueLocalEdit() {
	if !o.watcherActive.Load() {
		return // self-triggered write from a RemoteUpdate reaction; ignore (spec invariant 7)
	}
	o.enqueueLocalEditForced()
}

// enqueueLocalEditForced enqueues a LocalEdit regardless of the
// watcherActive gate, for the orchestrator's own decision that a push is
// needed (e.g. explode revealed unstable nodes) as opposed to an edit
// observed by the filesystem watcher.
func (o *Orchestrator) enqueueLocalEditForced() {
	select {
	case o.mailbox <- reaction{id: newReactionID(), kind: reactionLocalEdit}:
	default:
		o.logger.Warn("watch.mailbox.full", "dropped", "local_edit")
	}
}

func (o *Orchestrator) enqueueCommand(cmd Command) {
	select {
	case o.mailbox <- reaction{id: newReactionID(), kind: reactionCommand, cmd: cmd}:
	default:
		cmd.Reply <- CommandResult{Err: fmt.Errorf("mailbox full")}
	}
}

// process dispatches one reaction, the only place shared state is
// mutated (spec §5 "Shared-resource policy").
func (o *Orchestrator) process(ctx context.Context, r reaction) {
	reactionsTotal.WithLabelValues(kindLabel(r.kind)).Inc()
	o.mu.Lock()
	paused := o.paused
	o.mu.Unlock()

	switch r.kind {
	case reactionCommand:
		o.handleCommand(ctx, r.cmd)
	case reactionRemoteUpdate:
		if paused {
			return
		}
		o.reactRemoteUpdate(ctx, r)
	case reactionLocalEdit:
		if paused {
			return
		}
		o.reactLocalEdit(ctx)
	}
}

func kindLabel(k reactionKind) string {
	switch k {
	case reactionRemoteUpdate:
		return "remote_update"
	case reactionLocalEdit:
		return "local_edit"
	default:
		return "command"
	}
}

// reactRemoteUpdate implements spec §4.6's RemoteUpdate reaction steps
// 1-6.
func (o *Orchestrator) reactRemoteUpdate(ctx context.Context, r reaction) {
	o.watcherActive.Store(false)

	res, err := o.exp.Explode(ctx, r.document, o.cfg.TreeRoot)
	if err != nil {
		o.recordError(err)
		o.watcherActive.Store(true)
		return
	}

	needsPush := res.Modified || len(res.UnstableIDs) > 0
	unstableNodesTotal.Add(float64(len(res.UnstableIDs)))
	o.osc.noteImplicated(res.ModifiedBy)

	o.mu.Lock()
	o.currentEtag = r.etag
	o.currentRevision = r.revision
	o.lastFetched = r.document
	o.mu.Unlock()

	o.osc.record(time.Now(), cycleRemoteConfirmedFetch)
	o.checkOscillation()

	// Re-arm the gate only after the filesystem watcher's debounce window
	// has had a full chance to observe (and fire on) these same writes,
	// with margin for the fsnotify event itself to be delivered; reopening
	// right away would let an already-queued debounced event surface as a
	// spurious LocalEdit once it fires (spec invariant 7: the gate must
	// outlive the write, not just the explode call).
	time.AfterFunc(2*o.cfg.DebounceWindow, func() { o.watcherActive.Store(true) })

	if needsPush {
		o.enqueueLocalEditForced()
	}
}

// reactLocalEdit implements spec §4.6's LocalEdit reaction steps 1-6.
func (o *Orchestrator) reactLocalEdit(ctx context.Context) {
	res, err := o.reb.Rebuild(ctx, o.cfg.TreeRoot)
	if err != nil {
		o.recordError(err)
		return
	}

	o.mu.Lock()
	revision := o.currentRevision
	o.mu.Unlock()

	pushRes := o.client.Push(ctx, res.Document, revision)
	switch pushRes.Status {
	case remote.Ok:
		o.mu.Lock()
		o.currentRevision = pushRes.NewRevision
		o.currentEtag = ""
		o.consecutiveErrs = 0
		o.mu.Unlock()
		pushesTotal.Inc()
		o.osc.record(time.Now(), cyclePush)
		o.checkOscillation()
	case remote.Conflict:
		o.pause("conflict: " + pushRes.Err.Error())
	case remote.RateLimited:
		o.logger.Warn("watch.push.rate_limited_backoff")
		time.Sleep(time.Second)
		retry := o.client.Push(ctx, res.Document, revision)
		if retry.Status == remote.Ok {
			o.mu.Lock()
			o.currentRevision = retry.NewRevision
			o.currentEtag = ""
			o.mu.Unlock()
			pushesTotal.Inc()
		}
	case remote.PushError:
		o.recordError(pushRes.Err)
		o.mu.Lock()
		o.consecutiveErrs++
		atCap := o.consecutiveErrs >= 5
		o.mu.Unlock()
		if atCap {
			o.pause("consecutive push failures at cap")
		}
	}
}

func (o *Orchestrator) checkOscillation() {
	if !o.osc.oscillating() {
		return
	}
	oscillationsTotal.Inc()
	o.pause(fmt.Sprintf("oscillation detected, implicated plugins: %v", o.osc.implicatedBy))
	o.osc.reset()
}

func (o *Orchestrator) pause(reason string) {
	o.mu.Lock()
	o.paused = true
	o.lastError = fmt.Errorf("%s", reason)
	o.mu.Unlock()
	pausedGauge.Set(1)
	o.logger.Warn("watch.paused", "reason", reason)
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	o.lastError = err
	o.mu.Unlock()
	o.logger.Error("watch.reaction.error", "err", err)
}

func (o *Orchestrator) snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		Paused:          o.paused,
		CurrentETag:     o.currentEtag,
		CurrentRevision: o.currentRevision,
		OscillationWarn: len(o.osc.implicatedBy) > 0,
	}
	if o.lastError != nil {
		s.LastError = o.lastError.Error()
	}
	return s
}
