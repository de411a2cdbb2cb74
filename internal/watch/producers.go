package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kraklabs/flowsync/internal/remote"
)

// watchSkipDirs excludes noise and the engine's own bookkeeping
// directories from filesystem observation.
var watchSkipDirs = map[string]bool{
	".git": true, "node_modules": true, ".orphaned": true, ".quarantine": true,
}

// runPoller is the remote poller producer: every PollInterval, fetch and
// enqueue a RemoteUpdate on a fresh result (spec §4.6).
func (o *Orchestrator) runPoller(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			paused := o.paused
			o.mu.Unlock()
			if paused {
				continue
			}
			fr := o.client.Fetch(ctx)
			switch fr.Status {
			case remote.Fresh:
				select {
				case o.mailbox <- reaction{
					id: newReactionID(), kind: reactionRemoteUpdate,
					document: fr.Document, etag: fr.ETag, revision: fr.Revision,
				}:
				case <-ctx.Done():
					return
				}
			case remote.FetchError:
				o.logger.Warn("watch.poll.error", "err", fr.Err)
			}
		}
	}
}

// startFSWatcher watches the tree recursively and returns a channel that
// fires once per quiescent period (debounce window D, spec §4.6). The
// returned channel is never closed; it stops firing when watching stops.
func (o *Orchestrator) startFSWatcher(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addWatchRecursive(watcher, o.cfg.TreeRoot); err != nil {
		watcher.Close()
		return nil, err
	}

	debounced := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var timerCh <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(o.cfg.DebounceWindow)
				timerCh = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				o.logger.Warn("watch.fsnotify.error", "err", err)
			case <-timerCh:
				timerCh = nil
				select {
				case debounced <- struct{}{}:
				default:
				}
			}
		}
	}()
	return debounced, nil
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if watchSkipDirs[base] || (strings.HasPrefix(base, ".") && path != root) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil && !os.IsPermission(err) {
			return err
		}
		return nil
	})
}
