package watch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/flowsync/internal/defaultplugins"
	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
	"github.com/kraklabs/flowsync/internal/remote"
	"github.com/kraklabs/flowsync/internal/skeleton"
)

func testHost() *plugin.Host {
	return plugin.NewHost(nil, defaultplugins.All(nil), plugin.Selection{
		ClearAll: true, AddAll: true, Disable: []string{"idnorm"},
	})
}

func stableDoc() flowdoc.Document {
	return flowdoc.Document{
		flowdoc.Node{"id": "t1", "type": "tab", "label": "Flow 1"},
		flowdoc.Node{
			"id": "func_double", "type": "function", "z": "t1", "name": "double",
			"func": "return msg;", "x": 1, "y": 2, "wires": []any{[]any{}},
		},
	}
}

func waitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

// TestOrchestrator_Run_SelfTriggerSuppression grounds spec invariant 7:
// the filesystem writes made by exploding a RemoteUpdate must never
// themselves be reported back upstream as a LocalEdit.
func TestOrchestrator_Run_SelfTriggerSuppression(t *testing.T) {
	doc := stableDoc()
	docBody, err := flowdoc.EncodeDocument(doc)
	require.NoError(t, err)

	var pushCount int32
	var fetchCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			n := atomic.AddInt32(&fetchCount, 1)
			if n > 1 {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("X-Revision", "1")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(docBody)
		case http.MethodPost:
			atomic.AddInt32(&pushCount, 1)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"rev":"2"}`))
		}
	}))
	defer srv.Close()

	root := t.TempDir()
	client := remote.New(srv.URL, remote.Credential{}, remote.RateLimits{ShortWindowPerMinute: 1000, LongWindowPer10Min: 1000}, nil)
	cfg := Config{
		TreeRoot:       root,
		PollInterval:   10 * time.Millisecond,
		DebounceWindow: 15 * time.Millisecond,
	}
	orch := New(cfg, client, testHost(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	waitForFile(t, filepath.Join(root, skeleton.FileName), time.Second)
	// Give the filesystem watcher several debounce windows to notice the
	// explode's own writes, were it going to misfire.
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&pushCount), "exploding a stable remote document must never trigger a push back")
	assert.Equal(t, "1", orch.snapshot().CurrentRevision, "the fetched revision must be recorded (invariant 6)")
	assert.True(t, orch.watcherActive.Load(), "the gate must be re-armed once the reaction finishes")

	cancel()
	select {
	case err := <-runErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

// TestOrchestrator_EnqueueLocalEdit_GatedByWatcherActive is a direct unit
// test of invariant 7's gate, independent of real filesystem timing.
func TestOrchestrator_EnqueueLocalEdit_GatedByWatcherActive(t *testing.T) {
	client := remote.New("http://example.invalid", remote.Credential{}, remote.RateLimits{}, nil)
	orch := New(Config{TreeRoot: t.TempDir()}, client, testHost(), nil)

	orch.watcherActive.Store(false)
	orch.enqueueLocalEdit()
	assert.Len(t, orch.mailbox, 0, "a local edit must be dropped while the watcher gate is closed")

	orch.watcherActive.Store(true)
	orch.enqueueLocalEdit()
	require.Len(t, orch.mailbox, 1)
	r := <-orch.mailbox
	assert.Equal(t, reactionLocalEdit, r.kind)
}

// TestOrchestrator_ReactLocalEdit_ConflictPauses grounds the conflict
// scenario: a 409 from the remote must pause the orchestrator rather
// than retry silently.
func TestOrchestrator_ReactLocalEdit_ConflictPauses(t *testing.T) {
	root := t.TempDir()
	host := testHost()

	// Seed a tree the rebuild engine can read back, via a real explode.
	orch := New(Config{TreeRoot: root}, remote.New("http://unused.invalid", remote.Credential{}, remote.RateLimits{}, nil), host, nil)
	ctx := context.Background()
	res, err := orch.exp.Explode(ctx, stableDoc(), root)
	require.NoError(t, err)
	require.Empty(t, res.UnstableIDs)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	orch.client = remote.New(srv.URL, remote.Credential{}, remote.RateLimits{ShortWindowPerMinute: 1000, LongWindowPer10Min: 1000}, nil)
	orch.reactLocalEdit(ctx)

	status := orch.snapshot()
	assert.True(t, status.Paused, "a 409 conflict must pause the orchestrator")
	assert.Contains(t, status.LastError, "conflict")
}

// TestOrchestrator_Commands_PauseResume exercises the operator command
// surface end-to-end through Run's mailbox.
func TestOrchestrator_Commands_PauseResume(t *testing.T) {
	root := t.TempDir()
	client := remote.New("http://example.invalid", remote.Credential{}, remote.RateLimits{}, nil)
	orch := New(Config{TreeRoot: root, PollInterval: time.Hour}, client, testHost(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	reply := make(chan CommandResult, 1)
	orch.Commands() <- Command{Kind: CmdPause, Reply: reply}
	res := <-reply
	assert.True(t, res.Status.Paused)

	reply = make(chan CommandResult, 1)
	orch.Commands() <- Command{Kind: CmdResume, Reply: reply}
	res = <-reply
	assert.False(t, res.Status.Paused)

	reply = make(chan CommandResult, 1)
	orch.Commands() <- Command{Kind: CmdQuit, Reply: reply}
	<-reply

	select {
	case <-runErr:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after quit")
	}
}
