package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/flowsync/internal/flowdoc"
)

func TestFetch_FreshThenUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("X-Revision", "1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"id":"n1","type":"tab"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, Credential{}, RateLimits{}, nil)

	res := c.Fetch(context.Background())
	require.Equal(t, Fresh, res.Status)
	assert.Equal(t, "1", res.Revision)
	assert.Len(t, res.Document, 1)

	res2 := c.Fetch(context.Background())
	assert.Equal(t, Unchanged, res2.Status, "second fetch must send the cached ETag and get a 304")
}

func TestPush_OkClearsETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rev1", r.URL.Query().Get("rev"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"rev":"rev2"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, Credential{}, RateLimits{}, nil)
	c.etag = `"stale"`

	res := c.Push(context.Background(), flowdoc.Document{}, "rev1")
	require.Equal(t, Ok, res.Status)
	assert.Equal(t, "rev2", res.NewRevision)
	assert.Empty(t, c.etag, "a successful push clears the cached etag unconditionally")
}

func TestPush_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := New(srv.URL, Credential{}, RateLimits{}, nil)
	res := c.Push(context.Background(), flowdoc.Document{}, "rev1")
	assert.Equal(t, Conflict, res.Status)
	assert.Error(t, res.Err)
}

func TestPush_RateLimitedLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"rev":"rev2"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, Credential{}, RateLimits{ShortWindowPerMinute: 1, LongWindowPer10Min: 1}, nil)
	first := c.Push(context.Background(), flowdoc.Document{}, "rev1")
	require.Equal(t, Ok, first.Status)

	second := c.Push(context.Background(), flowdoc.Document{}, "rev1")
	assert.Equal(t, RateLimited, second.Status, "a burst size of 1 must reject the immediate second push")
}

func TestClearETag(t *testing.T) {
	c := New("http://example.invalid", Credential{}, RateLimits{}, nil)
	c.etag = `"x"`
	c.ClearETag()
	assert.Empty(t, c.etag)
}

func TestCredential_ApplyBearer(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	Credential{Bearer: "tok"}.apply(req)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
}
