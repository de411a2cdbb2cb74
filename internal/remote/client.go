// Package remote talks to a remote flow-document server: fetch with ETag
// caching, push with revision-based optimistic concurrency, dual-window
// rate limiting, and bounded-retry transport (spec §4.5).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kraklabs/flowsync/internal/flowdoc"
)

// FetchStatus classifies the outcome of a Fetch call.
type FetchStatus int

const (
	Fresh FetchStatus = iota
	Unchanged
	FetchError
)

// PushStatus classifies the outcome of a Push call.
type PushStatus int

const (
	Ok PushStatus = iota
	Conflict
	RateLimited
	PushError
)

// FetchResult is what a Fetch call returns.
type FetchResult struct {
	Document flowdoc.Document
	ETag     string
	Revision string
	Status   FetchStatus
	Err      error
}

// PushResult is what a Push call returns.
type PushResult struct {
	NewRevision string
	Status      PushStatus
	Err         error
}

// Credential is an opaque, already-resolved authentication value. Exactly
// one of Bearer or BasicUser/BasicPass is meaningful; resolution (file,
// environment, prompt) happens outside this package (spec §4.5).
type Credential struct {
	Bearer    string
	BasicUser string
	BasicPass string
}

func (c Credential) apply(req *http.Request) {
	switch {
	case c.Bearer != "":
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	case c.BasicUser != "":
		req.SetBasicAuth(c.BasicUser, c.BasicPass)
	}
}

// RateLimits are the two ceilings a push must clear (spec §6: "180
// requests per 60 s, 1200 per 600 s"). Each is enforced by a token bucket
// whose burst equals the ceiling and which refills evenly over its window;
// this is not a strict sliding window, so a full burst followed by refilled
// tokens can let more than the ceiling through within one window. Fetches
// are not rate limited.
type RateLimits struct {
	ShortWindowPerMinute int
	LongWindowPer10Min   int
}

// DefaultRateLimits returns the spec's default ceilings.
func DefaultRateLimits() RateLimits {
	return RateLimits{ShortWindowPerMinute: 180, LongWindowPer10Min: 1200}
}

const (
	requestTimeout       = 30 * time.Second
	maxConsecutiveErrors = 5
)

var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}

// Client is a value type: no package-level state, explicit dependencies
// throughout (spec §9 "Global state... There is none at the core").
type Client struct {
	baseURL    string
	cred       Credential
	httpClient *http.Client
	logger     *slog.Logger

	shortLimiter *rate.Limiter
	longLimiter  *rate.Limiter

	mu          sync.Mutex
	etag        string
	consecutive int
}

// New builds a Client talking to baseURL with cred. A nil logger defaults
// to slog.Default(); a zero-value RateLimits uses DefaultRateLimits.
func New(baseURL string, cred Credential, limits RateLimits, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.ShortWindowPerMinute == 0 && limits.LongWindowPer10Min == 0 {
		limits = DefaultRateLimits()
	}
	return &Client{
		baseURL:      baseURL,
		cred:         cred,
		httpClient:   &http.Client{Timeout: requestTimeout},
		logger:       logger,
		shortLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(limits.ShortWindowPerMinute)), limits.ShortWindowPerMinute),
		longLimiter:  rate.NewLimiter(rate.Every(10*time.Minute/time.Duration(limits.LongWindowPer10Min)), limits.LongWindowPer10Min),
	}
}

// ClearETag forces the next Fetch to be unconditional, per spec §4.6:
// "ETag is cleared to None whenever the orchestrator itself has pushed".
func (c *Client) ClearETag() {
	c.mu.Lock()
	c.etag = ""
	c.mu.Unlock()
}

// Fetch retrieves the current document, honoring the cached ETag.
func (c *Client) Fetch(ctx context.Context) FetchResult {
	c.mu.Lock()
	etag := c.etag
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/flows", nil)
	if err != nil {
		return FetchResult{Status: FetchError, Err: err}
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	c.cred.apply(req)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return FetchResult{Status: FetchError, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return FetchResult{Status: Unchanged}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{Status: FetchError, Err: err}
		}
		doc, err := flowdoc.DecodeDocument(body)
		if err != nil {
			return FetchResult{Status: FetchError, Err: err}
		}
		newEtag := resp.Header.Get("ETag")
		c.mu.Lock()
		c.etag = newEtag
		c.mu.Unlock()
		return FetchResult{
			Document: doc,
			ETag:     newEtag,
			Revision: resp.Header.Get("X-Revision"),
			Status:   Fresh,
		}
	default:
		return FetchResult{Status: FetchError, Err: fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)}
	}
}

// Push sends doc under an optimistic-concurrency revision. A successful
// push clears the cached ETag unconditionally (spec §9's fixed open
// question: "any successful push clears the cached ETag").
func (c *Client) Push(ctx context.Context, doc flowdoc.Document, revision string) PushResult {
	if !c.shortLimiter.Allow() || !c.longLimiter.Allow() {
		c.logger.Warn("remote.push.rate_limited")
		return PushResult{Status: RateLimited, Err: flowdoc.NewError(flowdoc.ErrKindRateLimited, "remote.push", nil)}
	}

	body, err := flowdoc.EncodeDocument(doc)
	if err != nil {
		return PushResult{Status: PushError, Err: err}
	}

	url := fmt.Sprintf("%s/flows?rev=%s", c.baseURL, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return PushResult{Status: PushError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.cred.apply(req)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return PushResult{Status: PushError, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return PushResult{Status: Conflict, Err: flowdoc.NewError(flowdoc.ErrKindRemoteConflict, "remote.push", nil)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return PushResult{Status: RateLimited, Err: flowdoc.NewError(flowdoc.ErrKindRateLimited, "remote.push", nil)}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var decoded struct {
			Rev string `json:"rev"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return PushResult{Status: PushError, Err: err}
		}
		c.ClearETag()
		return PushResult{NewRevision: decoded.Rev, Status: Ok}
	default:
		return PushResult{Status: PushError, Err: fmt.Errorf("push: unexpected status %d", resp.StatusCode)}
	}
}

// doWithRetry runs req, retrying transient failures with exponential
// backoff up to maxConsecutiveErrors, per spec §4.5.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			c.mu.Lock()
			c.consecutive = 0
			c.mu.Unlock()
			return resp, nil
		}
		if err == nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("transient server error: status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		c.mu.Lock()
		c.consecutive++
		consecutive := c.consecutive
		c.mu.Unlock()
		if consecutive >= maxConsecutiveErrors {
			break
		}
		if attempt < len(backoffSchedule) {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoffSchedule[attempt]):
			}
		}
	}
	c.logger.Warn("remote.request.failed", "err", lastErr)
	return nil, flowdoc.NewError(flowdoc.ErrKindRemoteTransient, "remote.request", lastErr)
}
