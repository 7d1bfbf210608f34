package vuser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fortio.org/log"

	"github.com/fortio-goat/goatling/metrics"
)

// Handle is the per-request surface a scenario.Handler sees. It satisfies
// scenario.TransactionContext and adds the request-issuing helpers Goose
// scenarios call (get/post/post_form/post_json/get_named/request/...).
type Handle struct {
	user *User
	ctx  context.Context //nolint:containedctx // threaded through from User.Run's loop, not stored across calls
	name string          // overrides the metrics bucket name for the next request, see WithName
}

// UserIndex implements scenario.TransactionContext.
func (h *Handle) UserIndex() int { return h.user.cfg.Index }

// SessionData implements scenario.TransactionContext.
func (h *Handle) SessionData() any { return h.user.session.Get() }

// SetSessionData implements scenario.TransactionContext.
func (h *Handle) SetSessionData(v any) { h.user.session.Set(v) }

// BuildURL joins the scenario/attack base URL with a request path.
func (h *Handle) BuildURL(path string) string {
	base := strings.TrimRight(h.user.cfg.BaseURL, "/")
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// WithName overrides the metrics bucket name ("name" in the spec's request
// grouping) for the single next request issued through this Handle, mirroring
// Goose's get_named/post_named helpers; returns h for chaining.
func (h *Handle) WithName(name string) *Handle {
	h.name = name
	return h
}

// SetFailure lets a handler mark an otherwise-2xx response as a scenario
// failure (e.g. a body that doesn't match an expected value), recording it
// under errText without altering the HTTP-level StatusCode recorded.
func (h *Handle) SetFailure(req *http.Request, resp *http.Response, errText string) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	h.record(req, resp, 0, status, errText, false)
}

// Get issues a GET request.
func (h *Handle) Get(path string) (*http.Response, []byte, error) {
	return h.Request(http.MethodGet, path, nil, "")
}

// Post issues a POST request with a raw body and content type.
func (h *Handle) Post(path string, body []byte, contentType string) (*http.Response, []byte, error) {
	return h.Request(http.MethodPost, path, body, contentType)
}

// PostForm URL-encodes form and POSTs it.
func (h *Handle) PostForm(path string, form url.Values) (*http.Response, []byte, error) {
	return h.Request(http.MethodPost, path, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

// PostJSON marshals v to JSON and POSTs it.
func (h *Handle) PostJSON(path string, v any) (*http.Response, []byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal json body: %w", err)
	}
	return h.Request(http.MethodPost, path, body, "application/json")
}

// PostGraphQL wraps query/variables in the standard GraphQL request envelope
// and POSTs it as JSON.
func (h *Handle) PostGraphQL(path, query string, variables map[string]any) (*http.Response, []byte, error) {
	return h.PostJSON(path, map[string]any{"query": query, "variables": variables})
}

// Request issues an arbitrary method request and records the resulting
// RequestMetric. body may be nil.
func (h *Handle) Request(method, path string, body []byte, contentType string) (*http.Response, []byte, error) {
	fullURL := h.BuildURL(path)
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(h.ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	start := time.Now()
	resp, err := h.user.cfg.Client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		h.record(req, nil, elapsed, 0, err.Error(), false)
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, readErr := io.ReadAll(resp.Body)
	success := resp.StatusCode < 400
	errText := ""
	if !success {
		errText = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	if h.user.cfg.DebugBody && !success {
		log.Debugf("user %d: %s %s -> %d\nreq body: %s\nresp body: %s", h.user.cfg.Index, method, fullURL, resp.StatusCode, body, respBody)
	}
	h.record(req, resp, elapsed, resp.StatusCode, errText, success)
	return resp, respBody, readErr
}

// applyStickyFollow re-targets the user's BaseURL to the host a redirect
// landed on, so subsequent requests in this user's run-list go straight
// there instead of bouncing through the original host every time.
func (h *Handle) applyStickyFollow(final *url.URL) {
	newBase := final.Scheme + "://" + final.Host
	if newBase == h.user.cfg.BaseURL {
		return
	}
	log.Debugf("user %d: sticky-follow re-targeting base URL to %s", h.user.cfg.Index, newBase)
	h.user.cfg.BaseURL = newBase
}

func (h *Handle) record(req *http.Request, resp *http.Response, elapsed time.Duration, status int, errText string, success bool) {
	if h.user.cfg.Metrics == nil {
		return
	}
	name := h.name
	h.name = ""
	if name == "" && req != nil {
		name = req.URL.Path
	}
	redirected := resp != nil && resp.Request != nil && resp.Request.URL.String() != req.URL.String()
	if redirected && h.user.cfg.StickyFollow {
		h.applyStickyFollow(resp.Request.URL)
	}
	h.user.cfg.Metrics.RecordRequest(metrics.RequestMetric{
		Method:                      metrics.Method(req.Method),
		Name:                        name,
		Path:                        req.URL.Path,
		URL:                         req.URL.String(),
		StatusCode:                  status,
		Success:                     success,
		ResponseTimeMsec:            float64(elapsed) / float64(time.Millisecond),
		Redirected:                  redirected,
		ElapsedMsecSinceAttackStart: int64(time.Since(h.user.cfg.AttackStart) / time.Millisecond),
		UserIndex:                   h.user.cfg.Index,
		Error:                       errText,
		UserCadenceMsec:             h.user.cadenceMsec,
	})
}
