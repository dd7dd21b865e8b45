package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPChecker checks an HTTP endpoint, usually /readyz of a peer process
type HTTPChecker struct {
	url       string
	minStatus int
	maxStatus int
	client    *http.Client
}

// NewHTTPChecker accepts any 2xx or 3xx response from url
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		url:       url,
		minStatus: http.StatusOK,
		maxStatus: 399,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.minStatus, h.maxStatus = min, max
	return h
}

func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.client.Timeout = timeout
	return h
}

func (h *HTTPChecker) Type() CheckType { return CheckTypeHTTP }

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return failed(start, "build request: %v", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return failed(start, "GET %s: %v", h.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	code := resp.StatusCode
	if code < h.minStatus || code > h.maxStatus {
		return failed(start, "status %d outside %d-%d", code, h.minStatus, h.maxStatus)
	}
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("status %d", code),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
