package apitool

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"

	"mcphub/internal/errdefs"
	"mcphub/internal/resilience"
)

const (
	// maxResponseBytes caps how much of an upstream body is read.
	maxResponseBytes = 10 << 20

	maxIdleConns    = 100
	maxIdlePerHost  = 10
	idleConnTimeout = 90 * time.Second
)

// Executor sends adapter requests through one process-wide pooled client.
// Transient failures (connect errors, timeouts, 5xx, 429) are retried with
// capped exponential backoff; other failures return immediately.
type Executor struct {
	client *http.Client

	// inflight counts attempts currently holding a pooled connection,
	// published as the apitool.pool.inflight gauge.
	inflight int64
}

// NewExecutor creates an executor with a shared connection pool.
func NewExecutor() *Executor {
	return &Executor{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdlePerHost,
				IdleConnTimeout:     idleConnTimeout,
			},
		},
	}
}

// Close releases pooled connections.
func (e *Executor) Close() {
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// Response is a fully read upstream reply.
type Response struct {
	Status int
	Body   []byte
}

// Do executes one adapter request. build is invoked per attempt so request
// bodies are fresh on retries; timeout bounds each individual attempt. When
// the upstream keeps answering 5xx or 429 until attempts run out, the error
// reports the last status and the attempt count.
func (e *Executor) Do(ctx context.Context, policy resilience.Policy, timeout time.Duration, build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	var (
		res        *Response
		attempts   int
		lastStatus int
	)

	err := policy.Execute(ctx, func(ctx context.Context) error {
		attempts++
		lastStatus = 0

		metrics.SetGauge([]string{"apitool", "pool", "inflight"}, float32(atomic.AddInt64(&e.inflight, 1)))
		defer func() {
			metrics.SetGauge([]string{"apitool", "pool", "inflight"}, float32(atomic.AddInt64(&e.inflight, -1)))
		}()

		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := build(actx)
		if err != nil {
			return err
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return errdefs.Classify(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return errdefs.Classify(err)
		}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			lastStatus = resp.StatusCode
			return errdefs.New(errdefs.CodeUnavailable, errdefs.SeverityMedium, "service-unavailable").
				WithDetails("upstream returned HTTP %d", resp.StatusCode)
		}

		res = &Response{Status: resp.StatusCode, Body: body}
		return nil
	})
	if err != nil {
		if lastStatus != 0 {
			return nil, errdefs.NewUpstreamUnavailable(lastStatus, attempts)
		}
		return nil, err
	}
	return res, nil
}
