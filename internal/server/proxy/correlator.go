// Package proxy relays public HTTP requests into tunnel channels and
// matches the client's asynchronous results back to the waiting callers.
package proxy

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"myhook/internal/server/metrics"
	"myhook/internal/server/tunnel"
	"myhook/internal/shared/protocol"
	"myhook/internal/shared/shardmap"
	"myhook/internal/shared/utils"

	"go.uber.org/zap"
)

const (
	// DefaultRequestTimeout bounds how long a caller waits for a result
	DefaultRequestTimeout = 30 * time.Second
	// DefaultMaxBodyBytes bounds a buffered request body
	DefaultMaxBodyBytes = 10 << 20

	notFoundBody = "404 Not Found"
	timeoutBody  = "Timeout"
)

// Config configures the correlator
type Config struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// ChallengeFile holds the payload served for .well-known paths.
	// It is read on every challenge request.
	ChallengeFile string
}

// outcome is how a pending request ended. Exactly one is ever produced.
type outcome struct {
	result *protocol.OutboundResult
	status int
	body   string
}

type pendingRequest struct {
	subdomain string
	channel   tunnel.Channel
	stats     *tunnel.TrafficStats
	createdAt time.Time
	done      chan outcome
}

// Correlator is the public request pipeline. Each dispatched request parks
// in a pending table keyed by request id until a result or the timeout
// sweep claims it; the claim is a single atomic removal, so a request is
// resolved exactly once.
type Correlator struct {
	registry *tunnel.Registry
	pending  *shardmap.Map[*pendingRequest]
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger

	now func() time.Time
}

// NewCorrelator creates a correlator that routes through registry. m may be nil.
func NewCorrelator(registry *tunnel.Registry, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Correlator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		registry: registry,
		pending:  shardmap.New[*pendingRequest](),
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the correlator's time source
func (c *Correlator) SetClock(now func() time.Time) {
	c.now = now
}

// Pending returns the number of requests awaiting a result
func (c *Correlator) Pending() int {
	return c.pending.Len()
}

// ServeHTTP relays a request addressed to a tunnel subdomain
func (c *Correlator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsChallengePath(r.URL.RequestURI()) {
		c.serveChallenge(w)
		return
	}

	subdomain := ExtractSubdomain(r.Host)
	sess, ok := c.registry.Lookup(subdomain)
	if !ok {
		c.metrics.RequestAnswered(metrics.OutcomeNotFound)
		writeText(w, http.StatusNotFound, notFoundBody)
		return
	}

	now := c.now()
	sess.Touch(now)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.metrics.RequestAnswered(metrics.OutcomeTooLarge)
			writeText(w, http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge))
			return
		}
		c.logger.Debug("Failed to read request body",
			zap.String("subdomain", subdomain),
			zap.Error(err),
		)
		c.metrics.RequestAnswered(metrics.OutcomeBadRequest)
		writeText(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	msg := c.buildRequest(r, subdomain, body)
	entry := &pendingRequest{
		subdomain: subdomain,
		channel:   sess.Channel,
		stats:     sess.Stats,
		createdAt: now,
		done:      make(chan outcome, 1),
	}
	c.pending.Set(msg.ID, entry)
	c.metrics.RequestDispatched()
	sess.Stats.AddRequest(len(body))

	c.logger.Debug("Dispatching request",
		zap.String("subdomain", subdomain),
		zap.String("request_id", msg.ID),
		zap.String("method", msg.Method),
		zap.String("path", msg.Path),
	)

	if err := sess.Channel.Send(protocol.EventRequest, msg); err != nil {
		c.logger.Warn("Failed to dispatch request",
			zap.String("subdomain", subdomain),
			zap.String("request_id", msg.ID),
			zap.Error(err),
		)
		if _, claimed := c.pending.LoadAndDelete(msg.ID); claimed {
			c.metrics.RequestResolved(metrics.OutcomeBadGateway, c.now().Sub(now))
			writeText(w, http.StatusBadGateway, http.StatusText(http.StatusBadGateway))
			return
		}
	}

	select {
	case out := <-entry.done:
		c.write(w, msg.ID, out)
	case <-r.Context().Done():
		c.logger.Debug("Caller went away before resolution",
			zap.String("request_id", msg.ID),
		)
	}
}

func (c *Correlator) buildRequest(r *http.Request, subdomain string, body []byte) *protocol.InboundRequest {
	headers, deleted := SplitInboundHeaders(r)
	return &protocol.InboundRequest{
		ID:             utils.NewRequestID(subdomain),
		Headers:        headers,
		DeletedHeaders: deleted,
		Query:          r.URL.Query(),
		Body:           body,
		Path:           r.URL.RequestURI(),
		Method:         r.Method,
		Origin:         clientIP(r.RemoteAddr),
	}
}

// Deliver resolves the pending request named by result when it was
// dispatched over from. Results for unknown, already resolved, or foreign
// requests are ignored. It reports whether a caller was resolved.
func (c *Correlator) Deliver(from tunnel.Channel, result *protocol.OutboundResult) bool {
	if result == nil || result.ID == "" {
		c.metrics.ResultIgnored()
		return false
	}

	entry, ok := c.pending.DeleteIf(result.ID, func(p *pendingRequest) bool {
		return from == nil || p.channel == from
	})
	if !ok {
		c.metrics.ResultIgnored()
		c.logger.Debug("Ignoring result with no pending request",
			zap.String("request_id", result.ID),
		)
		return false
	}

	entry.done <- outcome{result: result}
	entry.stats.AddBytesOut(len(result.Payload()))
	c.metrics.RequestResolved(metrics.OutcomeDelivered, c.now().Sub(entry.createdAt))
	return true
}

// SweepExpired answers every request pending for at least the request
// timeout at now with 503. It returns the number expired.
func (c *Correlator) SweepExpired(now time.Time) int {
	var expired []string
	c.pending.Range(func(id string, p *pendingRequest) bool {
		if now.Sub(p.createdAt) >= c.cfg.RequestTimeout {
			expired = append(expired, id)
		}
		return true
	})

	n := 0
	for _, id := range expired {
		if c.expire(id, now) {
			n++
		}
	}
	if n > 0 {
		c.logger.Info("Expired pending requests",
			zap.Int("count", n),
			zap.Int("remaining", c.pending.Len()),
		)
	}
	return n
}

// ExpireAll answers every pending request with 503 regardless of age
func (c *Correlator) ExpireAll() int {
	now := c.now()
	n := 0
	for id := range c.pending.Snapshot() {
		if c.expire(id, now) {
			n++
		}
	}
	return n
}

func (c *Correlator) expire(id string, now time.Time) bool {
	entry, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	entry.done <- outcome{status: http.StatusServiceUnavailable, body: timeoutBody}
	entry.stats.AddTimeout()
	c.metrics.RequestResolved(metrics.OutcomeTimeout, now.Sub(entry.createdAt))
	c.logger.Debug("Request timed out",
		zap.String("subdomain", entry.subdomain),
		zap.String("request_id", id),
	)
	return true
}

// write completes the caller's response. Failures are logged and dropped.
func (c *Correlator) write(w http.ResponseWriter, id string, out outcome) {
	if out.result == nil {
		writeText(w, out.status, out.body)
		return
	}

	status := out.result.StatusCode()
	// 1xx cannot be a final status on a ResponseWriter
	if status < 200 {
		status = protocol.DefaultResultStatus
	}

	CopyResultHeaders(w.Header(), out.result.HeaderValues())
	w.WriteHeader(status)
	if _, err := w.Write(out.result.Payload()); err != nil {
		c.logger.Warn("Failed to write response to caller",
			zap.String("request_id", id),
			zap.Error(err),
		)
	}
}

func (c *Correlator) serveChallenge(w http.ResponseWriter) {
	payload, err := os.ReadFile(c.cfg.ChallengeFile)
	if c.cfg.ChallengeFile == "" || err != nil {
		c.logger.Warn("Challenge payload unavailable",
			zap.String("file", c.cfg.ChallengeFile),
			zap.Error(err),
		)
		c.metrics.RequestAnswered(metrics.OutcomeNotFound)
		writeText(w, http.StatusNotFound, notFoundBody)
		return
	}
	c.metrics.RequestAnswered(metrics.OutcomeChallenge)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
