package tunnel

import (
	"fmt"
	"time"

	"myhook/internal/server/metrics"
	"myhook/internal/server/token"
	"myhook/internal/shared/pool"
	"myhook/internal/shared/protocol"

	"go.uber.org/zap"
)

// DefaultTokenDelay is how long after the URL notification the credential is sent
const DefaultTokenDelay = 1500 * time.Millisecond

// SessionConfig configures the session manager
type SessionConfig struct {
	MainDomain  string
	Scheme      string
	TokenDelay  time.Duration
	IdleTimeout time.Duration
}

// SessionManager owns a tunnel session from channel open to channel close
type SessionManager struct {
	registry  *Registry
	allocator *Allocator
	codec     *token.Codec
	cfg       SessionConfig
	pool      *pool.WorkerPool
	metrics   *metrics.Metrics
	logger    *zap.Logger

	now func() time.Time
}

// NewSessionManager creates a session manager. codec, workers and m may be nil.
func NewSessionManager(registry *Registry, allocator *Allocator, codec *token.Codec, cfg SessionConfig, workers *pool.WorkerPool, m *metrics.Metrics, logger *zap.Logger) *SessionManager {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		registry:  registry,
		allocator: allocator,
		codec:     codec,
		cfg:       cfg,
		pool:      workers,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the manager's time source
func (m *SessionManager) SetClock(now func() time.Time) {
	m.now = now
}

// Registry returns the registry sessions are kept in
func (m *SessionManager) Registry() *Registry {
	return m.registry
}

// PublicURL returns the public address of subdomain
func (m *SessionManager) PublicURL(subdomain string) string {
	return fmt.Sprintf("%s://%s.%s/", m.cfg.Scheme, subdomain, m.cfg.MainDomain)
}

// Open claims a subdomain for ch, registers it and notifies the client.
// The resumption credential follows after the configured delay.
func (m *SessionManager) Open(ch Channel, credential string) (*Session, error) {
	sess, displaced, err := m.allocator.Claim(credential, ch, m.now())
	if displaced != nil {
		m.released(displaced, "reclaimed")
	}
	if err != nil {
		return nil, fmt.Errorf("claim subdomain: %w", err)
	}
	m.metrics.SessionOpened(sess.Resumed)

	m.logger.Info("Tunnel registered",
		zap.String("subdomain", sess.Subdomain),
		zap.String("channel_id", ch.ID()),
		zap.Bool("resumed", sess.Resumed),
		zap.Int("total_tunnels", m.registry.Count()),
	)

	if err := ch.Send(protocol.EventSubdomainPrepared, m.PublicURL(sess.Subdomain)); err != nil {
		m.logger.Warn("Failed to send public URL",
			zap.String("subdomain", sess.Subdomain),
			zap.Error(err),
		)
	}

	if m.cfg.TokenDelay <= 0 {
		m.sendCredential(sess)
	} else {
		time.AfterFunc(m.cfg.TokenDelay, func() { m.sendCredential(sess) })
	}

	return sess, nil
}

func (m *SessionManager) sendCredential(sess *Session) {
	if m.codec == nil || isDone(sess.Channel) {
		return
	}

	tok, err := m.codec.Issue(sess.Subdomain, m.now())
	if err != nil {
		m.logger.Error("Failed to issue credential",
			zap.String("subdomain", sess.Subdomain),
			zap.Error(err),
		)
		return
	}
	if err := sess.Channel.Send(protocol.EventCredentialPrepared, tok); err != nil {
		m.logger.Warn("Failed to send credential",
			zap.String("subdomain", sess.Subdomain),
			zap.Error(err),
		)
	}
}

// Close releases sess when its channel is still the registered owner and
// closes the channel either way. It reports whether the session was removed.
func (m *SessionManager) Close(sess *Session) bool {
	_, removed := m.registry.UnregisterChannel(sess.Subdomain, sess.Channel)
	sess.Channel.Close()

	if !removed {
		m.logger.Debug("Superseded channel closed",
			zap.String("subdomain", sess.Subdomain),
			zap.String("channel_id", sess.Channel.ID()),
		)
		return false
	}

	m.released(sess, "closed")
	return true
}

// released records a session that has left the registry
func (m *SessionManager) released(sess *Session, reason string) {
	m.metrics.SessionClosed()
	m.logger.Info("Tunnel unregistered",
		zap.String("subdomain", sess.Subdomain),
		zap.String("channel_id", sess.Channel.ID()),
		zap.String("reason", reason),
		zap.Duration("uptime", sess.Stats.GetUptime(m.now())),
		zap.Int64("requests", sess.Stats.GetTotalRequests()),
		zap.Int64("bytes_in", sess.Stats.GetTotalBytesIn()),
		zap.Int64("bytes_out", sess.Stats.GetTotalBytesOut()),
		zap.Int64("timeouts", sess.Stats.GetTimeouts()),
		zap.Int("total_tunnels", m.registry.Count()),
	)
}

// EvictIdle unregisters every session idle for at least the idle timeout at
// now and closes its channel. It returns the number evicted.
func (m *SessionManager) EvictIdle(now time.Time) int {
	evicted := 0
	for _, sess := range m.registry.All() {
		if sess.IdleFor(now) < m.cfg.IdleTimeout {
			continue
		}
		if _, ok := m.registry.DeleteIdle(sess, now, m.cfg.IdleTimeout); !ok {
			continue
		}
		evicted++
		m.metrics.Evicted()
		m.metrics.SessionClosed()

		ch := sess.Channel
		m.closeAsync(ch)

		m.logger.Info("Evicted idle tunnel",
			zap.String("subdomain", sess.Subdomain),
			zap.Duration("idle", sess.IdleFor(now)),
		)
	}
	return evicted
}

func (m *SessionManager) closeAsync(ch Channel) {
	if m.pool == nil {
		go ch.Close()
		return
	}
	m.pool.Submit(ch.Close)
}

// Shutdown unregisters and closes every session
func (m *SessionManager) Shutdown() {
	sessions := m.registry.Clear()
	m.logger.Info("Shutting down tunnel sessions",
		zap.Int("active_tunnels", len(sessions)),
	)
	for _, sess := range sessions {
		sess.Channel.Close()
		m.metrics.SessionClosed()
	}
}
