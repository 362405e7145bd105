package tunnel

import (
	"strings"
	"testing"
	"time"

	"myhook/internal/server/metrics"
	"myhook/internal/shared/pool"
	"myhook/internal/shared/protocol"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

func newTestSessionManager(t *testing.T, cfg SessionConfig) *SessionManager {
	t.Helper()
	codec := newTestCodec(t)
	r := NewRegistry()
	a := NewAllocator(r, codec, AllocatorConfig{}, zap.NewNop())
	workers := pool.NewWorkerPool(2, 8, zap.NewNop())
	t.Cleanup(workers.Close)

	if cfg.MainDomain == "" {
		cfg.MainDomain = "example.com"
	}
	m := NewSessionManager(r, a, codec, cfg, workers, metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	m.SetClock(testNow)
	return m
}

func activeTunnels(t *testing.T, m *SessionManager) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.metrics.ActiveTunnels.Write(&pb); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return pb.GetGauge().GetValue()
}

func TestSessionOpen(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{})
	ch := newTestChannel()

	sess, err := m.Open(ch, "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	msg := recv(t, ch)
	if msg.Event != protocol.EventSubdomainPrepared {
		t.Fatalf("first event = %s, want %s", msg.Event, protocol.EventSubdomainPrepared)
	}
	var url string
	msg.Bind(&url)
	if want := "https://" + sess.Subdomain + ".example.com/"; url != want {
		t.Errorf("public URL = %q, want %q", url, want)
	}

	msg = recv(t, ch)
	if msg.Event != protocol.EventCredentialPrepared {
		t.Fatalf("second event = %s, want %s", msg.Event, protocol.EventCredentialPrepared)
	}
	var tok string
	msg.Bind(&tok)
	sub, issuedAt, err := m.codec.Redeem(tok)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if sub != sess.Subdomain {
		t.Errorf("token subdomain = %q, want %q", sub, sess.Subdomain)
	}
	if !issuedAt.Equal(testNow()) {
		t.Errorf("issuedAt = %v, want %v", issuedAt, testNow())
	}
}

func TestSessionCredentialDelayed(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{TokenDelay: 20 * time.Millisecond})
	ch := newTestChannel()

	if _, err := m.Open(ch, ""); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	recv(t, ch)

	select {
	case <-ch.SendCh:
		t.Fatal("credential sent before the delay")
	default:
	}

	select {
	case data := <-ch.SendCh:
		msg, _ := ch.Codec().Decode(data)
		if msg.Event != protocol.EventCredentialPrepared {
			t.Errorf("event = %s, want %s", msg.Event, protocol.EventCredentialPrepared)
		}
	case <-time.After(time.Second):
		t.Fatal("credential never sent")
	}
}

func TestSessionResume(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{})

	first := newTestChannel()
	sess, _ := m.Open(first, "")
	recv(t, first)
	var tok string
	recv(t, first).Bind(&tok)

	m.Close(sess)

	second := newTestChannel()
	resumed, err := m.Open(second, tok)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if resumed.Subdomain != sess.Subdomain || !resumed.Resumed {
		t.Errorf("resumed %q (resumed=%v), want %q", resumed.Subdomain, resumed.Resumed, sess.Subdomain)
	}
}

func TestSessionCloseSuperseded(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{})

	first := newTestChannel()
	old, _ := m.Open(first, "")
	recv(t, first)
	var tok string
	recv(t, first).Bind(&tok)

	// first drops but its close has not run yet; a reconnect reclaims
	first.Close()
	second := newTestChannel()
	cur, err := m.Open(second, tok)
	if err != nil || cur.Subdomain != old.Subdomain {
		t.Fatalf("Open() = %v, %v; want reclaimed %q", cur, err, old.Subdomain)
	}

	if m.Close(old) {
		t.Error("Close() of superseded session reported removal")
	}
	if got, ok := m.Registry().Lookup(old.Subdomain); !ok || got.Channel != second {
		t.Error("superseded close evicted the new owner")
	}
	if second.IsClosed() {
		t.Error("new owner's channel was closed")
	}
}

func TestActiveTunnelsAfterReclaim(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{})

	first := newTestChannel()
	old, _ := m.Open(first, "")
	recv(t, first)
	var tok string
	recv(t, first).Bind(&tok)

	first.Close()
	second := newTestChannel()
	cur, err := m.Open(second, tok)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := activeTunnels(t, m); got != 1 {
		t.Errorf("active tunnels after reclaim = %v, want 1", got)
	}

	m.Close(old)
	if got := activeTunnels(t, m); got != 1 {
		t.Errorf("active tunnels after superseded close = %v, want 1", got)
	}

	m.Close(cur)
	if got := activeTunnels(t, m); got != 0 {
		t.Errorf("active tunnels with empty registry = %v, want 0", got)
	}
	if n := m.Registry().Count(); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestActiveTunnelsOpenClose(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{})

	a, _ := m.Open(newTestChannel(), "")
	b, _ := m.Open(newTestChannel(), "")
	if got := activeTunnels(t, m); got != 2 {
		t.Errorf("active tunnels = %v, want 2", got)
	}

	m.Close(a)
	m.Close(a)
	m.Close(b)
	if got := activeTunnels(t, m); got != 0 {
		t.Errorf("active tunnels = %v, want 0", got)
	}
}

func TestSessionClose(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{})
	ch := newTestChannel()
	sess, _ := m.Open(ch, "")

	if !m.Close(sess) {
		t.Error("Close() = false for owner")
	}
	if !ch.IsClosed() {
		t.Error("channel not closed")
	}
	if m.Registry().Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Registry().Count())
	}
}

func TestEvictIdle(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{IdleTimeout: 24 * time.Hour})
	now := testNow()

	idleCh := newTestChannel()
	idle, _ := m.Open(idleCh, "")
	activeCh := newTestChannel()
	active, _ := m.Open(activeCh, "")

	m.Registry().Touch(active.Subdomain, now.Add(23*time.Hour))

	if n := m.EvictIdle(now.Add(time.Hour)); n != 0 {
		t.Errorf("EvictIdle() early = %d, want 0", n)
	}

	if n := m.EvictIdle(now.Add(24 * time.Hour)); n != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", n)
	}
	if _, ok := m.Registry().Lookup(idle.Subdomain); ok {
		t.Error("idle session still registered")
	}
	if _, ok := m.Registry().Lookup(active.Subdomain); !ok {
		t.Error("active session evicted")
	}

	select {
	case <-idleCh.Done():
	case <-time.After(time.Second):
		t.Error("evicted channel never closed")
	}
}

func TestSessionShutdown(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{})
	channels := []*Connection{newTestChannel(), newTestChannel()}
	for _, ch := range channels {
		m.Open(ch, "")
	}

	m.Shutdown()

	if m.Registry().Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Registry().Count())
	}
	for _, ch := range channels {
		if !ch.IsClosed() {
			t.Error("channel left open after Shutdown()")
		}
	}
}

func TestPublicURL(t *testing.T) {
	m := newTestSessionManager(t, SessionConfig{MainDomain: "hooks.dev", Scheme: "http"})
	if got := m.PublicURL("abc123"); got != "http://abc123.hooks.dev/" {
		t.Errorf("PublicURL() = %q", got)
	}
	if !strings.HasSuffix(m.PublicURL("x"), "/") {
		t.Error("PublicURL() missing trailing slash")
	}
}
