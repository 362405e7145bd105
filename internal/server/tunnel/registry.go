package tunnel

import (
	"sync/atomic"
	"time"

	"myhook/internal/shared/shardmap"
)

// Session is one live tunnel: a subdomain bound to the channel that owns it
type Session struct {
	Subdomain string
	Channel   Channel
	CreatedAt time.Time
	Resumed   bool
	Stats     *TrafficStats

	lastActive atomic.Int64
}

// NewSession creates an unregistered session whose activity clock starts at now
func NewSession(subdomain string, ch Channel, now time.Time) *Session {
	s := &Session{
		Subdomain: subdomain,
		Channel:   ch,
		CreatedAt: now,
		Stats:     NewTrafficStats(now),
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// LastActive returns the last activity timestamp
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch moves the activity timestamp forward to now; it never moves backwards
func (s *Session) Touch(now time.Time) {
	n := now.UnixNano()
	for {
		cur := s.lastActive.Load()
		if n <= cur || s.lastActive.CompareAndSwap(cur, n) {
			return
		}
	}
}

// IdleFor returns how long the session has been inactive at now
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActive())
}

// Registry is the authoritative subdomain -> session map. Each subdomain
// lives in its own shard-locked slot, so at most one session per subdomain
// can ever be registered.
type Registry struct {
	sessions *shardmap.Map[*Session]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: shardmap.New[*Session]()}
}

// Insert registers s unless its subdomain is already taken
func (r *Registry) Insert(s *Session) error {
	if !r.sessions.SetIfAbsent(s.Subdomain, s) {
		return ErrSubdomainTaken
	}
	return nil
}

// Register creates and registers a session for subdomain
func (r *Registry) Register(subdomain string, ch Channel, now time.Time) (*Session, error) {
	s := NewSession(subdomain, ch, now)
	if err := r.Insert(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the session registered for subdomain
func (r *Registry) Lookup(subdomain string) (*Session, bool) {
	return r.sessions.Get(subdomain)
}

// Touch records activity for subdomain. It reports whether the subdomain is registered.
func (r *Registry) Touch(subdomain string, now time.Time) bool {
	s, ok := r.sessions.Get(subdomain)
	if !ok {
		return false
	}
	s.Touch(now)
	return true
}

// Unregister removes whatever session holds subdomain
func (r *Registry) Unregister(subdomain string) (*Session, bool) {
	return r.sessions.LoadAndDelete(subdomain)
}

// UnregisterChannel removes subdomain only while ch still owns it, so a
// superseded channel can never evict its successor.
func (r *Registry) UnregisterChannel(subdomain string, ch Channel) (*Session, bool) {
	return r.sessions.DeleteIf(subdomain, func(s *Session) bool {
		return s.Channel == ch
	})
}

// All returns a snapshot of the registered sessions
func (r *Registry) All() []*Session {
	snap := r.sessions.Snapshot()
	out := make([]*Session, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	return r.sessions.Len()
}

// Clear unregisters every session and returns them
func (r *Registry) Clear() []*Session {
	snap := r.sessions.Clear()
	out := make([]*Session, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	return out
}

// DeleteIdle removes s only if it is still the registered session and has
// been idle for at least timeout at now. A touch that lands first keeps it.
func (r *Registry) DeleteIdle(s *Session, now time.Time, timeout time.Duration) (*Session, bool) {
	return r.sessions.DeleteIf(s.Subdomain, func(cur *Session) bool {
		return cur == s && cur.IdleFor(now) >= timeout
	})
}
