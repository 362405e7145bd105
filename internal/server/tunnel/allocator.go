package tunnel

import (
	"errors"
	"time"

	"myhook/internal/server/token"
	"myhook/internal/shared/utils"

	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds random candidate generation per claim
const DefaultMaxAttempts = 100

// AllocatorConfig configures subdomain allocation
type AllocatorConfig struct {
	Length        int
	UseTestDomain bool
	TestSubdomain string
	MaxAttempts   int
}

// Allocator picks a subdomain for a new channel and registers it in one
// atomic step. A candidate is only ever accepted by a successful registry
// insert, so two concurrent claims can never both win the same name.
type Allocator struct {
	registry *Registry
	codec    *token.Codec
	cfg      AllocatorConfig
	logger   *zap.Logger

	generate func(length int) string
}

// NewAllocator creates an allocator. codec may be nil, in which case
// credentials are ignored.
func NewAllocator(registry *Registry, codec *token.Codec, cfg AllocatorConfig, logger *zap.Logger) *Allocator {
	if cfg.Length <= 0 {
		cfg.Length = utils.DefaultSubdomainLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.TestSubdomain == "" {
		cfg.TestSubdomain = "test"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		registry: registry,
		codec:    codec,
		cfg:      cfg,
		logger:   logger,
		generate: utils.GenerateSubdomain,
	}
}

// Claim registers a session for ch. A credential that redeems to a free
// subdomain resumes it; anything else falls through to a fresh name.
// Credential and collision failures are never returned to the caller.
//
// When the resumed subdomain was still held by a closed channel, that
// session is removed and returned as displaced. Its channel is already
// closed; the caller owns any accounting for it.
func (a *Allocator) Claim(credential string, ch Channel, now time.Time) (sess, displaced *Session, err error) {
	if credential != "" {
		var ok bool
		if sess, displaced, ok = a.resume(credential, ch, now); ok {
			return sess, displaced, nil
		}
	}

	if a.cfg.UseTestDomain {
		sess, err = a.registry.Register(a.cfg.TestSubdomain, ch, now)
		if err == nil {
			return sess, displaced, nil
		}
		a.logger.Debug("Test subdomain taken, generating random one",
			zap.String("subdomain", a.cfg.TestSubdomain),
		)
	}

	for i := 0; i < a.cfg.MaxAttempts; i++ {
		candidate := a.generate(a.cfg.Length)
		if utils.IsReserved(candidate) {
			continue
		}
		sess, err = a.registry.Register(candidate, ch, now)
		if err == nil {
			return sess, displaced, nil
		}
		if !errors.Is(err, ErrSubdomainTaken) {
			return nil, displaced, err
		}
	}

	return nil, displaced, ErrAllocationExhausted
}

func (a *Allocator) resume(credential string, ch Channel, now time.Time) (*Session, *Session, bool) {
	if a.codec == nil {
		return nil, nil, false
	}

	subdomain, issuedAt, err := a.codec.Redeem(credential)
	if err != nil {
		a.logger.Debug("Ignoring unusable credential", zap.Error(err))
		return nil, nil, false
	}
	if !utils.ValidateSubdomain(subdomain) {
		a.logger.Debug("Credential names an invalid subdomain", zap.String("subdomain", subdomain))
		return nil, nil, false
	}

	sess := NewSession(subdomain, ch, now)
	sess.Resumed = true

	if err := a.registry.Insert(sess); err == nil {
		a.logger.Info("Subdomain resumed",
			zap.String("subdomain", subdomain),
			zap.Time("issued_at", issuedAt),
		)
		return sess, nil, true
	}

	// The holder may be a channel that already dropped but whose close has not
	// been processed yet. Only that exact dead occupant is removed.
	old, ok := a.registry.Lookup(subdomain)
	if !ok || !isDone(old.Channel) {
		a.logger.Debug("Resumed subdomain is occupied",
			zap.String("subdomain", subdomain),
		)
		return nil, nil, false
	}

	// Only the remover of the old entry reports it as displaced, so a
	// session is never accounted as closed twice.
	var displaced *Session
	if removed, ok := a.registry.UnregisterChannel(subdomain, old.Channel); ok {
		removed.Channel.Close()
		displaced = removed
	}

	if err := a.registry.Insert(sess); err != nil {
		return nil, displaced, false
	}
	a.logger.Info("Subdomain reclaimed from closed channel",
		zap.String("subdomain", subdomain),
		zap.String("previous_channel", old.Channel.ID()),
	)
	return sess, displaced, true
}

func isDone(ch Channel) bool {
	select {
	case <-ch.Done():
		return true
	default:
		return false
	}
}
