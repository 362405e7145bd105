// Package app wires the broker together and owns its lifecycle.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"myhook/internal/server/config"
	"myhook/internal/server/metrics"
	"myhook/internal/server/proxy"
	"myhook/internal/server/sweep"
	tlsutil "myhook/internal/server/tls"
	"myhook/internal/server/token"
	"myhook/internal/server/tunnel"
	"myhook/internal/server/web"
	"myhook/internal/server/ws"
	"myhook/internal/shared/pool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type listener struct {
	name   string
	server *http.Server
	ln     net.Listener
}

// App is a running broker
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *tunnel.Registry
	sessions   *tunnel.SessionManager
	correlator *proxy.Correlator
	tunnel     *ws.Handler
	router     *web.Router
	scheduler  *sweep.Scheduler
	workers    *pool.WorkerPool
	tls        *tlsutil.Manager
	registerer *prometheus.Registry
	readiness  *metrics.Readiness

	listeners []*listener
	errCh     chan error
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// New builds every component from cfg. Nothing listens until Start.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	secret := cfg.Tunnel.TokenSecret
	if secret == "" {
		var err error
		if secret, err = token.RandomSecret(); err != nil {
			return nil, err
		}
		logger.Warn("No token secret configured, using a random one; resumption tokens will not survive a restart")
	}
	codec, err := token.NewCodec(secret)
	if err != nil {
		return nil, err
	}

	tlsManager, err := tlsutil.NewManager(tlsutil.Config{
		Mode:     cfg.TLS.Mode,
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
		CAFile:   cfg.TLS.CAFile,
		CacheDir: cfg.TLS.CacheDir,
	}, cfg.Server.MainDomain, cfg.Server.HTTPSAddr, logger)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	workers := pool.NewWorkerPool(8, 256, logger)
	registry := tunnel.NewRegistry()
	allocator := tunnel.NewAllocator(registry, codec, tunnel.AllocatorConfig{
		Length:        cfg.Tunnel.SubdomainLength,
		UseTestDomain: cfg.Tunnel.UseTestSubdomain,
		TestSubdomain: cfg.Tunnel.TestSubdomain,
	}, logger)
	sessions := tunnel.NewSessionManager(registry, allocator, codec, tunnel.SessionConfig{
		MainDomain:  cfg.Server.MainDomain,
		Scheme:      cfg.Scheme(),
		TokenDelay:  cfg.Tunnel.TokenDelay,
		IdleTimeout: cfg.Tunnel.IdleTimeout,
	}, workers, m, logger)
	correlator := proxy.NewCorrelator(registry, proxy.Config{
		RequestTimeout: cfg.Tunnel.RequestTimeout,
		MaxBodyBytes:   cfg.Tunnel.MaxBodyBytes,
		ChallengeFile:  cfg.Server.ChallengeFile,
	}, m, logger)
	tunnelHandler := ws.NewHandler(sessions, correlator, ws.Config{
		CredentialParam: cfg.Tunnel.CredentialParam,
		SendQueue:       cfg.Tunnel.SendQueue,
	}, logger)
	router := web.NewRouter(correlator, tunnelHandler, web.LiveStats{Registry: registry, Correlator: correlator},
		web.Config{TunnelPath: cfg.Tunnel.Path, PublicDir: cfg.Server.PublicDir}, logger)
	scheduler := sweep.NewScheduler(correlator, sessions, sweep.Config{
		PendingInterval: cfg.Tunnel.PendingSweepInterval,
		IdleInterval:    cfg.Tunnel.IdleSweepInterval,
	}, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		sessions:   sessions,
		correlator: correlator,
		tunnel:     tunnelHandler,
		router:     router,
		scheduler:  scheduler,
		workers:    workers,
		tls:        tlsManager,
		registerer: reg,
		readiness:  &metrics.Readiness{},
		errCh:      make(chan error, 4),
	}, nil
}

// Handler returns the public router
func (a *App) Handler() http.Handler {
	return a.router
}

// Start binds every listener, then serves and runs the sweeps in the background
func (a *App) Start(ctx context.Context) error {
	if a.tls != nil {
		if err := a.bind("https", a.cfg.Server.HTTPSAddr, a.router, a.tls.TLSConfig()); err != nil {
			return err
		}
		if err := a.bind("http", a.cfg.Server.HTTPAddr, a.tls.HTTPHandler(), nil); err != nil {
			return err
		}
	} else if err := a.bind("http", a.cfg.Server.HTTPAddr, a.router, nil); err != nil {
		return err
	}
	if a.cfg.Server.MetricsAddr != "" {
		if err := a.bind("metrics", a.cfg.Server.MetricsAddr, metrics.NewHandler(a.registerer, a.readiness), nil); err != nil {
			return err
		}
	}

	for _, l := range a.listeners {
		go a.serve(l)
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.scheduler.Start(sweepCtx)

	a.readiness.SetReady()
	a.logger.Info("Broker started",
		zap.String("main_domain", a.cfg.Server.MainDomain),
		zap.String("tunnel_path", a.cfg.Tunnel.Path),
		zap.Bool("tls", a.tls != nil),
	)
	return nil
}

func (a *App) bind(name, addr string, handler http.Handler, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		a.closeListeners()
		return fmt.Errorf("failed to listen for %s on %s: %w", name, addr, err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	a.listeners = append(a.listeners, &listener{
		name: name,
		ln:   ln,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(a.logger.With(zap.String("listener", name))),
		},
	})
	a.logger.Info("Listening", zap.String("listener", name), zap.String("address", ln.Addr().String()))
	return nil
}

func (a *App) serve(l *listener) {
	if err := l.server.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("Listener failed", zap.String("listener", l.name), zap.Error(err))
		a.errCh <- fmt.Errorf("%s listener: %w", l.name, err)
	}
}

func (a *App) closeListeners() {
	for _, l := range a.listeners {
		_ = l.ln.Close()
	}
	a.listeners = nil
}

// Addr returns the bound address of the named listener
func (a *App) Addr(name string) net.Addr {
	for _, l := range a.listeners {
		if l.name == name {
			return l.ln.Addr()
		}
	}
	return nil
}

// Run starts the broker and blocks until ctx is cancelled or a listener
// fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-a.errCh:
	}

	a.Shutdown()
	return runErr
}

// Shutdown stops sweeps, closes every tunnel, answers parked callers and
// drains the listeners. It is safe to call more than once.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		a.logger.Info("Shutting down broker",
			zap.Int("active_tunnels", a.registry.Count()),
			zap.Int("pending_requests", a.correlator.Pending()),
		)
		a.readiness.SetClosing()

		if a.cancel != nil {
			a.cancel()
			a.scheduler.Wait()
		}

		a.tunnel.Shutdown()
		a.sessions.Shutdown()
		if n := a.correlator.ExpireAll(); n > 0 {
			a.logger.Info("Answered pending requests on shutdown", zap.Int("count", n))
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, l := range a.listeners {
			if err := l.server.Shutdown(ctx); err != nil {
				a.logger.Warn("Listener shutdown incomplete", zap.String("listener", l.name), zap.Error(err))
			}
		}

		a.workers.Close()
		a.logger.Info("Broker stopped")
	})
}
