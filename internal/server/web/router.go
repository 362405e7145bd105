// Package web is the public HTTP entry point. It splits traffic between
// the root site, the tunnel channel endpoint and tunneled subdomains.
package web

import (
	"encoding/json"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"myhook/internal/server/proxy"
	"myhook/internal/server/tunnel"

	"go.uber.org/zap"
)

// StatsPath reports live session and pending request counts
const StatsPath = "/myhook-stats"

// staticExtensions are the asset types served from the public directory
var staticExtensions = map[string]bool{
	".js":    true,
	".ico":   true,
	".css":   true,
	".png":   true,
	".jpg":   true,
	".woff2": true,
	".woff":  true,
	".ttf":   true,
	".svg":   true,
}

// StatsSource supplies the numbers behind StatsPath
type StatsSource interface {
	Connections() int
	ResponsesWaiting() int
}

// Stats is the StatsPath response body
type Stats struct {
	Connections      int `json:"connections"`
	ResponsesWaiting int `json:"responses_waiting"`
}

// Config configures the router
type Config struct {
	TunnelPath string
	PublicDir  string
}

// Router dispatches public requests
type Router struct {
	correlator http.Handler
	tunnel     http.Handler
	stats      StatsSource
	cfg        Config
	logger     *zap.Logger
}

// NewRouter creates the public router. correlator handles tunneled
// subdomains and certificate challenges; tunnel accepts channel clients.
func NewRouter(correlator, tunnel http.Handler, stats StatsSource, cfg Config, logger *zap.Logger) *Router {
	if cfg.TunnelPath == "" {
		cfg.TunnelPath = "/tunnel"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		correlator: correlator,
		tunnel:     tunnel,
		stats:      stats,
		cfg:        cfg,
		logger:     logger,
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if proxy.IsChallengePath(r.URL.RequestURI()) || !proxy.IsRootHost(r.Host) {
		rt.correlator.ServeHTTP(w, r)
		return
	}

	switch r.URL.Path {
	case rt.cfg.TunnelPath:
		rt.tunnel.ServeHTTP(w, r)
	case StatsPath:
		rt.serveStats(w)
	default:
		rt.serveRoot(w, r)
	}
}

func (rt *Router) serveStats(w http.ResponseWriter) {
	var st Stats
	if rt.stats != nil {
		st = Stats{
			Connections:      rt.stats.Connections(),
			ResponsesWaiting: rt.stats.ResponsesWaiting(),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// serveRoot serves the landing page and whitelisted assets from the public
// directory. Paths are cleaned so they cannot leave the directory.
func (rt *Router) serveRoot(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.PublicDir == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		notFound(w)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	if clean == "/" {
		clean = "/index.html"
	} else if !staticExtensions[strings.ToLower(path.Ext(clean))] {
		notFound(w)
		return
	}

	http.ServeFile(w, r, filepath.Join(rt.cfg.PublicDir, filepath.FromSlash(clean)))
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 Not Found"))
}

// LiveStats reads StatsPath numbers from the running broker
type LiveStats struct {
	Registry   *tunnel.Registry
	Correlator *proxy.Correlator
}

func (s LiveStats) Connections() int      { return s.Registry.Count() }
func (s LiveStats) ResponsesWaiting() int { return s.Correlator.Pending() }
