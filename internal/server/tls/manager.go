package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// Certificate source modes
const (
	ModeOff   = "off"
	ModeFiles = "files"
	ModeAuto  = "auto"
)

// ErrUnknownMode is returned for a mode other than off, files or auto
var ErrUnknownMode = errors.New("unknown tls mode")

// Config selects where certificates come from
type Config struct {
	Mode     string
	CertFile string
	KeyFile  string
	CAFile   string
	CacheDir string
}

// Manager provides the HTTPS listener's TLS configuration and the plain
// HTTP handler that redirects to it.
type Manager struct {
	mode      string
	tlsConfig *tls.Config
	autocert  *autocert.Manager
	httpsPort string
	logger    *zap.Logger
}

// NewManager loads or provisions certificates for domain and its
// subdomains. With ModeOff it returns (nil, nil).
func NewManager(cfg Config, domain, httpsAddr string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		mode:      cfg.Mode,
		httpsPort: portOf(httpsAddr),
		logger:    logger,
	}

	switch cfg.Mode {
	case "", ModeOff:
		return nil, nil

	case ModeFiles:
		cert, err := loadCertificate(cfg.CertFile, cfg.KeyFile, cfg.CAFile)
		if err != nil {
			return nil, err
		}
		m.tlsConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		logger.Info("TLS certificates loaded",
			zap.String("cert_file", cfg.CertFile),
			zap.String("ca_file", cfg.CAFile),
		)

	case ModeAuto:
		cacheDir := cfg.CacheDir
		if cacheDir == "" {
			cacheDir = DefaultCacheDir()
		}
		m.autocert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: hostPolicy(domain),
			Cache:      autocert.DirCache(cacheDir),
		}
		m.tlsConfig = m.autocert.TLSConfig()
		m.tlsConfig.MinVersion = tls.VersionTLS12
		// websocket upgrades need HTTP/1.1
		m.tlsConfig.NextProtos = []string{"http/1.1", acme.ALPNProto}
		m.tlsConfig.GetCertificate = m.getCertificate
		logger.Info("AutoTLS enabled",
			zap.String("domain", domain),
			zap.String("cache_dir", cacheDir),
		)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}

	return m, nil
}

// TLSConfig returns the configuration for the HTTPS listener
func (m *Manager) TLSConfig() *tls.Config {
	return m.tlsConfig
}

// HTTPHandler answers plain HTTP: ACME challenges in auto mode, a 301 to
// HTTPS for everything else.
func (m *Manager) HTTPHandler() http.Handler {
	redirect := RedirectHandler(m.httpsPort)
	if m.autocert != nil {
		return m.autocert.HTTPHandler(redirect)
	}
	return redirect
}

func (m *Manager) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := m.autocert.GetCertificate(hello)
	if err != nil {
		m.logger.Error("Failed to get certificate",
			zap.String("server_name", hello.ServerName),
			zap.Error(err),
		)
		return nil, err
	}

	m.logger.Debug("Certificate obtained",
		zap.String("server_name", hello.ServerName),
	)

	return cert, nil
}

// hostPolicy accepts the main domain and any single-label subdomain of it.
// autocert's whitelist has no wildcard support.
func hostPolicy(domain string) autocert.HostPolicy {
	domain = strings.ToLower(domain)
	return func(_ context.Context, host string) error {
		host = strings.ToLower(host)
		if host == domain {
			return nil
		}
		if label, ok := strings.CutSuffix(host, "."+domain); ok && label != "" && !strings.Contains(label, ".") {
			return nil
		}
		return fmt.Errorf("acme: host %q not configured", host)
	}
}

// RedirectHandler permanently redirects every request to its HTTPS form.
// httpsPort is appended to the host unless it is empty or 443.
func RedirectHandler(httpsPort string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if httpsPort != "" && httpsPort != "443" {
			host = net.JoinHostPort(host, httpsPort)
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

// loadCertificate reads a key pair and appends an optional CA bundle to
// the served chain.
func loadCertificate(certFile, keyFile, caFile string) (tls.Certificate, error) {
	if certFile == "" || keyFile == "" {
		return tls.Certificate{}, errors.New("tls files mode requires cert_file and key_file")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load key pair: %w", err)
	}

	if caFile == "" {
		return cert, nil
	}

	data, err := os.ReadFile(caFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read ca file: %w", err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return tls.Certificate{}, fmt.Errorf("invalid certificate in ca file: %w", err)
		}
		cert.Certificate = append(cert.Certificate, block.Bytes)
	}

	return cert, nil
}

func portOf(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return ""
}

// DefaultCacheDir returns the default cache directory for certificates
func DefaultCacheDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}
	return filepath.Join(home, ".myhook", "certs")
}
