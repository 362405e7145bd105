package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		DNSNames:     []string{"example.com", "*.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)
	os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600)
	return certFile, keyFile
}

func TestNewManagerModes(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)

	t.Run("off", func(t *testing.T) {
		m, err := NewManager(Config{Mode: ModeOff}, "example.com", ":8443", zap.NewNop())
		if err != nil || m != nil {
			t.Errorf("NewManager(off) = %v, %v; want nil, nil", m, err)
		}
	})

	t.Run("files", func(t *testing.T) {
		m, err := NewManager(Config{Mode: ModeFiles, CertFile: certFile, KeyFile: keyFile, CAFile: certFile},
			"example.com", ":8443", zap.NewNop())
		if err != nil {
			t.Fatalf("NewManager(files) error = %v", err)
		}
		certs := m.TLSConfig().Certificates
		if len(certs) != 1 || len(certs[0].Certificate) != 2 {
			t.Errorf("expected leaf plus one CA certificate, got %d", len(certs[0].Certificate))
		}
	})

	t.Run("files missing", func(t *testing.T) {
		if _, err := NewManager(Config{Mode: ModeFiles}, "example.com", ":8443", zap.NewNop()); err == nil {
			t.Error("expected error without cert files")
		}
		if _, err := NewManager(Config{Mode: ModeFiles, CertFile: filepath.Join(dir, "nope"), KeyFile: keyFile},
			"example.com", ":8443", zap.NewNop()); err == nil {
			t.Error("expected error for unreadable cert")
		}
	})

	t.Run("auto", func(t *testing.T) {
		m, err := NewManager(Config{Mode: ModeAuto, CacheDir: dir}, "example.com", ":443", zap.NewNop())
		if err != nil {
			t.Fatalf("NewManager(auto) error = %v", err)
		}
		if m.TLSConfig().GetCertificate == nil {
			t.Error("auto mode has no GetCertificate")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := NewManager(Config{Mode: "bogus"}, "example.com", "", zap.NewNop()); !errors.Is(err, ErrUnknownMode) {
			t.Errorf("error = %v, want ErrUnknownMode", err)
		}
	})
}

func TestRedirectHandler(t *testing.T) {
	tests := []struct {
		port string
		url  string
		want string
	}{
		{port: "443", url: "http://abc.example.com/foo?x=1", want: "https://abc.example.com/foo?x=1"},
		{port: "", url: "http://example.com:8080/", want: "https://example.com/"},
		{port: "8443", url: "http://example.com:8080/a", want: "https://example.com:8443/a"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RedirectHandler(tt.port).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != http.StatusMovedPermanently {
				t.Errorf("status = %d, want 301", rec.Code)
			}
			if got := rec.Header().Get("Location"); got != tt.want {
				t.Errorf("Location = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHostPolicy(t *testing.T) {
	policy := hostPolicy("example.com")
	for host, ok := range map[string]bool{
		"example.com":        true,
		"abc123.example.com": true,
		"a.b.example.com":    false,
		"example.org":        false,
		"evilexample.com":    false,
	} {
		err := policy(context.Background(), host)
		if (err == nil) != ok {
			t.Errorf("policy(%q) error = %v, want ok=%v", host, err, ok)
		}
	}
}
