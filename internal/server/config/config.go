// Package config defines the broker configuration and loads it from a
// YAML file and MYHOOK_* environment variables.
package config

import (
	"time"
)

// Config is the complete broker configuration
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Tunnel TunnelConfig `yaml:"tunnel" mapstructure:"tunnel"`
	TLS    TLSConfig    `yaml:"tls" mapstructure:"tls"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the public listeners
type ServerConfig struct {
	HTTPAddr      string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,listen_addr"`
	HTTPSAddr     string `yaml:"https_addr" mapstructure:"https_addr" validate:"omitempty,listen_addr"`
	MainDomain    string `yaml:"main_domain" mapstructure:"main_domain" validate:"required,hostname_rfc1123"`
	PublicDir     string `yaml:"public_dir" mapstructure:"public_dir"`
	MetricsAddr   string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,listen_addr"`
	ChallengeFile string `yaml:"challenge_file" mapstructure:"challenge_file"`
}

// TunnelConfig configures sessions, allocation and request relaying
type TunnelConfig struct {
	Path             string        `yaml:"path" mapstructure:"path" validate:"required,startswith=/"`
	CredentialParam  string        `yaml:"credential_param" mapstructure:"credential_param" validate:"required,alphanum"`
	TokenSecret      string        `yaml:"token_secret" mapstructure:"token_secret"`
	TokenDelay       time.Duration `yaml:"token_delay" mapstructure:"token_delay" validate:"gte=0s"`
	UseTestSubdomain bool          `yaml:"use_test_subdomain" mapstructure:"use_test_subdomain"`
	TestSubdomain    string        `yaml:"test_subdomain" mapstructure:"test_subdomain" validate:"omitempty,subdomain"`
	SubdomainLength  int           `yaml:"subdomain_length" mapstructure:"subdomain_length" validate:"gte=3,lte=63"`

	RequestTimeout       time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gt=0s"`
	PendingSweepInterval time.Duration `yaml:"pending_sweep_interval" mapstructure:"pending_sweep_interval" validate:"gt=0s"`
	IdleTimeout          time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0s"`
	IdleSweepInterval    time.Duration `yaml:"idle_sweep_interval" mapstructure:"idle_sweep_interval" validate:"gt=0s"`

	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gt=0"`
	SendQueue    int   `yaml:"send_queue" mapstructure:"send_queue" validate:"gt=0"`
}

// TLSConfig selects the certificate source for the HTTPS listener
type TLSConfig struct {
	Mode     string `yaml:"mode" mapstructure:"mode" validate:"oneof=off files auto"`
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" validate:"required_if=Mode files"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file" validate:"required_if=Mode files"`
	CAFile   string `yaml:"ca_file" mapstructure:"ca_file"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// LogConfig configures zap
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Debug bool   `yaml:"debug" mapstructure:"debug"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:      ":8080",
			HTTPSAddr:     ":8443",
			MainDomain:    "localhost",
			MetricsAddr:   ":9100",
			ChallengeFile: "wll.txt",
		},
		Tunnel: TunnelConfig{
			Path:                 "/tunnel",
			CredentialParam:      "ss",
			TokenDelay:           1500 * time.Millisecond,
			TestSubdomain:        "test",
			SubdomainLength:      8,
			RequestTimeout:       30 * time.Second,
			PendingSweepInterval: time.Second,
			IdleTimeout:          24 * time.Hour,
			IdleSweepInterval:    60 * time.Second,
			MaxBodyBytes:         10 << 20,
			SendQueue:            256,
		},
		TLS: TLSConfig{
			Mode: "off",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// TLSEnabled reports whether the HTTPS listener runs
func (c *Config) TLSEnabled() bool {
	return c.TLS.Mode != "" && c.TLS.Mode != "off"
}

// Scheme is the scheme of public tunnel URLs
func (c *Config) Scheme() string {
	if c.TLSEnabled() {
		return "https"
	}
	return "http"
}
