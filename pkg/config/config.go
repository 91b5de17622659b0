package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixed addresses of the proxy and its internal services
const (
	DefaultListenAddr   = ":443"
	DefaultFallbackAddr = "127.0.0.1:41050"
	DefaultStaticAddr   = "127.0.0.1:41051"
	DefaultMetricsAddr  = "127.0.0.1:41052"
)

// Config represents the complete proxy configuration
type Config struct {
	Server struct {
		Listen            string        `yaml:"listen"`
		MaxConnections    int           `yaml:"max_connections"`
		HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
		IdleTimeout       time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Fallback struct {
		Listen string `yaml:"listen"`
	} `yaml:"fallback"`

	Static struct {
		Listen string `yaml:"listen"`
		Dir    string `yaml:"dir"`
	} `yaml:"static"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Upstream struct {
		DialTimeout           time.Duration `yaml:"dial_timeout"`
		ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
		IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
		MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	} `yaml:"upstream"`

	Certificates struct {
		CertFile   string `yaml:"cert_file"`
		KeyFile    string `yaml:"key_file"`
		SelfSigned bool   `yaml:"self_signed"`
	} `yaml:"certificates"`

	HostsFile string `yaml:"hosts_file"`
	LogLevel  string `yaml:"log_level"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFromFile loads configuration from a YAML file. Fields absent from the
// file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 1024
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = 10 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Fallback.Listen == "" {
		c.Fallback.Listen = DefaultFallbackAddr
	}
	if c.Static.Listen == "" {
		c.Static.Listen = DefaultStaticAddr
	}

	if c.Upstream.DialTimeout == 0 {
		c.Upstream.DialTimeout = 10 * time.Second
	}
	if c.Upstream.ResponseHeaderTimeout == 0 {
		c.Upstream.ResponseHeaderTimeout = 30 * time.Second
	}
	if c.Upstream.IdleConnTimeout == 0 {
		c.Upstream.IdleConnTimeout = 90 * time.Second
	}
	if c.Upstream.MaxIdleConnsPerHost == 0 {
		c.Upstream.MaxIdleConnsPerHost = 32
	}

	if c.Certificates.CertFile == "" {
		c.Certificates.CertFile = "certs/public.der"
	}
	if c.Certificates.KeyFile == "" {
		c.Certificates.KeyFile = "certs/private.der"
	}

	if c.HostsFile == "" {
		c.HostsFile = DefaultHostsFile
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate fills in defaults and checks the internal listeners are loopback-only
func (c *Config) Validate() error {
	c.applyDefaults()

	durations := []struct {
		field string
		value time.Duration
	}{
		{"server.handshake_timeout", c.Server.HandshakeTimeout},
		{"server.read_header_timeout", c.Server.ReadHeaderTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"upstream.dial_timeout", c.Upstream.DialTimeout},
		{"upstream.response_header_timeout", c.Upstream.ResponseHeaderTimeout},
		{"upstream.idle_conn_timeout", c.Upstream.IdleConnTimeout},
	}
	// net/http reads a negative timeout as none at all
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.field)
		}
	}
	if err := requireLoopback("fallback.listen", c.Fallback.Listen); err != nil {
		return err
	}
	if c.Static.Dir != "" {
		if err := requireLoopback("static.listen", c.Static.Listen); err != nil {
			return err
		}
	}
	if c.Metrics.Listen != "" {
		if err := requireLoopback("metrics.listen", c.Metrics.Listen); err != nil {
			return err
		}
	}

	return nil
}

// FallbackURL is the destination used for every host without a route
func (c *Config) FallbackURL() string {
	return "http://" + c.Fallback.Listen
}

func requireLoopback(field, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%s must be a loopback address, got %q", field, addr)
	}
	return nil
}
