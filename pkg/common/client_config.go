package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type TLSConfig struct {
	Enabled            bool   `help:"Upgrade the connection to TLS" name:"enabled" default:"false"`
	ServerName         string `help:"Server name used for certificate verification, defaults to the host" name:"server-name"`
	InsecureSkipVerify bool   `help:"Skip certificate chain verification" name:"insecure" default:"false"`
	CAFile             string `help:"PEM file with the trusted root certificates" name:"ca-file"`
}

type ConnConfig struct {
	Host           string        `help:"Server host" name:"host" default:"127.0.0.1" env:"ELIKA_HOST"`
	Port           int           `help:"Server port" name:"port" default:"6379" env:"ELIKA_PORT"`
	ConnectTimeout time.Duration `help:"Timeout for establishing the connection" name:"connect-timeout" default:"2s"`
	ReadTimeout    time.Duration `help:"Read timeout for a single reply, 0 waits forever" name:"read-timeout" default:"2s"`
	User           string        `help:"ACL user" name:"user" env:"ELIKA_USER"`
	Password       string        `help:"Password sent with AUTH" name:"password" env:"ELIKA_PASSWORD"`
	Database       int           `help:"Database selected after connect" name:"db" default:"0"`
	ClientName     string        `help:"Name registered with CLIENT SETNAME" name:"client-name"`
	TLS            TLSConfig     `embed:"" prefix:"tls."`
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		Host:           "127.0.0.1",
		Port:           6379,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	}
}

// ParseAddr fills Host and Port from a host:port string.
func (c *ConnConfig) ParseAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid server port: %s", portStr)
	}
	c.Host = host
	c.Port = port
	return nil
}

func (c *ConnConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthInfo returns nil when no password is configured.
func (c *ConnConfig) AuthInfo() *AuthInfo {
	if c.Password == "" {
		return nil
	}
	auth := &AuthInfo{Password: []byte(c.Password)}
	if c.User != "" {
		auth.Username = []byte(c.User)
	}
	return auth
}

func (c *ConnConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("server host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Database < 0 {
		return fmt.Errorf("invalid database index: %d", c.Database)
	}
	if c.User != "" && c.Password == "" {
		return fmt.Errorf("user %s is set without a password", c.User)
	}
	return nil
}

const (
	PoolImplFixed  = "fixed"
	PoolImplPuddle = "puddle"
)

type PoolConfig struct {
	Impl         string        `help:"Pool implementation (fixed, puddle)" name:"impl" enum:"fixed,puddle" default:"fixed"`
	MaxTotal     int           `help:"Maximum number of pooled connections" name:"max-total" default:"100"`
	MaxIdle      int           `help:"Maximum number of idle connections" name:"max-idle" default:"10"`
	MinIdle      int           `help:"Idle connections created ahead of demand" name:"min-idle" default:"0"`
	TestOnBorrow bool          `help:"Validate a connection with PING before lending it" name:"test-on-borrow" default:"true"`
	MaxWait      time.Duration `help:"Maximum time a borrower waits for a connection, 0 waits until cancelled" name:"max-wait" default:"0s"`
	MaxLifetime  time.Duration `help:"Connections older than this are discarded on borrow, 0 disables" name:"max-lifetime" default:"0s"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Impl:         PoolImplFixed,
		MaxTotal:     100,
		MaxIdle:      10,
		TestOnBorrow: true,
	}
}

func (p *PoolConfig) Validate() error {
	if p.MaxTotal <= 0 {
		return fmt.Errorf("max-total must be positive: %d", p.MaxTotal)
	}
	if p.MaxIdle < 0 || p.MaxIdle > p.MaxTotal {
		return fmt.Errorf("max-idle must be within [0, %d]: %d", p.MaxTotal, p.MaxIdle)
	}
	if p.MinIdle < 0 || p.MinIdle > p.MaxIdle {
		return fmt.Errorf("min-idle must be within [0, %d]: %d", p.MaxIdle, p.MinIdle)
	}
	switch strings.ToLower(p.Impl) {
	case PoolImplFixed, PoolImplPuddle:
	default:
		return fmt.Errorf("invalid pool implementation: %s (must be 'fixed' or 'puddle')", p.Impl)
	}
	return nil
}

type BreakerConfig struct {
	Enabled          bool          `help:"Guard connection attempts with a circuit breaker" name:"enabled" default:"false"`
	FailureThreshold uint32        `help:"Consecutive dial failures that open the breaker" name:"failures" default:"5"`
	OpenTimeout      time.Duration `help:"How long the breaker stays open" name:"open-timeout" default:"30s"`
	HalfOpenRequests uint32        `help:"Dials allowed while half-open" name:"half-open-requests" default:"1"`
}

type MetricsConfig struct {
	EnableMetrics   bool   `help:"Enable metrics collection" name:"enable" default:"false"`
	ServiceName     string `help:"Service label attached to every metric" name:"service" default:"elika-client"`
	MetricsSinkType string `help:"Metrics sink type. support prometheus, in-memory and all." name:"sink" enum:"prometheus,in-memory,all" default:"in-memory"`
}

type WebServerConfig struct {
	Addr        string `help:"Serve health, pool stats and metrics over HTTP on this address, empty disables" name:"addr"`
	EnablePprof bool   `help:"Register pprof handlers on the stats server" name:"pprof" default:"false"`
}
