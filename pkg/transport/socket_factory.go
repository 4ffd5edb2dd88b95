package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"golang.org/x/sys/unix"
)

var (
	logger = common.InitLogger().WithName("transport")
)

// SocketFactory produces configured transports for a Connection.
type SocketFactory interface {
	CreateSocket(ctx context.Context) (net.Conn, error)
	// Description identifies the target in faults and logs, as host:port.
	Description() string
	Host() string
	Port() int
	ConnectTimeout() time.Duration
	// ReadTimeout bounds a single reply read. Zero waits forever.
	ReadTimeout() time.Duration
}

// HostnameVerifier may reject a TLS session after the handshake.
type HostnameVerifier func(host string, state tls.ConnectionState) bool

type Option func(*DefaultSocketFactory)

// WithTLS upgrades every socket with cfg. ServerName defaults to the host.
func WithTLS(cfg *tls.Config) Option {
	return func(f *DefaultSocketFactory) {
		f.tlsConfig = cfg
	}
}

func WithHostnameVerifier(verifier HostnameVerifier) Option {
	return func(f *DefaultSocketFactory) {
		f.verifier = verifier
	}
}

type DefaultSocketFactory struct {
	host           string
	port           int
	connectTimeout time.Duration
	readTimeout    time.Duration
	tlsConfig      *tls.Config
	verifier       HostnameVerifier
}

func NewDefaultSocketFactory(host string, port int, connectTimeout, readTimeout time.Duration, opts ...Option) *DefaultSocketFactory {
	f := &DefaultSocketFactory{
		host:           host,
		port:           port,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewSocketFactoryFromConfig builds a factory from the connection settings,
// loading the CA bundle when TLS is enabled.
func NewSocketFactoryFromConfig(cfg *common.ConnConfig, opts ...Option) (*DefaultSocketFactory, error) {
	if cfg.TLS.Enabled {
		tlsCfg := &tls.Config{
			ServerName:         cfg.TLS.ServerName,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec
			MinVersion:         tls.VersionTLS12,
		}
		if cfg.TLS.CAFile != "" {
			pem, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file %s: %w", cfg.TLS.CAFile, err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in CA file %s", cfg.TLS.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
		opts = append([]Option{WithTLS(tlsCfg)}, opts...)
	}
	return NewDefaultSocketFactory(cfg.Host, cfg.Port, cfg.ConnectTimeout, cfg.ReadTimeout, opts...), nil
}

func (f *DefaultSocketFactory) dialer() *net.Dialer {
	return &net.Dialer{
		Timeout: f.connectTimeout,
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				// Set SO_REUSEADDR to avoid "address already in use" errors
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					logger.Error(ctrlErr, "Failed to set SO_REUSEADDR")
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
}

func (f *DefaultSocketFactory) CreateSocket(ctx context.Context) (net.Conn, error) {
	conn, err := f.dialer().DialContext(ctx, "tcp", f.Description())
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetNoDelay(true)
		// close sends RST instead of lingering in TIME_WAIT
		_ = tcpConn.SetLinger(0)
	}
	if f.tlsConfig == nil {
		return conn, nil
	}

	tlsConn, err := f.upgrade(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func (f *DefaultSocketFactory) upgrade(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	cfg := f.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = f.host
	}
	tlsConn := tls.Client(conn, cfg)
	if f.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.connectTimeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	if f.verifier != nil && !f.verifier(f.host, tlsConn.ConnectionState()) {
		return nil, fmt.Errorf("The connection to '%s' failed ssl/tls hostname verification.", f.host) //nolint:stylecheck
	}
	return tlsConn, nil
}

func (f *DefaultSocketFactory) Description() string {
	return net.JoinHostPort(f.host, strconv.Itoa(f.port))
}

func (f *DefaultSocketFactory) Host() string {
	return f.host
}

func (f *DefaultSocketFactory) Port() int {
	return f.port
}

func (f *DefaultSocketFactory) ConnectTimeout() time.Duration {
	return f.connectTimeout
}

func (f *DefaultSocketFactory) ReadTimeout() time.Duration {
	return f.readTimeout
}

func (f *DefaultSocketFactory) IsTLS() bool {
	return f.tlsConfig != nil
}
