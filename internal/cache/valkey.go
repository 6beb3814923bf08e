package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible
// server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider against a Valkey server using a
// connection per operation; the engine's cache traffic is light enough that
// pooling would buy nothing.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates the configuration and pings the target so
// connectivity or credential problems surface at boot.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := p.do(ctx, "PING"); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply.isNil() {
		return nil, ErrCacheMiss
	}
	return reply.data, nil
}

// Set stores bytes under key with the provided TTL (no expiry when zero).
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.do(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if !reply.okString() {
		return fmt.Errorf("unexpected SET reply: %s", reply.data)
	}
	return nil
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close is a no-op; connections are per-operation.
func (p *ValkeyProvider) Close() error { return nil }

// do dials, authenticates, runs one command, and reads its reply, retrying
// transient network failures up to MaxRetries.
func (p *ValkeyProvider) do(ctx context.Context, command string, args ...string) (resp, error) {
	attempts := p.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return resp{}, err
		}
		reply, err := p.attempt(ctx, command, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		var netErr net.Error
		if !errors.As(err, &netErr) {
			return resp{}, err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return resp{}, lastErr
}

func (p *ValkeyProvider) attempt(ctx context.Context, command string, args []string) (resp, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return resp{}, err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if err := p.handshake(conn, reader); err != nil {
		return resp{}, err
	}
	if err := p.send(conn, command, args...); err != nil {
		return resp{}, err
	}
	return p.receive(conn, reader)
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, err := net.SplitHostPort(p.cfg.Addr); err == nil {
			host = h
		}
		return tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	}
	return dialer.DialContext(ctx, "tcp", p.cfg.Addr)
}

func (p *ValkeyProvider) handshake(conn net.Conn, reader *bufio.Reader) error {
	if p.cfg.Password != "" {
		args := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			args = []string{p.cfg.Username, p.cfg.Password}
		}
		if err := p.send(conn, "AUTH", args...); err != nil {
			return err
		}
		reply, err := p.receive(conn, reader)
		if err != nil {
			return err
		}
		if !reply.okString() {
			return fmt.Errorf("valkey auth failed: %s", reply.data)
		}
	}
	if p.cfg.DB > 0 {
		if err := p.send(conn, "SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return err
		}
		reply, err := p.receive(conn, reader)
		if err != nil {
			return err
		}
		if !reply.okString() {
			return fmt.Errorf("valkey select failed: %s", reply.data)
		}
	}
	return nil
}

func (p *ValkeyProvider) send(conn net.Conn, command string, args ...string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args)+1)
	fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(command), command)
	for _, arg := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(arg), arg)
	}
	_, err := conn.Write([]byte(b.String()))
	return err
}

// resp is the subset of RESP replies the provider understands.
type resp struct {
	kind byte
	data []byte
}

func (r resp) isNil() bool { return r.kind == 0 }

func (r resp) okString() bool {
	return r.kind == '+' && strings.EqualFold(string(r.data), "OK") ||
		r.kind == '+' && strings.EqualFold(string(r.data), "PONG")
}

func (p *ValkeyProvider) receive(conn net.Conn, reader *bufio.Reader) (resp, error) {
	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return resp{}, err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return resp{}, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	if len(line) == 0 {
		return resp{}, errors.New("empty valkey reply")
	}

	kind, body := line[0], line[1:]
	switch kind {
	case '+', ':':
		return resp{kind: kind, data: []byte(body)}, nil
	case '-':
		return resp{}, fmt.Errorf("valkey error: %s", body)
	case '_':
		return resp{}, nil
	case '$':
		length, convErr := strconv.Atoi(body)
		if convErr != nil {
			return resp{}, fmt.Errorf("bad bulk length %q", body)
		}
		if length < 0 {
			return resp{}, nil
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return resp{}, err
		}
		return resp{kind: kind, data: buf[:length]}, nil
	default:
		return resp{}, fmt.Errorf("unsupported valkey reply type %q", kind)
	}
}

