// Package ami speaks the switch's manager control channel: a line-oriented
// text protocol of CRLF-terminated "Key: Value" lines where a blank line
// terminates a block.
//
// Rules:
// - No business logic in this adapter; it only translates requests into wire
//   blocks and responses into key/value maps.
// - Callers must treat any transport error as an origination failure and may
//   simply retry; the client reconnects on the next call.
package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLoginFailed = errors.New("ami: login failed")
	ErrClosed      = errors.New("ami: client closed")
)

// Config describes how to reach and authenticate against the manager port.
type Config struct {
	Addr     string
	Username string
	Secret   string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 5 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 10 * time.Second
	}
	return out
}

// Response is one parsed manager response block.
type Response map[string]string

// Success reports whether the switch accepted the action.
func (r Response) Success() bool { return r["Response"] == "Success" }

// Message returns the switch's free-text message, if any.
func (r Response) Message() string { return r["Message"] }

// OriginateRequest describes one outbound call to place.
type OriginateRequest struct {
	Channel  string
	Context  string
	Exten    string
	Priority int

	// Timeout is how long the switch lets the call ring. Sent in milliseconds.
	Timeout time.Duration

	CallerID string

	// Variables are attached to the call and echoed back in lifecycle events.
	Variables map[string]string

	// ActionID correlates the response; generated when empty.
	ActionID string
}

// Client is a persistent authenticated session to the manager port.
// One command is in flight at a time; the session lock also guards the
// connected flag so reconnects never interleave with commands.
type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	closed    bool
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Connect establishes the TCP session and performs the login handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.connected {
		return nil
	}

	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ami: dial %s: %w", c.cfg.Addr, err)
	}

	reader := bufio.NewReader(conn)

	// The switch greets with a single banner line before accepting actions.
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := reader.ReadString('\n'); err != nil {
		_ = conn.Close()
		return fmt.Errorf("ami: read banner: %w", err)
	}

	login := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n", c.cfg.Username, c.cfg.Secret)
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := conn.Write([]byte(login)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("ami: send login: %w", err)
	}

	resp, err := readResponse(conn, reader, c.cfg.ReadTimeout)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ami: read login response: %w", err)
	}
	if !resp.Success() {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrLoginFailed, resp.Message())
	}

	c.conn = conn
	c.reader = reader
	c.connected = true
	return nil
}

// Originate asks the switch to place one outbound call and returns the parsed
// response block. A dropped session is re-established before sending.
func (c *Client) Originate(ctx context.Context, req OriginateRequest) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	block := buildOriginate(req)
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := c.conn.Write([]byte(block)); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("ami: send originate: %w", err)
	}

	resp, err := readResponse(c.conn, c.reader, c.cfg.ReadTimeout)
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("ami: read originate response: %w", err)
	}
	return resp, nil
}

// Connected reports whether the session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down the session. Safe to call when already disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.reader = nil
		c.connected = false
		return err
	}
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.connected = false
}

func buildOriginate(req OriginateRequest) string {
	actionID := req.ActionID
	if actionID == "" {
		actionID = uuid.NewString()
	}
	priority := req.Priority
	if priority <= 0 {
		priority = 1
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Action: Originate\r\n")
	fmt.Fprintf(&b, "ActionID: %s\r\n", actionID)
	fmt.Fprintf(&b, "Channel: %s\r\n", req.Channel)
	fmt.Fprintf(&b, "Context: %s\r\n", req.Context)
	fmt.Fprintf(&b, "Exten: %s\r\n", req.Exten)
	fmt.Fprintf(&b, "Priority: %d\r\n", priority)
	fmt.Fprintf(&b, "Timeout: %d\r\n", timeout.Milliseconds())
	if req.CallerID != "" {
		fmt.Fprintf(&b, "CallerID: %s\r\n", req.CallerID)
	}
	if len(req.Variables) > 0 {
		// Deterministic ordering keeps wire frames reproducible in tests.
		keys := make([]string, 0, len(req.Variables))
		for k := range req.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+req.Variables[k])
		}
		fmt.Fprintf(&b, "Variable: %s\r\n", strings.Join(pairs, ","))
	}
	b.WriteString("\r\n")
	return b.String()
}

// readResponse reads key:value lines until a blank line terminates the block.
// Lines that do not parse as key/value are ignored so unknown frame shapes
// from newer switch versions do not break the session.
func readResponse(conn net.Conn, reader *bufio.Reader, timeout time.Duration) (Response, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	resp := Response{}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		resp[key] = value
	}
	return resp, nil
}
