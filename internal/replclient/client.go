// Package replclient is a line client for the REPL server. It understands
// the prompt convention, so each request returns exactly the lines written
// in reply to it.
package replclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jolby/TiREPL/internal/wire"
)

// ConnectionState represents the current state of the connection.
type ConnectionState int32

const (
	// StateDisconnected indicates the client is not connected
	StateDisconnected ConnectionState = iota
	// StateConnected indicates the greeting and first prompt were received
	StateConnected
	// StateClosed indicates the client or server closed the connection
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned after the connection has ended.
	ErrClosed = errors.New("repl connection closed")
	// ErrUnexpectedReply is returned when the server reply does not match the request.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// Config holds client configuration.
type Config struct {
	// ConnectTimeout bounds the dial and the greeting.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for each reply. It should exceed the
	// server's evaluation timeout.
	ReadTimeout time.Duration
	// WriteTimeout bounds each request write.
	WriteTimeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Client is one REPL connection. Requests are serialised.
type Client struct {
	config *Config

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	state  atomic.Int32

	greeting  string
	sessionID string
	nextID    atomic.Int64
}

// Dial connects to addr and consumes the greeting and first prompt.
func Dial(ctx context.Context, addr string, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := &Client{
		config: cfg,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}

	lines, err := c.readReply(cfg.ConnectTimeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read greeting: %w", err)
	}
	if len(lines) != 1 {
		conn.Close()
		return nil, fmt.Errorf("%w: greeting %q", ErrUnexpectedReply, lines)
	}
	c.greeting = lines[0]
	c.state.Store(int32(StateConnected))
	return c, nil
}

// Greeting returns the server's welcome line.
func (c *Client) Greeting() string {
	return c.greeting
}

// State returns the connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Exchange sends one line and returns the reply lines up to the next prompt.
// If the server closes the connection instead of prompting, the lines read
// so far are returned with io.EOF.
func (c *Client) Exchange(line string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateConnected {
		return nil, ErrClosed
	}
	if err := c.send(line); err != nil {
		return nil, err
	}
	lines, err := c.readReply(c.config.ReadTimeout)
	if err != nil && (errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)) {
		c.markClosed()
	}
	return lines, err
}

// Send writes one line without waiting for a reply.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(line)
}

// Eval evaluates src and returns the reply text.
func (c *Client) Eval(src string) (string, error) {
	lines, err := c.Exchange(src)
	if err != nil {
		return strings.Join(lines, "\n"), err
	}
	return strings.Join(lines, "\n"), nil
}

// SessionID asks the server for this connection's session identifier.
func (c *Client) SessionID() (string, error) {
	lines, err := c.Exchange(wire.SessionIDPrefix)
	if err != nil {
		return "", err
	}
	if len(lines) != 1 {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedReply, lines)
	}
	id, ok := wire.ParseSessionIDLine(lines[0])
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedReply, lines[0])
	}

	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	return id, nil
}

// Message sends src in a /message envelope and decodes the response. The
// session id is fetched once and reused.
func (c *Client) Message(src string) (*wire.Response, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		id, err := c.SessionID()
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	req := wire.Request{SessionID: sessionID, ID: c.nextID.Add(1), Src: src}
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	lines, err := c.Exchange(wire.MessagePrefix + payload)
	if err != nil {
		return nil, err
	}
	if len(lines) != 1 {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedReply, lines)
	}
	encoded, ok := wire.ParseResponseLine(lines[0])
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedReply, lines[0])
	}
	resp, err := wire.DecodeResponse(encoded)
	if err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%w: response id %d for request %d", ErrUnexpectedReply, resp.ID, req.ID)
	}
	return resp, nil
}

// Quit sends /quit and returns the farewell line. The connection is closed
// afterwards.
func (c *Client) Quit() (string, error) {
	lines, err := c.Exchange(wire.QuitLong)
	defer c.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if len(lines) != 1 || lines[0] != wire.Farewell {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedReply, lines)
	}
	return lines[0], nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if ConnectionState(c.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) markClosed() {
	if ConnectionState(c.state.Swap(int32(StateClosed))) != StateClosed {
		c.conn.Close()
	}
}

func (c *Client) send(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// readReply collects lines until a prompt starts a line.
func (c *Client) readReply(timeout time.Duration) ([]string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	var lines []string
	for {
		peek, err := c.reader.Peek(len(wire.Prompt))
		if err == nil && string(peek) == wire.Prompt {
			if _, err := c.reader.Discard(len(wire.Prompt)); err != nil {
				return lines, err
			}
			return lines, nil
		}

		line, err := c.reader.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return lines, err
		}
	}
}
