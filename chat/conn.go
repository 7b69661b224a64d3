package chat

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/lurkbot/telemetry"
)

// State of the gateway connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Ready
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Disconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrClosed is returned once Disconnect has been called.
var ErrClosed = errors.New("chat connection closed")

var (
	errReconnectRequested = errors.New("gateway requested reconnect")
	errWriterStopped      = errors.New("chat writer stopped")
)

const (
	rplEndOfMOTD = "376"
	errNoMOTD    = "422"

	writeTimeout = 10 * time.Second
	maxLineBytes = 64 * 1024
)

// Dialer opens the transport. *net.Dialer and *tls.Dialer satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Options configures a Conn.
type Options struct {
	Addr     string
	Username string
	// Token is the bot's user OAuth token, with or without the "oauth:" prefix.
	Token string
	TLS   bool
	// TLSConfig is optional; the server name is taken from Addr when unset.
	TLSConfig      *tls.Config
	Dialer         Dialer
	ReconnectDelay time.Duration
	Verbose        bool
	QueueSize      int
}

// Conn manages exactly one live gateway session at a time.
type Conn struct {
	opts     Options
	state    atomic.Int32
	gen      atomic.Uint64
	outbound chan string

	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	done     chan struct{}

	mu          sync.Mutex
	nc          net.Conn
	ready       chan struct{}
	readyClosed bool
}

// NewConn returns a disconnected Conn. Call Run to start it.
func NewConn(opts Options) *Conn {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Conn{
		opts:     opts,
		outbound: make(chan string, opts.QueueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Generation counts how many sessions have reached Ready. A change means every
// channel joined on an earlier session has been dropped by the gateway.
func (c *Conn) Generation() uint64 { return c.gen.Load() }

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	telemetry.SetChatState(int(s))
}

// Run connects and keeps reconnecting until ctx is done or Disconnect is called.
func (c *Conn) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("chat: Run called twice")
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		// The stop flag is checked before every connect attempt so a shutdown
		// in progress never races a reconnect.
		if c.stopping.Load() || ctx.Err() != nil {
			c.setState(Disconnected)
			return nil
		}
		err := c.session(ctx)
		if c.stopping.Load() || ctx.Err() != nil {
			c.setState(Disconnected)
			slog.Info("chat connection closed", slog.String("component", "chat"))
			return nil
		}
		telemetry.IncReconnect()
		slog.Warn("chat connection lost; reconnecting", slog.Any("err", err), slog.Duration("delay", c.opts.ReconnectDelay), slog.String("component", "chat"))
		select {
		case <-ctx.Done():
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Conn) dial(ctx context.Context) (net.Conn, error) {
	d := c.opts.Dialer
	if d == nil {
		nd := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		if c.opts.TLS {
			cfg := c.opts.TLSConfig
			if cfg == nil {
				cfg = &tls.Config{MinVersion: tls.VersionTLS12}
			}
			d = &tls.Dialer{NetDialer: nd, Config: cfg}
		} else {
			d = nd
		}
	}
	return d.DialContext(ctx, "tcp", c.opts.Addr)
}

// session runs one connection from dial to close and returns why it ended.
func (c *Conn) session(ctx context.Context) error {
	c.setState(Connecting)
	nc, err := c.dial(ctx)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("dial %s: %w", c.opts.Addr, err)
	}
	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()

	s := &session{
		nc:         nc,
		pongs:      make(chan string, 8),
		ready:      make(chan struct{}),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = nc.Close()
		case <-s.closed:
		}
	}()

	c.setState(Authenticating)
	err = c.register(s)
	if err == nil {
		go c.writeLoop(s)
		err = c.readLoop(s)
		close(s.closed)
		_ = nc.Close()
		<-s.writerDone
	} else {
		close(s.closed)
		_ = nc.Close()
	}
	c.endSession()
	return err
}

func (c *Conn) register(s *session) error {
	token := c.opts.Token
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	for _, line := range []string{
		"PASS " + token,
		"NICK " + c.opts.Username,
		"CAP REQ :twitch.tv/membership",
	} {
		if err := s.write(line); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}
	slog.Info("logged in to chat gateway", slog.String("nick", c.opts.Username), slog.String("component", "chat"))
	return nil
}

// endSession leaves Ready and arms a fresh ready gate for the next session.
func (c *Conn) endSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nc = nil
	if c.readyClosed {
		c.ready = make(chan struct{})
		c.readyClosed = false
	}
	c.setState(Disconnected)
}

func (c *Conn) markReady(s *session) {
	c.mu.Lock()
	if !c.readyClosed {
		c.readyClosed = true
		c.setState(Ready)
		gen := c.gen.Add(1)
		close(c.ready)
		slog.Info("chat connection ready", slog.Uint64("generation", gen), slog.String("component", "chat"))
	}
	c.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
}

func (c *Conn) readLoop(s *session) error {
	scanner := bufio.NewScanner(s.nc)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := c.handleLine(s, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (c *Conn) handleLine(s *session, line string) error {
	msg := twitch.ParseMessage(line)
	if c.opts.Verbose {
		logEvent(msg, line)
	}
	switch m := msg.(type) {
	case *twitch.PingMessage:
		// Answered before anything else queued; never deferred.
		select {
		case s.pongs <- "PONG :" + m.Message:
		case <-s.writerDone:
			return errWriterStopped
		}
	case *twitch.ReconnectMessage:
		return errReconnectRequested
	case *twitch.NoticeMessage:
		if c.State() != Ready {
			slog.Warn("chat gateway notice", slog.String("message", m.Message), slog.String("component", "chat"))
		}
	case *twitch.RawMessage:
		if m.RawType == rplEndOfMOTD || m.RawType == errNoMOTD {
			c.markReady(s)
		}
	}
	return nil
}

// writeLoop is the only writer after registration. Pongs always go first; queued
// lines are drained only once the session is Ready. A failed write closes the
// transport so the reader ends the session and Run reconnects.
func (c *Conn) writeLoop(s *session) {
	defer close(s.writerDone)
	if err := c.drain(s); err != nil {
		slog.Warn("chat write failed; dropping session", slog.Any("err", err), slog.String("component", "chat"))
		_ = s.nc.Close()
	}
}

func (c *Conn) drain(s *session) error {
	ready := s.ready
	var queue <-chan string
	for {
		if err := s.flushPongs(); err != nil {
			return err
		}
		select {
		case p := <-s.pongs:
			if err := s.write(p); err != nil {
				return err
			}
		case <-ready:
			ready = nil
			queue = c.outbound
		case line := <-queue:
			if err := s.writeQueued(line); err != nil {
				return err
			}
		case <-s.closed:
			return nil
		}
	}
}

// Send queues a raw protocol line. It does not wait for the line to be written.
func (c *Conn) Send(ctx context.Context, line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("chat: line contains a line break: %q", line)
	}
	if c.stopping.Load() {
		return ErrClosed
	}
	select {
	case c.outbound <- line:
		return nil
	case <-c.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitReady blocks until the connection is Ready.
func (c *Conn) WaitReady(ctx context.Context) error {
	for {
		if c.stopping.Load() {
			return ErrClosed
		}
		c.mu.Lock()
		if c.State() == Ready {
			c.mu.Unlock()
			return nil
		}
		ch := c.ready
		c.mu.Unlock()
		select {
		case <-ch:
		case <-c.stopCh:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect stops reconnecting, closes the transport and waits for Run to return
// or ctx to expire.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.stopping.Store(true)
	c.stopOnce.Do(func() { close(c.stopCh) })
	if !c.running.Load() {
		c.setState(Disconnected)
		return nil
	}
	c.mu.Lock()
	if c.nc != nil {
		c.setState(Disconnecting)
		_ = c.nc.Close()
	}
	c.mu.Unlock()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat disconnect: %w", ctx.Err())
	}
}

type session struct {
	nc         net.Conn
	pongs      chan string
	ready      chan struct{}
	readyOnce  sync.Once
	closed     chan struct{}
	writerDone chan struct{}
}

// flushPongs writes every pong already waiting.
func (s *session) flushPongs() error {
	for {
		select {
		case p := <-s.pongs:
			if err := s.write(p); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// writeQueued writes a queued line, letting any pong that arrived meanwhile go first.
func (s *session) writeQueued(line string) error {
	if err := s.flushPongs(); err != nil {
		return err
	}
	if err := s.write(line); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}
	return nil
}

func (s *session) write(line string) error {
	if err := s.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(s.nc, line+"\r\n")
	return err
}
