package testutil

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// FakeGateway is a plaintext chat gateway on a loopback port. Every accepted
// connection is handed to the test through Accept.
type FakeGateway struct {
	ln    net.Listener
	conns chan *GatewayConn
}

// GatewayConn is one client session seen by the FakeGateway.
type GatewayConn struct {
	nc    net.Conn
	lines chan string
}

// NewFakeGateway starts listening and stops when the test ends.
func NewFakeGateway(t *testing.T) *FakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	g := &FakeGateway{ln: ln, conns: make(chan *GatewayConn, 16)}
	go g.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return g
}

func (g *FakeGateway) serve() {
	for {
		nc, err := g.ln.Accept()
		if err != nil {
			return
		}
		gc := &GatewayConn{nc: nc, lines: make(chan string, 256)}
		go gc.read()
		g.conns <- gc
	}
}

// Addr is the host:port clients should dial.
func (g *FakeGateway) Addr() string { return g.ln.Addr().String() }

// Accept returns the next client session or fails the test after timeout.
func (g *FakeGateway) Accept(t *testing.T, timeout time.Duration) *GatewayConn {
	t.Helper()
	select {
	case gc := <-g.conns:
		t.Cleanup(func() { _ = gc.nc.Close() })
		return gc
	case <-time.After(timeout):
		t.Fatalf("no client connected within %v", timeout)
		return nil
	}
}

// NoConnection fails the test if a client connects within d.
func (g *FakeGateway) NoConnection(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case gc := <-g.conns:
		_ = gc.nc.Close()
		t.Fatalf("unexpected client connection")
	case <-time.After(d):
	}
}

func (c *GatewayConn) read() {
	defer close(c.lines)
	sc := bufio.NewScanner(c.nc)
	for sc.Scan() {
		c.lines <- strings.TrimRight(sc.Text(), "\r")
	}
}

// Next returns the next line written by the client.
func (c *GatewayConn) Next(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case line, ok := <-c.lines:
		if !ok {
			t.Fatalf("client closed the connection")
		}
		return line
	case <-time.After(timeout):
		t.Fatalf("no line from client within %v", timeout)
		return ""
	}
}

// Expect fails unless the next client line equals want.
func (c *GatewayConn) Expect(t *testing.T, want string) {
	t.Helper()
	if got := c.Next(t, 2*time.Second); got != want {
		t.Fatalf("client line = %q, want %q", got, want)
	}
}

// Silent fails if the client writes anything within d.
func (c *GatewayConn) Silent(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case line, ok := <-c.lines:
		if ok {
			t.Fatalf("unexpected client line %q", line)
		}
	case <-time.After(d):
	}
}

// WaitClosed fails unless the client hangs up within timeout.
func (c *GatewayConn) WaitClosed(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("client did not close within %v", timeout)
		}
	}
}

// Send writes raw lines to the client.
func (c *GatewayConn) Send(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if _, err := io.WriteString(c.nc, l+"\r\n"); err != nil {
			t.Fatalf("write %q: %v", l, err)
		}
	}
}

// Welcome sends the usual registration burst ending with end-of-MOTD.
func (c *GatewayConn) Welcome(t *testing.T, nick string) {
	t.Helper()
	c.Send(t,
		":tmi.twitch.tv 001 "+nick+" :Welcome, GLHF!",
		":tmi.twitch.tv 002 "+nick+" :Your host is tmi.twitch.tv",
		":tmi.twitch.tv 375 "+nick+" :-",
		":tmi.twitch.tv 372 "+nick+" :You are in a maze of twisty passages.",
		":tmi.twitch.tv 376 "+nick+" :>",
	)
}

// Close drops the connection from the server side.
func (c *GatewayConn) Close() { _ = c.nc.Close() }
