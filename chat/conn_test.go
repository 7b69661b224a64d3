package chat

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/lurkbot/testutil"
)

const nick = "lurkbot"

func startConn(t *testing.T, g *testutil.FakeGateway, token string) (*Conn, <-chan error) {
	t.Helper()
	c := NewConn(Options{
		Addr:           g.Addr(),
		Username:       nick,
		Token:          token,
		ReconnectDelay: 20 * time.Millisecond,
	})
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Disconnect(ctx)
	})
	return c, errc
}

func expectRegistration(t *testing.T, gc *testutil.GatewayConn, token string) {
	t.Helper()
	gc.Expect(t, "PASS "+token)
	gc.Expect(t, "NICK "+nick)
	gc.Expect(t, "CAP REQ :twitch.tv/membership")
}

func waitReady(t *testing.T, c *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func TestConnRegistration(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"bare token", "abc123", "oauth:abc123"},
		{"prefixed token", "oauth:abc123", "oauth:abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testutil.NewFakeGateway(t)
			startConn(t, g, tt.token)
			gc := g.Accept(t, 2*time.Second)
			expectRegistration(t, gc, tt.want)
		})
	}
}

func TestConnReadyGate(t *testing.T) {
	for _, code := range []string{"376", "422"} {
		t.Run(code, func(t *testing.T) {
			g := testutil.NewFakeGateway(t)
			c, _ := startConn(t, g, "tok")
			gc := g.Accept(t, 2*time.Second)
			expectRegistration(t, gc, "oauth:tok")

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if err := c.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("WaitReady before MOTD = %v, want deadline exceeded", err)
			}
			if s := c.State(); s != Authenticating {
				t.Fatalf("state = %v, want authenticating", s)
			}

			gc.Send(t, ":tmi.twitch.tv 001 "+nick+" :Welcome, GLHF!")
			gc.Send(t, ":tmi.twitch.tv "+code+" "+nick+" :>")
			waitReady(t, c)
			if s := c.State(); s != Ready {
				t.Fatalf("state = %v, want ready", s)
			}
			if g := c.Generation(); g != 1 {
				t.Fatalf("generation = %d, want 1", g)
			}
		})
	}
}

func TestConnBothMOTDRepliesCountOnce(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c, _ := startConn(t, g, "tok")
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Send(t, ":tmi.twitch.tv 376 "+nick+" :>", ":tmi.twitch.tv 422 "+nick+" :MOTD File is missing")
	waitReady(t, c)
	// PING round trip guarantees both replies were processed.
	gc.Send(t, "PING :sync")
	gc.Expect(t, "PONG :sync")
	if g := c.Generation(); g != 1 {
		t.Fatalf("generation = %d, want 1", g)
	}
}

func TestConnPongBeforeQueuedCommands(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c, _ := startConn(t, g, "tok")
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")

	ctx := context.Background()
	if err := c.Send(ctx, "JOIN #alice"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	gc.Send(t, "PING :tmi.twitch.tv")
	gc.Expect(t, "PONG :tmi.twitch.tv")
	gc.Silent(t, 50*time.Millisecond)

	gc.Welcome(t, nick)
	gc.Expect(t, "JOIN #alice")
}

func TestConnPongWhileReady(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c, _ := startConn(t, g, "tok")
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Welcome(t, nick)
	waitReady(t, c)

	gc.Send(t, "PING :abc")
	gc.Expect(t, "PONG :abc")
	if s := c.State(); s != Ready {
		t.Fatalf("state = %v, want ready", s)
	}
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c, _ := startConn(t, g, "tok")
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Welcome(t, nick)
	waitReady(t, c)

	gc.Close()

	gc2 := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc2, "oauth:tok")
	if s := c.State(); s == Ready {
		t.Fatalf("state = ready before new MOTD")
	}
	gc2.Welcome(t, nick)
	waitReady(t, c)
	if g := c.Generation(); g != 2 {
		t.Fatalf("generation = %d, want 2", g)
	}
}

// brokenConn accepts limit writes and then fails every write.
type brokenConn struct {
	net.Conn
	limit  int32
	writes atomic.Int32
}

func (b *brokenConn) Write(p []byte) (int, error) {
	if b.writes.Add(1) > b.limit {
		return 0, errors.New("broken pipe")
	}
	return b.Conn.Write(p)
}

// breakFirstDialer hands out a transport whose writes fail after registration
// on the first dial, and healthy transports afterwards.
type breakFirstDialer struct {
	dials atomic.Int32
}

func (d *breakFirstDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var nd net.Dialer
	nc, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if d.dials.Add(1) == 1 {
		return &brokenConn{Conn: nc, limit: 3}, nil
	}
	return nc, nil
}

func TestConnReconnectsAfterWriteFailure(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c := NewConn(Options{
		Addr:           g.Addr(),
		Username:       nick,
		Token:          "tok",
		Dialer:         &breakFirstDialer{},
		ReconnectDelay: 20 * time.Millisecond,
	})
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Welcome(t, nick)
	waitReady(t, c)

	// The pong write fails; the session must end instead of sitting in Ready.
	gc.Send(t, "PING :abc")
	gc.WaitClosed(t, 2*time.Second)

	gc2 := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc2, "oauth:tok")
	gc2.Welcome(t, nick)
	waitReady(t, c)
	gc2.Send(t, "PING :def")
	gc2.Expect(t, "PONG :def")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}

func TestSessionPongJumpsQueuedLine(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	s := &session{nc: local, pongs: make(chan string, 8)}
	s.pongs <- "PONG :x"
	errc := make(chan error, 1)
	go func() { errc <- s.writeQueued("JOIN #a") }()

	r := bufio.NewReader(remote)
	for _, want := range []string{"PONG :x\r\n", "JOIN #a\r\n"} {
		got, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != want {
			t.Fatalf("line = %q, want %q", got, want)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("writeQueued: %v", err)
	}
}

func TestConnReconnectCommand(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c, _ := startConn(t, g, "tok")
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Welcome(t, nick)
	waitReady(t, c)

	gc.Send(t, ":tmi.twitch.tv RECONNECT")
	gc.WaitClosed(t, 2*time.Second)

	gc2 := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc2, "oauth:tok")
}

func TestConnQueuedDuringReconnectDeliveredOnNextSession(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c, _ := startConn(t, g, "tok")
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Welcome(t, nick)
	waitReady(t, c)
	gc.Close()

	gc2 := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc2, "oauth:tok")
	if err := c.Send(context.Background(), "JOIN #bob"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	gc2.Silent(t, 50*time.Millisecond)
	gc2.Welcome(t, nick)
	gc2.Expect(t, "JOIN #bob")
}

func TestConnDisconnect(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c, errc := startConn(t, g, "tok")
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Welcome(t, nick)
	waitReady(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	gc.WaitClosed(t, 2*time.Second)
	g.NoConnection(t, 100*time.Millisecond)

	if s := c.State(); s != Disconnected {
		t.Fatalf("state = %v, want disconnected", s)
	}
	if err := c.Send(context.Background(), "JOIN #x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Disconnect = %v, want ErrClosed", err)
	}
	if err := c.WaitReady(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("WaitReady after Disconnect = %v, want ErrClosed", err)
	}
}

func TestConnDisconnectWithoutRun(t *testing.T) {
	c := NewConn(Options{Addr: "127.0.0.1:1", Username: nick, Token: "tok"})
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect = %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run after Disconnect = %v, want nil", err)
	}
}

func TestConnDisconnectDuringReconnectDelay(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c := NewConn(Options{Addr: g.Addr(), Username: nick, Token: "tok", ReconnectDelay: 500 * time.Millisecond})
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")
	gc.Welcome(t, nick)
	waitReady(t, c)

	gc.Close()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != Disconnected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v after drop, want disconnected", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect during backoff: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	g.NoConnection(t, 700*time.Millisecond)
}

func TestConnRunStopsOnContextCancel(t *testing.T) {
	g := testutil.NewFakeGateway(t)
	c := NewConn(Options{Addr: g.Addr(), Username: nick, Token: "tok", ReconnectDelay: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	gc := g.Accept(t, 2*time.Second)
	expectRegistration(t, gc, "oauth:tok")

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	g.NoConnection(t, 100*time.Millisecond)
}

func TestSendRejectsLineBreaks(t *testing.T) {
	c := NewConn(Options{})
	if err := c.Send(context.Background(), "JOIN #a\r\nPART #b"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEventName(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"PING :tmi.twitch.tv", "PING", true},
		{":tmi.twitch.tv 376 lurkbot :>", "RPL_ENDOFMOTD", true},
		{":tmi.twitch.tv 422 lurkbot :MOTD File is missing", "ERR_NOMOTD", true},
		{":tmi.twitch.tv 001 lurkbot :Welcome, GLHF!", "RPL_WELCOME", true},
		{":tmi.twitch.tv 353 lurkbot = #alice :lurkbot", "", false},
		{":tmi.twitch.tv CAP * ACK :twitch.tv/membership", "", false},
	}
	for _, tt := range tests {
		got, ok := eventName(twitch.ParseMessage(tt.line))
		if got != tt.want || ok != tt.ok {
			t.Errorf("eventName(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStateString(t *testing.T) {
	if Ready.String() != "ready" || Disconnecting.String() != "disconnecting" {
		t.Fatal("unexpected state names")
	}
}
