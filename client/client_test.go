package client

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/abc463774475/sockexchange/mock"
	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server"
	"github.com/abc463774475/sockexchange/server/base"
)

const testPassword = "FreshSocks"

func startBroker(t *testing.T, opts ...server.Option) *server.Server {
	t.Helper()
	opts = append([]server.Option{
		server.WithName("proxy"),
		server.WithAddr("127.0.0.1:0"),
		server.WithPassword(testPassword),
		server.WithKeepAliveInterval(50 * time.Millisecond),
		server.WithPlayerUpdateInterval(50 * time.Millisecond),
		server.WithResponseSweepInterval(50 * time.Millisecond),
	}, opts...)

	s, err := server.NewServer(opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Shutdown)
	return s
}

func newTestClient(t *testing.T, addr, name string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithName(name),
		WithAddr(addr),
		WithPassword(testPassword),
		WithTickInterval(20 * time.Millisecond),
		WithReconnectDelay(20*time.Millisecond, 100*time.Millisecond),
	}, opts...)

	c, err := NewClient(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
}

// unusedAddr returns a loopback address nothing listens on.
func unusedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestOptions_validate(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		err  error
	}{
		{"no name", []Option{WithName(" ")}, ErrNoName},
		{"reserved name", []Option{WithName("all")}, ErrReservedName},
		{"no addr", []Option{WithName("lobby"), WithAddr("")}, ErrNoAddr},
		{"no credentials", []Option{WithName("lobby"), WithPassword("")}, ErrNoCredentials},
		{"token only", []Option{WithName("lobby"), WithPassword(""), WithToken("t")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultOptions()
			for _, o := range tt.opts {
				o.apply(&cfg)
			}
			err := cfg.validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestOptions_validateFillsDefaults(t *testing.T) {
	cfg := defaultOptions()
	WithName(" lobby ").apply(&cfg)
	WithWorkers(0).apply(&cfg)
	WithReconnectDelay(time.Second, time.Millisecond).apply(&cfg)
	WithRequestTimeout(0).apply(&cfg)

	require.NoError(t, cfg.validate())
	assert.Equal(t, "lobby", cfg.Name)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestNewBackOff_bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		minMs := rapid.Int64Range(1, 1000).Draw(t, "min")
		maxMs := rapid.Int64Range(minMs, 60000).Draw(t, "max")
		attempts := rapid.IntRange(0, 20).Draw(t, "attempts")

		cfg := defaultOptions()
		cfg.ReconnectDelay = time.Duration(minMs) * time.Millisecond
		cfg.ReconnectMaxDelay = time.Duration(maxMs) * time.Millisecond
		cfg.MaxReconnectAttempts = attempts
		c := &Client{cfg: cfg}

		lo := time.Duration(float64(cfg.ReconnectDelay) * 0.9)
		hi := time.Duration(float64(cfg.ReconnectMaxDelay)*1.1) + time.Millisecond

		bo := c.newBackOff()
		n := attempts
		if n == 0 {
			n = 30
		}
		for i := 0; i < n; i++ {
			d := bo.NextBackOff()
			if d == backoff.Stop {
				t.Fatalf("stopped after %v attempts", i)
			}
			if d < lo || d > hi {
				t.Fatalf("delay %v outside [%v, %v]", d, lo, hi)
			}
		}
		if attempts > 0 && bo.NextBackOff() != backoff.Stop {
			t.Fatalf("did not stop after %v attempts", attempts)
		}
	})
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []string{"Alex", "Steve"}, uniqueSorted([]string{"Steve", "Alex", "Steve"}))
	assert.Empty(t, uniqueSorted(nil))
	assert.True(t, equalStrings([]string{"a"}, []string{"a"}))
	assert.False(t, equalStrings([]string{"a"}, []string{"b"}))
	assert.False(t, equalStrings([]string{"a"}, nil))
}

func TestClient_connect(t *testing.T) {
	s := startBroker(t)
	c := newTestClient(t, s.Addr(), "lobby")
	waitConnected(t, c)
	assert.Equal(t, StateConnected, c.State())

	assert.Eventually(t, func() bool {
		info, ok := c.ServerInfo("LOBBY")
		return ok && info.Online
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.RTT() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_rejected(t *testing.T) {
	s := startBroker(t)
	c := newTestClient(t, s.Addr(), "lobby", WithPassword("wrong"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := c.WaitConnected(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegistrationRejected), "got %v", err)

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client kept running after rejection")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), ErrRegistrationRejected)
}

func TestClient_giveUpReconnecting(t *testing.T) {
	c := newTestClient(t, unusedAddr(t), "lobby", WithMaxReconnectAttempts(2))

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client kept reconnecting")
	}
	assert.ErrorIs(t, c.Err(), ErrReconnectFailed)
}

func TestClient_notConnected(t *testing.T) {
	c := newTestClient(t, unusedAddr(t), "lobby")

	assert.ErrorIs(t, c.Publish("news", "hello"), ErrNotConnected)
	assert.ErrorIs(t, c.SendToServer("news", "survival", "hello"), ErrNotConnected)
	assert.ErrorIs(t, c.SendToBroker("news", "hello"), ErrNotConnected)
	assert.ErrorIs(t, c.SetOnlinePlayers([]string{"Steve"}), ErrNotConnected)

	got := make(chan base.Response, 1)
	require.NoError(t, c.RequestServer("echo", "survival", "ping", time.Second, func(resp base.Response) {
		got <- resp
	}))
	select {
	case resp := <-got:
		assert.Equal(t, msg.Status_NotSent, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}

func TestClient_subscribeTwice(t *testing.T) {
	c := newTestClient(t, unusedAddr(t), "lobby")
	h := func(req *base.Request) {}

	require.NoError(t, c.Subscribe("news", h, nil))
	assert.ErrorIs(t, c.Subscribe("news", h, nil), ErrAlreadySubscribed)
	assert.ErrorIs(t, c.Handle("news", h), ErrAlreadySubscribed)
	require.NoError(t, c.UnSubscribe("news"))
	assert.ErrorIs(t, c.UnSubscribe("news"), ErrNotSubscribed)
}

func TestClient_pubSub(t *testing.T) {
	s := startBroker(t)
	a := newTestClient(t, s.Addr(), "lobby")
	b := newTestClient(t, s.Addr(), "survival")
	waitConnected(t, a)
	waitConnected(t, b)

	recvA := make(chan *base.Request, 4)
	recvB := make(chan *base.Request, 4)
	acked := make(chan *msg.MsgSubAck, 2)
	ack := func(m *msg.MsgSubAck) { acked <- m }

	require.NoError(t, a.Subscribe("news", func(req *base.Request) { recvA <- req }, ack))
	require.NoError(t, b.Subscribe("news", func(req *base.Request) { recvB <- req }, ack))
	for i := 0; i < 2; i++ {
		select {
		case m := <-acked:
			assert.Equal(t, msg.RspCode_Success, m.Code)
		case <-time.After(2 * time.Second):
			t.Fatal("no SUBACK")
		}
	}

	require.NoError(t, a.Publish("news", "hello"))
	select {
	case req := <-recvB:
		assert.Equal(t, "lobby", req.From)
		assert.Equal(t, "hello", string(req.Data))
		assert.False(t, req.WantsResponse())
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber got nothing")
	}

	select {
	case <-recvA:
		t.Fatal("publisher received its own message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_requestResponse(t *testing.T) {
	s := startBroker(t)
	a := newTestClient(t, s.Addr(), "lobby")
	b := newTestClient(t, s.Addr(), "survival")
	waitConnected(t, a)
	waitConnected(t, b)

	require.NoError(t, b.Handle("echo", func(req *base.Request) {
		_ = req.Respond(string(req.Data) + " from " + req.From)
	}))
	require.NoError(t, b.Handle("silent", func(req *base.Request) {}))

	got := make(chan base.Response, 1)
	require.NoError(t, a.RequestServer("echo", "SURVIVAL", "ping", time.Second, func(resp base.Response) {
		got <- resp
	}))
	select {
	case resp := <-got:
		assert.True(t, resp.IsOK())
		assert.Equal(t, "ping from lobby", string(resp.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}

	require.NoError(t, a.RequestServer("unknown", "survival", "ping", time.Second, func(resp base.Response) {
		got <- resp
	}))
	select {
	case resp := <-got:
		assert.Equal(t, msg.Status_NotSent, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}

	require.NoError(t, a.RequestServer("silent", "survival", "ping", 100*time.Millisecond, func(resp base.Response) {
		got <- resp
	}))
	select {
	case resp := <-got:
		assert.Equal(t, msg.Status_TimedOut, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("request never timed out")
	}
}

func TestClient_requestBroker(t *testing.T) {
	s := startBroker(t)
	require.NoError(t, s.Handle("whoami", func(req *base.Request) {
		_ = req.Respond(req.From)
	}))
	c := newTestClient(t, s.Addr(), "lobby")
	waitConnected(t, c)

	got := make(chan base.Response, 1)
	require.NoError(t, c.RequestBroker("whoami", nil, time.Second, func(resp base.Response) {
		got <- resp
	}))
	select {
	case resp := <-got:
		assert.True(t, resp.IsOK())
		assert.Equal(t, "lobby", string(resp.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}

func TestClient_closeFailsPendingRequests(t *testing.T) {
	s := startBroker(t)
	a := newTestClient(t, s.Addr(), "lobby")
	b := newTestClient(t, s.Addr(), "survival")
	waitConnected(t, a)
	waitConnected(t, b)
	require.NoError(t, b.Handle("silent", func(req *base.Request) {}))

	got := make(chan base.Response, 1)
	require.NoError(t, a.RequestServer("silent", "survival", "ping", time.Minute, func(resp base.Response) {
		got <- resp
	}))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case resp := <-got:
		assert.Equal(t, msg.Status_NotSent, resp.Status)
	default:
		t.Fatal("pending request was not completed by Close")
	}
	assert.Equal(t, StateClosed, a.State())
	assert.NoError(t, a.Err())
}

func TestClient_host(t *testing.T) {
	s := startBroker(t)
	host := mock.NewHost("lobby", "Steve", "Alex")
	c := newTestClient(t, s.Addr(), "lobby", WithHost(host))
	waitConnected(t, c)

	assert.Eventually(t, func() bool {
		server, ok := s.ServerForPlayer("steve")
		return ok && server == "lobby"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		server, ok := c.ServerForPlayer("ALEX")
		return ok && server == "lobby"
	}, 2*time.Second, 10*time.Millisecond)

	host.SetPlayers("Alex")
	assert.Eventually(t, func() bool {
		_, ok := s.ServerForPlayer("steve")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SendCommandsToServers([]string{"say hi"}, "lobby"))
	assert.Eventually(t, func() bool {
		return len(host.Commands()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"say hi"}, host.Commands())

	require.NoError(t, c.SendChatToPlayer("alex", []string{"local"}))
	assert.Equal(t, []mock.Chat{{Player: "Alex", Messages: []string{"local"}}}, host.Chats())
}

func TestClient_reconnect(t *testing.T) {
	s1 := startBroker(t)
	addr := s1.Addr()

	c := newTestClient(t, addr, "lobby")
	waitConnected(t, c)
	recv := make(chan *base.Request, 1)
	require.NoError(t, c.Subscribe("news", func(req *base.Request) { recv <- req }, nil))

	s1.Shutdown()
	assert.Eventually(t, func() bool {
		return c.State() == StateReconnecting
	}, 2*time.Second, 10*time.Millisecond)

	s2 := startBroker(t, server.WithAddr(addr))
	waitConnected(t, c)

	other := newTestClient(t, s2.Addr(), "survival")
	waitConnected(t, other)

	assert.Eventually(t, func() bool {
		_ = other.Publish("news", "again")
		select {
		case req := <-recv:
			return string(req.Data) == "again"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

// silentBroker accepts every registration and then never sends a frame.
func silentBroker(t *testing.T) (addr string, accepts *atomic.Int32) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	accepts = &atomic.Int32{}
	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			go func() {
				defer nc.Close()
				if _, err := msg.ReadMsg(nc); err != nil {
					return
				}
				m, err := msg.NewMsg(msg.MSG_REGISTERRESP, &msg.MsgRegisterResp{Code: msg.RspCode_Success, Broker: "silent"})
				if err != nil {
					return
				}
				if _, err := nc.Write(m.Save()); err != nil {
					return
				}
				for {
					if _, err := msg.ReadMsg(nc); err != nil {
						return
					}
				}
			}()
		}
	}()
	return l.Addr().String(), accepts
}

func TestClient_keepAliveWatchdog(t *testing.T) {
	addr, accepts := silentBroker(t)
	c := newTestClient(t, addr, "lobby", WithKeepAliveTimeout(100*time.Millisecond))
	waitConnected(t, c)

	assert.Eventually(t, func() bool {
		return accepts.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond, "no reconnect after keep-alives stopped")
	assert.NoError(t, c.Err())
}
