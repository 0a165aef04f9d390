package sockexchange_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abc463774475/sockexchange/client"
	"github.com/abc463774475/sockexchange/mock"
	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server"
	"github.com/abc463774475/sockexchange/server/base"
)

const password = "FreshSocks"

type network struct {
	broker *server.Server
	proxy  *mock.Host

	lobby, survival         *client.Client
	lobbyHost, survivalHost *mock.Host
}

func startNetwork(t *testing.T) *network {
	t.Helper()

	n := &network{
		proxy:        mock.NewHost("proxy", "Steve", "Alex", "Notch"),
		lobbyHost:    mock.NewHost("lobby", "Steve"),
		survivalHost: mock.NewHost("survival", "Alex"),
	}

	var err error
	n.broker, err = server.NewServer(
		server.WithName("proxy"),
		server.WithAddr("127.0.0.1:0"),
		server.WithPassword(password),
		server.WithServers("lobby", "survival", "creative"),
		server.WithPrivateServers("creative"),
		server.WithKeepAliveInterval(50*time.Millisecond),
		server.WithPlayerUpdateInterval(50*time.Millisecond),
		server.WithResponseSweepInterval(50*time.Millisecond),
		server.WithHost(n.proxy),
	)
	require.NoError(t, err)
	require.NoError(t, n.broker.Start())
	t.Cleanup(n.broker.Shutdown)

	n.lobby = connect(t, n.broker.Addr(), "lobby", n.lobbyHost)
	n.survival = connect(t, n.broker.Addr(), "survival", n.survivalHost)
	return n
}

func connect(t *testing.T, addr, name string, host *mock.Host) *client.Client {
	t.Helper()
	c, err := client.NewClient(
		client.WithName(name),
		client.WithAddr(addr),
		client.WithPassword(password),
		client.WithTickInterval(20*time.Millisecond),
		client.WithReconnectDelay(20*time.Millisecond, 100*time.Millisecond),
		client.WithHost(host),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
	return c
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msgAndArgs...)
}

func TestExchange_serverList(t *testing.T) {
	n := startNetwork(t)

	eventually(t, func() bool {
		return len(n.lobby.ServerInfos()) == 3
	})
	assert.Equal(t, []msg.ServerInfo{
		{Name: "creative", Online: false, Private: true},
		{Name: "lobby", Online: true},
		{Name: "survival", Online: true},
	}, n.lobby.ServerInfos())

	assert.Equal(t, []string{
		"creative [online: false, private: true]",
		"lobby [online: true, private: false]",
		"survival [online: true, private: false]",
	}, n.broker.ExecuteConsole("servers"))
}

func TestExchange_presence(t *testing.T) {
	n := startNetwork(t)

	eventually(t, func() bool {
		server, ok := n.lobby.ServerForPlayer("alex")
		return ok && server == "survival"
	}, "lobby never learned where Alex is")

	eventually(t, func() bool {
		server, ok := n.broker.ServerForPlayer("STEVE")
		return ok && server == "lobby"
	})

	require.NoError(t, n.survival.Close())
	eventually(t, func() bool {
		_, ok := n.lobby.ServerForPlayer("alex")
		return !ok
	}, "players of a disconnected server are still listed")

	eventually(t, func() bool {
		info, ok := n.lobby.ServerInfo("survival")
		return ok && !info.Online
	})
}

func TestExchange_runCommands(t *testing.T) {
	n := startNetwork(t)

	out := n.broker.ExecuteConsole("runcmd survival,creative say hello")
	assert.Equal(t, []string{
		"Server creative is not online",
		"Command sent to survival",
	}, out)
	eventually(t, func() bool {
		return len(n.survivalHost.Commands()) == 1
	})
	assert.Equal(t, []string{"say hello"}, n.survivalHost.Commands())
	assert.Empty(t, n.lobbyHost.Commands())

	require.NoError(t, n.lobby.SendCommandsToServers([]string{"time set day"}))
	eventually(t, func() bool {
		return len(n.survivalHost.Commands()) == 2
	})
	assert.Empty(t, n.lobbyHost.Commands(), "ALL excludes the sender")

	require.NoError(t, n.lobby.SendCommandsToBroker([]string{"alert restart"}))
	eventually(t, func() bool {
		return len(n.proxy.Commands()) == 1
	})
	assert.Equal(t, []string{"alert restart"}, n.proxy.Commands())
}

func TestExchange_chat(t *testing.T) {
	n := startNetwork(t)

	require.NoError(t, n.lobby.SendChatToPlayer("steve", []string{"local"}))
	assert.Equal(t, []mock.Chat{{Player: "Steve", Messages: []string{"local"}}}, n.lobbyHost.Chats())

	require.NoError(t, n.lobby.SendChatToPlayer("Notch", []string{"via proxy"}))
	require.NoError(t, n.lobby.SendChatToConsole([]string{"to console"}))
	eventually(t, func() bool {
		return len(n.proxy.Chats()) == 2
	})
	assert.ElementsMatch(t, []mock.Chat{
		{Player: "Notch", Messages: []string{"via proxy"}},
		{Player: "", Messages: []string{"to console"}},
	}, n.proxy.Chats())
}

func TestExchange_movePlayers(t *testing.T) {
	n := startNetwork(t)

	require.NoError(t, n.lobby.MovePlayers([]string{"Steve"}, "SURVIVAL"))
	eventually(t, func() bool {
		return len(n.proxy.Moves()) == 1
	})
	assert.Equal(t, []mock.Move{{Players: []string{"Steve"}, Server: "survival"}}, n.proxy.Moves())
}

func TestExchange_pubSubAndRequests(t *testing.T) {
	n := startNetwork(t)

	news := make(chan *base.Request, 1)
	acked := make(chan struct{})
	require.NoError(t, n.survival.Subscribe("news", func(req *base.Request) {
		news <- req
	}, func(*msg.MsgSubAck) { close(acked) }))
	select {
	case <-acked:
	case <-time.After(3 * time.Second):
		t.Fatal("no SUBACK")
	}

	require.NoError(t, n.broker.Publish("news", "from the proxy"))
	select {
	case req := <-news:
		assert.Equal(t, "proxy", req.From)
		assert.Equal(t, "from the proxy", string(req.Data))
	case <-time.After(3 * time.Second):
		t.Fatal("broker publication not delivered")
	}

	require.NoError(t, n.survival.Handle("count", func(req *base.Request) {
		_ = req.Respond(map[string]int{"players": len(n.survivalHost.OnlinePlayers())})
	}))

	got := make(chan base.Response, 1)
	require.NoError(t, n.broker.Request("count", "survival", nil, time.Second, func(resp base.Response) {
		got <- resp
	}))
	select {
	case resp := <-got:
		assert.True(t, resp.IsOK())
		assert.JSONEq(t, `{"players":1}`, string(resp.Data))
	case <-time.After(3 * time.Second):
		t.Fatal("no response")
	}

	require.NoError(t, n.lobby.RequestServer("count", "creative", nil, time.Second, func(resp base.Response) {
		got <- resp
	}))
	select {
	case resp := <-got:
		assert.Equal(t, msg.Status_NotSent, resp.Status, "creative is offline")
	case <-time.After(3 * time.Second):
		t.Fatal("no response")
	}
}
