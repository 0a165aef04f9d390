package client

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	nlog "github.com/abc463774475/my_tool/n_log"
	"github.com/pkg/errors"

	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server/base"
)

// Subscribe registers handler for channel and subscribes to it at the
// broker. ack, if not nil, is called with the broker's SUBACK. While
// disconnected the subscription is sent once the client registers.
func (c *Client) Subscribe(channel string, handler base.Handler, ack base.SUBACKFUN) error {
	uid, err := c.ids.GetID()
	if err != nil {
		return err
	}

	c.rwmuSFs.Lock()
	if _, ok := c.sfs[channel]; ok {
		c.rwmuSFs.Unlock()
		return errors.Wrap(ErrAlreadySubscribed, channel)
	}
	e := &subEntry{
		handler:    handler,
		subscribed: true,
		sid:        strconv.FormatUint(atomic.AddUint64(&c.sid, 1), 10),
		ackID:      uid,
	}
	c.sfs[channel] = e
	c.rwmuSFs.Unlock()

	if ack != nil {
		c.rwmuSAck.Lock()
		c.sackfuns[uid] = ack
		c.rwmuSAck.Unlock()
	}

	if cn := c.current(); cn != nil {
		_ = cn.SendMsg(msg.MSG_SUB, &msg.MsgSub{
			UniqueID: uid,
			Sub:      channel,
			SID:      e.sid,
		})
	}
	return nil
}

// Handle registers handler for messages sent to this server on channel
// without subscribing to publications.
func (c *Client) Handle(channel string, handler base.Handler) error {
	c.rwmuSFs.Lock()
	defer c.rwmuSFs.Unlock()

	if _, ok := c.sfs[channel]; ok {
		return errors.Wrap(ErrAlreadySubscribed, channel)
	}
	c.sfs[channel] = &subEntry{handler: handler}
	return nil
}

// UnSubscribe removes the handler of channel.
func (c *Client) UnSubscribe(channel string) error {
	c.rwmuSFs.Lock()
	e, ok := c.sfs[channel]
	if !ok {
		c.rwmuSFs.Unlock()
		return errors.Wrap(ErrNotSubscribed, channel)
	}
	delete(c.sfs, channel)
	ackID := e.ackID
	c.rwmuSFs.Unlock()

	if ackID != 0 {
		c.rwmuSAck.Lock()
		delete(c.sackfuns, ackID)
		c.rwmuSAck.Unlock()
	}

	if !e.subscribed {
		return nil
	}
	if cn := c.current(); cn != nil {
		_ = cn.SendMsg(msg.MSG_UNSUB, &msg.MsgUnSub{Subs: []string{channel}})
	}
	return nil
}

func (c *Client) send(pub *msg.MsgPub, i interface{}) error {
	data, err := msg.Encode(i)
	if err != nil {
		return err
	}
	pub.Data = data

	cn := c.current()
	if cn == nil {
		return ErrNotConnected
	}
	return cn.SendMsg(msg.MSG_PUB, pub)
}

// Publish sends i to every other endpoint subscribed to channel.
func (c *Client) Publish(channel string, i interface{}) error {
	return c.send(&msg.MsgPub{Sub: channel, Dest: msg.DestSubscribers}, i)
}

func (c *Client) SendToServer(channel, server string, i interface{}) error {
	return c.SendToServers(channel, i, server)
}

// SendToServers sends i to the named servers, or to every other online
// server when none is named.
func (c *Client) SendToServers(channel string, i interface{}, servers ...string) error {
	pub := &msg.MsgPub{Sub: channel, Dest: msg.DestServers, To: servers}
	if len(servers) == 0 {
		pub.Dest = msg.DestAllServers
	}
	return c.send(pub, i)
}

// SendToBroker sends i to the broker's handler of channel.
func (c *Client) SendToBroker(channel string, i interface{}) error {
	return c.send(&msg.MsgPub{Sub: channel, Dest: msg.DestBroker}, i)
}

// RequestServer sends i to server and calls cb with the response. A
// timeout of 0 uses the configured request timeout.
func (c *Client) RequestServer(channel, server string, i interface{}, timeout time.Duration, cb base.ResponseFunc) error {
	return c.request(&msg.MsgPub{Sub: channel, Dest: msg.DestServers, To: []string{server}}, i, timeout, cb)
}

// RequestBroker sends i to the broker's handler of channel and calls cb
// with the response.
func (c *Client) RequestBroker(channel string, i interface{}, timeout time.Duration, cb base.ResponseFunc) error {
	return c.request(&msg.MsgPub{Sub: channel, Dest: msg.DestBroker}, i, timeout, cb)
}

func (c *Client) request(pub *msg.MsgPub, i interface{}, timeout time.Duration, cb base.ResponseFunc) error {
	data, err := msg.Encode(i)
	if err != nil {
		return err
	}
	pub.Data = data
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	cn := c.current()
	if cn == nil {
		c.complete(cb, base.Response{Status: msg.Status_NotSent})
		return nil
	}

	id, err := c.ids.GetID()
	if err != nil {
		return err
	}
	pub.UniqueID = id
	c.consumers.Add(id, cb, timeout)

	if err := cn.SendMsg(msg.MSG_PUB, pub); err != nil {
		if fn, ok := c.consumers.Take(id); ok {
			c.complete(fn, base.Response{Status: msg.Status_NotSent})
		}
	}
	return nil
}

// SetOnlinePlayers reports the players on this server. The list is re-sent
// after every reconnect.
func (c *Client) SetOnlinePlayers(players []string) error {
	players = append([]string(nil), players...)

	c.rwmuPlayers.Lock()
	c.localPlayers = players
	c.hasLocalPlayers = true
	c.rwmuPlayers.Unlock()

	cn := c.current()
	if cn == nil {
		return ErrNotConnected
	}
	return cn.SendMsg(msg.MSG_PLAYERS, &msg.MsgPlayers{Players: players})
}

// reportHostPlayers sends the host's players when they changed since the
// last report.
func (c *Client) reportHostPlayers() {
	players := uniqueSorted(c.cfg.host.OnlinePlayers())

	c.rwmuPlayers.Lock()
	same := c.hasLocalPlayers && equalStrings(players, c.localPlayers)
	c.rwmuPlayers.Unlock()
	if same {
		return
	}

	if err := c.SetOnlinePlayers(players); err != nil {
		c.debug("report players: %v", err)
	}
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SendCommandsToServers runs console commands on the named servers, or on
// every other online server when none is named.
func (c *Client) SendCommandsToServers(commands []string, servers ...string) error {
	return c.SendToServers(msg.CHANNEL_RUNCMD, &msg.MsgRunCmd{Commands: commands}, servers...)
}

// SendCommandsToBroker runs console commands on the broker's host.
func (c *Client) SendCommandsToBroker(commands []string) error {
	return c.SendToBroker(msg.CHANNEL_RUNCMD, &msg.MsgRunCmd{Commands: commands})
}

// SendChatToPlayer delivers messages to player, locally when the player is
// on this server and through the broker otherwise.
func (c *Client) SendChatToPlayer(player string, messages []string) error {
	if h := c.cfg.host; h != nil && h.SendChat(player, messages) {
		return nil
	}
	return c.SendToBroker(msg.CHANNEL_CHAT, &msg.MsgChat{Player: player, Messages: messages})
}

// SendChatToConsole prints messages on the broker's console.
func (c *Client) SendChatToConsole(messages []string) error {
	return c.SendToBroker(msg.CHANNEL_CHAT, &msg.MsgChat{Messages: messages})
}

// MovePlayers asks the broker to move players to server.
func (c *Client) MovePlayers(players []string, server string) error {
	return c.SendToBroker(msg.CHANNEL_MOVEPLAYERS, &msg.MsgMovePlayers{Players: players, Server: server})
}

func (c *Client) registerBuiltins(host base.Host) {
	_ = c.Handle(msg.CHANNEL_RUNCMD, func(req *base.Request) {
		cmd := &msg.MsgRunCmd{}
		if err := json.Unmarshal(req.Data, cmd); err != nil {
			nlog.Erro("%v: %v from %v: %v", c.cfg.Name, req.Channel, req.From, err)
			return
		}
		c.debug("running %v from %v", strings.Join(cmd.Commands, "; "), req.From)
		host.RunCommands(cmd.Commands)
		_ = req.Respond(nil)
	})

	_ = c.Handle(msg.CHANNEL_CHAT, func(req *base.Request) {
		chat := &msg.MsgChat{}
		if err := json.Unmarshal(req.Data, chat); err != nil {
			nlog.Erro("%v: %v from %v: %v", c.cfg.Name, req.Channel, req.From, err)
			return
		}
		host.SendChat(chat.Player, chat.Messages)
		_ = req.Respond(nil)
	})
}
