package server

import (
	"context"
	"encoding/json"
	"time"

	nlog "github.com/abc463774475/my_tool/n_log"
	"github.com/pkg/errors"

	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server/base"
	"github.com/abc463774475/sockexchange/utils/snowflake"
)

// Handle registers the broker-local handler of channel. It receives
// messages sent to the broker and messages published on the channel.
func (s *Server) Handle(channel string, h base.Handler) error {
	s.rwmHandlers.Lock()
	defer s.rwmHandlers.Unlock()

	if _, ok := s.handlers[channel]; ok {
		return errors.Wrap(ErrChannelExists, channel)
	}
	s.handlers[channel] = h
	return nil
}

func (s *Server) Unhandle(channel string) {
	s.rwmHandlers.Lock()
	delete(s.handlers, channel)
	s.rwmHandlers.Unlock()
}

func (s *Server) handler(channel string) base.Handler {
	s.rwmHandlers.RLock()
	defer s.rwmHandlers.RUnlock()
	return s.handlers[channel]
}

// dispatch runs h on the executor and reports whether it was accepted.
func (s *Server) dispatch(h base.Handler, req *base.Request) bool {
	return s.exec.Execute(func() {
		h(req)
	})
}

// Publish sends i to every endpoint subscribed to channel.
func (s *Server) Publish(channel string, i interface{}) error {
	data, err := msg.Encode(i)
	if err != nil {
		return err
	}
	s.route(nil, &msg.MsgPub{Sub: channel, Dest: msg.DestSubscribers, Data: data})
	return nil
}

// SendToServers sends i to the named servers, or to every online server
// when none (or ALL) is named.
func (s *Server) SendToServers(channel string, i interface{}, servers ...string) error {
	data, err := msg.Encode(i)
	if err != nil {
		return err
	}
	pub := &msg.MsgPub{Sub: channel, Dest: msg.DestServers, To: servers, Data: data}
	if len(servers) == 0 {
		pub.Dest = msg.DestAllServers
	}
	s.route(nil, pub)
	return nil
}

// Request sends i to server and calls cb with its response. cb gets
// NOT_SENT right away when server is not online and TIMED_OUT when no
// response arrives in time.
func (s *Server) Request(channel, server string, i interface{}, timeout time.Duration, cb base.ResponseFunc) error {
	data, err := msg.Encode(i)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.cfg.ForwardTimeout
	}

	target := s.accounts.online(server)
	if target == nil {
		task := func() {
			cb(base.Response{Status: msg.Status_NotSent})
		}
		if !s.exec.Execute(task) {
			task()
		}
		return nil
	}

	id := snowflake.GetID()
	s.consumers.Add(id, cb, timeout)
	target.SendMsg(msg.MSG_PUB, &msg.MsgPub{
		UniqueID: id,
		Sub:      channel,
		From:     s.cfg.Name,
		Dest:     msg.DestServers,
		To:       []string{target.name},
		Data:     data,
	})
	return nil
}

// ServerInfo looks a server up by name, case-insensitively.
func (s *Server) ServerInfo(name string) (msg.ServerInfo, bool) {
	return s.accounts.info(name)
}

func (s *Server) ServerInfos() []msg.ServerInfo {
	return s.accounts.infos()
}

// ServerForPlayer returns the server a player is online on.
func (s *Server) ServerForPlayer(player string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	server, ok, err := s.presence.ServerFor(ctx, player)
	if err != nil {
		nlog.Erro("ServerForPlayer %v: %v", player, err)
		return "", false
	}
	return server, ok
}

// OnlinePlayers returns the players of every server.
func (s *Server) OnlinePlayers() map[string][]string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	snap, err := s.presence.Snapshot(ctx)
	if err != nil {
		nlog.Erro("OnlinePlayers: %v", err)
		return map[string][]string{}
	}
	return snap
}

// SendCommandsToServers runs console commands on the named servers, or on
// every online server when none is named.
func (s *Server) SendCommandsToServers(commands []string, servers ...string) error {
	return s.SendToServers(msg.CHANNEL_RUNCMD, &msg.MsgRunCmd{Commands: commands}, servers...)
}

// SendChatToPlayer delivers messages to a player through the broker's host.
func (s *Server) SendChatToPlayer(player string, messages []string) bool {
	if s.cfg.host == nil {
		return false
	}
	return s.cfg.host.SendChat(player, messages)
}

// MovePlayers sends players to server through the broker's host.
func (s *Server) MovePlayers(players []string, server string) error {
	if s.cfg.host == nil {
		return ErrNoHost
	}
	info, ok := s.accounts.info(server)
	if !ok {
		return errors.Wrap(ErrServerNotFound, server)
	}
	s.cfg.host.MovePlayers(players, info.Name)
	return nil
}

// registerBuiltins serves the built-in channels through host.
func (s *Server) registerBuiltins(host base.Host) {
	_ = s.Handle(msg.CHANNEL_RUNCMD, func(req *base.Request) {
		cmd := &msg.MsgRunCmd{}
		if err := json.Unmarshal(req.Data, cmd); err != nil {
			nlog.Erro("%v from %v: %v", req.Channel, req.From, err)
			return
		}
		s.debug("running %v commands from %v", len(cmd.Commands), req.From)
		host.RunCommands(cmd.Commands)
		_ = req.Respond(nil)
	})

	_ = s.Handle(msg.CHANNEL_CHAT, func(req *base.Request) {
		chat := &msg.MsgChat{}
		if err := json.Unmarshal(req.Data, chat); err != nil {
			nlog.Erro("%v from %v: %v", req.Channel, req.From, err)
			return
		}
		if !host.SendChat(chat.Player, chat.Messages) {
			s.debug("chat from %v: player %v not found", req.From, chat.Player)
		}
		_ = req.Respond(nil)
	})

	_ = s.Handle(msg.CHANNEL_MOVEPLAYERS, func(req *base.Request) {
		move := &msg.MsgMovePlayers{}
		if err := json.Unmarshal(req.Data, move); err != nil {
			nlog.Erro("%v from %v: %v", req.Channel, req.From, err)
			return
		}
		if err := s.MovePlayers(move.Players, move.Server); err != nil {
			nlog.Erro("move players from %v: %v", req.From, err)
			return
		}
		_ = req.Respond(nil)
	})
}
