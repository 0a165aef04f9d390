package mock

import (
	"sort"
	"strings"
	"sync"

	nlog "github.com/abc463774475/my_tool/n_log"

	"github.com/abc463774475/sockexchange/server/base"
)

var _ base.Host = (*Host)(nil)

// Chat is one SendChat call a Host accepted.
type Chat struct {
	Player   string
	Messages []string
}

// Move is one MovePlayers call.
type Move struct {
	Players []string
	Server  string
}

// Host is a base.Host that logs and records every call. The binaries use it
// when no platform adapter is plugged in, tests use it to observe the
// built-in channels.
type Host struct {
	Name string

	l        sync.RWMutex
	players  map[string]string
	commands []string
	chats    []Chat
	moves    []Move
}

// NewHost 创建一个带有初始玩家的 Host
func NewHost(name string, players ...string) *Host {
	h := &Host{Name: name}
	h.SetPlayers(players...)
	return h
}

// SetPlayers replaces the players online on the host.
func (h *Host) SetPlayers(players ...string) {
	h.l.Lock()
	defer h.l.Unlock()

	h.players = make(map[string]string, len(players))
	for _, p := range players {
		h.players[strings.ToLower(p)] = p
	}
}

func (h *Host) RunCommands(commands []string) {
	h.l.Lock()
	h.commands = append(h.commands, commands...)
	h.l.Unlock()

	for _, cmd := range commands {
		nlog.Info("%v: run command %q", h.Name, cmd)
	}
}

// SendChat accepts messages for the console or an online player.
func (h *Host) SendChat(player string, messages []string) bool {
	h.l.Lock()
	defer h.l.Unlock()

	if player != "" {
		p, ok := h.players[strings.ToLower(player)]
		if !ok {
			return false
		}
		player = p
	}
	h.chats = append(h.chats, Chat{Player: player, Messages: append([]string(nil), messages...)})

	target := player
	if target == "" {
		target = "console"
	}
	for _, m := range messages {
		nlog.Info("%v: [%v] %v", h.Name, target, m)
	}
	return true
}

// MovePlayers records the move and takes the players off this host.
func (h *Host) MovePlayers(players []string, server string) {
	h.l.Lock()
	defer h.l.Unlock()

	h.moves = append(h.moves, Move{Players: append([]string(nil), players...), Server: server})
	for _, p := range players {
		delete(h.players, strings.ToLower(p))
	}
	nlog.Info("%v: move %v to %v", h.Name, players, server)
}

func (h *Host) OnlinePlayers() []string {
	h.l.RLock()
	defer h.l.RUnlock()

	ret := make([]string, 0, len(h.players))
	for _, p := range h.players {
		ret = append(ret, p)
	}
	sort.Strings(ret)
	return ret
}

func (h *Host) Commands() []string {
	h.l.RLock()
	defer h.l.RUnlock()
	return append([]string(nil), h.commands...)
}

func (h *Host) Chats() []Chat {
	h.l.RLock()
	defer h.l.RUnlock()
	return append([]Chat(nil), h.chats...)
}

func (h *Host) Moves() []Move {
	h.l.RLock()
	defer h.l.RUnlock()
	return append([]Move(nil), h.moves...)
}
