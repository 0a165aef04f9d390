package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abc463774475/sockexchange/msg"
)

// Account is one server name known to the broker. It outlives the
// connections registered under it, so its info stays visible while offline.
type Account struct {
	name    string
	private bool
	// known is set for names from the configured server list
	known bool

	conn       *client
	session    string
	registered time.Time
}

func (a *Account) info() msg.ServerInfo {
	return msg.ServerInfo{
		Name:    a.name,
		Online:  a.conn != nil,
		Private: a.private,
	}
}

type accounts struct {
	rwmu sync.RWMutex
	// keyed by lower case name
	m map[string]*Account
	// closed to unknown names when the configured list is not empty
	closed  bool
	private map[string]struct{}
}

func newAccounts(known, private []string) *accounts {
	as := &accounts{
		m:       make(map[string]*Account),
		private: make(map[string]struct{}),
	}
	for _, name := range private {
		as.private[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range known {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		as.closed = true
		as.m[strings.ToLower(name)] = &Account{
			name:    name,
			private: as.isPrivate(name),
			known:   true,
		}
	}
	return as
}

func (as *accounts) isPrivate(name string) bool {
	_, ok := as.private[strings.ToLower(name)]
	return ok
}

// attach binds c to the account called name. It returns the connection that
// was registered under the name before, which the caller must close.
func (as *accounts) attach(name, session string, c *client) (*Account, *client, msg.RSPCODE) {
	key := strings.ToLower(name)

	as.rwmu.Lock()
	defer as.rwmu.Unlock()

	a := as.m[key]
	if a == nil {
		if as.closed {
			return nil, nil, msg.RspCode_UnknownServer
		}
		a = &Account{name: name, private: as.isPrivate(name)}
		as.m[key] = a
	}

	prev := a.conn
	a.conn = c
	a.session = session
	a.registered = time.Now()
	return a, prev, msg.RspCode_Success
}

// detach unbinds c and reports whether c was still the account's connection.
func (as *accounts) detach(c *client) bool {
	as.rwmu.Lock()
	defer as.rwmu.Unlock()

	a := as.m[strings.ToLower(c.name)]
	if a == nil || a.conn != c {
		return false
	}
	a.conn = nil
	a.session = ""
	return true
}

func (as *accounts) online(name string) *client {
	as.rwmu.RLock()
	defer as.rwmu.RUnlock()

	if a := as.m[strings.ToLower(name)]; a != nil {
		return a.conn
	}
	return nil
}

// onlineClients returns every registered connection except skip.
func (as *accounts) onlineClients(skip *client) []*client {
	as.rwmu.RLock()
	defer as.rwmu.RUnlock()

	all := make([]*client, 0, len(as.m))
	for _, a := range as.m {
		if a.conn == nil || a.conn == skip {
			continue
		}
		all = append(all, a.conn)
	}
	return all
}

func (as *accounts) info(name string) (msg.ServerInfo, bool) {
	as.rwmu.RLock()
	defer as.rwmu.RUnlock()

	a := as.m[strings.ToLower(name)]
	if a == nil {
		return msg.ServerInfo{}, false
	}
	return a.info(), true
}

// infos lists every account sorted by name.
func (as *accounts) infos() []msg.ServerInfo {
	as.rwmu.RLock()
	all := make([]msg.ServerInfo, 0, len(as.m))
	for _, a := range as.m {
		all = append(all, a.info())
	}
	as.rwmu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
	})
	return all
}
