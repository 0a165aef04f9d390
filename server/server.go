package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nlog "github.com/abc463774475/my_tool/n_log"
	"github.com/abc463774475/timer/timewheel"
	"github.com/pkg/errors"

	"github.com/abc463774475/sockexchange/config"
	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/presence"
	"github.com/abc463774475/sockexchange/server/base"
	"github.com/abc463774475/sockexchange/utils"
	"github.com/abc463774475/sockexchange/utils/executor"
	"github.com/abc463774475/sockexchange/utils/snowflake"
)

const shutdownDrainTimeout = 10 * time.Second

var (
	ErrNoPassword     = errors.New("broker password must not be empty")
	ErrChannelExists  = errors.New("channel already has a handler")
	ErrServerNotFound = errors.New("server not found")
	ErrNoHost         = errors.New("no host configured")
	ErrNotRunning     = errors.New("server not running")
)

// Server is the broker every endpoint connects to.
type Server struct {
	cfg options

	listener net.Listener

	stats

	running  atomic.Bool
	started  atomic.Bool
	shutdown atomic.Bool

	lock    sync.RWMutex
	clients map[int64]*client
	wg      sync.WaitGroup

	accounts *accounts
	sl       *sublist

	rwmHandlers sync.RWMutex
	handlers    map[string]base.Handler

	consumers *base.Consumers
	exec      *executor.Executor
	tw        *timewheel.TimeWheel
	presence  presence.Store
	formats   utils.FormatMap

	status *http.Server

	shutdownOnce     sync.Once
	shutdownComplete chan struct{}
}

// NewServer builds a broker. Nothing is bound until Start.
func NewServer(options ...Option) (*Server, error) {
	s := &Server{cfg: defaultOptions()}
	for _, opt := range options {
		opt.apply(&s.cfg)
	}
	if s.cfg.Password == "" {
		return nil, ErrNoPassword
	}
	if s.cfg.Workers < 1 {
		s.cfg.Workers = 1
	}

	if err := snowflake.Ensure(s.cfg.NodeID); err != nil {
		return nil, err
	}

	s.clients = make(map[int64]*client)
	s.accounts = newAccounts(s.cfg.Servers, s.cfg.PrivateServers)
	s.sl = newSublist()
	s.handlers = make(map[string]base.Handler)
	s.consumers = base.NewConsumers()
	s.exec = executor.New(s.cfg.Name, s.cfg.Workers)
	s.tw = timewheel.NewTimeWheel(s.cfg.tick(), 100)
	s.shutdownComplete = make(chan struct{})

	s.formats = utils.NewFormatMap(config.DefaultFormats())
	s.formats.Merge(s.cfg.Formats)

	s.presence = s.cfg.presence
	if s.presence == nil {
		if s.cfg.RedisURL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			store, err := presence.NewRedisStore(ctx, s.cfg.RedisURL, s.cfg.RedisPrefix)
			if err != nil {
				return nil, err
			}
			s.presence = store
		} else {
			s.presence = presence.NewMemoryStore()
		}
	}

	if s.cfg.host != nil {
		s.registerBuiltins(s.cfg.host)
	}

	return s, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.shutdown.Load() {
		return ErrNotRunning
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}

	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %v", s.cfg.Addr)
	}
	s.listener = l

	if s.cfg.StatusAddr != "" {
		if err := s.startStatus(); err != nil {
			_ = l.Close()
			return err
		}
	}

	s.running.Store(true)
	nlog.Info("start server %v on %v", s.cfg.Name, l.Addr())

	s.tw.Start()
	s.tw.Add(s.cfg.KeepAliveInterval, -1, func() {
		s.sendKeepAlives()
	}, nil)
	s.tw.Add(s.cfg.PlayerUpdateInterval, -1, func() {
		s.exec.Execute(s.sendPlayerUpdates)
	}, nil)
	s.tw.Add(s.cfg.ResponseSweepInterval, -1, func() {
		s.checkForConsumerTimeouts()
	}, nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.startClientListener()
	}()
	return nil
}

// Addr is the bound listener address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Name() string {
	return s.cfg.Name
}

func (s *Server) startClientListener() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			nlog.Erro("accept: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if s.cfg.MaxConn > 0 && s.numClients() >= s.cfg.MaxConn {
			nlog.Erro("max connections %v reached, refusing %v", s.cfg.MaxConn, conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		s.acceptOneConnection(conn)
	}
}

func (s *Server) acceptOneConnection(conn net.Conn) {
	id := snowflake.GetID()
	c := newAcceptClient(id, conn, s)
	c.init()

	s.lock.Lock()
	if !s.running.Load() {
		s.lock.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[id] = c
	s.wg.Add(1)
	s.lock.Unlock()

	s.debug("accepted %v", c)
	go func() {
		defer s.wg.Done()
		c.run()
	}()
}

func (s *Server) removeClient(c *client) {
	s.lock.Lock()
	delete(s.clients, c.id)
	s.lock.Unlock()
}

func (s *Server) numClients() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.clients)
}

// Shutdown stops the broker: handlers are drained first, then every
// connection is closed and outstanding requests fail with NOT_SENT.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.shutdown.Store(true)
		nlog.Info("shutting down server %v", s.cfg.Name)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
		if err := s.exec.Shutdown(ctx); err != nil {
			nlog.Erro("executor drain: %v", err)
		}
		cancel()

		s.lock.Lock()
		s.running.Store(false)
		clients := make([]*client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.lock.Unlock()

		if s.listener != nil {
			_ = s.listener.Close()
		}
		for _, c := range clients {
			c.closeConnection(clientClosed)
		}
		s.wg.Wait()

		if s.started.Load() {
			s.tw.Stop()
		}

		for _, fn := range s.consumers.Drain() {
			fn(base.Response{Status: msg.Status_NotSent})
		}

		if err := s.presence.Close(); err != nil {
			nlog.Erro("close presence store: %v", err)
		}

		if s.status != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
			if err := s.status.Shutdown(ctx); err != nil {
				nlog.Erro("status shutdown: %v", err)
			}
			cancel()
		}

		nlog.Info("server %v stopped", s.cfg.Name)
		close(s.shutdownComplete)
	})
}

func (s *Server) WaitForShutdown() {
	<-s.shutdownComplete
}

func (s *Server) debug(format string, args ...interface{}) {
	if s.cfg.Debug {
		nlog.Debug(format, args...)
	}
}

// sendKeepAlives tells every registered endpoint which servers exist.
func (s *Server) sendKeepAlives() {
	m, err := msg.NewMsg(msg.MSG_KEEPALIVE, &msg.MsgKeepAlive{Servers: s.accounts.infos()})
	if err != nil {
		nlog.Erro("keepalive: %v", err)
		return
	}
	for _, c := range s.accounts.onlineClients(nil) {
		c.sendRaw(m)
	}
}

func (s *Server) sendPlayerUpdates() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PlayerUpdateInterval)
	defer cancel()

	snap, err := s.presence.Snapshot(ctx)
	if err != nil {
		nlog.Erro("presence snapshot: %v", err)
		return
	}
	m, err := msg.NewMsg(msg.MSG_PLAYERUPDATE, &msg.MsgPlayerUpdate{Servers: snap})
	if err != nil {
		nlog.Erro("player update: %v", err)
		return
	}
	for _, c := range s.accounts.onlineClients(nil) {
		c.sendRaw(m)
	}
}

func (s *Server) setPlayers(server string, players []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PlayerUpdateInterval)
	defer cancel()
	if err := s.presence.SetPlayers(ctx, server, players); err != nil {
		nlog.Erro("set players of %v: %v", server, err)
	}
}

func (s *Server) removePlayers(server string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PlayerUpdateInterval)
	defer cancel()
	if err := s.presence.RemoveServer(ctx, server); err != nil {
		nlog.Erro("remove players of %v: %v", server, err)
	}
}

// checkForConsumerTimeouts completes every expired request with TIMED_OUT.
func (s *Server) checkForConsumerTimeouts() {
	for _, fn := range s.consumers.Expire(time.Now()) {
		fn := fn
		task := func() {
			fn(base.Response{Status: msg.Status_TimedOut})
		}
		if !s.exec.Execute(task) {
			task()
		}
	}
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
