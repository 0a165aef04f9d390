package client

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nlog "github.com/abc463774475/my_tool/n_log"
	"github.com/abc463774475/timer/timewheel"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server/base"
	"github.com/abc463774475/sockexchange/utils"
	"github.com/abc463774475/sockexchange/utils/executor"
	"github.com/abc463774475/sockexchange/utils/snowflake"
)

const closeDrainTimeout = 10 * time.Second

var (
	ErrNotConnected         = errors.New("not connected to broker")
	ErrRegistrationRejected = errors.New("registration rejected by broker")
	ErrReconnectFailed      = errors.New("gave up reconnecting to broker")
	ErrClosed               = errors.New("client closed")
	ErrAlreadySubscribed    = errors.New("channel already has a handler")
	ErrNotSubscribed        = errors.New("channel has no handler")
)

// ConnectionState is where a Client is in its connection lifecycle.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	// StateConnected means connected and registered.
	StateConnected
	StateReconnecting
	// StateClosed is final.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type subEntry struct {
	handler base.Handler
	// subscribed is false for channels that only take targeted messages
	subscribed bool
	sid        string
	// ackID is the pending SUBACK id, 0 once acknowledged
	ackID int64
}

// Client is an endpoint: a game server connected to the broker.
type Client struct {
	cfg     options
	session string
	ids     *snowflake.SonyGenerator

	ctx    context.Context
	cancel context.CancelFunc

	stateMu sync.Mutex
	state   ConnectionState
	stateCh chan struct{}
	err     error

	rwmuConn sync.RWMutex
	conn     *conn

	sfs     map[string]*subEntry
	rwmuSFs sync.RWMutex

	sackfuns map[int64]base.SUBACKFUN
	rwmuSAck sync.RWMutex

	sid uint64

	consumers *base.Consumers
	exec      *executor.Executor
	tw        *timewheel.TimeWheel

	rwmuServers sync.RWMutex
	servers     []msg.ServerInfo
	players     map[string][]string
	playerIndex map[string]string

	rwmuPlayers     sync.Mutex
	localPlayers    []string
	hasLocalPlayers bool

	rtt atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
}

// NewClient validates the options and starts connecting in the background.
func NewClient(options ...Option) (*Client, error) {
	cfg := defaultOptions()
	for _, o := range options {
		o.apply(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ids, err := snowflake.NewSonyGenerator(cfg.Name)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		session:     utils.NewSessionID(),
		ids:         ids,
		stateCh:     make(chan struct{}),
		sfs:         make(map[string]*subEntry),
		sackfuns:    make(map[int64]base.SUBACKFUN),
		consumers:   base.NewConsumers(),
		exec:        executor.New(cfg.Name, cfg.Workers),
		tw:          timewheel.NewTimeWheel(cfg.TickInterval, 100),
		players:     make(map[string][]string),
		playerIndex: make(map[string]string),
		done:        make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if cfg.host != nil {
		c.registerBuiltins(cfg.host)
	}

	c.tw.Start()
	c.tw.Add(cfg.TickInterval, -1, func() {
		c.tick()
	}, nil)

	go c.run()

	return c, nil
}

func (c *Client) Name() string {
	return c.cfg.Name
}

func (c *Client) debug(format string, args ...interface{}) {
	if c.cfg.Debug {
		nlog.Debug(c.cfg.Name+": "+format, args...)
	}
}

func (c *Client) State() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Err is why the client closed itself, nil while it runs or after Close.
func (c *Client) Err() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.err
}

func (c *Client) setState(s ConnectionState) {
	c.stateMu.Lock()
	if c.state == s || c.state == StateClosed {
		c.stateMu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	close(c.stateCh)
	c.stateCh = make(chan struct{})
	c.stateMu.Unlock()

	nlog.Info("%v: %v -> %v", c.cfg.Name, prev, s)
}

// WaitConnected blocks until the client is registered with the broker.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.stateMu.Lock()
		state, ch, err := c.state, c.stateCh, c.err
		c.stateMu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			if err != nil {
				return err
			}
			return ErrClosed
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RTT is the round trip time of the last ping.
func (c *Client) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectDelay
	bo.MaxInterval = c.cfg.ReconnectMaxDelay
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	bo.Reset()

	if c.cfg.MaxReconnectAttempts > 0 {
		return backoff.WithMaxRetries(bo, uint64(c.cfg.MaxReconnectAttempts))
	}
	return bo
}

func (c *Client) run() {
	defer c.cleanup()

	bo := c.newBackOff()
	c.setState(StateConnecting)
	for {
		cn, err := c.dial()
		if err == nil {
			c.rwmuConn.Lock()
			c.conn = cn
			c.rwmuConn.Unlock()
			if c.ctx.Err() != nil {
				cn.close()
			}

			err = cn.run()

			c.rwmuConn.Lock()
			c.conn = nil
			c.rwmuConn.Unlock()

			if cn.registered.Load() {
				bo.Reset()
			}
		}

		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrRegistrationRejected) {
			nlog.Erro("%v: %v", c.cfg.Name, err)
			c.stop(err)
			return
		}

		c.setState(StateReconnecting)
		d := bo.NextBackOff()
		if d == backoff.Stop {
			nlog.Erro("%v: %v after %v attempts: %v", c.cfg.Name, ErrReconnectFailed, c.cfg.MaxReconnectAttempts, err)
			c.stop(errors.Wrap(ErrReconnectFailed, errorString(err)))
			return
		}
		nlog.Info("%v: connection lost (%v), retrying in %v", c.cfg.Name, err, d)

		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return
		}
	}
}

func errorString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}

func (c *Client) dial() (*conn, error) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	nc, err := d.DialContext(c.ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %v", c.cfg.Addr)
	}
	c.debug("connected to %v", c.cfg.Addr)
	return newConn(c, nc), nil
}

// current returns the registered session, nil while disconnected.
func (c *Client) current() *conn {
	c.rwmuConn.RLock()
	cn := c.conn
	c.rwmuConn.RUnlock()

	if cn == nil || !cn.registered.Load() || cn.closed.Load() {
		return nil
	}
	return cn
}

// tick runs every TickInterval: keep-alive watchdog, ping, request expiry
// and player reporting.
func (c *Client) tick() {
	c.expireRequests()

	c.rwmuConn.RLock()
	cn := c.conn
	c.rwmuConn.RUnlock()
	if cn == nil || cn.closed.Load() {
		return
	}

	if c.cfg.KeepAliveTimeout > 0 {
		last := time.Unix(0, cn.lastKeepAlive.Load())
		if time.Since(last) > c.cfg.KeepAliveTimeout {
			nlog.Erro("%v: no keep-alive from broker for %v", c.cfg.Name, time.Since(last).Truncate(time.Millisecond))
			cn.fail(errors.New("keep-alive timeout"))
			return
		}
	}
	if !cn.registered.Load() {
		return
	}

	cn.ping()
	if c.cfg.host != nil {
		c.reportHostPlayers()
	}
}

func (c *Client) expireRequests() {
	for _, fn := range c.consumers.Expire(time.Now()) {
		c.complete(fn, base.Response{Status: msg.Status_TimedOut})
	}
}

// complete runs a response callback on the executor.
func (c *Client) complete(fn base.ResponseFunc, resp base.Response) {
	task := func() {
		fn(resp)
	}
	if !c.exec.Execute(task) {
		task()
	}
}

// stop ends the client. reason is nil for Close.
func (c *Client) stop(reason error) {
	c.stopOnce.Do(func() {
		c.stateMu.Lock()
		c.err = reason
		c.stateMu.Unlock()
		c.setState(StateClosed)

		if cn := c.current(); cn != nil {
			if subs := c.subscribedChannels(); len(subs) > 0 {
				_ = cn.SendMsg(msg.MSG_UNSUB, &msg.MsgUnSub{Subs: subs})
			}
			cn.closeGracefully()
		}
		c.cancel()

		c.rwmuConn.RLock()
		cn := c.conn
		c.rwmuConn.RUnlock()
		if cn != nil && !cn.registered.Load() {
			cn.close()
		}
	})
}

func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), closeDrainTimeout)
	defer cancel()
	if err := c.exec.Shutdown(ctx); err != nil {
		nlog.Erro("%v: executor drain: %v", c.cfg.Name, err)
	}
	c.tw.Stop()

	for _, fn := range c.consumers.Drain() {
		fn(base.Response{Status: msg.Status_NotSent})
	}
	close(c.done)
}

// Close unsubscribes, disconnects and waits for running handlers. Pending
// requests complete with NOT_SENT. It must not be called from a handler.
func (c *Client) Close() error {
	c.stop(nil)
	<-c.done
	return nil
}

// Done is closed once the client has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) subscribedChannels() []string {
	c.rwmuSFs.RLock()
	defer c.rwmuSFs.RUnlock()

	subs := make([]string, 0, len(c.sfs))
	for ch, e := range c.sfs {
		if e.subscribed {
			subs = append(subs, ch)
		}
	}
	sort.Strings(subs)
	return subs
}

// ServerInfos is the server list of the last keep-alive.
func (c *Client) ServerInfos() []msg.ServerInfo {
	c.rwmuServers.RLock()
	defer c.rwmuServers.RUnlock()
	return append([]msg.ServerInfo(nil), c.servers...)
}

func (c *Client) ServerInfo(name string) (msg.ServerInfo, bool) {
	c.rwmuServers.RLock()
	defer c.rwmuServers.RUnlock()

	for _, info := range c.servers {
		if strings.EqualFold(info.Name, name) {
			return info, true
		}
	}
	return msg.ServerInfo{}, false
}

// OnlinePlayers is the last player snapshot broadcast by the broker.
func (c *Client) OnlinePlayers() map[string][]string {
	c.rwmuServers.RLock()
	defer c.rwmuServers.RUnlock()

	ret := make(map[string][]string, len(c.players))
	for server, players := range c.players {
		ret[server] = append([]string(nil), players...)
	}
	return ret
}

func (c *Client) ServerForPlayer(player string) (string, bool) {
	c.rwmuServers.RLock()
	defer c.rwmuServers.RUnlock()

	server, ok := c.playerIndex[strings.ToLower(player)]
	return server, ok
}
