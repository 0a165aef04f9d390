package server

import (
	"time"

	"github.com/abc463774475/sockexchange/config"
	"github.com/abc463774475/sockexchange/presence"
	"github.com/abc463774475/sockexchange/server/base"
)

type options struct {
	Name     string
	Addr     string
	Password string
	Workers  int
	NodeID   int64
	Debug    bool

	// Servers is the list of known server names. When empty any name may
	// register.
	Servers        []string
	PrivateServers []string

	KeepAliveInterval     time.Duration
	PlayerUpdateInterval  time.Duration
	ResponseSweepInterval time.Duration
	ForwardTimeout        time.Duration
	RegisterTimeout       time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	// TickInterval is the time wheel resolution, derived from the other
	// intervals when zero.
	TickInterval time.Duration

	MaxConn       int
	MaxSubs       int
	MaxMsgsPerSec float64

	StatusAddr  string
	RedisURL    string
	RedisPrefix string
	Formats     map[string]string
	host        base.Host
	presence    presence.Store
}

func defaultOptions() options {
	var o options
	o.applyBrokerConfig(config.Default().Broker)
	return o
}

func (o *options) applyBrokerConfig(c config.BrokerConfig) {
	o.Name = c.Name
	o.Addr = c.Addr
	o.Password = c.Password
	o.Workers = c.Workers
	o.NodeID = c.NodeID
	o.Debug = c.Debug
	o.Servers = c.Servers
	o.PrivateServers = c.PrivateServers
	o.KeepAliveInterval = c.KeepAliveInterval
	o.PlayerUpdateInterval = c.PlayerUpdateInterval
	o.ResponseSweepInterval = c.ResponseSweepInterval
	o.ForwardTimeout = c.ForwardTimeout
	o.RegisterTimeout = c.RegisterTimeout
	o.ReadTimeout = c.ReadTimeout
	o.WriteTimeout = c.WriteTimeout
	o.MaxConn = c.MaxConn
	o.MaxSubs = c.MaxSubs
	o.MaxMsgsPerSec = c.MaxMsgsPerSec
	o.StatusAddr = c.StatusAddr
	o.RedisURL = c.Presence.RedisURL
	o.RedisPrefix = c.Presence.KeyPrefix
	o.Formats = c.Formats
}

// tick picks a time wheel resolution fine enough for the shortest interval.
func (o *options) tick() time.Duration {
	if o.TickInterval > 0 {
		return o.TickInterval
	}
	shortest := o.KeepAliveInterval
	for _, d := range []time.Duration{o.PlayerUpdateInterval, o.ResponseSweepInterval} {
		if d < shortest {
			shortest = d
		}
	}
	t := shortest / 4
	if t < 10*time.Millisecond {
		t = 10 * time.Millisecond
	}
	if t > 500*time.Millisecond {
		t = 500 * time.Millisecond
	}
	return t
}

type Option interface {
	apply(cfg *options)
}

type OptionFun func(cfg *options)

func (f OptionFun) apply(cfg *options) {
	f(cfg)
}

// WithBrokerConfig replaces every setting with the values of c. Options
// given after it still override single fields.
func WithBrokerConfig(c config.BrokerConfig) Option {
	return OptionFun(func(cfg *options) {
		cfg.applyBrokerConfig(c)
	})
}

func WithAddr(addr string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Addr = addr
	})
}

func WithName(name string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Name = name
	})
}

func WithPassword(password string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Password = password
	})
}

func WithWorkers(workers int) Option {
	return OptionFun(func(cfg *options) {
		cfg.Workers = workers
	})
}

func WithNodeID(id int64) Option {
	return OptionFun(func(cfg *options) {
		cfg.NodeID = id
	})
}

func WithDebug(debug bool) Option {
	return OptionFun(func(cfg *options) {
		cfg.Debug = debug
	})
}

func WithServers(servers ...string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Servers = servers
	})
}

func WithPrivateServers(servers ...string) Option {
	return OptionFun(func(cfg *options) {
		cfg.PrivateServers = servers
	})
}

func WithKeepAliveInterval(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.KeepAliveInterval = d
	})
}

func WithPlayerUpdateInterval(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.PlayerUpdateInterval = d
	})
}

func WithResponseSweepInterval(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.ResponseSweepInterval = d
	})
}

func WithForwardTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.ForwardTimeout = d
	})
}

func WithRegisterTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.RegisterTimeout = d
	})
}

func WithReadTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.ReadTimeout = d
	})
}

func WithWriteTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.WriteTimeout = d
	})
}

func WithTickInterval(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.TickInterval = d
	})
}

func WithMaxConn(maxConn int) Option {
	return OptionFun(func(cfg *options) {
		cfg.MaxConn = maxConn
	})
}

func WithMaxSubs(maxSubs int) Option {
	return OptionFun(func(cfg *options) {
		cfg.MaxSubs = maxSubs
	})
}

// WithMaxMsgsPerSec limits inbound frames per connection, 0 disables it.
func WithMaxMsgsPerSec(n float64) Option {
	return OptionFun(func(cfg *options) {
		cfg.MaxMsgsPerSec = n
	})
}

// WithStatusAddr enables the HTTP status API on addr.
func WithStatusAddr(addr string) Option {
	return OptionFun(func(cfg *options) {
		cfg.StatusAddr = addr
	})
}

func WithFormats(formats map[string]string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Formats = formats
	})
}

// WithHost serves the built-in channels through h.
func WithHost(h base.Host) Option {
	return OptionFun(func(cfg *options) {
		cfg.host = h
	})
}

// WithPresenceStore uses store instead of building one from the
// configuration. The server closes it on shutdown.
func WithPresenceStore(store presence.Store) Option {
	return OptionFun(func(cfg *options) {
		cfg.presence = store
	})
}
