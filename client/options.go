package client

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/abc463774475/sockexchange/config"
	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server/base"
)

var (
	ErrNoName        = errors.New("endpoint name must not be empty")
	ErrReservedName  = errors.New("endpoint name ALL is reserved")
	ErrNoAddr        = errors.New("broker address must not be empty")
	ErrNoCredentials = errors.New("password or token required")
)

type options struct {
	Name     string
	Addr     string
	Password string
	Token    string
	Workers  int
	Debug    bool

	TickInterval         time.Duration
	KeepAliveTimeout     time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration

	host base.Host
}

func defaultOptions() options {
	var o options
	o.applyEndpointConfig(config.Default().Endpoint)
	return o
}

func (o *options) applyEndpointConfig(c config.EndpointConfig) {
	o.Name = c.Name
	o.Addr = c.BrokerAddr
	o.Password = c.Password
	o.Token = c.Token
	o.Workers = c.Workers
	o.Debug = c.Debug
	o.TickInterval = c.TickInterval
	o.KeepAliveTimeout = c.KeepAliveTimeout
	o.DialTimeout = c.DialTimeout
	o.WriteTimeout = c.WriteTimeout
	o.ReconnectDelay = c.ReconnectDelay
	o.ReconnectMaxDelay = c.ReconnectMaxDelay
	o.MaxReconnectAttempts = c.MaxReconnectAttempts
	o.RequestTimeout = c.RequestTimeout
}

func (o *options) validate() error {
	o.Name = strings.TrimSpace(o.Name)
	switch {
	case o.Name == "":
		return ErrNoName
	case strings.EqualFold(o.Name, msg.AllServers):
		return ErrReservedName
	case o.Addr == "":
		return ErrNoAddr
	case o.Password == "" && o.Token == "":
		return ErrNoCredentials
	}

	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.ReconnectMaxDelay < o.ReconnectDelay {
		o.ReconnectMaxDelay = o.ReconnectDelay
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	return nil
}

type Option interface {
	apply(cfg *options)
}

type OptionFun func(cfg *options)

func (f OptionFun) apply(cfg *options) {
	f(cfg)
}

// WithEndpointConfig replaces every setting with the values of c.
func WithEndpointConfig(c config.EndpointConfig) Option {
	return OptionFun(func(cfg *options) {
		cfg.applyEndpointConfig(c)
	})
}

// WithName 设置注册的服务器名
func WithName(name string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Name = name
	})
}

// WithAddr 设置连接的地址
func WithAddr(addr string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Addr = addr
	})
}

func WithPassword(password string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Password = password
	})
}

// WithToken registers with a token signed by the broker password instead of
// the password itself.
func WithToken(token string) Option {
	return OptionFun(func(cfg *options) {
		cfg.Token = token
	})
}

func WithWorkers(workers int) Option {
	return OptionFun(func(cfg *options) {
		cfg.Workers = workers
	})
}

func WithDebug(debug bool) Option {
	return OptionFun(func(cfg *options) {
		cfg.Debug = debug
	})
}

func WithTickInterval(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.TickInterval = d
	})
}

func WithKeepAliveTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.KeepAliveTimeout = d
	})
}

func WithDialTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.DialTimeout = d
	})
}

func WithWriteTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.WriteTimeout = d
	})
}

// WithReconnectDelay bounds the backoff between reconnect attempts.
func WithReconnectDelay(minDelay, maxDelay time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.ReconnectDelay = minDelay
		cfg.ReconnectMaxDelay = maxDelay
	})
}

// WithMaxReconnectAttempts gives up after n failed attempts in a row, 0
// retries forever.
func WithMaxReconnectAttempts(n int) Option {
	return OptionFun(func(cfg *options) {
		cfg.MaxReconnectAttempts = n
	})
}

func WithRequestTimeout(d time.Duration) Option {
	return OptionFun(func(cfg *options) {
		cfg.RequestTimeout = d
	})
}

// WithHost serves the built-in channels through h and reports its players.
func WithHost(h base.Host) Option {
	return OptionFun(func(cfg *options) {
		cfg.host = h
	})
}
