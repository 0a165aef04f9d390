package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abc463774475/msglist"
	nlog "github.com/abc463774475/my_tool/n_log"
	"golang.org/x/time/rate"

	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/utils/jwt"
)

type closeState int

const (
	clientClosed closeState = iota + 1
	writeError
	readError
	protocolError
	registerRejected
	replacedConnection
)

func (cs closeState) String() string {
	switch cs {
	case clientClosed:
		return "client closed"
	case writeError:
		return "write error"
	case readError:
		return "read error"
	case protocolError:
		return "protocol error"
	case registerRejected:
		return "register rejected"
	case replacedConnection:
		return "replaced by a new connection"
	}
	return fmt.Sprintf("closeState(%d)", int(cs))
}

// closeAfterFlush is queued on msgSend to close the connection once every
// frame queued before it has been written.
type closeAfterFlush struct {
	state closeState
}

// client is one endpoint connection accepted by the broker.
type client struct {
	id int64
	// name is the registered server name, empty until registration
	name       string
	session    string
	registered atomic.Bool
	// rejected is set once a failed registration has been answered
	rejected bool

	stats
	srv *Server

	msubs int32

	nc   net.Conn
	addr string

	subs        map[string]*subscription
	subsWithSID map[string]*subscription

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc

	msgRecv *msglist.MsgList
	msgSend *msglist.MsgList

	closed    atomic.Bool
	closeOnce sync.Once

	mu sync.Mutex
}

func newAcceptClient(id int64, conn net.Conn, s *Server) *client {
	c := &client{}
	c.id = id
	c.srv = s
	c.nc = conn
	c.addr = conn.RemoteAddr().String()
	c.msubs = int32(s.cfg.MaxSubs)

	return c
}

func (c *client) init() {
	c.subs = make(map[string]*subscription, 16)
	c.subsWithSID = make(map[string]*subscription, 16)
	c.msgRecv = msglist.NewMsgList()
	c.msgSend = msglist.NewMsgList()
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if n := c.srv.cfg.MaxMsgsPerSec; n > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(n), int(math.Max(1, math.Ceil(n))))
	}
}

func (c *client) String() string {
	if !c.registered.Load() {
		return fmt.Sprintf("conn %v(%v)", c.id, c.addr)
	}
	return fmt.Sprintf("%v(%v)", c.name, c.addr)
}

func (c *client) run() {
	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {
		c.readLoop()
		wg.Done()
	}()
	go func() {
		c.writeLoop()
		wg.Done()
	}()

	c.processMsg()
	wg.Wait()

	c.del()
}

func (c *client) readLoop() {
	s := c.srv
	for {
		timeout := s.cfg.ReadTimeout
		if !c.registered.Load() {
			timeout = s.cfg.RegisterTimeout
		}
		if timeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(timeout))
		}

		_msg, err := msg.ReadMsg(c.nc)
		if err != nil {
			if !c.closed.Load() {
				s.debug("readLoop %v: %v", c, err)
			}
			c.closeConnection(readError)
			return
		}

		n := int(msg.HeadSize) + len(_msg.Data)
		c.addIn(n)
		s.addIn(n)
		c.msgRecv.Push(_msg)
	}
}

func (c *client) writeLoop() {
	for {
		msgs := c.msgSend.Pop()
		for _, _msg := range msgs {
			switch data := _msg.(type) {
			case *msg.Msg:
				if err := c.writeMsg(data); err != nil {
					if !c.closed.Load() {
						nlog.Erro("writeLoop %v: %v", c, err)
					}
					c.closeConnection(writeError)
					return
				}
			case closeAfterFlush:
				c.closeConnection(data.state)
				return
			case nil:
				return
			}
		}
	}
}

func (c *client) writeMsg(_msg *msg.Msg) error {
	data := _msg.Save()
	if wt := c.srv.cfg.WriteTimeout; wt > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(wt))
	}
	if _, err := c.nc.Write(data); err != nil {
		return err
	}
	c.addOut(len(data))
	c.srv.addOut(len(data))
	return nil
}

func (c *client) closeConnection(state closeState) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.srv.debug("closeConnection %v: %v", c, state)
		_ = c.nc.Close()
		c.cancel()

		c.msgRecv.Push(nil)
		c.msgSend.Push(nil)
	})
}

func (c *client) processMsg() {
	for {
		msgs := c.msgRecv.Pop()
		for _, _msg := range msgs {
			switch data := _msg.(type) {
			case *msg.Msg:
				if c.closed.Load() {
					continue
				}
				if c.limiter != nil {
					if err := c.limiter.Wait(c.ctx); err != nil {
						atomic.AddInt64(&c.srv.dropped, 1)
						continue
					}
				}
				c.processMsgImpl(data)
			case nil:
				return
			}
		}
	}
}

// SendMsg queues a frame for the write loop.
func (c *client) SendMsg(msgID msg.MSGID, i interface{}) {
	_msg, err := msg.NewMsg(msgID, i)
	if err != nil {
		nlog.Erro("sendMsg %v to %v: %v", msgID, c, err)
		return
	}
	c.sendRaw(_msg)
}

func (c *client) sendRaw(_msg *msg.Msg) {
	if c.closed.Load() {
		return
	}
	c.msgSend.Push(_msg)
}

// sendResp answers a request made by this connection. c may be nil when the
// broker itself made the request.
func (c *client) sendResp(id int64, status msg.ResponseStatus, data []byte) {
	if c == nil || id == 0 {
		return
	}
	c.SendMsg(msg.MSG_RESP, &msg.MsgResp{
		UniqueID: id,
		Status:   status,
		Data:     data,
	})
}

func (c *client) processMsgImpl(_msg *msg.Msg) {
	if !c.registered.Load() {
		if c.rejected {
			return
		}
		if _msg.ID != msg.MSG_REGISTER {
			nlog.Erro("%v sent %v before registering", c, _msg.ID)
			c.closeConnection(protocolError)
			return
		}
		c.processMsgRegister(_msg)
		return
	}

	switch _msg.ID {
	case msg.MSG_PING:
		c.SendMsg(msg.MSG_PONG, nil)
	case msg.MSG_PONG:
	case msg.MSG_REGISTER:
		nlog.Erro("%v registered twice", c)
	case msg.MSG_SUB:
		c.processMsgSub(_msg)
	case msg.MSG_UNSUB:
		c.processMsgUnSub(_msg)
	case msg.MSG_PUB:
		c.processMsgPub(_msg)
	case msg.MSG_RESP:
		c.processMsgResp(_msg)
	case msg.MSG_PLAYERS:
		c.processMsgPlayers(_msg)
	default:
		nlog.Erro("%v sent unexpected %v", c, _msg.ID)
	}
}

func (c *client) processMsgRegister(_msg *msg.Msg) {
	s := c.srv
	reg := &msg.MsgRegister{}
	if err := _msg.Decode(reg); err != nil {
		nlog.Erro("processMsgRegister %v: %v", c, err)
		c.closeConnection(protocolError)
		return
	}

	name := normalizeName(reg.Name)
	if name == "" || strings.EqualFold(name, msg.AllServers) {
		c.rejectRegister(msg.RspCode_Fail, fmt.Sprintf("invalid server name %q", reg.Name))
		return
	}
	if !s.checkCredentials(name, reg) {
		nlog.Erro("%v failed to authenticate as %v", c, name)
		c.rejectRegister(msg.RspCode_BadCredentials, "bad credentials")
		return
	}

	acc, prev, code := s.accounts.attach(name, reg.Session, c)
	if code != msg.RspCode_Success {
		nlog.Erro("%v tried to register unknown server %v", c, name)
		c.rejectRegister(code, fmt.Sprintf("server %v is not configured", name))
		return
	}

	c.name = acc.name
	c.session = reg.Session
	c.registered.Store(true)

	// the pending read was armed with RegisterTimeout
	var deadline time.Time
	if rt := s.cfg.ReadTimeout; rt > 0 {
		deadline = time.Now().Add(rt)
	}
	_ = c.nc.SetReadDeadline(deadline)

	if prev != nil {
		nlog.Info("server %v registered again, closing %v", c.name, prev.addr)
		prev.closeConnection(replacedConnection)
	}

	c.SendMsg(msg.MSG_REGISTERRESP, &msg.MsgRegisterResp{
		Code:   msg.RspCode_Success,
		Broker: s.cfg.Name,
	})
	nlog.Info("server %v registered from %v", c.name, c.addr)

	s.sendKeepAlives()
	s.exec.Execute(s.sendPlayerUpdates)
}

func (c *client) rejectRegister(code msg.RSPCODE, reason string) {
	c.rejected = true
	c.SendMsg(msg.MSG_REGISTERRESP, &msg.MsgRegisterResp{
		Code:   code,
		Reason: reason,
		Broker: c.srv.cfg.Name,
	})
	c.msgSend.Push(closeAfterFlush{state: registerRejected})
}

// checkCredentials accepts the shared password or a token signed with it.
func (s *Server) checkCredentials(name string, reg *msg.MsgRegister) bool {
	if reg.Token != "" {
		if _, err := jwt.ParseServerToken(s.cfg.Password, name, reg.Token); err != nil {
			s.debug("token of %v rejected: %v", name, err)
			return false
		}
		return true
	}
	return subtle.ConstantTimeCompare([]byte(reg.Password), []byte(s.cfg.Password)) == 1
}

func (c *client) processMsgSub(_msg *msg.Msg) {
	msub := &msg.MsgSub{}
	if err := _msg.Decode(msub); err != nil {
		nlog.Erro("processMsgSub %v: %v", c, err)
		return
	}

	ack := &msg.MsgSubAck{
		Code:     msg.RspCode_Success,
		UniqueID: msub.UniqueID,
		Sub:      msub.Sub,
	}
	if msub.Sub == "" {
		ack.Code = msg.RspCode_Fail
		c.SendMsg(msg.MSG_SUBACK, ack)
		return
	}

	c.mu.Lock()
	// 这是序列号的重复检查
	if c.subsWithSID[msub.SID] != nil || c.subs[msub.Sub] != nil {
		c.mu.Unlock()
		c.SendMsg(msg.MSG_SUBACK, ack)
		return
	}
	if c.msubs > 0 && int32(len(c.subs)) >= c.msubs {
		c.mu.Unlock()
		nlog.Erro("%v exceeded %v subscriptions", c, c.msubs)
		ack.Code = msg.RspCode_Fail
		c.SendMsg(msg.MSG_SUBACK, ack)
		return
	}

	sub := &subscription{
		client:  c,
		subject: msub.Sub,
		sid:     msub.SID,
	}
	c.subs[sub.subject] = sub
	if sub.sid != "" {
		c.subsWithSID[sub.sid] = sub
	}
	c.mu.Unlock()

	c.srv.sl.Insert(sub)
	c.srv.debug("%v subscribed to %v", c, sub.subject)
	c.SendMsg(msg.MSG_SUBACK, ack)
}

func (c *client) processMsgUnSub(_msg *msg.Msg) {
	usub := &msg.MsgUnSub{}
	if err := _msg.Decode(usub); err != nil {
		nlog.Erro("processMsgUnSub %v: %v", c, err)
		return
	}

	c.UnSub(usub.Subs)
}

func (c *client) processMsgPub(_msg *msg.Msg) {
	pub := &msg.MsgPub{}
	if err := _msg.Decode(pub); err != nil {
		nlog.Erro("processMsgPub %v: %v", c, err)
		return
	}

	c.srv.route(c, pub)
}

func (c *client) processMsgResp(_msg *msg.Msg) {
	resp := &msg.MsgResp{}
	if err := _msg.Decode(resp); err != nil {
		nlog.Erro("processMsgResp %v: %v", c, err)
		return
	}

	c.srv.complete(resp)
}

func (c *client) processMsgPlayers(_msg *msg.Msg) {
	players := &msg.MsgPlayers{}
	if err := _msg.Decode(players); err != nil {
		nlog.Erro("processMsgPlayers %v: %v", c, err)
		return
	}

	// a replaced connection must not overwrite its successor's players
	if c.srv.accounts.online(c.name) != c {
		return
	}
	c.srv.setPlayers(c.name, players.Players)
}
