package client

import (
	"strings"
	"time"

	nlog "github.com/abc463774475/my_tool/n_log"
	"github.com/pkg/errors"

	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server/base"
)

func (c *Client) processMsgImpl(cn *conn, _msg *msg.Msg) {
	if !cn.registered.Load() && _msg.ID != msg.MSG_REGISTERRESP {
		c.debug("%v before registration, dropped", _msg.ID)
		return
	}

	switch _msg.ID {
	case msg.MSG_PING:
		_ = cn.SendMsg(msg.MSG_PONG, nil)
	case msg.MSG_PONG:
		c.processMsgPong(cn)
	case msg.MSG_REGISTERRESP:
		c.processMsgRegisterResp(cn, _msg)
	case msg.MSG_KEEPALIVE:
		c.processMsgKeepAlive(cn, _msg)
	case msg.MSG_PUB:
		c.processMsgPub(cn, _msg)
	case msg.MSG_SUBACK:
		c.processMsgSubAck(_msg)
	case msg.MSG_RESP:
		c.processMsgResp(_msg)
	case msg.MSG_PLAYERUPDATE:
		c.processMsgPlayerUpdate(_msg)
	default:
		nlog.Erro("%v: unexpected %v from broker", c.cfg.Name, _msg.ID)
	}
}

func (c *Client) processMsgPong(cn *conn) {
	rtt := cn.pong()
	c.rtt.Store(int64(rtt))
	c.debug("rtt %v", rtt)
}

func (c *Client) processMsgRegisterResp(cn *conn, _msg *msg.Msg) {
	resp := &msg.MsgRegisterResp{}
	if err := _msg.Decode(resp); err != nil {
		cn.fail(err)
		return
	}
	if resp.Code != msg.RspCode_Success {
		cn.reject(errors.Wrapf(ErrRegistrationRejected, "%v: %v", resp.Code, resp.Reason))
		return
	}
	if cn.registered.Swap(true) {
		return
	}

	nlog.Info("%v: registered with broker %v", c.cfg.Name, resp.Broker)
	cn.lastKeepAlive.Store(time.Now().UnixNano())

	c.resubscribe(cn)

	c.rwmuPlayers.Lock()
	players, ok := c.localPlayers, c.hasLocalPlayers
	c.rwmuPlayers.Unlock()
	if ok {
		_ = cn.SendMsg(msg.MSG_PLAYERS, &msg.MsgPlayers{Players: players})
	}

	c.setState(StateConnected)
}

// resubscribe sends every subscription to a freshly registered session.
func (c *Client) resubscribe(cn *conn) {
	c.rwmuSFs.RLock()
	defer c.rwmuSFs.RUnlock()

	for ch, e := range c.sfs {
		if !e.subscribed {
			continue
		}
		_ = cn.SendMsg(msg.MSG_SUB, &msg.MsgSub{
			UniqueID: e.ackID,
			Sub:      ch,
			SID:      e.sid,
		})
	}
}

func (c *Client) processMsgKeepAlive(cn *conn, _msg *msg.Msg) {
	ka := &msg.MsgKeepAlive{}
	if err := _msg.Decode(ka); err != nil {
		nlog.Erro("%v: %v", c.cfg.Name, err)
		return
	}
	cn.lastKeepAlive.Store(time.Now().UnixNano())

	c.rwmuServers.Lock()
	c.servers = ka.Servers
	c.rwmuServers.Unlock()
}

func (c *Client) processMsgPlayerUpdate(_msg *msg.Msg) {
	update := &msg.MsgPlayerUpdate{}
	if err := _msg.Decode(update); err != nil {
		nlog.Erro("%v: %v", c.cfg.Name, err)
		return
	}

	index := make(map[string]string)
	for server, players := range update.Servers {
		for _, p := range players {
			index[strings.ToLower(p)] = server
		}
	}
	if update.Servers == nil {
		update.Servers = make(map[string][]string)
	}

	c.rwmuServers.Lock()
	c.players = update.Servers
	c.playerIndex = index
	c.rwmuServers.Unlock()
}

func (c *Client) processMsgPub(cn *conn, _msg *msg.Msg) {
	pub := &msg.MsgPub{}
	if err := _msg.Decode(pub); err != nil {
		nlog.Erro("%v: %v", c.cfg.Name, err)
		return
	}

	c.rwmuSFs.RLock()
	e, ok := c.sfs[pub.Sub]
	c.rwmuSFs.RUnlock()
	if !ok {
		c.debug("no handler for %v from %v", pub.Sub, pub.From)
		c.respond(cn, pub.UniqueID, msg.Status_NotSent, nil)
		return
	}

	var respond func([]byte)
	if id := pub.UniqueID; id != 0 {
		respond = func(data []byte) {
			c.respond(cn, id, msg.Status_OK, data)
		}
	}
	h := e.handler
	req := base.NewRequest(pub.Sub, pub.From, pub.Data, respond)
	if !c.exec.Execute(func() { h(req) }) {
		c.respond(cn, pub.UniqueID, msg.Status_NotSent, nil)
	}
}

func (c *Client) respond(cn *conn, id int64, status msg.ResponseStatus, data []byte) {
	if id == 0 {
		return
	}
	if err := cn.SendMsg(msg.MSG_RESP, &msg.MsgResp{UniqueID: id, Status: status, Data: data}); err != nil {
		c.debug("response %v lost: %v", id, err)
	}
}

func (c *Client) processMsgSubAck(_msg *msg.Msg) {
	suback := &msg.MsgSubAck{}
	if err := _msg.Decode(suback); err != nil {
		nlog.Erro("%v: %v", c.cfg.Name, err)
		return
	}
	if suback.Code != msg.RspCode_Success {
		nlog.Erro("%v: broker refused subscription to %v: %v", c.cfg.Name, suback.Sub, suback.Code)
	}

	c.rwmuSFs.Lock()
	if e, ok := c.sfs[suback.Sub]; ok && e.ackID == suback.UniqueID {
		e.ackID = 0
	}
	c.rwmuSFs.Unlock()

	if suback.UniqueID == 0 {
		return
	}
	c.rwmuSAck.Lock()
	subackf, ok := c.sackfuns[suback.UniqueID]
	if !ok {
		c.rwmuSAck.Unlock()
		return
	}
	delete(c.sackfuns, suback.UniqueID)
	c.rwmuSAck.Unlock()

	subackf(suback)
}

func (c *Client) processMsgResp(_msg *msg.Msg) {
	resp := &msg.MsgResp{}
	if err := _msg.Decode(resp); err != nil {
		nlog.Erro("%v: %v", c.cfg.Name, err)
		return
	}

	fn, ok := c.consumers.Take(resp.UniqueID)
	if !ok {
		c.debug("response %v arrived after its request expired", resp.UniqueID)
		return
	}
	c.complete(fn, base.Response{Status: resp.Status, Data: resp.Data})
}
