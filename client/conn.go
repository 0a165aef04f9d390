package client

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abc463774475/msglist"
	"github.com/pkg/errors"

	"github.com/abc463774475/sockexchange/msg"
)

// closeAfterFlush is queued on writeList to close the connection once every
// frame queued before it has been written.
type closeAfterFlush struct{}

// conn is one TCP session with the broker. A Client dials a new one after
// every disconnect.
type conn struct {
	c  *Client
	nc net.Conn

	readList  *msglist.MsgList
	writeList *msglist.MsgList

	registered atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once

	lastKeepAlive atomic.Int64
	pingStart     atomic.Int64

	// err is why the session ended, set before close
	mu  sync.Mutex
	err error
}

func newConn(c *Client, nc net.Conn) *conn {
	cn := &conn{
		c:         c,
		nc:        nc,
		readList:  msglist.NewMsgList(),
		writeList: msglist.NewMsgList(),
	}
	cn.lastKeepAlive.Store(time.Now().UnixNano())
	return cn
}

// run registers and serves the session until it ends.
func (cn *conn) run() error {
	c := cn.c
	cn.SendMsg(msg.MSG_REGISTER, &msg.MsgRegister{
		Name:     c.cfg.Name,
		Password: c.cfg.Password,
		Token:    c.cfg.Token,
		Session:  c.session,
	})

	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {
		cn.readLoop()
		wg.Done()
	}()
	go func() {
		cn.writeLoop()
		wg.Done()
	}()

	cn.processMsg()
	wg.Wait()

	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.err
}

func (cn *conn) readLoop() {
	for {
		_msg, err := msg.ReadMsg(cn.nc)
		if err != nil {
			cn.fail(errors.Wrap(err, "read"))
			return
		}
		cn.readList.Push(_msg)
	}
}

func (cn *conn) writeLoop() {
	for {
		msgs := cn.writeList.Pop()
		for _, _msg := range msgs {
			switch data := _msg.(type) {
			case *msg.Msg:
				if err := cn.writeMsg(data); err != nil {
					cn.fail(errors.Wrap(err, "write"))
					return
				}
			case closeAfterFlush:
				cn.close()
				return
			case nil:
				return
			}
		}
	}
}

func (cn *conn) writeMsg(_msg *msg.Msg) error {
	data := _msg.Save()
	if wt := cn.c.cfg.WriteTimeout; wt > 0 {
		_ = cn.nc.SetWriteDeadline(time.Now().Add(wt))
	}
	_, err := cn.nc.Write(data)
	return err
}

func (cn *conn) processMsg() {
	for {
		msgs := cn.readList.Pop()
		for _, _msg := range msgs {
			// recv nil, means the connection is closed
			switch data := _msg.(type) {
			case *msg.Msg:
				cn.c.processMsgImpl(cn, data)
			case nil:
				return
			}
		}
	}
}

// SendMsg queues a frame. It fails once the session is closed.
func (cn *conn) SendMsg(msgID msg.MSGID, i interface{}) error {
	if cn.closed.Load() {
		return ErrNotConnected
	}
	_msg, err := msg.NewMsg(msgID, i)
	if err != nil {
		return err
	}
	cn.writeList.Push(_msg)
	return nil
}

func (cn *conn) ping() {
	cn.pingStart.Store(time.Now().UnixNano())
	_ = cn.SendMsg(msg.MSG_PING, nil)
}

func (cn *conn) pong() time.Duration {
	start := cn.pingStart.Load()
	if start == 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - start)
}

// fail records the first error that ended the session and closes it.
func (cn *conn) fail(err error) {
	cn.mu.Lock()
	if cn.err == nil && !cn.closed.Load() {
		cn.err = err
	}
	cn.mu.Unlock()
	cn.close()
}

// reject ends the session with err even when a read error got there first,
// since the broker closes right after a rejection.
func (cn *conn) reject(err error) {
	cn.mu.Lock()
	cn.err = err
	cn.mu.Unlock()
	cn.close()
}

func (cn *conn) close() {
	cn.closeOnce.Do(func() {
		cn.closed.Store(true)
		_ = cn.nc.Close()

		cn.readList.Push(nil)
		cn.writeList.Push(nil)
		cn.c.debug("connection to %v closed", cn.c.cfg.Addr)
	})
}

// closeGracefully closes after everything queued so far has been written.
func (cn *conn) closeGracefully() {
	if cn.closed.Load() {
		return
	}
	cn.writeList.Push(closeAfterFlush{})
}
