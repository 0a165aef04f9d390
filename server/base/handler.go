package base

import (
	"sync"

	"github.com/abc463774475/sockexchange/msg"
)

type (
	// Handler consumes a message received on a channel.
	Handler func(req *Request)
	// SUBACKFUN is called once the broker acknowledged a subscription.
	SUBACKFUN func(_msg *msg.MsgSubAck)
	// ResponseFunc receives the outcome of a request.
	ResponseFunc func(resp Response)
)

type Response struct {
	Status msg.ResponseStatus
	Data   []byte
}

func (r Response) IsOK() bool {
	return r.Status.IsOK()
}

// Request is one message delivered to a Handler.
type Request struct {
	Channel string
	From    string
	Data    []byte

	once    sync.Once
	respond func(data []byte)
}

// NewRequest builds a Request. respond may be nil when the sender did not
// ask for a response.
func NewRequest(channel, from string, data []byte, respond func(data []byte)) *Request {
	return &Request{
		Channel: channel,
		From:    from,
		Data:    data,
		respond: respond,
	}
}

// WantsResponse reports whether the sender waits for Respond.
func (r *Request) WantsResponse() bool {
	return r.respond != nil
}

// Respond answers the request; only the first call has an effect and it is
// a no-op when no response was asked for.
func (r *Request) Respond(i interface{}) error {
	if r.respond == nil {
		return nil
	}
	data, err := msg.Encode(i)
	if err != nil {
		return err
	}
	r.once.Do(func() {
		r.respond(data)
	})
	return nil
}
