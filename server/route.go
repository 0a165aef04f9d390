package server

import (
	"strings"

	nlog "github.com/abc463774475/my_tool/n_log"

	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server/base"
	"github.com/abc463774475/sockexchange/utils/snowflake"
)

// route delivers a message published by from. from is nil for messages the
// broker sends itself.
func (s *Server) route(from *client, pub *msg.MsgPub) {
	if from != nil {
		pub.From = from.name
	} else {
		pub.From = s.cfg.Name
	}

	switch pub.Dest {
	case msg.DestSubscribers:
		s.deliverToSubscribers(from, pub)
	case msg.DestServers:
		if msg.IsAllServers(pub.To) {
			s.deliverToAll(from, pub)
			return
		}
		s.deliverToServers(from, pub)
	case msg.DestAllServers:
		s.deliverToAll(from, pub)
	case msg.DestBroker:
		s.deliverToBroker(from, pub)
	default:
		nlog.Erro("route: %v sent %v with unknown destination %v", from, pub.Sub, pub.Dest)
		from.sendResp(pub.UniqueID, msg.Status_NotSent, nil)
	}
}

// deliverToSubscribers fans out to every subscriber but the sender. Fan-out
// carries no responses.
func (s *Server) deliverToSubscribers(from *client, pub *msg.MsgPub) {
	if pub.UniqueID != 0 {
		from.sendResp(pub.UniqueID, msg.Status_NotSent, nil)
		pub.UniqueID = 0
	}

	delivered := 0
	if r := s.sl.match(pub.Sub); r != nil {
		for _, sub := range r.subs {
			if sub.client == from {
				continue
			}
			sub.client.SendMsg(msg.MSG_PUB, pub)
			delivered++
		}
	}

	if from != nil {
		if h := s.handler(pub.Sub); h != nil {
			s.dispatch(h, base.NewRequest(pub.Sub, pub.From, pub.Data, nil))
			delivered++
		}
	}

	if delivered == 0 {
		s.debug("no subscriber for %v from %v", pub.Sub, pub.From)
	}
}

// deliverToServers sends to each named server. A request may name exactly
// one server; its response is relayed back under the requester's id.
func (s *Server) deliverToServers(from *client, pub *msg.MsgPub) {
	if pub.UniqueID != 0 {
		if len(pub.To) != 1 {
			s.debug("request on %v from %v names %v servers", pub.Sub, pub.From, len(pub.To))
			from.sendResp(pub.UniqueID, msg.Status_NotSent, nil)
			return
		}
		target := s.accounts.online(pub.To[0])
		if target == nil {
			s.debug("request on %v from %v: %v not online", pub.Sub, pub.From, pub.To[0])
			from.sendResp(pub.UniqueID, msg.Status_NotSent, nil)
			return
		}

		originID := pub.UniqueID
		fwd := *pub
		fwd.UniqueID = snowflake.GetID()
		s.consumers.Add(fwd.UniqueID, func(resp base.Response) {
			from.sendResp(originID, resp.Status, resp.Data)
		}, s.cfg.ForwardTimeout)
		target.SendMsg(msg.MSG_PUB, &fwd)
		return
	}

	seen := make(map[string]struct{}, len(pub.To))
	for _, name := range pub.To {
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		target := s.accounts.online(name)
		if target == nil {
			s.debug("drop %v from %v: %v not online", pub.Sub, pub.From, name)
			continue
		}
		target.SendMsg(msg.MSG_PUB, pub)
	}
}

// deliverToAll sends to every online server except the sender.
func (s *Server) deliverToAll(from *client, pub *msg.MsgPub) {
	if pub.UniqueID != 0 {
		from.sendResp(pub.UniqueID, msg.Status_NotSent, nil)
		pub.UniqueID = 0
	}
	pub.To = nil

	m, err := msg.NewMsg(msg.MSG_PUB, pub)
	if err != nil {
		nlog.Erro("deliverToAll %v: %v", pub.Sub, err)
		return
	}
	for _, c := range s.accounts.onlineClients(from) {
		c.sendRaw(m)
	}
}

func (s *Server) deliverToBroker(from *client, pub *msg.MsgPub) {
	h := s.handler(pub.Sub)
	if h == nil {
		s.debug("no broker handler for %v from %v", pub.Sub, pub.From)
		from.sendResp(pub.UniqueID, msg.Status_NotSent, nil)
		return
	}

	var respond func([]byte)
	if id := pub.UniqueID; id != 0 {
		respond = func(data []byte) {
			from.sendResp(id, msg.Status_OK, data)
		}
	}
	if !s.dispatch(h, base.NewRequest(pub.Sub, pub.From, pub.Data, respond)) {
		from.sendResp(pub.UniqueID, msg.Status_NotSent, nil)
	}
}

// complete hands a response to the consumer waiting for it.
func (s *Server) complete(resp *msg.MsgResp) {
	fn, ok := s.consumers.Take(resp.UniqueID)
	if !ok {
		s.debug("response %v arrived after its consumer expired", resp.UniqueID)
		return
	}

	task := func() {
		fn(base.Response{Status: resp.Status, Data: resp.Data})
	}
	if !s.exec.Execute(task) {
		task()
	}
}
