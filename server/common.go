package server

import (
	"sync/atomic"
)

// Make sure all are 64bits for atomic use
type stats struct {
	inMsgs   int64
	outMsgs  int64
	inBytes  int64
	outBytes int64
	// dropped counts frames rejected by the rate limiter or routed nowhere
	dropped int64
}

func (st *stats) addIn(bytes int) {
	atomic.AddInt64(&st.inMsgs, 1)
	atomic.AddInt64(&st.inBytes, int64(bytes))
}

func (st *stats) addOut(bytes int) {
	atomic.AddInt64(&st.outMsgs, 1)
	atomic.AddInt64(&st.outBytes, int64(bytes))
}

// Stats is a point in time view of the broker counters.
type Stats struct {
	Name             string `json:"name"`
	Connections      int    `json:"connections"`
	OnlineServers    int    `json:"onlineServers"`
	Subscriptions    uint32 `json:"subscriptions"`
	Channels         int    `json:"channels"`
	PendingResponses int    `json:"pendingResponses"`
	PendingTasks     int64  `json:"pendingTasks"`
	InMsgs           int64  `json:"inMsgs"`
	OutMsgs          int64  `json:"outMsgs"`
	InBytes          int64  `json:"inBytes"`
	OutBytes         int64  `json:"outBytes"`
	Dropped          int64  `json:"dropped"`
}

func (s *Server) Stats() Stats {
	s.lock.RLock()
	conns := len(s.clients)
	s.lock.RUnlock()

	return Stats{
		Name:             s.cfg.Name,
		Connections:      conns,
		OnlineServers:    len(s.accounts.onlineClients(nil)),
		Subscriptions:    s.sl.Count(),
		Channels:         len(s.sl.channels()),
		PendingResponses: s.consumers.Len(),
		PendingTasks:     s.exec.Pending(),
		InMsgs:           atomic.LoadInt64(&s.inMsgs),
		OutMsgs:          atomic.LoadInt64(&s.outMsgs),
		InBytes:          atomic.LoadInt64(&s.inBytes),
		OutBytes:         atomic.LoadInt64(&s.outBytes),
		Dropped:          atomic.LoadInt64(&s.dropped),
	}
}
