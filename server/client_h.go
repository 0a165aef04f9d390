package server

import nlog "github.com/abc463774475/my_tool/n_log"

// del releases everything the connection held once its loops are done.
func (c *client) del() {
	s := c.srv

	c.UnSub(c.subjects())

	s.removeClient(c)

	if !c.registered.Load() {
		return
	}
	// a replaced connection leaves the account to its successor
	if !s.accounts.detach(c) {
		s.debug("%v closed after being replaced", c)
		return
	}

	nlog.Info("server %v disconnected", c.name)
	s.removePlayers(c.name)
	if !s.shutdown.Load() {
		s.sendKeepAlives()
	}
}

func (c *client) UnSub(subs []string) {
	for _, subject := range subs {
		c.mu.Lock()
		sub, ok := c.subs[subject]
		if !ok {
			c.mu.Unlock()
			c.srv.debug("%v unsub %v: not subscribed", c, subject)
			continue
		}

		delete(c.subs, subject)
		if sub.sid != "" {
			delete(c.subsWithSID, sub.sid)
		}
		c.mu.Unlock()

		c.srv.sl.Remove(sub)
	}
}

func (c *client) subjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := make([]string, 0, len(c.subs))
	for k := range c.subs {
		all = append(all, k)
	}
	return all
}
