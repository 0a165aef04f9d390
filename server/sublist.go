package server

import (
	"sort"
	"sync"
	"sync/atomic"
)

type subscription struct {
	client  *client
	subject string
	sid     string
}

type sublistResult struct {
	// subscriptions is a slice of subscriptions that match the subject.
	subs []*subscription
}

// node level 构建出一颗字典树,
// 前期暂时用不着，后期扩展的支持wildcard 的时候需要
type node struct {
	next  *level
	psubs map[*subscription]*subscription
	plist []*subscription
}

type level struct {
	nodes map[string]*node
}

func newNode() *node {
	n := &node{
		next:  nil,
		psubs: make(map[*subscription]*subscription),
		plist: nil,
	}
	return n
}

func newLevel() *level {
	l := &level{
		nodes: make(map[string]*node),
	}
	return l
}

type sublist struct {
	sync.RWMutex
	genid uint64

	// 根节点
	root *level

	count uint32
}

func newSublist() *sublist {
	s := &sublist{
		root:  newLevel(),
		count: 0,
	}

	return s
}

// Insert adds sub. Inserting the same subscription twice is a no-op.
func (s *sublist) Insert(sub *subscription) {
	s.Lock()
	defer s.Unlock()

	n := s.root.nodes[sub.subject]
	if n == nil {
		n = newNode()
		s.root.nodes[sub.subject] = n
	}
	if _, ok := n.psubs[sub]; ok {
		return
	}

	n.psubs[sub] = sub
	n.plist = append(n.plist, sub)

	s.count++
	atomic.AddUint64(&s.genid, 1)
}

// Remove deletes sub and drops its node once nobody is left on the subject.
func (s *sublist) Remove(sub *subscription) bool {
	s.Lock()
	defer s.Unlock()

	n := s.root.nodes[sub.subject]
	if n == nil {
		return false
	}
	if _, ok := n.psubs[sub]; !ok {
		return false
	}

	delete(n.psubs, sub)
	for i, p := range n.plist {
		if p == sub {
			// plist is shared with earlier match results, never modify in place
			plist := make([]*subscription, 0, len(n.plist)-1)
			plist = append(plist, n.plist[:i]...)
			n.plist = append(plist, n.plist[i+1:]...)
			break
		}
	}
	if len(n.psubs) == 0 {
		delete(s.root.nodes, sub.subject)
	}

	s.count--
	atomic.AddUint64(&s.genid, 1)
	return true
}

func (s *sublist) match(subject string) *sublistResult {
	s.RLock()
	defer s.RUnlock()

	n := s.root.nodes[subject]
	if n == nil {
		return nil
	}

	return &sublistResult{subs: n.plist}
}

func (s *sublist) Count() uint32 {
	s.RLock()
	defer s.RUnlock()
	return s.count
}

// channels lists every subject with at least one subscriber, sorted.
func (s *sublist) channels() []string {
	s.RLock()
	all := make([]string, 0, len(s.root.nodes))
	for subject := range s.root.nodes {
		all = append(all, subject)
	}
	s.RUnlock()

	sort.Strings(all)
	return all
}
