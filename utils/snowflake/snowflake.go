package snowflake

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
)

const (
	MaxNodeID = 1024
)

var (
	NodeID int64 = 1
	Node   *snowflake.Node

	mu sync.Mutex
)

// Init replaces the node. The current node stays in use when nodeID is out
// of range.
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return errors.Wrapf(err, "snowflake node %v", nodeID)
	}
	NodeID = nodeID
	Node = n
	return nil
}

// Ensure initialises the node unless it already runs with nodeID.
func Ensure(nodeID int64) error {
	mu.Lock()
	ready := Node != nil && NodeID == nodeID
	mu.Unlock()
	if ready {
		return nil
	}
	return Init(nodeID)
}

// GetID returns a new id, initialising the node with NodeID on first use.
func GetID() int64 {
	mu.Lock()
	if Node == nil {
		mu.Unlock()
		_ = Init(NodeID)
		mu.Lock()
	}
	n := Node
	mu.Unlock()
	return n.Generate().Int64()
}
