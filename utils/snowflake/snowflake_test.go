package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetID_unique(t *testing.T) {
	require.NoError(t, Init(7))

	max := 20000
	m := make(map[int64]struct{}, 2*max)
	l := sync.Mutex{}
	wg := sync.WaitGroup{}

	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < max; i++ {
				p := GetID()
				l.Lock()
				_, dup := m[p]
				m[p] = struct{}{}
				l.Unlock()
				assert.False(t, dup, "dup id %v", p)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, m, 2*max)
}

func TestInit_outOfRange(t *testing.T) {
	require.NoError(t, Init(3))

	assert.Error(t, Init(MaxNodeID))
	assert.Error(t, Ensure(-1))
	assert.Equal(t, int64(3), NodeID, "a bad node id keeps the current node")
	assert.NotZero(t, GetID())

	require.NoError(t, Ensure(3))
}

func TestSonyGenerator(t *testing.T) {
	g, err := NewSonyGenerator("lobby")
	require.NoError(t, err)

	a, err := g.GetID()
	require.NoError(t, err)
	b, err := g.GetID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Positive(t, a)
}

func TestMachineID_stable(t *testing.T) {
	assert.Equal(t, MachineID("lobby"), MachineID("lobby"))
	assert.NotEqual(t, MachineID("lobby"), MachineID("survival"))
}
