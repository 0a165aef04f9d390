package presence

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.SetPlayers(ctx, "lobby", []string{"Zee", "alice", "ALICE", ""}))
	require.NoError(t, s.SetPlayers(ctx, "survival", []string{"bob"}))

	server, ok, err := s.ServerFor(ctx, "zee")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "lobby", server)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"lobby":    {"Zee", "alice"},
		"survival": {"bob"},
	}, snap)

	// bob moves to lobby before survival reports him gone
	require.NoError(t, s.SetPlayers(ctx, "lobby", []string{"Zee", "bob"}))
	require.NoError(t, s.SetPlayers(ctx, "survival", nil))

	server, ok, err = s.ServerFor(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "lobby", server)

	_, ok, err = s.ServerFor(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RemoveServer(ctx, "lobby"))
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testStore(t, s)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("SOCKEXCHANGE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SOCKEXCHANGE_TEST_REDIS_URL not set")
	}

	s, err := NewRedisStore(context.Background(), url, "sockexchange-test")
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}
