package base

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abc463774475/sockexchange/msg"
)

func TestRequest_respondOnce(t *testing.T) {
	var got [][]byte
	req := NewRequest("ch", "lobby", []byte("ping"), func(data []byte) {
		got = append(got, data)
	})

	require.True(t, req.WantsResponse())
	require.NoError(t, req.Respond("pong"))
	require.NoError(t, req.Respond("again"))
	assert.Equal(t, [][]byte{[]byte("pong")}, got)
}

func TestRequest_noResponder(t *testing.T) {
	req := NewRequest("ch", "lobby", nil, nil)
	assert.False(t, req.WantsResponse())
	assert.NoError(t, req.Respond("ignored"))
}

func TestConsumers(t *testing.T) {
	c := NewConsumers()
	var statuses []msg.ResponseStatus
	record := func(resp Response) { statuses = append(statuses, resp.Status) }

	c.Add(1, record, time.Hour)
	c.Add(2, record, -time.Second)
	c.Add(3, record, time.Hour)
	assert.Equal(t, 3, c.Len())

	expired := c.Expire(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, 2, c.Len())

	fn, ok := c.Take(1)
	require.True(t, ok)
	fn(Response{Status: msg.Status_OK})
	_, ok = c.Take(1)
	assert.False(t, ok)

	rest := c.Drain()
	assert.Len(t, rest, 1)
	assert.Zero(t, c.Len())
	assert.Equal(t, []msg.ResponseStatus{msg.Status_OK}, statuses)
}
