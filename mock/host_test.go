package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHost_chat(t *testing.T) {
	h := NewHost("lobby", "Steve", "Alex")

	assert.True(t, h.SendChat("steve", []string{"hi"}))
	assert.True(t, h.SendChat("", []string{"console line"}))
	assert.False(t, h.SendChat("Notch", []string{"hi"}))

	assert.Equal(t, []Chat{
		{Player: "Steve", Messages: []string{"hi"}},
		{Player: "", Messages: []string{"console line"}},
	}, h.Chats())
}

func TestHost_moveRemovesPlayers(t *testing.T) {
	h := NewHost("proxy", "Steve", "Alex")

	h.MovePlayers([]string{"STEVE"}, "survival")
	assert.Equal(t, []string{"Alex"}, h.OnlinePlayers())
	assert.Equal(t, []Move{{Players: []string{"STEVE"}, Server: "survival"}}, h.Moves())
}

func TestHost_commands(t *testing.T) {
	h := NewHost("lobby")
	h.RunCommands([]string{"say a"})
	h.RunCommands([]string{"say b", "stop"})

	assert.Equal(t, []string{"say a", "say b", "stop"}, h.Commands())
	assert.Empty(t, h.OnlinePlayers())
}
