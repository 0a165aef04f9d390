package msg

// Channels served by every broker and endpoint that has a Host.
const (
	CHANNEL_RUNCMD      = "RunCmd"
	CHANNEL_CHAT        = "ChatMessages"
	CHANNEL_MOVEPLAYERS = "MovePlayers"
)

type MsgRunCmd struct {
	Commands []string `json:"commands"`
}

// MsgChat targets a player by name; an empty Player means the console.
type MsgChat struct {
	Player   string   `json:"player,omitempty"`
	Messages []string `json:"messages"`
}

type MsgMovePlayers struct {
	Players []string `json:"players"`
	Server  string   `json:"server"`
}
