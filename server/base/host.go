package base

// Host is the game server or proxy a broker or endpoint is embedded in.
// Platform adapters implement it; the built-in channels call into it.
type Host interface {
	// RunCommands executes console commands on the host.
	RunCommands(commands []string)
	// SendChat delivers messages to a player, or to the console when player
	// is empty. It returns false when the player is not on this host.
	SendChat(player string, messages []string) bool
	// MovePlayers sends players to another server. Only proxies can do this.
	MovePlayers(players []string, server string)
	// OnlinePlayers lists the players currently on the host.
	OnlinePlayers() []string
}
