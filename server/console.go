package server

import (
	"strconv"
	"strings"

	"github.com/abc463774475/sockexchange/msg"
)

var runCmdUsage = []string{
	"runcmd server[,server,..] command",
	"runcmd ALL command",
}

func (s *Server) usage(forms ...string) []string {
	out := make([]string, 0, len(forms))
	for _, f := range forms {
		out = append(out, s.formats.Format("Usage", f))
	}
	return out
}

// ExecuteConsole runs one console line and returns the feedback lines.
func (s *Server) ExecuteConsole(line string) []string {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "runcmd", "rcbungee", "runcmdbungee":
		return s.runCmdCommand(args[1:])
	case "servers":
		return s.serversCommand()
	default:
		return s.usage(append(runCmdUsage, "servers")...)
	}
}

func (s *Server) runCmdCommand(args []string) []string {
	if len(args) < 2 {
		return s.usage(runCmdUsage...)
	}

	servers := strings.Split(args[0], ",")
	command := strings.Join(args[1:], " ")

	if msg.IsAllServers(servers) {
		if err := s.SendCommandsToServers([]string{command}); err != nil {
			return []string{err.Error()}
		}
		return []string{s.formats.Format("CommandSent", msg.AllServers)}
	}

	var out, targets []string
	for _, name := range servers {
		if name == "" {
			continue
		}
		info, ok := s.ServerInfo(name)
		if !ok {
			out = append(out, s.formats.Format("ServerNotFound", name))
			continue
		}
		if !info.Online {
			out = append(out, s.formats.Format("ServerNotOnline", name))
			continue
		}
		targets = append(targets, info.Name)
	}

	if len(targets) == 0 {
		return out
	}
	if err := s.SendCommandsToServers([]string{command}, targets...); err != nil {
		return append(out, err.Error())
	}
	for _, name := range targets {
		out = append(out, s.formats.Format("CommandSent", name))
	}
	return out
}

func (s *Server) serversCommand() []string {
	infos := s.ServerInfos()
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, s.formats.Format("ServerList",
			info.Name, strconv.FormatBool(info.Online), strconv.FormatBool(info.Private)))
	}
	return out
}
