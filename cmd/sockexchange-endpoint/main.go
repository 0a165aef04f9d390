package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	nlog "github.com/abc463774475/my_tool/n_log"

	"github.com/abc463774475/sockexchange/client"
	"github.com/abc463774475/sockexchange/config"
	"github.com/abc463774475/sockexchange/mock"
	"github.com/abc463774475/sockexchange/msg"
	"github.com/abc463774475/sockexchange/server/base"
)

const usage = `commands:
  pub <channel> <text>
  send <server[,server...]|ALL> <channel> <text>
  runcmd <server[,server...]|ALL> <command...>
  servers
  players`

func main() {
	path := flag.String("config", "sockexchange.yaml", "configuration file, written with defaults when missing")
	name := flag.String("name", "", "server name, overrides endpoint.name")
	subs := flag.String("sub", "", "comma separated channels to subscribe to and print")
	flag.Parse()

	nlog.InitLog(nlog.WithCompressType(nlog.Quick))

	if written, err := config.WriteDefault(*path, false); err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	} else if written {
		nlog.Info("wrote default configuration to %v", *path)
	}

	cfg, err := config.Load(*path)
	if err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	}
	if *name != "" {
		cfg.Endpoint.Name = *name
	}
	if err := cfg.Endpoint.Validate(); err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	}

	c, err := client.NewClient(
		client.WithEndpointConfig(cfg.Endpoint),
		client.WithHost(mock.NewHost(cfg.Endpoint.Name)),
	)
	if err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	}

	for _, ch := range strings.Split(*subs, ",") {
		if ch = strings.TrimSpace(ch); ch == "" {
			continue
		}
		err := c.Subscribe(ch, func(req *base.Request) {
			fmt.Printf("[%v] %v: %s\n", req.Channel, req.From, req.Data)
		}, nil)
		if err != nil {
			nlog.Erro("subscribe %v: %v", ch, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := c.WaitConnected(ctx); err != nil {
			nlog.Erro("%v", err)
			stop()
		}
	}()
	go console(c)

	select {
	case <-ctx.Done():
	case <-c.Done():
	}
	_ = c.Close()
	if err := c.Err(); err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	}
}

func console(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := execute(c, scanner.Text()); err != nil {
			fmt.Println(err)
		}
	}
}

func execute(c *client.Client, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "pub":
		if len(args) < 3 {
			break
		}
		return c.Publish(args[1], strings.Join(args[2:], " "))
	case "send":
		if len(args) < 4 {
			break
		}
		return c.SendToServers(args[2], strings.Join(args[3:], " "), servers(args[1])...)
	case "runcmd":
		if len(args) < 3 {
			break
		}
		return c.SendCommandsToServers([]string{strings.Join(args[2:], " ")}, servers(args[1])...)
	case "servers":
		for _, info := range c.ServerInfos() {
			fmt.Printf("%v [online: %v, private: %v]\n", info.Name, info.Online, info.Private)
		}
		return nil
	case "players":
		for server, players := range c.OnlinePlayers() {
			fmt.Printf("%v: %v\n", server, strings.Join(players, ", "))
		}
		return nil
	}
	fmt.Println(usage)
	return nil
}

// servers splits a comma separated list; ALL selects every other server.
func servers(arg string) []string {
	var ret []string
	for _, s := range strings.Split(arg, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		if strings.EqualFold(s, msg.AllServers) {
			return nil
		}
		ret = append(ret, s)
	}
	return ret
}
