package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	nlog "github.com/abc463774475/my_tool/n_log"

	"github.com/abc463774475/sockexchange/config"
	"github.com/abc463774475/sockexchange/mock"
	"github.com/abc463774475/sockexchange/server"
)

func main() {
	path := flag.String("config", "sockexchange.yaml", "configuration file, written with defaults when missing")
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
	if err := cfg.Broker.Validate(); err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(
		server.WithBrokerConfig(cfg.Broker),
		server.WithHost(mock.NewHost(cfg.Broker.Name)),
	)
	if err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		nlog.Erro("%v", err)
		os.Exit(1)
	}

	go console(srv)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		nlog.Info("received %v, shutting down", sig)
		srv.Shutdown()
	}()

	srv.WaitForShutdown()
}

// console feeds stdin lines to the broker's console commands.
func console(srv *server.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		for _, line := range srv.ExecuteConsole(scanner.Text()) {
			fmt.Println(line)
		}
	}
}
