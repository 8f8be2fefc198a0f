package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benoitc/gaffer/command/agent"
)

func main() {
	cfg := agent.DefaultConfig()

	bindAddr := flag.String("bind", cfg.BindAddr, "HTTP bind address")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")
	envFile := flag.String("env-file", "", "optional KEY=VALUE env file overlay")
	flag.Parse()

	cfg.BindAddr = *bindAddr
	cfg.LogLevel = *logLevel
	cfg.EnvFile = *envFile

	if err := cfg.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	a := agent.New(cfg)
	if err := a.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "gaffer: start failed:", err)
		os.Exit(1)
	}

	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, syscall.SIGINT, syscall.SIGTERM)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			a.Dump()
		}
	}()

	<-termCh

	if err := a.Shutdown(); err != nil {
		fmt.Fprintln(os.Stderr, "gaffer: shutdown error:", err)
		os.Exit(1)
	}
}
