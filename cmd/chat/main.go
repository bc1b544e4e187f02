// Command chat is the interactive terminal client for the replicated chat
// service.
//
// Usage: chat <ip0> <ip1> <ip2>
//
// The client starts at replica 0 and walks the id order upward whenever the
// current replica stops answering. When all three are gone it prints a
// diagnostic and exits non-zero.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/replchat/replchat/internal/config"
	"github.com/replchat/replchat/internal/failover"
	"github.com/replchat/replchat/internal/logging"
	"github.com/replchat/replchat/internal/shell"
)

func main() {
	app := &cli.App{
		Name:            "chat",
		Usage:           "interactive client for the replicated chat service",
		ArgsUsage:       "<ip0> <ip1> <ip2>",
		HideHelpCommand: true,
		Action:          run,
	}

	if err := app.Run(os.Args); err != nil {
		// the shell already told the user the cluster is gone
		if !errors.Is(err, failover.ErrAllServersFailed) {
			fmt.Fprintln(os.Stderr, "chat:", err)
		}
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ips, err := config.ParseClientArgs(c.Args().Slice())
	if err != nil {
		return cli.Exit(fmt.Sprintf("chat: %v\nusage: chat <ip0> <ip1> <ip2>", err), 2)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// prompts own stdout; logs stay on stderr and default to warnings only
	level := cfg.LogLevel
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	logging.Setup("chat", level, cfg.LogFormat)

	client, err := failover.New(failover.Config{
		Addrs:   cfg.Addrs(ips),
		Timeout: cfg.RPCTimeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	return shell.New(client, os.Stdin, os.Stdout).Run(context.Background())
}
