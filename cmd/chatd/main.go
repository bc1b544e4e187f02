// Command chatd runs one replica of the replicated chat service.
//
// Usage: chatd <id> <ip0> <ip1> <ip2>
//
// The replica binds ip[id] on CHAT_PORT (default 50051) and keeps its
// snapshot in CHAT_DATA_DIR. Replica 0 boots as leader; the others follow
// until a client request promotes them. Setting CHAT_ADMIN_ADDR adds an
// HTTP listener with /healthz, /statusz, and /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/replchat/replchat/internal/adminapi"
	"github.com/replchat/replchat/internal/cluster"
	"github.com/replchat/replchat/internal/config"
	"github.com/replchat/replchat/internal/logging"
)

func main() {
	app := &cli.App{
		Name:            "chatd",
		Usage:           "one replica of the replicated chat service",
		ArgsUsage:       "<id> <ip0> <ip1> <ip2>",
		HideHelpCommand: true,
		Action:          run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "chatd:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	id, ips, err := config.ParseReplicaArgs(c.Args().Slice())
	if err != nil {
		return cli.Exit(fmt.Sprintf("chatd: %v\nusage: chatd <id> <ip0> <ip1> <ip2>", err), 2)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup("chatd", cfg.LogLevel, cfg.LogFormat)

	rep, err := cluster.New(cluster.Config{
		ID:         id,
		Addrs:      cfg.Addrs(ips),
		DBPath:     cfg.DBPath(id),
		RPCTimeout: cfg.RPCTimeout,
		MaxConns:   cfg.MaxConns,
	})
	if err != nil {
		return err
	}
	if err := rep.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      (&adminapi.Server{Replica: rep}).Routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.AdminAddr).Msg("starting admin listener")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		rep.Stop()

		if admin != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("admin listener shutdown error")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
