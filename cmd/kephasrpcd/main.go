// Command kephasrpcd serves the sample Chat and User controllers over kephasrpc.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/chat"
	"github.com/luciancaetano/kephasrpc/internal/observability"
	"github.com/luciancaetano/kephasrpc/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	statsInterval   = time.Minute
)

type options struct {
	configPath string
	addr       string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("kephasrpcd", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML or YAML config file")
	fs.StringVar(&opts.addr, "addr", "", "listen address, overrides the config file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "kephasrpcd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := ws.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}

	logger := observability.NewLogger("kephasrpcd", cfg.Log)

	table, err := chat.Table()
	if err != nil {
		return fmt.Errorf("build method table: %w", err)
	}

	sc := ws.NewConfig(cfg, table, ws.HeaderResolver())
	sc = ws.WithCheckOrigin(sc, ws.AllOrigins())
	sc = ws.WithLogger(sc, logger)
	sc = ws.WithHooks(sc,
		func(identity kephasrpc.Identity) {
			logger.Info().Str("identity", identity.String()).Msg("user connected")
		},
		func(identity kephasrpc.Identity, voluntary bool) {
			logger.Info().Str("identity", identity.String()).Bool("voluntary", voluntary).Msg("user disconnected")
		},
	)
	server := ws.New(sc)

	if err := server.Start(context.Background()); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return server.Stop(stopCtx)
	})
	g.Go(func() error {
		logStats(gctx, logger, server.Hub())
		return nil
	})

	return g.Wait()
}

func logStats(ctx context.Context, logger zerolog.Logger, hub kephasrpc.Hub) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug().Int("connections", len(hub.Identities())).Msg("stats")
		}
	}
}
