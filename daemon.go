package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Mishiranu/threadwatch/internal/config"
	"github.com/Mishiranu/threadwatch/internal/fetch"
	"github.com/Mishiranu/threadwatch/internal/netstate"
	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/watch"
	"github.com/Mishiranu/threadwatch/internal/wsapi"
)

// Flags of the watch command. They are read by the root pre-run as config
// overrides.
var (
	flagWifiOnly bool
	flagListen   string
	flagOrigins  []string
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the watch daemon",
		Long: `Run the watch daemon in the foreground.

The daemon re-checks watched favorites on a schedule, serves the websocket
endpoint for UIs, and reloads its config when the file changes or on SIGHUP.
Favorites edited with "threadwatch fav" are picked up automatically.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().BoolVar(&flagWifiOnly, "wifi-only", false, "only sweep watched threads on wifi")
	cmd.Flags().StringVar(&flagListen, "listen", "", "websocket listen address (overrides config)")
	cmd.Flags().StringSliceVar(&flagOrigins, "allow-origin", nil, "additional browser origins allowed to connect")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	cleanup, err := writePIDFile(config.PIDPath(cc.Cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	statePath := config.StatePath(cc.Cfg)

	store, err := state.Open(ctx, statePath, logger)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer store.Close()

	holder := config.NewHolder(cc.Cfg, cc.CfgPath)

	reg := watch.New(watch.Options{
		Counters:  store,
		Favorites: store,
		Fetcher:   fetch.NewClient(holder, fetch.OptionsFromConfig(cc.Cfg), logger),
		Prefs:     holder,
		Sources:   holder,
		Network:   netstate.New(logger),
		Logger:    logger,
	})

	api := wsapi.NewServer(reg, flagOrigins, logger)

	pr, err := newPruner(cc.Cfg.PruneSchedule, store, holder, logger)
	if err != nil {
		return err
	}

	rl := newReloader(holder, reg, store, statePath, cc.Env, cc.CLI, logger)

	sighup, stopSighup := sighupChannel()
	defer stopSighup()

	logger.Info("daemon starting",
		slog.String("version", version),
		slog.String("config", cc.CfgPath),
		slog.String("state", statePath),
		slog.String("listen", cc.Cfg.Listen),
		slog.Int("sources", len(cc.Cfg.Sources)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return reg.Run(gctx) })
	g.Go(func() error { return api.ListenAndServe(gctx, cc.Cfg.Listen) })
	g.Go(func() error { return rl.Run(gctx, sighup) })
	g.Go(func() error { return pr.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("daemon stopped")

	return nil
}
