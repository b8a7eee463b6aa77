package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mishiranu/threadwatch/internal/config"
	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

var (
	flagFavTitle   string
	flagFavNoWatch bool
)

func newFavCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fav",
		Short: "Manage favorite threads",
		Long: `Add, remove and list favorite threads, and turn watching on or off.

Watched favorites are re-checked periodically by the daemon. A running daemon
picks up changes on its own; it is also sent SIGHUP as a nudge.`,
	}

	add := &cobra.Command{
		Use:   "add <source/board/thread>",
		Short: "Add a favorite (watched unless --no-watch)",
		Args:  cobra.ExactArgs(1),
		RunE:  runFavAdd,
	}
	add.Flags().StringVar(&flagFavTitle, "title", "", "display title")
	add.Flags().BoolVar(&flagFavNoWatch, "no-watch", false, "add without watching")

	cmd.AddCommand(
		add,
		&cobra.Command{
			Use:     "rm <source/board/thread>",
			Aliases: []string{"remove"},
			Short:   "Remove a favorite",
			Args:    cobra.ExactArgs(1),
			RunE:    runFavRemove,
		},
		&cobra.Command{
			Use:   "watch <source/board/thread>",
			Short: "Enable watching for a favorite",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return runFavSetWatch(cmd, args[0], true) },
		},
		&cobra.Command{
			Use:   "unwatch <source/board/thread>",
			Short: "Disable watching for a favorite",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return runFavSetWatch(cmd, args[0], false) },
		},
		&cobra.Command{
			Use:     "ls",
			Aliases: []string{"list"},
			Short:   "List favorites",
			Args:    cobra.NoArgs,
			RunE:    runFavList,
		},
	)

	return cmd
}

// withStore opens the state database for one command.
func withStore(ctx context.Context, cc *CLIContext, fn func(*state.Store) error) error {
	store, err := state.Open(ctx, config.StatePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer store.Close()

	return fn(store)
}

// parseThreadArg parses a thread key and checks its source is configured.
func parseThreadArg(cfg *config.Config, arg string) (threadkey.Key, error) {
	key, err := threadkey.Parse(arg)
	if err != nil {
		return threadkey.Key{}, err
	}

	if _, ok := cfg.SourceByName(key.Source); !ok {
		return threadkey.Key{}, fmt.Errorf("source %q is not configured", key.Source)
	}

	return key, nil
}

func runFavAdd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	key, err := parseThreadArg(cc.Cfg, args[0])
	if err != nil {
		return err
	}

	err = withStore(cmd.Context(), cc, func(s *state.Store) error {
		return s.AddFavorite(cmd.Context(), key, flagFavTitle, !flagFavNoWatch)
	})
	if err != nil {
		return fmt.Errorf("adding favorite: %w", err)
	}

	cc.Statusf("Added %s\n", key)

	if !flagFavNoWatch && !cc.Cfg.SourceWatchable(key.Source) {
		cc.Statusf("Note: source %q does not support watching; it will not be re-checked\n", key.Source)
	}

	notifyDaemon(cc)

	return nil
}

func runFavRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	key, err := threadkey.Parse(args[0])
	if err != nil {
		return err
	}

	err = withStore(cmd.Context(), cc, func(s *state.Store) error {
		return s.RemoveFavorite(cmd.Context(), key)
	})
	if errors.Is(err, state.ErrNotFavorite) {
		return fmt.Errorf("%s is not a favorite", key)
	}

	if err != nil {
		return fmt.Errorf("removing favorite: %w", err)
	}

	cc.Statusf("Removed %s\n", key)
	notifyDaemon(cc)

	return nil
}

func runFavSetWatch(cmd *cobra.Command, arg string, watch bool) error {
	cc := mustCLIContext(cmd.Context())

	key, err := threadkey.Parse(arg)
	if err != nil {
		return err
	}

	err = withStore(cmd.Context(), cc, func(s *state.Store) error {
		return s.SetWatch(cmd.Context(), key, watch)
	})
	if errors.Is(err, state.ErrNotFavorite) {
		return fmt.Errorf("%s is not a favorite; add it with 'threadwatch fav add'", key)
	}

	if err != nil {
		return fmt.Errorf("updating favorite: %w", err)
	}

	if watch {
		cc.Statusf("Watching %s\n", key)
	} else {
		cc.Statusf("Stopped watching %s\n", key)
	}

	notifyDaemon(cc)

	return nil
}

// favoriteJSON is the JSON form of one favorite.
type favoriteJSON struct {
	Thread  string    `json:"thread"`
	Title   string    `json:"title,omitempty"`
	Watch   bool      `json:"watch"`
	AddedAt time.Time `json:"added_at"`
}

func runFavList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	var favorites []state.Favorite

	err := withStore(cmd.Context(), cc, func(s *state.Store) error {
		var listErr error
		favorites, listErr = s.ListFavorites(cmd.Context())

		return listErr
	})
	if err != nil {
		return fmt.Errorf("listing favorites: %w", err)
	}

	if cc.Flags.JSON {
		out := make([]favoriteJSON, 0, len(favorites))
		for _, f := range favorites {
			out = append(out, favoriteJSON{Thread: f.Key.String(), Title: f.Title, Watch: f.Watch, AddedAt: f.AddedAt})
		}

		return printJSON(os.Stdout, out)
	}

	if len(favorites) == 0 {
		fmt.Println("No favorites.")
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(favorites))

	for _, f := range favorites {
		rows = append(rows, []string{f.Key.String(), yesNo(f.Watch), formatTime(f.AddedAt, now), f.Title})
	}

	printTable(os.Stdout, []string{"THREAD", "WATCH", "ADDED", "TITLE"}, rows)

	return nil
}

// notifyDaemon sends SIGHUP to a running daemon. Non-fatal: without a
// daemon the change simply applies on the next start.
func notifyDaemon(cc *CLIContext) {
	pidPath := config.PIDPath(cc.Cfg)
	if pidPath == "" {
		return
	}

	if err := sendSIGHUP(pidPath); err != nil {
		cc.Logger.Debug("daemon not notified", slog.String("error", err.Error()))
		return
	}

	cc.Statusf("Notified running daemon\n")
}
