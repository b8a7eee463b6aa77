package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mishiranu/threadwatch/internal/config"
	"github.com/Mishiranu/threadwatch/internal/state"
	"github.com/Mishiranu/threadwatch/internal/threadkey"
)

// Thread state labels for status display.
const (
	threadStateOK      = "ok"
	threadStateDeleted = "deleted"
	threadStateError   = "error"
	threadStateNew     = "unchecked"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon and the persisted counters of every thread",
		Long: `Display whether the daemon is running and the last known counters of
every favorite and every recently checked thread.

Reads the state database only; it does not contact any source.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport is the JSON form of the status command.
type statusReport struct {
	DaemonPID int            `json:"daemon_pid,omitempty"`
	Threads   []statusThread `json:"threads"`
}

// statusThread merges a thread's favorite entry and its counter.
type statusThread struct {
	Thread     string     `json:"thread"`
	Title      string     `json:"title,omitempty"`
	Favorite   bool       `json:"favorite"`
	Watch      bool       `json:"watch"`
	NewCount   int        `json:"new_count"`
	SeenPost   int64      `json:"seen_post,omitempty"`
	LatestPost int64      `json:"latest_post,omitempty"`
	State      string     `json:"state"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := state.Open(ctx, config.StatePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer store.Close()

	threads, err := collectStatus(ctx, store)
	if err != nil {
		return err
	}

	report := statusReport{Threads: threads}

	if pid, err := daemonPID(config.PIDPath(cc.Cfg)); err == nil {
		report.DaemonPID = pid
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, report)
	}

	printStatus(report, time.Now())

	return nil
}

// collectStatus joins favorites and counters, favorites first in the order
// they were added, then the remaining counters by key.
func collectStatus(ctx context.Context, store *state.Store) ([]statusThread, error) {
	favorites, err := store.ListFavorites(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}

	counters, err := store.ListCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing counters: %w", err)
	}

	byKey := make(map[threadkey.Key]state.Counter, len(counters))
	for _, c := range counters {
		byKey[c.Key] = c
	}

	threads := make([]statusThread, 0, len(favorites)+len(counters))

	for _, f := range favorites {
		row := statusThread{Thread: f.Key.String(), Title: f.Title, Favorite: true, Watch: f.Watch}
		fillCounter(&row, byKey[f.Key])
		delete(byKey, f.Key)

		threads = append(threads, row)
	}

	rest := make([]statusThread, 0, len(byKey))
	for key, c := range byKey {
		row := statusThread{Thread: key.String()}
		fillCounter(&row, c)

		rest = append(rest, row)
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i].Thread < rest[j].Thread })

	return append(threads, rest...), nil
}

func fillCounter(row *statusThread, c state.Counter) {
	row.NewCount = c.NewCount
	row.SeenPost = c.SeenPost
	row.LatestPost = c.LatestPost

	switch {
	case c.Deleted:
		row.State = threadStateDeleted
	case c.Error:
		row.State = threadStateError
	case c.CheckedAt.IsZero():
		row.State = threadStateNew
	default:
		row.State = threadStateOK
	}

	if !c.CheckedAt.IsZero() {
		t := c.CheckedAt
		row.CheckedAt = &t
	}
}

func printStatus(report statusReport, now time.Time) {
	if report.DaemonPID != 0 {
		fmt.Printf("Daemon: running (PID %d)\n\n", report.DaemonPID)
	} else {
		fmt.Print("Daemon: not running\n\n")
	}

	if len(report.Threads) == 0 {
		fmt.Println("No threads. Add one with 'threadwatch fav add <source/board/thread>'.")
		return
	}

	rows := make([][]string, 0, len(report.Threads))

	for _, t := range report.Threads {
		var checked time.Time
		if t.CheckedAt != nil {
			checked = *t.CheckedAt
		}

		rows = append(rows, []string{
			t.Thread,
			yesNo(t.Favorite),
			yesNo(t.Watch),
			strconv.Itoa(t.NewCount),
			t.State,
			formatAge(checked, now),
			t.Title,
		})
	}

	printTable(os.Stdout, []string{"THREAD", "FAV", "WATCH", "NEW", "STATE", "CHECKED", "TITLE"}, rows)
}
