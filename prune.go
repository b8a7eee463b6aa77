package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mishiranu/threadwatch/internal/config"
)

// pruneTimeout bounds one pruning pass.
const pruneTimeout = time.Minute

// counterPruner deletes stale counters.
type counterPruner interface {
	PruneCounters(ctx context.Context, maxAge time.Duration) (int64, error)
}

// pruner runs counter pruning on the prune_schedule cron spec. The age
// limit is read from the holder on every run so reloads apply.
type pruner struct {
	cron   *cron.Cron
	store  counterPruner
	holder *config.Holder
	logger *slog.Logger
	ctx    context.Context
}

func newPruner(spec string, store counterPruner, holder *config.Holder, logger *slog.Logger) (*pruner, error) {
	p := &pruner{store: store, holder: holder, logger: logger, ctx: context.Background()}

	if spec == "" {
		return p, nil
	}

	p.cron = cron.New(cron.WithLogger(cronLogger{logger: logger}))

	if _, err := p.cron.AddFunc(spec, p.prune); err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", spec, err)
	}

	return p, nil
}

// Run starts the schedule and blocks until ctx is canceled. A running prune
// is allowed to finish.
func (p *pruner) Run(ctx context.Context) error {
	if p.cron == nil {
		<-ctx.Done()
		return nil
	}

	p.ctx = ctx
	p.cron.Start()

	<-ctx.Done()

	<-p.cron.Stop().Done()

	return nil
}

func (p *pruner) prune() {
	ctx, cancel := context.WithTimeout(p.ctx, pruneTimeout)
	defer cancel()

	maxAge := p.holder.Config().PruneAge()

	n, err := p.store.PruneCounters(ctx, maxAge)
	if err != nil {
		p.logger.Warn("counter pruning failed", slog.String("error", err.Error()))
		return
	}

	p.logger.Info("pruned stale counters",
		slog.Int64("deleted", n),
		slog.Duration("max_age", maxAge),
	)
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
