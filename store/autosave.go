package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Autosave writes periodic backup snapshots on a cron schedule.
type Autosave struct {
	cron    *cron.Cron
	log     *slog.Logger
	saveFn  func() error
	mu      sync.Mutex // one save at a time
	running bool
}

// NewAutosave creates an Autosave on the given cron expression. saveFn
// collects and writes one backup snapshot.
func NewAutosave(spec string, log *slog.Logger, saveFn func() error) (*Autosave, error) {
	a := &Autosave{log: log, saveFn: saveFn}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(spec, a.execute); err != nil {
		return nil, err
	}
	a.cron = c
	return a, nil
}

// Start begins the schedule.
func (a *Autosave) Start() {
	a.log.Info("autosave started")
	a.cron.Start()
}

// Stop halts the schedule and waits for an in-flight save, bounded by ctx.
func (a *Autosave) Stop(ctx context.Context) {
	stopCtx := a.cron.Stop()
	select {
	case <-stopCtx.Done():
		a.log.Info("autosave stopped")
	case <-ctx.Done():
		a.log.Warn("autosave stop timed out")
	}
}

func (a *Autosave) execute() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.log.Warn("autosave already running, skipping")
		return
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if err := a.saveFn(); err != nil {
		a.log.Error("autosave failed", slog.Any("error", err))
	}
}
