package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner fires the dispatcher on a fixed cron cadence (UTC). Ticks are
// strictly serialized: an overrunning tick delays the next one, it is never
// re-entered concurrently.
type Runner struct {
	d   *Dispatcher
	c   *cron.Cron
	log zerolog.Logger

	mu  sync.Mutex
	ctx context.Context
}

func NewRunner(d *Dispatcher, spec string, log zerolog.Logger) (*Runner, error) {
	return newRunner(d, spec, log, cron.WithLocation(time.UTC))
}

// newRunner takes extra cron options so tests can drive the schedule at
// seconds granularity. The serializing chain is always applied.
func newRunner(d *Dispatcher, spec string, log zerolog.Logger, opts ...cron.Option) (*Runner, error) {
	r := &Runner{d: d, log: log}
	opts = append(opts, cron.WithChain(cron.DelayIfStillRunning(cronLogger{log})))
	r.c = cron.New(opts...)
	if _, err := r.c.AddFunc(spec, r.tick); err != nil {
		return nil, fmt.Errorf("invalid dispatch cron spec %q: %w", spec, err)
	}
	return r, nil
}

// Start runs one immediate tick (so posts that came due while the process was
// down go out right away), then starts the cron schedule.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.tick()
	r.c.Start()
	r.log.Info().Msg("dispatch runner started")
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (r *Runner) Stop() {
	<-r.c.Stop().Done()
	r.log.Info().Msg("dispatch runner stopped")
}

func (r *Runner) tick() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.d.RunTick(ctx); err != nil {
		// Fetch-stage abort; every post stays scheduled until the next tick.
		r.log.Error().Err(err).Msg("tick aborted")
	}
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug().Fields(kv).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error().Err(err).Fields(kv).Msg(msg)
}
