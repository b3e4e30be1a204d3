// Package dispatch runs the scheduled-delivery loop.
//
// On every tick it snapshots the due posts, delivers them strictly in order,
// and commits each post's terminal state (sent or failed) before moving on.
// One post failing never touches its siblings; only a failure to fetch the
// due list aborts a tick, leaving everything scheduled for the next one.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sigsched/internal/storage"
)

// Store is the slice of the post store the dispatcher needs.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]storage.Post, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error
}

// Deliverer hands one post's content to the messaging gateway. The dispatcher
// only cares about success or failure.
type Deliverer interface {
	Deliver(ctx context.Context, groupID, message, imagePath string) error
}

type Config struct {
	// RatePerSec, when positive, caps outbound gateway sends.
	RatePerSec int
}

type Dispatcher struct {
	store   Store
	deliver Deliverer
	limiter *rate.Limiter
	log     zerolog.Logger

	now func() time.Time // overridable in tests
}

func New(cfg Config, store Store, deliver Deliverer, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		deliver: deliver,
		log:     log,
		now:     time.Now,
	}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return d
}

// RunTick executes one scan-and-deliver cycle over the posts due at the time
// of the call. The returned error is non-nil only for a fetch-stage abort;
// per-post outcomes are committed individually and never propagate.
func (d *Dispatcher) RunTick(ctx context.Context) error {
	now := d.now().UTC()

	posts, err := d.store.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due posts: %w", err)
	}
	if len(posts) == 0 {
		d.log.Debug().Msg("no due posts")
		return nil
	}

	d.log.Info().Int("count", len(posts)).Msg("processing due posts")
	for _, p := range posts {
		// Shutdown mid-tick: leave the remaining posts scheduled so the next
		// run picks them up instead of marking them failed.
		if ctx.Err() != nil {
			d.log.Warn().Err(ctx.Err()).Int64("post_id", p.ID).Msg("tick interrupted; remaining posts stay scheduled")
			return nil
		}
		d.dispatchOne(ctx, p)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, p storage.Post) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.log.Warn().Err(err).Int64("post_id", p.ID).Msg("rate limiter wait aborted; post stays scheduled")
			return
		}
	}

	d.log.Info().
		Int64("post_id", p.ID).
		Str("group", p.GroupName).
		Bool("has_image", p.ImagePath != "").
		Msg("sending post")

	if err := d.deliver.Deliver(ctx, p.GroupID, p.Message, p.ImagePath); err != nil {
		d.log.Warn().Err(err).Int64("post_id", p.ID).Msg("delivery failed")
		if err := d.store.MarkFailed(ctx, p.ID); err != nil {
			// Outcome lost; the post stays scheduled and is retried next tick.
			d.log.Error().Err(err).Int64("post_id", p.ID).Msg("mark failed write failed")
		}
		return
	}

	sentAt := d.now().UTC()
	if err := d.store.MarkSent(ctx, p.ID, sentAt); err != nil {
		// Outcome lost after a successful send; the retry next tick can
		// duplicate this post. Accepted limitation, the gateway offers no
		// idempotent submit.
		d.log.Error().Err(err).Int64("post_id", p.ID).Msg("mark sent write failed")
		return
	}
	d.log.Info().Int64("post_id", p.ID).Time("sent_at", sentAt).Msg("post sent")
}
