package song

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

// Poller periodically checks every job that is still pending or processing.
type Poller struct {
	tracker     *Tracker
	store       store.Store
	interval    time.Duration
	concurrency int
	log         *zap.Logger
}

func NewPoller(t *Tracker, s store.Store, interval time.Duration, concurrency int, log *zap.Logger) *Poller {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Poller{tracker: t, store: s, interval: interval, concurrency: concurrency, log: log}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce checks all in-flight jobs and returns how many reached a
// terminal status. Failures are logged; the job is retried next round.
func (p *Poller) PollOnce(ctx context.Context) int {
	battles, err := p.store.ListSongsInFlight(ctx)
	if err != nil {
		p.log.Error("list songs in flight", zap.Error(err))
		return 0
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	finished := make([]bool, len(battles))
	for i, b := range battles {
		g.Go(func() error {
			job, err := p.tracker.CheckStatus(ctx, b.ID, b.GeneratedSong.TaskID)
			if err != nil {
				p.log.Warn("song poll", zap.String("battle_id", b.ID), zap.Error(err))
				return nil
			}
			finished[i] = job.Status.Terminal()
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range finished {
		if f {
			n++
		}
	}
	return n
}
