package queue

import (
	"context"

	"github.com/oseilabs/bundle-gateway/pkg/logger"
)

type pausedJobStore interface {
	ResumePaused(ctx context.Context) (int64, error)
}

// Resumer lets the API process move token-paused jobs back to pending
// without running a worker loop. The nudge tells the worker process,
// wherever it lives, to start draining again; the worker also clears
// its own pause flag by observing the store.
type Resumer struct {
	jobs     pausedJobStore
	notifier *Notifier
}

func NewResumer(jobs pausedJobStore, notifier *Notifier) *Resumer {
	return &Resumer{
		jobs:     jobs,
		notifier: notifier,
	}
}

func (r *Resumer) ResumePaused(ctx context.Context) (int64, error) {
	resumed, err := r.jobs.ResumePaused(ctx)
	if err != nil {
		return 0, err
	}
	if resumed > 0 {
		logger.Info("paused jobs resumed", "count", resumed)
		r.notifier.Nudge()
	}
	return resumed, nil
}
