package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	applog "rulebook/app/internal/log"
)

// ErrRunnerClosed is returned when work is submitted after shutdown began.
var ErrRunnerClosed = eris.New("background runner is shutting down")

// Runner tracks background tasks so shutdown can wait for them.
type Runner struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	logger *logrus.Entry
}

// NewRunner constructs a Runner.
func NewRunner(logger *logrus.Logger) *Runner {
	return &Runner{logger: applog.Component(logger, "ingest.runner")}
}

// Go runs fn in the background. fn receives a context that carries the
// values of ctx but is never cancelled with it.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRunnerClosed
	}

	r.wg.Add(1)
	background := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logger.WithFields(logrus.Fields{
					"task":  name,
					"panic": fmt.Sprint(recovered),
				}).Error("background task panicked")
			}
		}()
		fn(background)
	}()
	return nil
}

// Shutdown stops accepting work and waits for running tasks until ctx ends.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	return r.Wait(ctx)
}

// Wait blocks until every running task has returned or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "waiting for background tasks")
	}
}
