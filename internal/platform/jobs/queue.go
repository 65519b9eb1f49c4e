// Package jobs schedules and executes export jobs: a bounded worker pool
// runs a job's work units with retries, the orchestrator registers jobs in
// the export registry, archives their output and sends the completion mail.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flourish/export/internal/platform/flatten"
	"github.com/flourish/export/internal/platform/telemetry"
)

// Unit is one schedulable piece of a job, typically one export group.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool executes units on a fixed number of workers. Transient failures are
// retried with linear backoff up to the retry budget; a missing-reference
// failure is a data problem and is never retried. A unit's failure never
// blocks its siblings: the pool drains every unit and reports the failures
// joined.
type Pool struct {
	workers int
	retries int
	backoff time.Duration
	log     zerolog.Logger
}

func NewPool(workers, retries int, log zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if retries < 0 {
		retries = 0
	}
	return &Pool{
		workers: workers,
		retries: retries,
		backoff: time.Second,
		log:     log.With().Str("component", "jobpool").Logger(),
	}
}

// Run executes every unit and blocks until all workers drain. The returned
// error joins every unit failure; only cancellation of the parent context
// stops units from running.
func (p *Pool) Run(ctx context.Context, units []Unit) error {
	work := make(chan Unit)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	fail := func(name string, err error) {
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		mu.Unlock()
	}

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range work {
				if err := ctx.Err(); err != nil {
					fail(unit.Name, err)
					continue
				}
				if err := p.runUnit(ctx, unit); err != nil {
					p.log.Error().Err(err).Str("unit", unit.Name).Msg("unit failed")
					fail(unit.Name, err)
				}
			}
		}()
	}

	for _, unit := range units {
		work <- unit
	}
	close(work)
	wg.Wait()

	return errors.Join(errs...)
}

func (p *Pool) runUnit(ctx context.Context, unit Unit) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = unit.Run(ctx)
		if err == nil {
			return nil
		}
		if flatten.IsMissingReference(err) || ctx.Err() != nil || attempt >= p.retries {
			return err
		}
		telemetry.UnitRetries.Inc()
		p.log.Warn().Err(err).Str("unit", unit.Name).Int("attempt", attempt+1).
			Msg("unit failed, retrying")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.backoff * time.Duration(attempt+1)):
		}
	}
}
