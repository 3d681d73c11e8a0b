// Package jobs runs named background jobs on fixed intervals.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownJob is returned by RunOnce for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is a unit of background work. A failed run is retried up to
// MaxRetries times, waiting Backoff[i] before retry i (the last delay
// repeats).
type Job struct {
	Name       string
	Interval   time.Duration
	Run        func(ctx context.Context) error
	MaxRetries int
	Backoff    []time.Duration
}

func (j Job) delay(retry int) time.Duration {
	if len(j.Backoff) == 0 {
		return time.Second
	}
	if retry >= len(j.Backoff) {
		return j.Backoff[len(j.Backoff)-1]
	}
	return j.Backoff[retry]
}

type Runner struct {
	mu     sync.Mutex
	jobs   map[string]Job
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{jobs: make(map[string]Job), logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Register adds j. Registering the same name twice replaces the job.
func (r *Runner) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("register job: name and run are required")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("register job %s: interval must be positive", j.Name)
	}
	r.mu.Lock()
	r.jobs[j.Name] = j
	r.mu.Unlock()
	return nil
}

// Names lists the registered jobs in order.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Job returns the registered job called name.
func (r *Runner) Job(name string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	return j, ok
}

// RunOnce runs the named job now, with retries.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(ctx, j)
}

func (r *Runner) run(ctx context.Context, j Job) error {
	log := r.logger.With().Str("job", j.Name).Logger()
	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		if err = j.Run(ctx); err == nil {
			log.Info().Int("attempt", attempt+1).Dur("took", time.Since(start)).Msg("job completed")
			return nil
		}
		if attempt >= j.MaxRetries || ctx.Err() != nil {
			break
		}
		wait := j.delay(attempt)
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", wait).Msg("job failed, retrying")
		if serr := r.sleep(ctx, wait); serr != nil {
			break
		}
	}
	log.Error().Err(err).Msg("job failed")
	return fmt.Errorf("job %s: %w", j.Name, err)
}

// Start runs every registered job on its own ticker until ctx is cancelled.
// It blocks until all job loops have returned.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			r.loop(ctx, j)
		}(j)
	}
	r.logger.Info().Int("jobs", len(jobs)).Msg("job runner started")
	wg.Wait()
	r.logger.Info().Msg("job runner stopped")
}

func (r *Runner) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.run(ctx, j)
		}
	}
}
