// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package jobrunner executes validation, publish and rollback jobs on
// a bounded worker pool. Progress is throttled into the job row; the
// row is the client's only observation channel. Cancellation is
// cooperative and leaves durable state unchanged.
package jobrunner

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/importer"
)

var (
	// Error is the default jobrunner errors class.
	Error = errs.Class("jobrunner")

	mon = monkit.Package()
)

// Config holds worker pool tunables.
type Config struct {
	Concurrency int           `help:"how many jobs may run at once" default:"2"`
	JobTimeout  time.Duration `help:"wall-clock budget per job; exceeding it fails the job and leaves stores untouched" default:"30m"`
}

// Func is the body of a job. It reports coarse progress through the
// callback and returns a JSON-able summary.
type Func func(ctx context.Context, progress func(int)) (summary interface{}, err error)

// Runner dispatches jobs to workers.
type Runner struct {
	log      *zap.Logger
	versions importer.VersionStore
	config   Config

	limiter *sync2.Limiter

	mu        sync.Mutex
	root      context.Context
	cancel    context.CancelFunc
	started   bool
	startedCh chan struct{}
	active    map[uuid.UUID]context.CancelFunc
}

// New creates a Runner.
func New(log *zap.Logger, versions importer.VersionStore, config Config) *Runner {
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	return &Runner{
		log:       log,
		versions:  versions,
		config:    config,
		limiter:   sync2.NewLimiter(config.Concurrency),
		startedCh: make(chan struct{}),
		active:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// Run parks until ctx is done, then cancels in-flight jobs and waits
// for the workers to observe it.
func (runner *Runner) Run(ctx context.Context) error {
	// Rows left non-terminal by a previous process would hold their
	// version's job slot forever; fail them before accepting work.
	abandoned, err := runner.versions.FailAbandonedJobs(ctx,
		importer.ErrCancelled.New("job was abandoned before completion").Error(), time.Now().UTC())
	if err != nil {
		runner.log.Error("failing abandoned jobs failed", zap.Error(err))
	} else if abandoned > 0 {
		runner.log.Warn("failed abandoned jobs", zap.Int("count", abandoned))
	}

	runner.mu.Lock()
	runner.root, runner.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if !runner.started {
		runner.started = true
		close(runner.startedCh)
	}
	runner.mu.Unlock()

	<-ctx.Done()
	runner.mu.Lock()
	cancel := runner.cancel
	runner.mu.Unlock()
	cancel()
	runner.limiter.Wait()
	return nil
}

// Close cancels in-flight jobs.
func (runner *Runner) Close() error {
	runner.mu.Lock()
	cancel := runner.cancel
	runner.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	runner.limiter.Wait()
	return nil
}

// Started is closed once Run has established the worker context and
// Enqueue will accept jobs.
func (runner *Runner) Started() <-chan struct{} { return runner.startedCh }

// Enqueue claims the pending job and hands it to a worker. The job row
// must already exist; the caller returns it to the client immediately.
func (runner *Runner) Enqueue(job *importer.ImportJob, fn Func) error {
	runner.mu.Lock()
	if !runner.started {
		runner.mu.Unlock()
		return Error.New("runner is not running")
	}
	jobCtx, jobCancel := context.WithTimeout(runner.root, runner.config.JobTimeout)
	runner.active[job.ID] = jobCancel
	runner.mu.Unlock()

	jobID, jobType := job.ID, job.JobType
	started := runner.limiter.Go(context.Background(), func() {
		defer func() {
			jobCancel()
			runner.mu.Lock()
			delete(runner.active, jobID)
			runner.mu.Unlock()
		}()
		runner.execute(jobCtx, jobID, jobType, fn)
	})
	if !started {
		jobCancel()
		runner.mu.Lock()
		delete(runner.active, jobID)
		runner.mu.Unlock()
		return Error.New("runner is shutting down")
	}
	return nil
}

func (runner *Runner) execute(ctx context.Context, jobID uuid.UUID, jobType importer.JobType, fn Func) {
	log := runner.log.With(zap.Stringer("job", jobID), zap.String("type", string(jobType)))
	start := time.Now()

	// Claiming and finalizing must survive job-context cancellation,
	// otherwise a cancelled job row would stay running forever.
	storeCtx := context.WithoutCancel(ctx)

	if err := runner.versions.ClaimJob(storeCtx, jobID, start.UTC()); err != nil {
		log.Error("claiming job failed", zap.Error(err))
		return
	}

	summary, err := fn(ctx, runner.progressFunc(storeCtx, jobID))
	finished := time.Now()
	mon.DurationVal("job_duration", monkit.NewSeriesTag("type", string(jobType))).Observe(finished.Sub(start))

	if err != nil {
		message := errorMessage(ctx, err)
		log.Warn("job failed", zap.String("reason", message), zap.Duration("took", finished.Sub(start)))
		err = runner.versions.FinalizeJob(storeCtx, jobID, importer.JobFailed, nil, message, finished.UTC())
		if err != nil {
			log.Error("finalizing failed job failed", zap.Error(err))
		}
		return
	}

	var raw json.RawMessage
	if summary != nil {
		raw, err = json.Marshal(summary)
		if err != nil {
			log.Error("marshaling job summary failed", zap.Error(err))
		}
	}
	err = runner.versions.FinalizeJob(storeCtx, jobID, importer.JobCompleted, raw, "", finished.UTC())
	if err != nil {
		log.Error("finalizing job failed", zap.Error(err))
		return
	}
	log.Info("job completed", zap.Duration("took", finished.Sub(start)))
}

// progressFunc throttles row writes: at most once per second or once
// per 1% delta, whichever is coarser, to bound write load.
func (runner *Runner) progressFunc(ctx context.Context, jobID uuid.UUID) func(int) {
	var lastWrite time.Time
	lastPct := -1
	return func(pct int) {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		now := time.Now()
		if pct != 100 && pct <= lastPct+1 && now.Sub(lastWrite) < time.Second {
			return
		}
		lastPct, lastWrite = pct, now
		if err := runner.versions.UpdateJobProgress(ctx, jobID, pct); err != nil {
			runner.log.Warn("updating job progress failed",
				zap.Stringer("job", jobID), zap.Error(err))
		}
	}
}

// errorMessage maps job failures onto the stable taxonomy: context
// cancellation becomes Cancelled, a blown deadline TimedOut.
func errorMessage(ctx context.Context, err error) string {
	switch {
	case errs.Is(err, context.Canceled) || context.Cause(ctx) == context.Canceled:
		return importer.ErrCancelled.New("job was cancelled").Error()
	case errs.Is(err, context.DeadlineExceeded):
		return importer.ErrTimedOut.New("job exceeded its time budget").Error()
	}
	return err.Error()
}
