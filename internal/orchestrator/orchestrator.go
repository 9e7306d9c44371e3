// Package orchestrator drives every catalog query as an independent
// concurrent job against the execution service: submit, poll with backoff,
// fetch and parse the result, and convert deadline or cancellation into the
// matching terminal state. No job blocks or cancels another; partial
// success is the designed common case.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"order-analytics-pipeline/internal/catalog"
	"order-analytics-pipeline/internal/models"
	"order-analytics-pipeline/internal/queryexec"
	"order-analytics-pipeline/internal/report"
	"order-analytics-pipeline/internal/telemetry"
)

// submissionKey is the shared rate-limit bucket for query submissions.
const submissionKey = "query-submit"

// Limiter gates query submissions across concurrent jobs and, behind a
// shared backend, across instances. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Config tunes polling, retries, and deadlines for a run.
type Config struct {
	Table           string
	OutputLocation  string
	PollInitial     time.Duration
	PollMax         time.Duration
	PollMultiplier  float64
	MaxPollAttempts int
	RetryBudget     int
	QueryTimeout    time.Duration
	RunDeadline     time.Duration
	CancelGrace     time.Duration
}

// Orchestrator runs catalogs. One instance serves many runs; all state
// lives in per-run jobs.
type Orchestrator struct {
	svc     queryexec.Service
	limiter Limiter
	cfg     Config
	log     *logrus.Entry
}

func New(svc queryexec.Service, limiter Limiter, cfg Config, log *logrus.Entry) *Orchestrator {
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = time.Second
	}
	if cfg.PollMax < cfg.PollInitial {
		cfg.PollMax = cfg.PollInitial
	}
	if cfg.PollMultiplier < 1 {
		cfg.PollMultiplier = 2
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 2 * time.Second
	}
	return &Orchestrator{svc: svc, limiter: limiter, cfg: cfg, log: log}
}

// Run drives every definition to a terminal state and aggregates the
// report. It returns at the latest shortly after RunDeadline elapses; jobs
// still in flight at that point are marked timed out, never silently
// dropped. Cancelling ctx marks pending jobs cancelled instead.
func (o *Orchestrator) Run(ctx context.Context, runID string, defs catalog.Catalog) *report.Report {
	started := time.Now()
	telemetry.RunsTotal.Inc()

	runCtx := ctx
	if o.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunDeadline)
		defer cancel()
	}

	jobs := make([]*Job, len(defs))
	var wg sync.WaitGroup
	for i, def := range defs {
		job := NewJob(def, i)
		jobs[i] = job
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			o.drive(runCtx, j)
		}(job)
	}
	wg.Wait()

	duration := time.Since(started)
	telemetry.RunDuration.Observe(duration.Seconds())

	outcomes := make([]report.Outcome, len(jobs))
	for i, j := range jobs {
		outcomes[i] = j.Outcome()
	}
	rep := report.Aggregate(runID, o.cfg.Table, started, duration, outcomes)
	o.log.WithFields(logrus.Fields{
		"run_id":    runID,
		"queries":   len(rep.Entries),
		"succeeded": rep.Succeeded(),
		"failed":    rep.Failed(),
		"duration":  duration.String(),
	}).Info("analytics run finished")
	return rep
}

// drive owns one job for its whole life. Every blocking point honors ctx,
// so a fired deadline is observed at the next poll or sleep.
func (o *Orchestrator) drive(ctx context.Context, job *Job) {
	telemetry.QueriesInFlight.Inc()
	defer telemetry.QueriesInFlight.Dec()

	if o.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.QueryTimeout)
		defer cancel()
	}

	if o.submit(ctx, job) {
		o.poll(ctx, job)
	}
}

func (o *Orchestrator) submit(ctx context.Context, job *Job) bool {
	sql := job.Definition.Render(o.cfg.Table)
	for {
		if ctx.Err() != nil {
			o.expire(job, ctx.Err())
			return false
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx, submissionKey); err != nil {
				if ctx.Err() != nil {
					o.expire(job, ctx.Err())
					return false
				}
				// A broken limiter must not take the run down with it.
				o.log.WithError(err).Warn("submission limiter unavailable")
			}
		}
		id, err := o.svc.Submit(ctx, sql, o.cfg.OutputLocation)
		if err == nil {
			job.ExternalID = id
			job.State = models.JobSubmitted
			telemetry.QueriesSubmitted.Inc()
			return true
		}
		if !o.retry(ctx, job, err) {
			return false
		}
	}
}

func (o *Orchestrator) poll(ctx context.Context, job *Job) {
	for {
		if ctx.Err() != nil {
			o.expire(job, ctx.Err())
			return
		}
		job.Attempts++
		if o.cfg.MaxPollAttempts > 0 && job.Attempts > o.cfg.MaxPollAttempts {
			o.timeout(job, fmt.Sprintf("no terminal state after %d polls", job.Attempts-1))
			return
		}
		p, err := o.svc.Poll(ctx, job.ExternalID)
		if err != nil {
			if !o.retry(ctx, job, err) {
				return
			}
			continue
		}
		switch p.State {
		case queryexec.StateQueued:
			// not started yet, stay submitted
		case queryexec.StateRunning:
			job.State = models.JobRunning
		case queryexec.StateFailed:
			reason := p.Reason
			if reason == "" {
				reason = "execution service reported failure"
			}
			o.fail(job, errors.New(reason))
			return
		case queryexec.StateSucceeded:
			o.collect(ctx, job)
			return
		}
		if !o.sleep(ctx, backoffWithJitter(o.cfg.PollInitial, o.cfg.PollMax, o.cfg.PollMultiplier, job.Attempts)) {
			o.expire(job, ctx.Err())
			return
		}
	}
}

// collect fetches and parses the result of a succeeded execution. Fetch
// failures retry within the job's remaining budget; a result that does not
// parse fails the job.
func (o *Orchestrator) collect(ctx context.Context, job *Job) {
	for {
		raw, err := o.svc.FetchResult(ctx, job.ExternalID)
		if err != nil {
			if !o.retry(ctx, job, err) {
				return
			}
			continue
		}
		rs, err := queryexec.ParseResults(raw)
		if err != nil {
			o.fail(job, err)
			return
		}
		job.Result = &rs
		job.State = models.JobSucceeded
		job.FinishedAt = time.Now()
		telemetry.QueriesSucceeded.Inc()
		return
	}
}

// retry reports whether the caller should try again after err. Permanent
// errors and an exhausted budget end the job as failed; a deadline firing
// during the backoff sleep ends it as timed out or cancelled.
func (o *Orchestrator) retry(ctx context.Context, job *Job, err error) bool {
	if queryexec.IsPermanent(err) {
		o.fail(job, err)
		return false
	}
	job.Retries++
	if job.Retries > o.cfg.RetryBudget {
		o.fail(job, fmt.Errorf("retry budget exhausted after %d transient errors: %w", job.Retries, err))
		return false
	}
	job.LastError = err.Error()
	if !o.sleep(ctx, backoffWithJitter(o.cfg.PollInitial, o.cfg.PollMax, o.cfg.PollMultiplier, job.Retries)) {
		o.expire(job, ctx.Err())
		return false
	}
	return true
}

func (o *Orchestrator) fail(job *Job, err error) {
	job.State = models.JobFailed
	job.LastError = err.Error()
	job.FinishedAt = time.Now()
	telemetry.QueriesFailed.Inc()
	o.log.WithFields(logrus.Fields{
		"query": job.Definition.Name,
		"error": job.LastError,
	}).Warn("query job failed")
}

func (o *Orchestrator) timeout(job *Job, reason string) {
	job.State = models.JobTimedOut
	job.LastError = reason
	job.FinishedAt = time.Now()
	telemetry.QueriesTimedOut.Inc()
	o.cancelRemote(job)
}

// expire converts a dead context into the matching terminal state: caller
// cancellation becomes Cancelled, an elapsed deadline becomes TimedOut.
func (o *Orchestrator) expire(job *Job, err error) {
	if errors.Is(err, context.Canceled) {
		job.State = models.JobCancelled
		job.LastError = "run cancelled"
		telemetry.QueriesCancelled.Inc()
	} else {
		job.State = models.JobTimedOut
		job.LastError = "deadline exceeded"
		telemetry.QueriesTimedOut.Inc()
	}
	job.FinishedAt = time.Now()
	o.cancelRemote(job)
}

// cancelRemote tells the execution service to stop a query we gave up on.
// Best effort on a detached context: the run never waits on the
// acknowledgment beyond the grace period, the job is already terminal.
func (o *Orchestrator) cancelRemote(job *Job) {
	if job.ExternalID == "" {
		return
	}
	id := job.ExternalID
	name := job.Definition.Name
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CancelGrace)
		defer cancel()
		if err := o.svc.Cancel(ctx, id); err != nil {
			o.log.WithFields(logrus.Fields{"query": name, "error": err.Error()}).Debug("cancel signal failed")
		}
	}()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
