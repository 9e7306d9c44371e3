package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"order-analytics-pipeline/internal/catalog"
	"order-analytics-pipeline/internal/models"
	"order-analytics-pipeline/internal/queryexec"
)

// step is one scripted poll observation.
type step struct {
	poll queryexec.Poll
	err  error
}

// script controls how the fake service treats one query, keyed by its
// rendered SQL. The last poll step repeats forever.
type script struct {
	submitErrs []error
	steps      []step
	result     []byte
	fetchErrs  []error
}

type fakeService struct {
	mu        sync.Mutex
	scripts   map[string]*script
	sqlByID   map[string]string
	submits   map[string]int
	nextID    int
	cancelled []string
}

func newFakeService() *fakeService {
	return &fakeService{
		scripts: make(map[string]*script),
		sqlByID: make(map[string]string),
		submits: make(map[string]int),
	}
}

func (f *fakeService) set(sql string, sc *script) {
	f.scripts[sql] = sc
}

func (f *fakeService) Submit(_ context.Context, sql, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits[sql]++
	sc, ok := f.scripts[sql]
	if !ok {
		return "", queryexec.Permanent(fmt.Errorf("no script for %q", sql))
	}
	if len(sc.submitErrs) > 0 {
		err := sc.submitErrs[0]
		sc.submitErrs = sc.submitErrs[1:]
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("exec-%d", f.nextID)
	f.sqlByID[id] = sql
	return id, nil
}

func (f *fakeService) Poll(_ context.Context, id string) (queryexec.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc := f.scripts[f.sqlByID[id]]
	if sc == nil || len(sc.steps) == 0 {
		return queryexec.Poll{State: queryexec.StateRunning}, nil
	}
	st := sc.steps[0]
	if len(sc.steps) > 1 {
		sc.steps = sc.steps[1:]
	}
	return st.poll, st.err
}

func (f *fakeService) FetchResult(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc := f.scripts[f.sqlByID[id]]
	if len(sc.fetchErrs) > 0 {
		err := sc.fetchErrs[0]
		sc.fetchErrs = sc.fetchErrs[1:]
		return nil, err
	}
	return sc.result, nil
}

func (f *fakeService) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeService) submitCount(sql string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[sql]
}

func (f *fakeService) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func fastConfig() Config {
	return Config{
		Table:           "orders",
		OutputLocation:  "s3://bucket/results/",
		PollInitial:     time.Millisecond,
		PollMax:         4 * time.Millisecond,
		PollMultiplier:  2,
		MaxPollAttempts: 200,
		RetryBudget:     2,
		CancelGrace:     200 * time.Millisecond,
	}
}

func testDefs(names ...string) catalog.Catalog {
	c := make(catalog.Catalog, 0, len(names))
	for _, n := range names {
		c = append(c, catalog.Definition{
			Name:     n,
			Question: "Q " + n,
			Template: "SELECT '" + n + "' FROM {{table}}",
		})
	}
	return c
}

func sqlFor(name string) string {
	return "SELECT '" + name + `' FROM "orders"`
}

func succeedAfter(polls int, name string) *script {
	sc := &script{result: []byte("v\n" + name + "\n")}
	for i := 0; i < polls-1; i++ {
		sc.steps = append(sc.steps, step{poll: queryexec.Poll{State: queryexec.StateRunning}})
	}
	sc.steps = append(sc.steps, step{poll: queryexec.Poll{State: queryexec.StateSucceeded}})
	return sc
}

func TestRunOrderIndependentOfCompletion(t *testing.T) {
	defs := testDefs("a", "b", "c", "d", "e")
	svc := newFakeService()
	// first catalog entry finishes long after the rest
	svc.set(sqlFor("a"), succeedAfter(8, "a"))
	for _, n := range []string{"b", "c", "d", "e"} {
		svc.set(sqlFor(n), succeedAfter(1, n))
	}

	o := New(svc, nil, fastConfig(), quietLog())
	rep := o.Run(context.Background(), "run-1", defs)

	if len(rep.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(rep.Entries))
	}
	for i, n := range []string{"a", "b", "c", "d", "e"} {
		e := rep.Entries[i]
		if e.Name != n {
			t.Fatalf("entry %d: got %q want %q", i, e.Name, n)
		}
		if e.Result == nil || e.Result.Rows[0][0] != n {
			t.Fatalf("entry %d: wrong or missing result: %+v", i, e)
		}
	}
}

func TestRunPartialFailureKeepsEverySlot(t *testing.T) {
	defs := testDefs("a", "b", "c", "d", "e")
	svc := newFakeService()
	for _, n := range []string{"a", "b", "d", "e"} {
		svc.set(sqlFor(n), succeedAfter(1, n))
	}
	svc.set(sqlFor("c"), &script{steps: []step{
		{poll: queryexec.Poll{State: queryexec.StateFailed, Reason: "SYNTAX_ERROR"}},
	}})

	o := New(svc, nil, fastConfig(), quietLog())
	rep := o.Run(context.Background(), "run-1", defs)

	if len(rep.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(rep.Entries))
	}
	for i, e := range rep.Entries {
		if i == 2 {
			if e.Failure == nil || e.Failure.State != models.JobFailed {
				t.Fatalf("entry 3 must be failed, got %+v", e)
			}
			if !strings.Contains(e.Failure.Error, "SYNTAX_ERROR") {
				t.Fatalf("failure must carry the service reason, got %q", e.Failure.Error)
			}
			continue
		}
		if e.Result == nil {
			t.Fatalf("entry %d must carry a result, got %+v", i, e)
		}
	}
}

func TestTransientBudgetExhaustedFailsJob(t *testing.T) {
	defs := testDefs("a")
	svc := newFakeService()
	blip := queryexec.Transient(errors.New("throttled"))
	// budget+1 transient submit errors
	svc.set(sqlFor("a"), &script{submitErrs: []error{blip, blip, blip}})

	cfg := fastConfig()
	cfg.RetryBudget = 2
	o := New(svc, nil, cfg, quietLog())
	rep := o.Run(context.Background(), "run-1", defs)

	e := rep.Entries[0]
	if e.Failure == nil || e.Failure.State != models.JobFailed {
		t.Fatalf("expected failed entry, got %+v", e)
	}
	if !strings.Contains(e.Failure.Error, "retry budget exhausted") {
		t.Fatalf("unexpected error: %q", e.Failure.Error)
	}
	if got := svc.submitCount(sqlFor("a")); got != 3 {
		t.Fatalf("expected exactly budget+1 submit attempts, got %d", got)
	}
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	defs := testDefs("a")
	svc := newFakeService()
	svc.set(sqlFor("a"), &script{submitErrs: []error{
		queryexec.Permanent(errors.New("table not found")),
	}})

	o := New(svc, nil, fastConfig(), quietLog())
	rep := o.Run(context.Background(), "run-1", defs)

	e := rep.Entries[0]
	if e.Failure == nil || e.Failure.State != models.JobFailed {
		t.Fatalf("expected failed entry, got %+v", e)
	}
	if !strings.Contains(e.Failure.Error, "table not found") {
		t.Fatalf("unexpected error: %q", e.Failure.Error)
	}
	if got := svc.submitCount(sqlFor("a")); got != 1 {
		t.Fatalf("permanent error must not be retried, submits=%d", got)
	}
}

func TestGlobalDeadlineTimesOutEveryJobPromptly(t *testing.T) {
	defs := testDefs("a", "b", "c")
	svc := newFakeService()
	for _, n := range []string{"a", "b", "c"} {
		// never reaches a terminal state
		svc.set(sqlFor(n), &script{steps: []step{{poll: queryexec.Poll{State: queryexec.StateRunning}}}})
	}

	cfg := fastConfig()
	cfg.PollInitial = 5 * time.Millisecond
	cfg.RunDeadline = 80 * time.Millisecond
	o := New(svc, nil, cfg, quietLog())

	start := time.Now()
	rep := o.Run(context.Background(), "run-1", defs)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("run did not return promptly at the deadline: %s", elapsed)
	}
	for i, e := range rep.Entries {
		if e.Failure == nil || e.Failure.State != models.JobTimedOut {
			t.Fatalf("entry %d must be timed out, got %+v", i, e)
		}
	}

	// cancellation is signalled best effort after the deadline
	deadline := time.Now().Add(time.Second)
	for svc.cancelCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.cancelCount() != 3 {
		t.Fatalf("expected 3 cancel signals, got %d", svc.cancelCount())
	}
}

func TestCallerAbortMarksJobsCancelled(t *testing.T) {
	defs := testDefs("a", "b")
	svc := newFakeService()
	for _, n := range []string{"a", "b"} {
		svc.set(sqlFor(n), &script{steps: []step{{poll: queryexec.Poll{State: queryexec.StateRunning}}}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	o := New(svc, nil, fastConfig(), quietLog())
	rep := o.Run(ctx, "run-1", defs)

	for i, e := range rep.Entries {
		if e.Failure == nil || e.Failure.State != models.JobCancelled {
			t.Fatalf("entry %d must be cancelled, got %+v", i, e)
		}
	}
}

func TestDriveQueuedRunningSucceeded(t *testing.T) {
	svc := newFakeService()
	sc := &script{
		steps: []step{
			{poll: queryexec.Poll{State: queryexec.StateQueued}},
			{poll: queryexec.Poll{State: queryexec.StateRunning}},
			{poll: queryexec.Poll{State: queryexec.StateSucceeded}},
		},
		result: []byte("n\n1\n"),
	}
	svc.set(sqlFor("a"), sc)

	o := New(svc, nil, fastConfig(), quietLog())
	job := NewJob(testDefs("a")[0], 0)
	o.drive(context.Background(), job)

	if job.State != models.JobSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", job.State, job.LastError)
	}
	if job.Attempts != 3 {
		t.Fatalf("expected 3 poll attempts, got %d", job.Attempts)
	}
	if job.Result == nil || job.Result.Rows[0][0] != "1" {
		t.Fatalf("missing result: %+v", job.Result)
	}
	if job.ExternalID == "" || job.FinishedAt.IsZero() {
		t.Fatalf("terminal bookkeeping incomplete: %+v", job)
	}
}

func TestDriveTransientPollErrorsWithinBudget(t *testing.T) {
	svc := newFakeService()
	blip := queryexec.Transient(errors.New("connection reset"))
	svc.set(sqlFor("a"), &script{
		steps: []step{
			{err: blip},
			{err: blip},
			{poll: queryexec.Poll{State: queryexec.StateSucceeded}},
		},
		result: []byte("n\n1\n"),
	})

	o := New(svc, nil, fastConfig(), quietLog())
	job := NewJob(testDefs("a")[0], 0)
	o.drive(context.Background(), job)

	if job.State != models.JobSucceeded {
		t.Fatalf("expected succeeded after transient polls, got %s (%s)", job.State, job.LastError)
	}
	if job.Retries != 2 {
		t.Fatalf("expected 2 consumed retries, got %d", job.Retries)
	}
}

func TestDriveFetchRetriesThenSucceeds(t *testing.T) {
	svc := newFakeService()
	svc.set(sqlFor("a"), &script{
		steps:     []step{{poll: queryexec.Poll{State: queryexec.StateSucceeded}}},
		fetchErrs: []error{queryexec.Transient(errors.New("slow storage"))},
		result:    []byte("n\n1\n"),
	})

	o := New(svc, nil, fastConfig(), quietLog())
	job := NewJob(testDefs("a")[0], 0)
	o.drive(context.Background(), job)

	if job.State != models.JobSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", job.State, job.LastError)
	}
	if job.Retries != 1 {
		t.Fatalf("expected 1 consumed retry, got %d", job.Retries)
	}
}

func TestDriveUnparsableResultFailsJob(t *testing.T) {
	svc := newFakeService()
	svc.set(sqlFor("a"), &script{
		steps:  []step{{poll: queryexec.Poll{State: queryexec.StateSucceeded}}},
		result: []byte("a,b\n1,2,3\n"),
	})

	o := New(svc, nil, fastConfig(), quietLog())
	job := NewJob(testDefs("a")[0], 0)
	o.drive(context.Background(), job)

	if job.State != models.JobFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
	if !strings.Contains(job.LastError, "parse") {
		t.Fatalf("unexpected error: %q", job.LastError)
	}
}

func TestDrivePollAttemptsExhaustedTimesOut(t *testing.T) {
	svc := newFakeService()
	svc.set(sqlFor("a"), &script{steps: []step{{poll: queryexec.Poll{State: queryexec.StateRunning}}}})

	cfg := fastConfig()
	cfg.MaxPollAttempts = 3
	o := New(svc, nil, cfg, quietLog())
	job := NewJob(testDefs("a")[0], 0)
	o.drive(context.Background(), job)

	if job.State != models.JobTimedOut {
		t.Fatalf("expected timed out, got %s", job.State)
	}
	if !strings.Contains(job.LastError, "after 3 polls") {
		t.Fatalf("unexpected error: %q", job.LastError)
	}
}

func TestDrivePerQueryTimeout(t *testing.T) {
	svc := newFakeService()
	svc.set(sqlFor("a"), &script{steps: []step{{poll: queryexec.Poll{State: queryexec.StateRunning}}}})

	cfg := fastConfig()
	cfg.QueryTimeout = 30 * time.Millisecond
	o := New(svc, nil, cfg, quietLog())
	job := NewJob(testDefs("a")[0], 0)
	o.drive(context.Background(), job)

	if job.State != models.JobTimedOut {
		t.Fatalf("expected timed out, got %s (%s)", job.State, job.LastError)
	}
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestLimiterGatesEverySubmission(t *testing.T) {
	defs := testDefs("a", "b", "c", "d")
	svc := newFakeService()
	for _, d := range defs {
		svc.set(sqlFor(d.Name), succeedAfter(1, d.Name))
	}
	limiter := &countingLimiter{}
	o := New(svc, limiter, fastConfig(), quietLog())
	rep := o.Run(context.Background(), "run-1", defs)

	if rep.Succeeded() != 4 {
		t.Fatalf("expected 4 successes, got %d", rep.Succeeded())
	}
	if limiter.count() != 4 {
		t.Fatalf("expected 4 limiter waits, got %d", limiter.count())
	}
}

func TestBrokenLimiterDoesNotBlockRun(t *testing.T) {
	defs := testDefs("a")
	svc := newFakeService()
	svc.set(sqlFor("a"), succeedAfter(1, "a"))
	limiter := &countingLimiter{err: errors.New("redis unreachable")}

	o := New(svc, limiter, fastConfig(), quietLog())
	rep := o.Run(context.Background(), "run-1", defs)

	if rep.Succeeded() != 1 {
		t.Fatalf("limiter failure must not fail the run: %+v", rep.Entries[0])
	}
}

func TestRunEmptyCatalog(t *testing.T) {
	o := New(newFakeService(), nil, fastConfig(), quietLog())
	rep := o.Run(context.Background(), "run-1", nil)
	if len(rep.Entries) != 0 {
		t.Fatalf("expected empty report, got %d entries", len(rep.Entries))
	}
}
