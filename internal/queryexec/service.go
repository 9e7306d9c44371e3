// Package queryexec defines the asynchronous query-execution contract the
// orchestrator drives, the transient/permanent error taxonomy governing
// retries, and the result-bytes parser.
package queryexec

import "context"

// PollState is the execution service's view of one submitted query.
type PollState string

const (
	StateQueued    PollState = "queued"
	StateRunning   PollState = "running"
	StateSucceeded PollState = "succeeded"
	StateFailed    PollState = "failed"
)

// Poll is one observation of a submitted query. Reason carries the
// service's failure detail when State is StateFailed.
type Poll struct {
	State  PollState
	Reason string
}

// Service is the execution backend contract. Submit returns the service's
// handle for the query; all later calls reference it. Implementations must
// be safe for concurrent use, one handle shared by every in-flight job.
type Service interface {
	Submit(ctx context.Context, sql, outputLocation string) (string, error)
	Poll(ctx context.Context, id string) (Poll, error)
	FetchResult(ctx context.Context, id string) ([]byte, error)
	Cancel(ctx context.Context, id string) error
}
