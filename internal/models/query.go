package models

// JobState enumerates the lifecycle of one analytics query job.
type JobState string

const (
	JobCreated   JobState = "created"
	JobSubmitted JobState = "submitted"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether a job in this state will never transition again.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobTimedOut, JobCancelled:
		return true
	}
	return false
}

// ResultSet is a parsed tabular query result. Rows hold cells as strings in
// column order; typing is left to consumers.
type ResultSet struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}
