package orchestrator

import (
	"time"

	"order-analytics-pipeline/internal/catalog"
	"order-analytics-pipeline/internal/models"
	"order-analytics-pipeline/internal/report"
)

// Job tracks one catalog query from creation to a terminal state. A job is
// owned exclusively by the goroutine driving it; snapshots escape only
// through Outcome after the run's WaitGroup settles. Jobs live for a single
// run and are never reused.
type Job struct {
	Definition catalog.Definition
	Position   int
	State      models.JobState
	ExternalID string
	Attempts   int
	Retries    int
	LastError  string
	Result     *models.ResultSet
	StartedAt  time.Time
	FinishedAt time.Time
}

func NewJob(def catalog.Definition, position int) *Job {
	return &Job{
		Definition: def,
		Position:   position,
		State:      models.JobCreated,
		StartedAt:  time.Now(),
	}
}

// Outcome snapshots the job for aggregation.
func (j *Job) Outcome() report.Outcome {
	return report.Outcome{
		Name:     j.Definition.Name,
		Question: j.Definition.Question,
		Position: j.Position,
		State:    j.State,
		Error:    j.LastError,
		Attempts: j.Attempts,
		Result:   j.Result,
	}
}
