// Package report assembles terminal query-job outcomes into the ordered
// report handed to callers. Entry order always follows catalog order, never
// completion order.
package report

import (
	"sort"
	"time"

	"order-analytics-pipeline/internal/models"
)

// Outcome is a terminal snapshot of one query job, taken after the driving
// goroutine has finished with it.
type Outcome struct {
	Name     string
	Question string
	Position int
	State    models.JobState
	Error    string
	Attempts int
	Result   *models.ResultSet
}

// Failure describes why an entry has no result.
type Failure struct {
	State    models.JobState `json:"state"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts"`
}

// Entry is one report slot. Exactly one of Result and Failure is set, so a
// partial-failure report still shows every slot explicitly.
type Entry struct {
	Name     string            `json:"name"`
	Question string            `json:"question"`
	Position int               `json:"position"`
	Result   *models.ResultSet `json:"result,omitempty"`
	Failure  *Failure          `json:"failure,omitempty"`
}

// Report is the final product of one analytics run.
type Report struct {
	RunID     string        `json:"run_id"`
	Dataset   string        `json:"dataset"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Entries   []Entry       `json:"entries"`
}

// Succeeded counts entries carrying a result set.
func (r *Report) Succeeded() int {
	n := 0
	for _, e := range r.Entries {
		if e.Result != nil {
			n++
		}
	}
	return n
}

// Failed counts entries carrying a failure descriptor.
func (r *Report) Failed() int {
	return len(r.Entries) - r.Succeeded()
}

// Aggregate builds the report from outcomes in any order. One entry per
// outcome, sorted by catalog position. A succeeded outcome contributes its
// result set; every other terminal state contributes a failure descriptor.
func Aggregate(runID, dataset string, startedAt time.Time, duration time.Duration, outcomes []Outcome) *Report {
	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	entries := make([]Entry, 0, len(sorted))
	for _, o := range sorted {
		entry := Entry{
			Name:     o.Name,
			Question: o.Question,
			Position: o.Position,
		}
		if o.State == models.JobSucceeded && o.Result != nil {
			entry.Result = o.Result
		} else {
			entry.Failure = &Failure{State: o.State, Error: o.Error, Attempts: o.Attempts}
		}
		entries = append(entries, entry)
	}
	return &Report{
		RunID:     runID,
		Dataset:   dataset,
		StartedAt: startedAt,
		Duration:  duration,
		Entries:   entries,
	}
}
