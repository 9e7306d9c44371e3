// Package filter implements the retention policy for order records: rows
// whose status marks them stale and whose age exceeds the policy window are
// dropped, everything else is kept.
package filter

import (
	"strconv"
	"time"

	"order-analytics-pipeline/internal/models"
)

// Policy decides which records are dropped. A record is dropped only when
// its status is in StaleStatuses AND its age in whole days is strictly
// greater than ThresholdDays. Age equal to the threshold keeps the record.
type Policy struct {
	StaleStatuses map[models.Status]struct{}
	ThresholdDays int
}

// DefaultPolicy drops pending and cancelled orders older than 30 days.
func DefaultPolicy() Policy {
	return NewPolicy([]string{"pending", "cancelled"}, 30)
}

// NewPolicy builds a policy from raw status names, normalizing each through
// models.ParseStatus. Names that normalize to StatusOther are ignored, so an
// unknown status can never become stale via configuration.
func NewPolicy(statuses []string, thresholdDays int) Policy {
	stale := make(map[models.Status]struct{}, len(statuses))
	for _, s := range statuses {
		st := models.ParseStatus(s)
		if st == models.StatusOther {
			continue
		}
		stale[st] = struct{}{}
	}
	return Policy{StaleStatuses: stale, ThresholdDays: thresholdDays}
}

// Stale reports whether the status participates in retention at all.
func (p Policy) Stale(s models.Status) bool {
	_, ok := p.StaleStatuses[s]
	return ok
}

// Result partitions one batch. Counts cover only records that passed
// validation, so Total == KeptCount + DroppedCount always holds.
type Result struct {
	Kept         []models.Record `json:"kept"`
	Dropped      []models.Record `json:"dropped"`
	Total        int             `json:"total"`
	KeptCount    int             `json:"kept_count"`
	DroppedCount int             `json:"dropped_count"`
}

// Apply partitions records under p, evaluating ages against now. Input
// order is preserved within each partition. Records that fail validation
// (zero order date, negative amount) are excluded from the result and
// reported individually; they never abort the batch.
//
// Apply is pure: it never mutates its input and two calls with the same
// arguments return the same partitions.
func Apply(records []models.Record, p Policy, now time.Time) (Result, []models.RecordError) {
	res := Result{
		Kept:    make([]models.Record, 0, len(records)),
		Dropped: make([]models.Record, 0),
	}
	var rejects []models.RecordError
	for _, rec := range records {
		if err, ok := validate(rec); !ok {
			rejects = append(rejects, err)
			continue
		}
		res.Total++
		if p.Stale(rec.Status) && rec.AgeDays(now) > p.ThresholdDays {
			res.Dropped = append(res.Dropped, rec)
			continue
		}
		res.Kept = append(res.Kept, rec)
	}
	res.KeptCount = len(res.Kept)
	res.DroppedCount = len(res.Dropped)
	return res, rejects
}

func validate(rec models.Record) (models.RecordError, bool) {
	if rec.OrderDate.IsZero() {
		return models.RecordError{Line: rec.Line, Field: "order_date", Reason: "missing order date"}, false
	}
	if rec.Amount < 0 {
		return models.RecordError{
			Line:   rec.Line,
			Field:  "amount",
			Reason: "negative amount " + strconv.FormatFloat(rec.Amount, 'f', -1, 64),
		}, false
	}
	return models.RecordError{}, true
}
