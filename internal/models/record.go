package models

import (
	"fmt"
	"strings"
	"time"
)

// Status buckets an order row into the vocabulary the retention policy
// understands. Values outside the known set map to StatusOther and are
// never considered stale.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusOther     Status = "other"
)

// ParseStatus normalizes a raw status cell. Matching is case-insensitive
// and ignores surrounding whitespace.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending
	case StatusConfirmed:
		return StatusConfirmed
	case StatusShipped:
		return StatusShipped
	case StatusDelivered:
		return StatusDelivered
	case StatusCancelled:
		return StatusCancelled
	default:
		return StatusOther
	}
}

// Record is one decoded order row. Line is the 1-based source line it was
// read from; RawStatus preserves the original cell so re-encoding does not
// lose values outside the known status set.
type Record struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	OrderDate  time.Time `json:"order_date"`
	Status     Status    `json:"status"`
	RawStatus  string    `json:"-"`
	Amount     float64   `json:"amount"`
	Line       int       `json:"-"`
}

// AgeDays returns how many whole days old the record is at now. Dates in
// the future count as age zero rather than an error.
func (r Record) AgeDays(now time.Time) int {
	if !r.OrderDate.Before(now) {
		return 0
	}
	return int(now.Sub(r.OrderDate).Hours() / 24)
}

// RecordError describes a single rejected input row. Rejections are
// collected, not fatal: one bad row never aborts a batch.
type RecordError struct {
	Line   int    `json:"line"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Reason)
}
