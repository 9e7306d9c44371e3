package ingest

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"order-analytics-pipeline/internal/models"
)

// canonicalHeader is the column layout of filtered output, matching what
// the analytics table and catalog queries expect.
var canonicalHeader = []string{"orderid", "customer", "orderdate", "status", "amount"}

// EncodeRecords renders records as CSV under the canonical header. Dates
// are normalized to ISO so the downstream table parses them uniformly;
// status cells keep their original spelling (queries lowercase them).
func EncodeRecords(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(canonicalHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		status := r.RawStatus
		if status == "" {
			status = string(r.Status)
		}
		row := []string{
			r.ID,
			r.CustomerID,
			r.OrderDate.Format("2006-01-02"),
			status,
			strconv.FormatFloat(r.Amount, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
