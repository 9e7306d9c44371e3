// Package ingest moves raw order batches through the retention filter:
// decode CSV, apply the policy, write the filtered batch to the processed
// area of the object store.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"order-analytics-pipeline/internal/models"
)

// Column candidates, matched against normalized header names. First hit
// wins. Producers disagree on naming, so each field accepts a few spellings.
var (
	idColumns       = []string{"orderid", "id"}
	customerColumns = []string{"customer", "customerid", "customername"}
	dateColumns     = []string{"orderdate", "date"}
	statusColumns   = []string{"status", "orderstatus"}
	amountColumns   = []string{"amount", "total", "ordertotal"}
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
}

// normalizeHeader lowercases and strips spaces and underscores, so
// "Order Date", "ORDER_DATE", and "orderdate" all match.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	return strings.ReplaceAll(h, "_", "")
}

type columnMap struct {
	id, customer, date, status, amount int
}

func findColumn(normalized, candidates []string) int {
	for _, c := range candidates {
		for i, h := range normalized {
			if h == c {
				return i
			}
		}
	}
	return -1
}

// mapColumns locates the canonical fields in a header row. Date and status
// are required: without them no retention decision is possible.
func mapColumns(header []string) (columnMap, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}
	cm := columnMap{
		id:       findColumn(normalized, idColumns),
		customer: findColumn(normalized, customerColumns),
		date:     findColumn(normalized, dateColumns),
		status:   findColumn(normalized, statusColumns),
		amount:   findColumn(normalized, amountColumns),
	}
	if cm.status == -1 {
		return cm, fmt.Errorf("no status column in header %v", header)
	}
	if cm.date == -1 {
		return cm, fmt.Errorf("no order date column in header %v", header)
	}
	return cm, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// DecodeRecords parses a raw CSV batch. Rows that fail to parse are
// collected as rejects and never abort the batch; only a missing or
// unusable header is fatal. Empty input decodes to nothing.
func DecodeRecords(raw []byte) ([]models.Record, []models.RecordError, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, nil, err
	}

	var (
		records []models.Record
		rejects []models.RecordError
	)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rejects = append(rejects, models.RecordError{Line: line, Field: "row", Reason: err.Error()})
			continue
		}

		orderDate, err := parseDate(cellAt(row, cols.date))
		if err != nil {
			rejects = append(rejects, models.RecordError{Line: line, Field: "order_date", Reason: err.Error()})
			continue
		}

		amount := 0.0
		if amountRaw := cellAt(row, cols.amount); amountRaw != "" {
			v, perr := strconv.ParseFloat(amountRaw, 64)
			if perr != nil {
				rejects = append(rejects, models.RecordError{Line: line, Field: "amount", Reason: fmt.Sprintf("invalid amount %q", amountRaw)})
				continue
			}
			amount = v
		}

		rawStatus := cellAt(row, cols.status)
		records = append(records, models.Record{
			ID:         cellAt(row, cols.id),
			CustomerID: cellAt(row, cols.customer),
			OrderDate:  orderDate,
			Status:     models.ParseStatus(rawStatus),
			RawStatus:  rawStatus,
			Amount:     amount,
			Line:       line,
		})
	}
	return records, rejects, nil
}
