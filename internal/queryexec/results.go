package queryexec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"

	"order-analytics-pipeline/internal/models"
)

// ParseResults decodes raw result bytes into a ResultSet. The expected
// shape is CSV with a header row; every data row must match the header
// width. Malformed bytes are a job failure, never a crash.
func ParseResults(raw []byte) (models.ResultSet, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	rows, err := reader.ReadAll()
	if err != nil {
		return models.ResultSet{}, fmt.Errorf("parse result csv: %w", err)
	}
	if len(rows) == 0 {
		return models.ResultSet{}, errors.New("result has no header row")
	}
	return models.ResultSet{
		Columns: rows[0],
		Rows:    rows[1:],
	}, nil
}
