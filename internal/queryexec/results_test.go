package queryexec

import (
	"testing"
)

func TestParseResults(t *testing.T) {
	raw := []byte("customer,total_spent\nAlice,120.50\nBob,80\n")
	rs, err := ParseResults(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rs.Columns) != 2 || rs.Columns[0] != "customer" || rs.Columns[1] != "total_spent" {
		t.Fatalf("unexpected columns: %v", rs.Columns)
	}
	if len(rs.Rows) != 2 || rs.Rows[1][0] != "Bob" {
		t.Fatalf("unexpected rows: %v", rs.Rows)
	}
}

func TestParseResultsHeaderOnly(t *testing.T) {
	rs, err := ParseResults([]byte("month,orders,revenue\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rs.Columns) != 3 || len(rs.Rows) != 0 {
		t.Fatalf("expected header-only result, got %+v", rs)
	}
}

func TestParseResultsQuotedCells(t *testing.T) {
	rs, err := ParseResults([]byte("customer,note\n\"Smith, Jane\",\"said \"\"hi\"\"\"\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rs.Rows[0][0] != "Smith, Jane" || rs.Rows[0][1] != `said "hi"` {
		t.Fatalf("quoting broken: %v", rs.Rows)
	}
}

func TestParseResultsRaggedRowFails(t *testing.T) {
	if _, err := ParseResults([]byte("a,b\n1,2,3\n")); err == nil {
		t.Fatal("expected error for row wider than header")
	}
}

func TestParseResultsEmptyFails(t *testing.T) {
	if _, err := ParseResults(nil); err == nil {
		t.Fatal("expected error for empty result bytes")
	}
}
