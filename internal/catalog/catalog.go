// Package catalog holds the fixed, ordered set of analytical questions the
// pipeline answers each run. Catalog order is the order reports render in.
package catalog

import (
	"fmt"
	"strings"
)

// Definition is one named report: the question shown to readers and the
// query template answering it. Templates reference the dataset through the
// {{table}} placeholder so the same catalog serves any table name.
type Definition struct {
	Name     string `json:"name"`
	Question string `json:"question"`
	Template string `json:"template"`
}

// Render substitutes the table name into the template. The name is quoted
// so tables with reserved-word names keep working.
func (d Definition) Render(table string) string {
	return strings.ReplaceAll(d.Template, "{{table}}", `"`+table+`"`)
}

// Catalog is an ordered list of definitions. Position in the slice is the
// position in the final report.
type Catalog []Definition

// Validate rejects catalogs that would produce ambiguous or broken reports.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for i, d := range c {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("catalog entry %d has no name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("duplicate catalog entry %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		if !strings.Contains(d.Template, "{{table}}") {
			return fmt.Errorf("catalog entry %q does not reference {{table}}", d.Name)
		}
	}
	return nil
}

// Default returns the standard order-analytics catalog.
func Default() Catalog {
	return Catalog{
		{
			Name:     "total_sales_by_customer",
			Question: "Total Sales by Customer",
			Template: `SELECT customer, SUM(CAST(amount AS DOUBLE)) AS total_spent FROM {{table}} GROUP BY customer ORDER BY total_spent DESC`,
		},
		{
			Name:     "monthly_orders_revenue",
			Question: "Monthly Orders and Revenue",
			Template: `SELECT DATE_TRUNC('month', CAST(orderdate AS DATE)) AS month, COUNT(*) AS orders, SUM(CAST(amount AS DOUBLE)) AS revenue FROM {{table}} GROUP BY 1 ORDER BY 1`,
		},
		{
			Name:     "orders_by_status",
			Question: "Orders by Status",
			Template: `SELECT LOWER(status) AS status, COUNT(*) AS orders FROM {{table}} GROUP BY 1 ORDER BY orders DESC`,
		},
		{
			Name:     "avg_order_value",
			Question: "Average Order Value per Customer",
			Template: `SELECT customer, AVG(CAST(amount AS DOUBLE)) AS avg_order_value FROM {{table}} GROUP BY customer ORDER BY avg_order_value DESC`,
		},
		{
			Name:     "top_orders_feb_2025",
			Question: "Top 10 Orders of February 2025",
			Template: `SELECT orderdate, orderid, customer, CAST(amount AS DOUBLE) AS amount FROM {{table}} WHERE CAST(orderdate AS DATE) BETWEEN DATE '2025-02-01' AND DATE '2025-02-28' ORDER BY amount DESC LIMIT 10`,
		},
	}
}
