// Package report renders a monthly spending summary, or a submission, as a
// printable HTML page or an XLSX workbook.
package report

import (
	"time"

	"github.com/zombor/receipt-tracker/internal/spending"
)

// Content types of the rendered formats
const (
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Line is one receipt in the report
type Line struct {
	Date     string            `json:"date"`
	Time     string            `json:"time,omitempty"`
	Vendor   string            `json:"vendor"`
	Location string            `json:"location,omitempty"`
	Category spending.Category `json:"category"`
	Amount   int64             `json:"amount"` // cents
	Notes    string            `json:"notes,omitempty"`
}

// Data is everything a report shows
type Data struct {
	Title       string           `json:"title"`
	Owner       string           `json:"owner"`
	Period      string           `json:"period,omitempty"` // e.g. "March 2024"; empty for submissions
	Summary     spending.Summary `json:"summary"`
	Change      string           `json:"change,omitempty"` // "vs. last month" display value; empty hides the row
	Lines       []Line           `json:"lines"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Highest returns the display name of the top category, or "-" when nothing was spent
func (d Data) Highest() string {
	if c, ok := d.Summary.Highest(); ok {
		return c.String()
	}
	return "-"
}
