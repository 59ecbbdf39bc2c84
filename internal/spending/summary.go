// Package spending computes monthly expense totals and per-category breakdowns.
//
// Everything in this package is a pure function of its inputs. Amounts are
// integer cents; percentages are rounded half away from zero to one decimal.
package spending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Expense is the only information aggregation needs from a receipt
type Expense struct {
	Category Category
	Amount   int64 // cents
}

// CategoryTotal is one row of the category breakdown
type CategoryTotal struct {
	Category   Category `json:"category"`
	Amount     int64    `json:"amount"`     // cents
	Percentage float64  `json:"percentage"` // share of TotalSpent, one decimal place
}

// Summary is the aggregate of a set of receipts
type Summary struct {
	TotalSpent   int64           `json:"total_spent"` // cents
	ReceiptCount int             `json:"receipt_count"`
	Categories   []CategoryTotal `json:"categories"`
	// Uncategorized holds amounts whose category is not a known value.
	// TotalSpent always equals the category amounts plus Uncategorized.
	Uncategorized int64 `json:"uncategorized,omitempty"`
}

// Aggregate sums entries into a Summary with one CategoryTotal per known
// category in canonical order. An empty input yields an all-zero summary.
func Aggregate(entries []Expense) Summary {
	var (
		buckets       [len(Categories)]int64
		total         int64
		uncategorized int64
	)

	for _, e := range entries {
		total += e.Amount
		if !e.Category.Valid() {
			uncategorized += e.Amount
			continue
		}
		buckets[e.Category.index()] += e.Amount
	}

	summary := Summary{
		TotalSpent:    total,
		ReceiptCount:  len(entries),
		Categories:    make([]CategoryTotal, 0, len(Categories)),
		Uncategorized: uncategorized,
	}
	for _, c := range Categories {
		amount := buckets[c.index()]
		summary.Categories = append(summary.Categories, CategoryTotal{
			Category:   c,
			Amount:     amount,
			Percentage: Percentage(amount, total),
		})
	}
	return summary
}

// Percentage returns part/total*100 rounded to one decimal place, or 0 when total is 0.
func Percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return decimal.NewFromInt(part).
		Mul(hundred).
		Div(decimal.NewFromInt(total)).
		Round(1).
		InexactFloat64()
}

// Amount returns the total for a single category
func (s Summary) Amount(c Category) int64 {
	for _, ct := range s.Categories {
		if ct.Category == c {
			return ct.Amount
		}
	}
	return 0
}

// Highest returns the category with the largest amount. Ties go to the
// category that comes first in canonical order. ok is false when nothing was spent.
func (s Summary) Highest() (c Category, ok bool) {
	var best int64
	for _, ct := range s.Categories {
		if ct.Amount > best {
			best = ct.Amount
			c = ct.Category
		}
	}
	return c, best > 0
}

// Change returns the signed percentage change from previous to current,
// rounded to one decimal place. A previous total of zero reports +100 when
// something was spent this month and 0 otherwise.
func Change(current, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return decimal.NewFromInt(current - previous).
		Mul(hundred).
		Div(decimal.NewFromInt(previous)).
		Round(1).
		InexactFloat64()
}

// FormatChange renders a change for display. nil means the comparison was unavailable.
func FormatChange(change *float64) string {
	if change == nil {
		return "N/A"
	}
	if *change > 0 {
		return fmt.Sprintf("+%.1f%%", *change)
	}
	return fmt.Sprintf("%.1f%%", *change)
}

// FormatCents renders an amount in cents as dollars, e.g. 2499 -> "24.99"
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
