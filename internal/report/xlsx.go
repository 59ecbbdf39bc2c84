package report

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	receiptsSheet = "Receipts"

	// Built-in number format "#,##0.00"
	amountNumFmt = 4
)

var receiptHeaders = []string{"Date", "Time", "Vendor", "Location", "Category", "Amount", "Notes"}

func dollars(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

// WriteXLSX renders a workbook with a summary sheet and one row per receipt
func WriteXLSX(w io.Writer, data Data) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(receiptsSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: amountNumFmt})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}

	if err := writeSummarySheet(f, data, amountStyle); err != nil {
		return err
	}
	if err := writeReceiptsSheet(f, data, amountStyle); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing xlsx report: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, data Data, amountStyle int) error {
	rows := [][]any{
		{data.Title},
		{"Owner", data.Owner},
		{"Period", data.Period},
		{"Total Spent", dollars(data.Summary.TotalSpent)},
		{"Receipts", data.Summary.ReceiptCount},
		{"Highest Category", data.Highest()},
	}
	if data.Change != "" {
		rows = append(rows, []any{"vs. Last Month", data.Change})
	}
	rows = append(rows, []any{}, []any{"Category", "Amount", "Share %"})
	firstCategoryRow := len(rows) + 1
	for _, ct := range data.Summary.Categories {
		rows = append(rows, []any{ct.Category.String(), dollars(ct.Amount), ct.Percentage})
	}
	if data.Summary.Uncategorized != 0 {
		rows = append(rows, []any{"Uncategorized", dollars(data.Summary.Uncategorized)})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("writing summary row: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "B4", "B4", amountStyle); err != nil {
		return fmt.Errorf("styling summary: %w", err)
	}
	first := fmt.Sprintf("B%d", firstCategoryRow)
	if err := f.SetCellStyle(summarySheet, first, fmt.Sprintf("B%d", len(rows)), amountStyle); err != nil {
		return fmt.Errorf("styling summary: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "A", 20)
}

func writeReceiptsSheet(f *excelize.File, data Data, amountStyle int) error {
	for i, header := range receiptHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(receiptsSheet, cell, header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, line := range data.Lines {
		row := i + 2
		values := []any{line.Date, line.Time, line.Vendor, line.Location, line.Category.String(), dollars(line.Amount), line.Notes}
		if err := f.SetSheetRow(receiptsSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("writing receipt row: %w", err)
		}
	}

	if len(data.Lines) > 0 {
		last := fmt.Sprintf("F%d", len(data.Lines)+1)
		if err := f.SetCellStyle(receiptsSheet, "F2", last, amountStyle); err != nil {
			return fmt.Errorf("styling amounts: %w", err)
		}
	}
	return f.SetColWidth(receiptsSheet, "C", "D", 24)
}
