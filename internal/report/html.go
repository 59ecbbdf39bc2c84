package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/zombor/receipt-tracker/internal/spending"
)

//go:embed templates/*.html
var templateFS embed.FS

var htmlTemplate = template.Must(
	template.New("report.html").
		Funcs(template.FuncMap{
			"dollars": spending.FormatCents,
			"percent": func(p float64) string { return fmt.Sprintf("%.1f%%", p) },
		}).
		ParseFS(templateFS, "templates/report.html"),
)

// WriteHTML renders a print-ready HTML page
func WriteHTML(w io.Writer, data Data) error {
	if err := htmlTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("rendering html report: %w", err)
	}
	return nil
}
