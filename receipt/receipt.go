// Package receipt renders printable payment receipts and spreadsheet exports.
package receipt

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"tutor-income-tracker/models"
	"tutor-income-tracker/stats"
)

// Line is one printed payment row
type Line struct {
	Student string
	Date    string
	Amount  string
}

// Receipt is the data behind a printable page
type Receipt struct {
	Title    string
	Heading  string
	Currency string
	Lines    []Line
	Total    string
	// Student is set for single-student receipts, which omit the student column.
	Student  string
}

// ForStudent builds the receipt for a single student's payments.
func ForStudent(name string, payments []models.Payment, currency string) Receipt {
	r := build(payments, currency)
	r.Title = "Receipt"
	r.Heading = "Receipt for " + name
	r.Student = name
	return r
}

// ForAll builds the receipt listing every payment.
func ForAll(payments []models.Payment, currency string) Receipt {
	r := build(payments, currency)
	r.Title = "Payments"
	r.Heading = "Payment receipt"
	return r
}

func build(payments []models.Payment, currency string) Receipt {
	lines := make([]Line, len(payments))
	for i, p := range payments {
		lines[i] = Line{
			Student: p.Student,
			Date:    models.FormatDate(p.Date),
			Amount:  models.FormatMoney(p.Amount),
		}
	}
	return Receipt{
		Currency: currency,
		Lines:    lines,
		Total:    models.FormatMoney(stats.TotalIncome(payments)),
	}
}

var page = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-size: 20px; }
table { border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 4px 12px; }
</style>
</head>
<body onload="window.print()">
<h2>{{.Heading}}</h2>
<table>
<thead><tr>{{if not .Student}}<th>Student</th>{{end}}<th>Date</th><th>Amount</th></tr></thead>
<tbody>
{{- range .Lines}}
<tr>{{if not $.Student}}<td>{{.Student}}</td>{{end}}<td>{{.Date}}</td><td>{{$.Currency}}{{.Amount}}</td></tr>
{{- end}}
</tbody>
</table>
<h3>Total: {{.Currency}}{{.Total}}</h3>
</body>
</html>
`))

// Render writes r as a printable HTML page.
func Render(w io.Writer, r Receipt) error {
	return page.Execute(w, r)
}

// WriteExcel writes payments as an .xlsx workbook with a totals row.
func WriteExcel(w io.Writer, payments []models.Payment, currency string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Payments"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	headers := []string{"ID", "Student", "Date", "Amount (" + currency + ")"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	for i, p := range payments {
		row := i + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), p.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), p.Student)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), models.FormatDate(p.Date))
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), p.Amount.InexactFloat64())
	}

	totalRow := len(payments) + 2
	f.SetCellValue(sheetName, fmt.Sprintf("C%d", totalRow), "Total")
	f.SetCellValue(sheetName, fmt.Sprintf("D%d", totalRow), stats.TotalIncome(payments).InexactFloat64())

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write excel file: %w", err)
	}
	return nil
}

// ExportFileName returns the download name for an export made at t.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("payments_%s.xlsx", t.Format("20060102_150405"))
}
