package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/xuri/excelize/v2"

	"tutor-income-tracker/db"
)

// ImportResult reports the outcome of a spreadsheet import
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportStudents reads students from the first sheet of an Excel workbook.
// Row 1 is a header; column A holds the name and column B the lesson price.
// Invalid rows and names that already exist are skipped.
func (t *Tracker) ImportStudents(ctx context.Context, file io.Reader) (ImportResult, error) {
	var result ImportResult

	f, err := excelize.OpenReader(file)
	if err != nil {
		log.Printf("Error opening Excel reader: %v", err)
		return result, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing excel file: %v", err)
		}
	}()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return result, errors.New("excel file does not contain any sheets")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		log.Printf("Error getting rows from sheet '%s': %v", sheetName, err)
		return result, fmt.Errorf("failed to get rows from sheet %s: %w", sheetName, err)
	}

	for i, row := range rows {
		if i == 0 {
			continue // header
		}

		var name, price string
		if len(row) > 0 {
			name = row[0]
		}
		if len(row) > 1 {
			price = row[1]
		}
		if name == "" && price == "" {
			continue
		}

		if _, err := t.AddStudent(ctx, name, price); err != nil {
			var verr *ValidationError
			switch {
			case errors.As(err, &verr), errors.Is(err, db.ErrDuplicateStudent):
				log.Printf("Skipping row %d (name: '%s', price: '%s'): %v", i+1, name, price, err)
				result.Skipped++
				continue
			default:
				return result, fmt.Errorf("import stopped at row %d: %w", i+1, err)
			}
		}
		result.Imported++
	}

	log.Printf("Imported %d students from sheet %s (%d skipped)", result.Imported, sheetName, result.Skipped)
	return result, nil
}
