package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used for persisted and serialized payment dates.
const DateLayout = "2006-01-02"

// Student represents a tutored student
type Student struct {
	Name  string          `json:"name"`  // Unique student name (primary key)
	Price decimal.Decimal `json:"price"` // Price of a single lesson
}

// Payment represents a single paid lesson
type Payment struct {
	ID      int64           `json:"id"`      // Auto-assigned, strictly increasing
	Student string          `json:"student"` // Student name, by value
	Date    time.Time       `json:"date"`    // Lesson date (UTC midnight)
	Amount  decimal.Decimal `json:"amount"`  // Student price at the time of payment
}

// MarshalJSON writes the price as a fixed two-decimal string.
func (s Student) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Price string `json:"price"`
	}{
		Name:  s.Name,
		Price: FormatMoney(s.Price),
	})
}

// MarshalJSON writes the date as YYYY-MM-DD and the amount as a fixed two-decimal string.
func (p Payment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID      int64  `json:"id"`
		Student string `json:"student"`
		Date    string `json:"date"`
		Amount  string `json:"amount"`
	}{
		ID:      p.ID,
		Student: p.Student,
		Date:    FormatDate(p.Date),
		Amount:  FormatMoney(p.Amount),
	})
}

// FormatMoney renders an amount the way it is stored: two fixed decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Day truncates t to its calendar date in t's own location, returned as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
