// Package tracker validates user input and drives the record store.
//
// The store only guards name uniqueness and payment ids. Everything else the
// user can get wrong (empty names, bad prices, future dates, unknown students)
// is rejected here before any mutation happens.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tutor-income-tracker/db"
	"tutor-income-tracker/models"
	"tutor-income-tracker/stats"
)

var (
	// ErrNothingToClear is returned by ClearPayments when there are no payments.
	ErrNothingToClear = errors.New("no payments to clear")
	// ErrNoPayments is returned when a receipt is requested for an empty payment set.
	ErrNoPayments = errors.New("no payments found")
)

// ValidationError describes rejected user input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConfirmationRequired is returned when a destructive operation needs explicit confirmation
type ConfirmationRequired struct {
	Action   string
	Payments int64
}

func (e *ConfirmationRequired) Error() string {
	return fmt.Sprintf("%s affects %d payments and must be confirmed", e.Action, e.Payments)
}

// Tracker is the entry point used by the HTTP layer and the import inbox
type Tracker struct {
	store db.Store
	now   func() time.Time
}

// New creates a Tracker. A nil clock defaults to time.Now.
func New(store db.Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Ping checks that the store is reachable
func (t *Tracker) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// --- Students ---

// AddStudent validates name and price and stores the student.
// The price is rounded to two decimals before it is stored.
func (t *Tracker) AddStudent(ctx context.Context, name, price string) (models.Student, error) {
	student, err := parseStudent(name, price)
	if err != nil {
		return models.Student{}, err
	}
	if err := t.store.AddStudent(ctx, student); err != nil {
		return models.Student{}, err
	}
	return student, nil
}

func parseStudent(name, price string) (models.Student, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Student{}, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	p, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return models.Student{}, &ValidationError{Field: "price", Message: "must be a number"}
	}
	p = p.Round(2)
	if !p.IsPositive() {
		return models.Student{}, &ValidationError{Field: "price", Message: "must be positive"}
	}
	return models.Student{Name: name, Price: p}, nil
}

// GetStudent returns the named student, or nil if it does not exist.
func (t *Tracker) GetStudent(ctx context.Context, name string) (*models.Student, error) {
	return t.store.GetStudent(ctx, strings.TrimSpace(name))
}

// ListStudents returns all students sorted by name
func (t *Tracker) ListStudents(ctx context.Context) ([]models.Student, error) {
	return t.store.ListStudents(ctx)
}

// DeleteStudent removes a student. When the student still has payments the
// call must be confirmed; the payments themselves are kept.
func (t *Tracker) DeleteStudent(ctx context.Context, name string, confirmed bool) error {
	name = strings.TrimSpace(name)
	n, err := t.store.CountPaymentsByStudent(ctx, name)
	if err != nil {
		return err
	}
	if n > 0 && !confirmed {
		return &ConfirmationRequired{Action: "deleting student " + name, Payments: n}
	}
	if err := t.store.DeleteStudent(ctx, name); err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Deleted student %s, %d payments kept", name, n)
	}
	return nil
}

// SeedDefaults adds each of students that is not stored yet.
func (t *Tracker) SeedDefaults(ctx context.Context, students []models.Student) error {
	for _, s := range students {
		existing, err := t.store.GetStudent(ctx, s.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := t.store.AddStudent(ctx, s); err != nil && !errors.Is(err, db.ErrDuplicateStudent) {
			return err
		}
	}
	return nil
}

// --- Payments ---

// AddPayment records a lesson for student on date (YYYY-MM-DD).
// The amount is the student's current price.
func (t *Tracker) AddPayment(ctx context.Context, student, date string) (models.Payment, error) {
	student = strings.TrimSpace(student)
	date = strings.TrimSpace(date)
	if date == "" {
		return models.Payment{}, &ValidationError{Field: "date", Message: "is required"}
	}
	day, err := models.ParseDate(date)
	if err != nil {
		return models.Payment{}, &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	if day.After(models.Day(t.now())) {
		return models.Payment{}, &ValidationError{Field: "date", Message: "must not be in the future"}
	}
	s, err := t.store.GetStudent(ctx, student)
	if err != nil {
		return models.Payment{}, err
	}
	if s == nil {
		return models.Payment{}, &ValidationError{Field: "student", Message: fmt.Sprintf("%q does not exist", student)}
	}
	return t.store.AddPayment(ctx, models.Payment{
		Student: s.Name,
		Date:    day,
		Amount:  s.Price,
	})
}

// DeletePayment removes a payment; unknown ids are ignored.
func (t *Tracker) DeletePayment(ctx context.Context, id int64) error {
	return t.store.DeletePayment(ctx, id)
}

// ListPayments returns all payments ordered by id
func (t *Tracker) ListPayments(ctx context.Context) ([]models.Payment, error) {
	return t.store.ListPayments(ctx)
}

// StudentPayments returns the payments recorded for name, including orphans of deleted students.
func (t *Tracker) StudentPayments(ctx context.Context, name string) ([]models.Payment, error) {
	return t.store.ListPaymentsByStudent(ctx, strings.TrimSpace(name))
}

// ClearPayments removes every payment after confirmation.
func (t *Tracker) ClearPayments(ctx context.Context, confirmed bool) error {
	payments, err := t.store.ListPayments(ctx)
	if err != nil {
		return err
	}
	if len(payments) == 0 {
		return ErrNothingToClear
	}
	if !confirmed {
		return &ConfirmationRequired{Action: "clearing all payments", Payments: int64(len(payments))}
	}
	return t.store.ClearPayments(ctx)
}

// --- Aggregates ---

// Summary returns the income total and lesson distribution over all payments.
func (t *Tracker) Summary(ctx context.Context) (stats.Summary, error) {
	payments, err := t.store.ListPayments(ctx)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(payments), nil
}

// MonthlySummary is Summary restricted to one calendar month.
func (t *Tracker) MonthlySummary(ctx context.Context, year int, month time.Month) (stats.Summary, error) {
	if month < time.January || month > time.December {
		return stats.Summary{}, &ValidationError{Field: "month", Message: "must be between 1 and 12"}
	}
	period := stats.MonthPeriod(year, month)
	payments, err := t.store.ListPaymentsBetween(ctx, period.StartDate, period.EndDate)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(payments), nil
}
