// Package stats derives income totals and lesson counts from payment snapshots.
// Every function here is pure: same payments in, same result out.
package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tutor-income-tracker/models"
)

// ChartData is the lesson distribution fed to the bar chart
type ChartData struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// Summary bundles everything the payments view recomputes after a change
type Summary struct {
	Total     string            `json:"totalIncome"`
	Lessons   int               `json:"lessons"`
	Chart     ChartData         `json:"chart"`
	ByStudent map[string]string `json:"incomeByStudent"`
}

// Period is an inclusive range of calendar dates
type Period struct {
	StartDate time.Time
	EndDate   time.Time
}

// MonthPeriod returns the period covering the given calendar month.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{
		StartDate: start,
		EndDate:   start.AddDate(0, 1, -1),
	}
}

// TotalIncome sums the payment amounts, rounded to two places.
func TotalIncome(payments []models.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total.Round(2)
}

// LessonCounts maps each student name to its number of payments.
// Students without payments do not appear.
func LessonCounts(payments []models.Payment) map[string]int {
	counts := make(map[string]int)
	for _, p := range payments {
		counts[p.Student]++
	}
	return counts
}

// IncomeByStudent maps each student name to the sum of its payments.
func IncomeByStudent(payments []models.Payment) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, p := range payments {
		totals[p.Student] = totals[p.Student].Add(p.Amount)
	}
	for name, v := range totals {
		totals[name] = v.Round(2)
	}
	return totals
}

// Chart orders lesson counts by student name.
func Chart(counts map[string]int) ChartData {
	labels := make([]string, 0, len(counts))
	for name := range counts {
		labels = append(labels, name)
	}
	sort.Strings(labels)

	values := make([]int, len(labels))
	for i, name := range labels {
		values[i] = counts[name]
	}
	return ChartData{Labels: labels, Values: values}
}

// Summarize computes the total, lesson count, chart data and per-student
// income for payments.
func Summarize(payments []models.Payment) Summary {
	byStudent := make(map[string]string)
	for name, v := range IncomeByStudent(payments) {
		byStudent[name] = models.FormatMoney(v)
	}
	return Summary{
		Total:     models.FormatMoney(TotalIncome(payments)),
		Lessons:   len(payments),
		Chart:     Chart(LessonCounts(payments)),
		ByStudent: byStudent,
	}
}
