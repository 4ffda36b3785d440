package db

import (
	"context"
	"errors"
	"time"

	"tutor-income-tracker/models"
)

// ErrDuplicateStudent is returned when a student with the same name already exists.
var ErrDuplicateStudent = errors.New("student already exists")

// ErrEmptyName is returned when a student is stored without a name.
var ErrEmptyName = errors.New("student name cannot be empty")

// Store is the record store for students and payments.
//
// Payments reference students by name only. Deleting a student leaves its
// payments in place, and AddPayment does not check that the student exists.
type Store interface {
	AddStudent(ctx context.Context, student models.Student) error
	DeleteStudent(ctx context.Context, name string) error
	GetStudent(ctx context.Context, name string) (*models.Student, error)
	ListStudents(ctx context.Context) ([]models.Student, error)

	AddPayment(ctx context.Context, payment models.Payment) (models.Payment, error)
	DeletePayment(ctx context.Context, id int64) error
	ListPayments(ctx context.Context) ([]models.Payment, error)
	ListPaymentsByStudent(ctx context.Context, name string) ([]models.Payment, error)
	ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]models.Payment, error)
	CountPaymentsByStudent(ctx context.Context, name string) (int64, error)
	ClearPayments(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}
