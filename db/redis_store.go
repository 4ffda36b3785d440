package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"tutor-income-tracker/models"
)

const (
	studentsKey             = "students"          // Set: all student names
	studentInfoPrefix       = "student:"          // Hash prefix: student:{name} -> name, price
	paymentSeqKey           = "payments:seq"      // Counter: last assigned payment id
	paymentsKey             = "payments"          // Sorted set: payment ids scored by id
	paymentsByDateKey       = "payments:date"     // Sorted set: payment ids scored by YYYYMMDD
	paymentsByStudentPrefix = "payments:student:" // Sorted set prefix: payments:student:{name} -> ids scored by id
	paymentInfoPrefix       = "payment:"          // Hash prefix: payment:{id} -> id, student, date, amount
)

// addStudentScript inserts a student only when the name is not yet taken.
// KEYS[1] = students set, KEYS[2] = student hash; ARGV[1] = name, ARGV[2] = price.
var addStudentScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], 'name', ARGV[1], 'price', ARGV[2])
return 1
`)

// RedisStore implements Store on top of a Redis database
type RedisStore struct {
	Client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. All keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		Client: client,
		prefix: prefix,
	}
}

// Open creates a client, pings it and returns a ready store. Close releases it.
func Open(ctx context.Context, opts *redis.Options, prefix string) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", opts.Addr, err)
	}
	log.Printf("Successfully connected to Redis at %s (db %d)", opts.Addr, opts.DB)
	return NewRedisStore(client, prefix), nil
}

// Ping checks that Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

// Close releases the underlying client
func (s *RedisStore) Close() error {
	return s.Client.Close()
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) studentInfoKey(name string) string {
	return s.prefix + studentInfoPrefix + name
}

func (s *RedisStore) paymentInfoKey(id int64) string {
	return s.prefix + paymentInfoPrefix + strconv.FormatInt(id, 10)
}

func (s *RedisStore) studentPaymentsKey(name string) string {
	return s.prefix + paymentsByStudentPrefix + name
}

func dateScore(t time.Time) float64 {
	y, m, d := t.Date()
	return float64(y*10000 + int(m)*100 + d)
}

// --- Student Operations ---

// AddStudent stores a new student. It fails with ErrDuplicateStudent if the name is taken.
func (s *RedisStore) AddStudent(ctx context.Context, student models.Student) error {
	if student.Name == "" {
		return ErrEmptyName
	}
	added, err := addStudentScript.Run(ctx, s.Client,
		[]string{s.key(studentsKey), s.studentInfoKey(student.Name)},
		student.Name, models.FormatMoney(student.Price),
	).Int()
	if err != nil {
		log.Printf("Error adding student %s: %v", student.Name, err)
		return fmt.Errorf("failed to add student to Redis: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateStudent, student.Name)
	}
	log.Printf("Added student: %s (%s)", student.Name, models.FormatMoney(student.Price))
	return nil
}

// DeleteStudent removes a student. Missing names are ignored and payments are left untouched.
func (s *RedisStore) DeleteStudent(ctx context.Context, name string) error {
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.key(studentsKey), name)
		pipe.Del(ctx, s.studentInfoKey(name))
		return nil
	})
	if err != nil {
		log.Printf("Error deleting student %s: %v", name, err)
		return fmt.Errorf("failed to delete student from Redis: %w", err)
	}
	return nil
}

// GetStudent retrieves a student by name. It returns nil, nil when the student does not exist.
func (s *RedisStore) GetStudent(ctx context.Context, name string) (*models.Student, error) {
	data, err := s.Client.HGetAll(ctx, s.studentInfoKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		log.Printf("Error getting student %s: %v", name, err)
		return nil, fmt.Errorf("failed to get student from Redis: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return studentFromHash(data)
}

// ListStudents returns all students sorted by name
func (s *RedisStore) ListStudents(ctx context.Context) ([]models.Student, error) {
	names, err := s.Client.SMembers(ctx, s.key(studentsKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("Error getting student names: %v", err)
		return nil, fmt.Errorf("failed to get student names from Redis: %w", err)
	}
	sort.Strings(names)

	pipe := s.Client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, s.studentInfoKey(name))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("Error fetching student details: %v", err)
			return nil, fmt.Errorf("failed to get students from Redis: %w", err)
		}
	}

	students := make([]models.Student, 0, len(names))
	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			log.Printf("Student %s is listed but has no details, skipping", names[i])
			continue
		}
		student, err := studentFromHash(data)
		if err != nil {
			return nil, err
		}
		students = append(students, *student)
	}
	return students, nil
}

func studentFromHash(data map[string]string) (*models.Student, error) {
	price, err := decimal.NewFromString(data["price"])
	if err != nil {
		return nil, fmt.Errorf("corrupt price %q for student %s: %w", data["price"], data["name"], err)
	}
	return &models.Student{
		Name:  data["name"],
		Price: price,
	}, nil
}

// --- Payment Operations ---

// AddPayment assigns the next payment id and stores the payment with its indexes.
// The referenced student is not checked.
func (s *RedisStore) AddPayment(ctx context.Context, payment models.Payment) (models.Payment, error) {
	id, err := s.Client.Incr(ctx, s.key(paymentSeqKey)).Result()
	if err != nil {
		log.Printf("Error allocating payment id: %v", err)
		return models.Payment{}, fmt.Errorf("failed to allocate payment id: %w", err)
	}
	payment.ID = id
	payment.Date = models.Day(payment.Date)
	member := strconv.FormatInt(id, 10)

	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.paymentInfoKey(id), map[string]interface{}{
			"id":      member,
			"student": payment.Student,
			"date":    models.FormatDate(payment.Date),
			"amount":  models.FormatMoney(payment.Amount),
		})
		pipe.ZAdd(ctx, s.key(paymentsKey), &redis.Z{Score: float64(id), Member: member})
		pipe.ZAdd(ctx, s.studentPaymentsKey(payment.Student), &redis.Z{Score: float64(id), Member: member})
		pipe.ZAdd(ctx, s.key(paymentsByDateKey), &redis.Z{Score: dateScore(payment.Date), Member: member})
		return nil
	})
	if err != nil {
		log.Printf("Error adding payment %d for %s: %v", id, payment.Student, err)
		return models.Payment{}, fmt.Errorf("failed to add payment to Redis: %w", err)
	}
	return payment, nil
}

// DeletePayment removes a payment and its index entries. Unknown ids are ignored.
func (s *RedisStore) DeletePayment(ctx context.Context, id int64) error {
	student, err := s.Client.HGet(ctx, s.paymentInfoKey(id), "student").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		log.Printf("Error looking up payment %d: %v", id, err)
		return fmt.Errorf("failed to get payment from Redis: %w", err)
	}
	member := strconv.FormatInt(id, 10)
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.paymentInfoKey(id))
		pipe.ZRem(ctx, s.key(paymentsKey), member)
		pipe.ZRem(ctx, s.studentPaymentsKey(student), member)
		pipe.ZRem(ctx, s.key(paymentsByDateKey), member)
		return nil
	})
	if err != nil {
		log.Printf("Error deleting payment %d: %v", id, err)
		return fmt.Errorf("failed to delete payment from Redis: %w", err)
	}
	return nil
}

// ListPayments returns all payments ordered by id
func (s *RedisStore) ListPayments(ctx context.Context) ([]models.Payment, error) {
	ids, err := s.Client.ZRange(ctx, s.key(paymentsKey), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("Error getting payment ids: %v", err)
		return nil, fmt.Errorf("failed to get payment ids from Redis: %w", err)
	}
	return s.fetchPayments(ctx, ids)
}

// ListPaymentsByStudent returns the payments recorded for name, ordered by id
func (s *RedisStore) ListPaymentsByStudent(ctx context.Context, name string) ([]models.Payment, error) {
	ids, err := s.Client.ZRange(ctx, s.studentPaymentsKey(name), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("Error getting payment ids for student %s: %v", name, err)
		return nil, fmt.Errorf("failed to get payment ids from Redis for student %s: %w", name, err)
	}
	return s.fetchPayments(ctx, ids)
}

// ListPaymentsBetween returns payments dated within [from, to], ordered by id
func (s *RedisStore) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]models.Payment, error) {
	ids, err := s.Client.ZRangeByScore(ctx, s.key(paymentsByDateKey), &redis.ZRangeBy{
		Min: strconv.FormatFloat(dateScore(from), 'f', 0, 64),
		Max: strconv.FormatFloat(dateScore(to), 'f', 0, 64),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("Error getting payment ids between %s and %s: %v", models.FormatDate(from), models.FormatDate(to), err)
		return nil, fmt.Errorf("failed to get payment ids by date from Redis: %w", err)
	}
	payments, err := s.fetchPayments(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
	return payments, nil
}

// CountPaymentsByStudent returns how many payments reference name
func (s *RedisStore) CountPaymentsByStudent(ctx context.Context, name string) (int64, error) {
	n, err := s.Client.ZCard(ctx, s.studentPaymentsKey(name)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to count payments for student %s: %w", name, err)
	}
	return n, nil
}

// ClearPayments removes every payment. The id counter is kept so ids are never reused.
func (s *RedisStore) ClearPayments(ctx context.Context) error {
	payments, err := s.ListPayments(ctx)
	if err != nil {
		return err
	}
	students := map[string]struct{}{}
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range payments {
			pipe.Del(ctx, s.paymentInfoKey(p.ID))
			if _, seen := students[p.Student]; !seen {
				students[p.Student] = struct{}{}
				pipe.Del(ctx, s.studentPaymentsKey(p.Student))
			}
		}
		pipe.Del(ctx, s.key(paymentsKey), s.key(paymentsByDateKey))
		return nil
	})
	if err != nil {
		log.Printf("Error clearing payments: %v", err)
		return fmt.Errorf("failed to clear payments in Redis: %w", err)
	}
	log.Printf("Cleared %d payments", len(payments))
	return nil
}

func (s *RedisStore) fetchPayments(ctx context.Context, ids []string) ([]models.Payment, error) {
	if len(ids) == 0 {
		return []models.Payment{}, nil
	}
	pipe := s.Client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.prefix+paymentInfoPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Error fetching payment details: %v", err)
		return nil, fmt.Errorf("failed to get payments from Redis: %w", err)
	}

	payments := make([]models.Payment, 0, len(ids))
	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			log.Printf("Payment %s is indexed but has no details, skipping", ids[i])
			continue
		}
		payment, err := paymentFromHash(data)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

func paymentFromHash(data map[string]string) (models.Payment, error) {
	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return models.Payment{}, fmt.Errorf("corrupt payment id %q: %w", data["id"], err)
	}
	date, err := models.ParseDate(data["date"])
	if err != nil {
		return models.Payment{}, fmt.Errorf("corrupt date %q for payment %d: %w", data["date"], id, err)
	}
	amount, err := decimal.NewFromString(data["amount"])
	if err != nil {
		return models.Payment{}, fmt.Errorf("corrupt amount %q for payment %d: %w", data["amount"], id, err)
	}
	return models.Payment{
		ID:      id,
		Student: data["student"],
		Date:    date,
		Amount:  amount,
	}, nil
}
