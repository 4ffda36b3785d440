package handlers

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tutor-income-tracker/db"
	"tutor-income-tracker/models"
	"tutor-income-tracker/receipt"
	"tutor-income-tracker/tracker"
)

// APIHandler holds the dependencies for API handlers
type APIHandler struct {
	Tracker  *tracker.Tracker
	Currency string
	Now      func() time.Time
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(t *tracker.Tracker, currency string) *APIHandler {
	return &APIHandler{
		Tracker:  t,
		Currency: currency,
		Now:      time.Now,
	}
}

type studentRequest struct {
	Name  string `json:"name" binding:"required"`
	Price string `json:"price" binding:"required"`
}

type paymentRequest struct {
	Student string `json:"student" binding:"required"`
	Date    string `json:"date" binding:"required"`
}

// RegisterRoutes mounts the API under /api
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	// Student names may contain an escaped '/', so route on the raw path.
	router.UseRawPath = true
	router.UnescapePathValues = true

	api := router.Group("/api")
	{
		api.GET("/ping", h.Ping)

		api.GET("/students", h.ListStudents)
		api.POST("/students", h.AddStudent)
		api.GET("/students/:name", h.GetStudent)
		api.DELETE("/students/:name", h.DeleteStudent)
		api.GET("/students/:name/payments", h.ListStudentPayments)
		api.GET("/students/:name/receipt", h.StudentReceipt)

		api.GET("/payments", h.ListPayments)
		api.POST("/payments", h.AddPayment)
		api.DELETE("/payments", h.ClearPayments)
		api.GET("/payments/receipt", h.PaymentsReceipt)
		api.GET("/payments/export", h.ExportPayments)
		api.DELETE("/payments/:id", h.DeletePayment)

		api.GET("/summary", h.Summary)
		api.GET("/summary/:year/:month", h.MonthlySummary)

		api.POST("/import/students", h.ImportStudents)
	}
}

// writeError maps tracker and store errors onto HTTP responses
func writeError(c *gin.Context, op string, err error) {
	var verr *tracker.ValidationError
	var confirm *tracker.ConfirmationRequired
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, db.ErrEmptyName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": "name"})
	case errors.Is(err, db.ErrDuplicateStudent):
		c.JSON(http.StatusConflict, gin.H{"error": "A student with this name already exists"})
	case errors.As(err, &confirm):
		c.JSON(http.StatusConflict, gin.H{
			"error":    confirm.Error(),
			"payments": confirm.Payments,
			"confirm":  true,
		})
	case errors.Is(err, tracker.ErrNothingToClear), errors.Is(err, tracker.ErrNoPayments):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("Error in %s handler: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error, please retry", "retry": true})
	}
}

func confirmed(c *gin.Context) bool {
	ok, _ := strconv.ParseBool(c.Query("confirm"))
	return ok
}

// --- Student Handlers ---

// ListStudents handles GET /api/students
func (h *APIHandler) ListStudents(c *gin.Context) {
	students, err := h.Tracker.ListStudents(c.Request.Context())
	if err != nil {
		writeError(c, "ListStudents", err)
		return
	}
	if students == nil {
		// Return empty list instead of null for JSON consistency
		students = []models.Student{}
	}
	c.JSON(http.StatusOK, students)
}

// AddStudent handles POST /api/students
func (h *APIHandler) AddStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	student, err := h.Tracker.AddStudent(c.Request.Context(), req.Name, req.Price)
	if err != nil {
		writeError(c, "AddStudent", err)
		return
	}
	c.JSON(http.StatusCreated, student)
}

// GetStudent handles GET /api/students/:name
func (h *APIHandler) GetStudent(c *gin.Context) {
	name := c.Param("name")
	student, err := h.Tracker.GetStudent(c.Request.Context(), name)
	if err != nil {
		writeError(c, "GetStudent", err)
		return
	}
	if student == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return
	}
	c.JSON(http.StatusOK, student)
}

// DeleteStudent handles DELETE /api/students/:name?confirm=true
func (h *APIHandler) DeleteStudent(c *gin.Context) {
	if err := h.Tracker.DeleteStudent(c.Request.Context(), c.Param("name"), confirmed(c)); err != nil {
		writeError(c, "DeleteStudent", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListStudentPayments handles GET /api/students/:name/payments
func (h *APIHandler) ListStudentPayments(c *gin.Context) {
	payments, err := h.Tracker.StudentPayments(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, "ListStudentPayments", err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// StudentReceipt handles GET /api/students/:name/receipt
func (h *APIHandler) StudentReceipt(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	payments, err := h.Tracker.StudentPayments(c.Request.Context(), name)
	if err != nil {
		writeError(c, "StudentReceipt", err)
		return
	}
	if len(payments) == 0 {
		writeError(c, "StudentReceipt", tracker.ErrNoPayments)
		return
	}
	h.renderReceipt(c, receipt.ForStudent(name, payments, h.Currency))
}

// --- Payment Handlers ---

// ListPayments handles GET /api/payments
func (h *APIHandler) ListPayments(c *gin.Context) {
	payments, err := h.Tracker.ListPayments(c.Request.Context())
	if err != nil {
		writeError(c, "ListPayments", err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// AddPayment handles POST /api/payments
func (h *APIHandler) AddPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	payment, err := h.Tracker.AddPayment(c.Request.Context(), req.Student, req.Date)
	if err != nil {
		writeError(c, "AddPayment", err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// DeletePayment handles DELETE /api/payments/:id
func (h *APIHandler) DeletePayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payment ID must be a number"})
		return
	}
	if err := h.Tracker.DeletePayment(c.Request.Context(), id); err != nil {
		writeError(c, "DeletePayment", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearPayments handles DELETE /api/payments?confirm=true
func (h *APIHandler) ClearPayments(c *gin.Context) {
	if err := h.Tracker.ClearPayments(c.Request.Context(), confirmed(c)); err != nil {
		writeError(c, "ClearPayments", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PaymentsReceipt handles GET /api/payments/receipt
func (h *APIHandler) PaymentsReceipt(c *gin.Context) {
	payments, err := h.Tracker.ListPayments(c.Request.Context())
	if err != nil {
		writeError(c, "PaymentsReceipt", err)
		return
	}
	if len(payments) == 0 {
		writeError(c, "PaymentsReceipt", tracker.ErrNoPayments)
		return
	}
	h.renderReceipt(c, receipt.ForAll(payments, h.Currency))
}

// ExportPayments handles GET /api/payments/export
func (h *APIHandler) ExportPayments(c *gin.Context) {
	payments, err := h.Tracker.ListPayments(c.Request.Context())
	if err != nil {
		writeError(c, "ExportPayments", err)
		return
	}
	var buf bytes.Buffer
	if err := receipt.WriteExcel(&buf, payments, h.Currency); err != nil {
		log.Printf("Error in ExportPayments handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write Excel file"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+receipt.ExportFileName(h.Now()))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *APIHandler) renderReceipt(c *gin.Context, r receipt.Receipt) {
	var buf bytes.Buffer
	if err := receipt.Render(&buf, r); err != nil {
		log.Printf("Error rendering receipt: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render receipt"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// --- Summary Handlers ---

// Summary handles GET /api/summary
func (h *APIHandler) Summary(c *gin.Context) {
	summary, err := h.Tracker.Summary(c.Request.Context())
	if err != nil {
		writeError(c, "Summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// MonthlySummary handles GET /api/summary/:year/:month
func (h *APIHandler) MonthlySummary(c *gin.Context) {
	year, errY := strconv.Atoi(c.Param("year"))
	month, errM := strconv.Atoi(c.Param("month"))
	if errY != nil || errM != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Year and month must be numbers"})
		return
	}
	summary, err := h.Tracker.MonthlySummary(c.Request.Context(), year, time.Month(month))
	if err != nil {
		writeError(c, "MonthlySummary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- Import Handler ---

// ImportStudents handles POST /api/import/students
func (h *APIHandler) ImportStudents(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		log.Printf("Error getting form file: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error retrieving uploaded file: " + err.Error()})
		return
	}
	defer file.Close()

	log.Printf("Received file upload: %s", header.Filename)

	result, err := h.Tracker.ImportStudents(c.Request.Context(), file)
	if err != nil {
		log.Printf("Error importing students from file %s: %v", header.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to import students: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- Ping Handler ---

// Ping handles GET /api/ping and reports whether the store is reachable
func (h *APIHandler) Ping(c *gin.Context) {
	if err := h.Tracker.Ping(c.Request.Context()); err != nil {
		log.Printf("Store ping failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}
