package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/xuri/excelize/v2"

	"tutor-income-tracker/db"
	"tutor-income-tracker/tracker"
)

var now = time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC)

// helper to perform requests against the router
func performRequest(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postJSON(r http.Handler, path string, v any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(v)
	return performRequest(r, http.MethodPost, path, bytes.NewBuffer(b), "application/json")
}

func setupTestServer(t *testing.T) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	store, err := db.Open(context.Background(), &redis.Options{Addr: mr.Addr()}, "test:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := NewAPIHandler(tracker.New(store, func() time.Time { return now }), "₪")
	h.Now = func() time.Time { return now }
	r := gin.New()
	h.RegisterRoutes(r)
	return r, mr
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestStudentLifecycle(t *testing.T) {
	r, _ := setupTestServer(t)

	resp := postJSON(r, "/api/students", map[string]string{"name": " Dana ", "price": "120"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create student status=%d body=%s", resp.Code, resp.Body.String())
	}
	created := decode[map[string]string](t, resp)
	if created["name"] != "Dana" || created["price"] != "120.00" {
		t.Fatalf("unexpected student %v", created)
	}

	resp = postJSON(r, "/api/students", map[string]string{"name": "Dana", "price": "99"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate got %d", resp.Code)
	}

	resp = performRequest(r, http.MethodGet, "/api/students/Dana", nil, "")
	if resp.Code != http.StatusOK || decode[map[string]string](t, resp)["price"] != "120.00" {
		t.Fatalf("get student status=%d body=%s", resp.Code, resp.Body.String())
	}

	resp = performRequest(r, http.MethodGet, "/api/students/Nobody", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}

	resp = performRequest(r, http.MethodDelete, "/api/students/Dana", nil, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete student status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/api/students", nil, "")
	if resp.Code != http.StatusOK || strings.TrimSpace(resp.Body.String()) != "[]" {
		t.Fatalf("expected empty list got %d %s", resp.Code, resp.Body.String())
	}
}

func TestStudentNameWithSlash(t *testing.T) {
	r, _ := setupTestServer(t)

	resp := postJSON(r, "/api/students", map[string]string{"name": "Dana/Avi", "price": "100"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create student status=%d body=%s", resp.Code, resp.Body.String())
	}
	postJSON(r, "/api/payments", map[string]string{"student": "Dana/Avi", "date": "2024-05-01"})

	resp = performRequest(r, http.MethodGet, "/api/students/Dana%2FAvi", nil, "")
	if resp.Code != http.StatusOK || decode[map[string]string](t, resp)["name"] != "Dana/Avi" {
		t.Fatalf("get student status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/api/students/Dana%2FAvi/payments", nil, "")
	if got := decode[[]map[string]any](t, resp); len(got) != 1 {
		t.Fatalf("expected 1 payment got %v", got)
	}
	resp = performRequest(r, http.MethodGet, "/api/students/Dana%2FAvi/receipt", nil, "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Receipt for Dana/Avi") {
		t.Fatalf("receipt status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodDelete, "/api/students/Dana%2FAvi?confirm=true", nil, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete student status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/api/students/Dana%2FAvi", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete got %d", resp.Code)
	}
}

func TestWriteErrorEmptyName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	writeError(c, "AddStudent", fmt.Errorf("store: %w", db.ErrEmptyName))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAddStudentValidation(t *testing.T) {
	r, _ := setupTestServer(t)
	for _, body := range []map[string]string{
		{"name": "Dana", "price": "-1"},
		{"name": "   ", "price": "10"},
		{"name": "Dana"},
	} {
		resp := postJSON(r, "/api/students", body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %v: expected 400 got %d", body, resp.Code)
		}
	}
}

func TestPaymentFlow(t *testing.T) {
	r, _ := setupTestServer(t)
	postJSON(r, "/api/students", map[string]string{"name": "Dana", "price": "120"})
	postJSON(r, "/api/students", map[string]string{"name": "Avi", "price": "50.5"})

	resp := postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-15"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("add payment status=%d body=%s", resp.Code, resp.Body.String())
	}
	p := decode[map[string]any](t, resp)
	if p["amount"] != "120.00" || p["date"] != "2024-05-15" || p["id"].(float64) < 1 {
		t.Fatalf("unexpected payment %v", p)
	}
	postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-01"})
	postJSON(r, "/api/payments", map[string]string{"student": "Avi", "date": "2024-04-20"})

	resp = postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-16"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for future date got %d", resp.Code)
	}
	resp = postJSON(r, "/api/payments", map[string]string{"student": "Ghost", "date": "2024-05-01"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown student got %d", resp.Code)
	}

	resp = performRequest(r, http.MethodGet, "/api/payments", nil, "")
	if got := decode[[]map[string]any](t, resp); len(got) != 3 {
		t.Fatalf("expected 3 payments got %v", got)
	}

	resp = performRequest(r, http.MethodGet, "/api/summary", nil, "")
	summary := decode[map[string]any](t, resp)
	if summary["totalIncome"] != "290.50" || summary["lessons"].(float64) != 3 {
		t.Fatalf("unexpected summary %v", summary)
	}
	byStudent := summary["incomeByStudent"].(map[string]any)
	if byStudent["Dana"] != "240.00" || byStudent["Avi"] != "50.50" {
		t.Fatalf("unexpected income by student %v", byStudent)
	}
	chart := summary["chart"].(map[string]any)
	labels := chart["labels"].([]any)
	values := chart["values"].([]any)
	if labels[0] != "Avi" || labels[1] != "Dana" || values[0].(float64) != 1 || values[1].(float64) != 2 {
		t.Fatalf("unexpected chart %v", chart)
	}

	resp = performRequest(r, http.MethodGet, "/api/summary/2024/5", nil, "")
	if m := decode[map[string]any](t, resp); m["totalIncome"] != "240.00" {
		t.Fatalf("unexpected monthly summary %v", m)
	}
	resp = performRequest(r, http.MethodGet, "/api/summary/2024/13", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for month 13 got %d", resp.Code)
	}
}

func TestDeletePayment(t *testing.T) {
	r, _ := setupTestServer(t)
	postJSON(r, "/api/students", map[string]string{"name": "Dana", "price": "120"})
	p := decode[map[string]any](t, postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-01"}))
	id := int64(p["id"].(float64))

	for _, path := range []string{"/api/payments/999", "/api/payments/" + strconv.FormatInt(id, 10), "/api/payments/" + strconv.FormatInt(id, 10)} {
		resp := performRequest(r, http.MethodDelete, path, nil, "")
		if resp.Code != http.StatusNoContent {
			t.Fatalf("delete %s status=%d", path, resp.Code)
		}
	}
	resp := performRequest(r, http.MethodDelete, "/api/payments/abc", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestDeleteStudentWithPaymentsNeedsConfirm(t *testing.T) {
	r, _ := setupTestServer(t)
	postJSON(r, "/api/students", map[string]string{"name": "Dana", "price": "120"})
	postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-01"})
	postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-02"})

	resp := performRequest(r, http.MethodDelete, "/api/students/Dana", nil, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if body := decode[map[string]any](t, resp); body["payments"].(float64) != 2 || body["confirm"] != true {
		t.Fatalf("unexpected body %v", body)
	}

	resp = performRequest(r, http.MethodDelete, "/api/students/Dana?confirm=true", nil, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/api/students/Dana/payments", nil, "")
	if got := decode[[]map[string]any](t, resp); len(got) != 2 {
		t.Fatalf("expected orphaned payments to remain, got %v", got)
	}
}

func TestClearPayments(t *testing.T) {
	r, _ := setupTestServer(t)

	resp := performRequest(r, http.MethodDelete, "/api/payments?confirm=true", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for nothing to clear got %d", resp.Code)
	}

	postJSON(r, "/api/students", map[string]string{"name": "Dana", "price": "120"})
	postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-01"})

	resp = performRequest(r, http.MethodDelete, "/api/payments", nil, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 without confirm got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodDelete, "/api/payments?confirm=true", nil, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/api/summary", nil, "")
	if s := decode[map[string]any](t, resp); s["totalIncome"] != "0.00" {
		t.Fatalf("unexpected summary %v", s)
	}
}

func TestReceipts(t *testing.T) {
	r, _ := setupTestServer(t)

	resp := performRequest(r, http.MethodGet, "/api/payments/receipt", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no payments got %d", resp.Code)
	}

	postJSON(r, "/api/students", map[string]string{"name": "Dana", "price": "120"})
	postJSON(r, "/api/students", map[string]string{"name": "Avi", "price": "80"})
	postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-01"})
	postJSON(r, "/api/payments", map[string]string{"student": "Avi", "date": "2024-05-02"})

	resp = performRequest(r, http.MethodGet, "/api/students/Dana/receipt", nil, "")
	if resp.Code != http.StatusOK || !strings.HasPrefix(resp.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("student receipt status=%d type=%s", resp.Code, resp.Header().Get("Content-Type"))
	}
	body := resp.Body.String()
	if !strings.Contains(body, "Receipt for Dana") || !strings.Contains(body, "Total: ₪120.00") || strings.Contains(body, "Avi") {
		t.Fatalf("unexpected student receipt:\n%s", body)
	}

	resp = performRequest(r, http.MethodGet, "/api/students/%20Dana/receipt", nil, "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "<h2>Receipt for Dana</h2>") {
		t.Fatalf("expected trimmed heading got %d:\n%s", resp.Code, resp.Body.String())
	}

	resp = performRequest(r, http.MethodGet, "/api/payments/receipt", nil, "")
	if !strings.Contains(resp.Body.String(), "Total: ₪200.00") {
		t.Fatalf("unexpected receipt:\n%s", resp.Body.String())
	}

	resp = performRequest(r, http.MethodGet, "/api/students/Avi2/receipt", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for student without payments got %d", resp.Code)
	}
}

func TestExportPayments(t *testing.T) {
	r, _ := setupTestServer(t)
	postJSON(r, "/api/students", map[string]string{"name": "Dana", "price": "120"})
	postJSON(r, "/api/payments", map[string]string{"student": "Dana", "date": "2024-05-01"})

	resp := performRequest(r, http.MethodGet, "/api/payments/export", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("export status=%d", resp.Code)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "payments_20240515_120000.xlsx") {
		t.Fatalf("unexpected disposition %q", cd)
	}
	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows("Payments")
	if len(rows) != 3 || rows[1][1] != "Dana" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestImportStudents(t *testing.T) {
	r, _ := setupTestServer(t)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetCellValue(sheet, "A1", "Name")
	f.SetCellValue(sheet, "B1", "Price")
	f.SetCellValue(sheet, "A2", "Noa")
	f.SetCellValue(sheet, "B2", 90)
	xlsx, _ := f.WriteToBuffer()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	w, _ := mw.CreateFormFile("file", "students.xlsx")
	_, _ = w.Write(xlsx.Bytes())
	_ = mw.Close()

	resp := performRequest(r, http.MethodPost, "/api/import/students", buf, mw.FormDataContentType())
	if resp.Code != http.StatusOK {
		t.Fatalf("import status=%d body=%s", resp.Code, resp.Body.String())
	}
	if res := decode[map[string]float64](t, resp); res["imported"] != 1 {
		t.Fatalf("unexpected import result %v", res)
	}

	resp = performRequest(r, http.MethodPost, "/api/import/students", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file got %d", resp.Code)
	}
}

func TestPingAndStorageFault(t *testing.T) {
	r, mr := setupTestServer(t)

	resp := performRequest(r, http.MethodGet, "/api/ping", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("ping status=%d", resp.Code)
	}

	mr.SetError("ERR simulated outage")
	resp = performRequest(r, http.MethodGet, "/api/payments", nil, "")
	if resp.Code != http.StatusInternalServerError || decode[map[string]any](t, resp)["retry"] != true {
		t.Fatalf("expected retryable 500 got %d %s", resp.Code, resp.Body.String())
	}
	mr.SetError("")
}
