package watcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tutor-income-tracker/tracker"
)

type fakeImporter struct {
	got chan string
	err error
}

func (f *fakeImporter) ImportStudents(_ context.Context, file io.Reader) (tracker.ImportResult, error) {
	b, _ := io.ReadAll(file)
	f.got <- string(b)
	return tracker.ImportResult{Imported: 1}, f.err
}

func startInbox(t *testing.T, imp Importer) string {
	t.Helper()
	dir := t.TempDir()
	in := NewInbox(dir, imp)
	in.Settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("inbox stopped with error: %v", err)
		}
	})
	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	return dir
}

func TestInboxImportsNewWorkbooks(t *testing.T) {
	imp := &fakeImporter{got: make(chan string, 4)}
	dir := startInbox(t, imp)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "students.xlsx"), []byte("workbook"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-imp.got:
		if got != "workbook" {
			t.Fatalf("imported wrong file content %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("workbook was not imported")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, "students.xlsx"+ImportedSuffix)); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("imported workbook was not renamed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case got := <-imp.got:
		t.Fatalf("unexpected second import %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestInboxKeepsFailedWorkbooks(t *testing.T) {
	imp := &fakeImporter{got: make(chan string, 4), err: errors.New("bad workbook")}
	dir := startInbox(t, imp)

	path := filepath.Join(dir, "broken.xlsx")
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-imp.got:
	case <-time.After(3 * time.Second):
		t.Fatal("workbook was not picked up")
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("failed workbook should stay in place: %v", err)
	}
}

func TestIsWorkbook(t *testing.T) {
	cases := map[string]bool{
		"students.xlsx":          true,
		"STUDENTS.XLSX":          true,
		"~$students.xlsx":        false,
		"students.xlsx.imported": false,
		"students.csv":           false,
	}
	for name, want := range cases {
		if got := isWorkbook(name); got != want {
			t.Errorf("isWorkbook(%q) = %v, want %v", name, got, want)
		}
	}
}
