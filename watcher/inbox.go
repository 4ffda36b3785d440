// Package watcher imports student spreadsheets dropped into a directory.
package watcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"tutor-income-tracker/tracker"
)

// ImportedSuffix is appended to a file name once it has been imported.
const ImportedSuffix = ".imported"

// Importer loads students from a workbook
type Importer interface {
	ImportStudents(ctx context.Context, file io.Reader) (tracker.ImportResult, error)
}

// Inbox watches Dir for new .xlsx files and hands them to Importer
type Inbox struct {
	Dir      string
	Importer Importer
	Settle   time.Duration // how long a file must stay unchanged before import
}

// NewInbox creates an inbox with the default settle time.
func NewInbox(dir string, importer Importer) *Inbox {
	return &Inbox{Dir: dir, Importer: importer, Settle: 300 * time.Millisecond}
}

// Run blocks until ctx is cancelled or the watcher fails.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create import dir %s: %w", in.Dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.Dir); err != nil {
		return err
	}
	log.Printf("Watching %s for student spreadsheets ...", in.Dir)

	settle := in.Settle
	if settle <= 0 {
		settle = 300 * time.Millisecond
	}
	// simple debounce map of pending files
	pending := map[string]time.Time{}
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isWorkbook(name) {
				continue
			}
			pending[name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) >= settle { // stable
					delete(pending, name)
					in.process(ctx, name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch error: %v", err)
		}
	}
}

func (in *Inbox) process(ctx context.Context, name string) {
	path := filepath.Join(in.Dir, name)
	f, err := os.Open(path)
	if err != nil {
		log.Printf("Could not open %s: %v", path, err)
		return
	}
	result, err := in.Importer.ImportStudents(ctx, f)
	f.Close()
	if err != nil {
		log.Printf("Import of %s failed: %v", path, err)
		return
	}
	log.Printf("Imported %s: %d added, %d skipped", name, result.Imported, result.Skipped)
	if err := os.Rename(path, path+ImportedSuffix); err != nil {
		log.Printf("Could not mark %s as imported: %v", path, err)
	}
}

func isWorkbook(name string) bool {
	// Excel lock files
	if strings.HasPrefix(name, "~$") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".xlsx")
}
