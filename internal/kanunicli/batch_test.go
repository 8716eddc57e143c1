package kanunicli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/oremus-labs/kanuni/internal/progress"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestExpandPatterns(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.pdf"))
	touch(t, filepath.Join(dir, "a.pdf"))
	touch(t, filepath.Join(dir, "notes.txt"))
	if err := os.Mkdir(filepath.Join(dir, "folder.pdf"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	paths, missing, err := expandPatterns([]string{
		filepath.Join(dir, "*.pdf"),
		filepath.Join(dir, "a.*"),
		filepath.Join(dir, "*.docx"),
	})
	if err != nil {
		t.Fatalf("expandPatterns: %v", err)
	}
	want := []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "b.pdf")}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("paths = %v, want %v", paths, want)
		}
	}
	if len(missing) != 1 || !strings.HasSuffix(missing[0], "*.docx") {
		t.Fatalf("missing = %v", missing)
	}

	if _, _, err := expandPatterns([]string{"[invalid"}); err == nil {
		t.Fatalf("expected error for malformed pattern")
	}
}

func TestRunBatchContinueOnError(t *testing.T) {
	t.Parallel()
	paths := []string{"one.pdf", "two.pdf", "three.pdf", "four.pdf"}
	var mu sync.Mutex
	var reported []string
	upload := func(ctx context.Context, path string) (*batchResult, error) {
		if path == "two.pdf" {
			return nil, errors.New("rejected")
		}
		id := uuid.New()
		return &batchResult{Path: path, DocumentID: &id}, nil
	}
	report := func(r *batchResult) {
		mu.Lock()
		reported = append(reported, r.Path)
		mu.Unlock()
	}

	results, err := runBatch(context.Background(), paths, 2, true, upload, report)
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if len(results) != len(paths) || len(reported) != len(paths) {
		t.Fatalf("expected every file to run, got %d results %d reports", len(results), len(reported))
	}
	for i, r := range results {
		if r.Path != paths[i] {
			t.Fatalf("results out of order: %v", results)
		}
	}
	if results[1].Error != "rejected" || results[1].DocumentID != nil {
		t.Fatalf("unexpected failed result: %+v", results[1])
	}
	if results[0].Error != "" || results[0].DocumentID == nil {
		t.Fatalf("unexpected success result: %+v", results[0])
	}
}

func TestRunBatchStopsOnFirstError(t *testing.T) {
	t.Parallel()
	paths := []string{"one.pdf", "two.pdf", "three.pdf", "four.pdf"}
	var calls atomic.Int32
	upload := func(ctx context.Context, path string) (*batchResult, error) {
		calls.Add(1)
		if path == "two.pdf" {
			return &batchResult{Path: path}, errors.New("quota exceeded")
		}
		return &batchResult{Path: path}, nil
	}

	results, err := runBatch(context.Background(), paths, 1, false, upload, func(*batchResult) {})
	if err == nil || !strings.Contains(err.Error(), "two.pdf") {
		t.Fatalf("expected error naming the failed file, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected uploads to stop after the failure, got %d calls", calls.Load())
	}
	if len(results) != 2 || results[1].Error != "quota exceeded" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestPrintBatchEventListsFiles(t *testing.T) {
	t.Parallel()
	current := "b.pdf"
	ev := progress.NewBatchEvent(progress.BatchProgress{
		BatchID:         uuid.New(),
		TotalFiles:      2,
		CompletedFiles:  1,
		CurrentFile:     &current,
		OverallProgress: 50,
		FileProgress: map[uuid.UUID]progress.FileProgress{
			uuid.New(): {FileName: "b.pdf", Status: progress.FileUploading, Progress: 40},
			uuid.New(): {FileName: "a.pdf", Status: progress.FileCompleted, Progress: 100},
		},
	})
	var buf bytes.Buffer
	printBatchEvent(&buf, ev)
	out := buf.String()
	if !strings.Contains(out, "1/2 files") {
		t.Fatalf("missing file counts: %q", out)
	}
	a, b := strings.Index(out, "a.pdf"), strings.LastIndex(out, "b.pdf")
	if a < 0 || b < 0 || a > b {
		t.Fatalf("files not listed in name order: %q", out)
	}
	if !strings.Contains(out, "✓") || !strings.Contains(out, "↑") {
		t.Fatalf("status icons missing: %q", out)
	}
}
