package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oremus-labs/kanuni/internal/clock"
)

func statusServer(t *testing.T, statusFor func(poll int32) gin.H) (*Client, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/analysis/:id/status", func(c *gin.Context) {
			body := statusFor(polls.Add(1))
			body["id"] = c.Param("id")
			c.JSON(http.StatusOK, body)
		})
		r.GET("/api/v1/analysis/:id/result", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"id":            c.Param("id"),
				"analysis_type": "legal",
				"status":        "completed",
				"summary":       "all good",
				"completed_at":  time.Now(),
			})
		})
	})
	return client, &polls
}

func TestWaitForAnalysisCompletes(t *testing.T) {
	t.Parallel()

	client, polls := statusServer(t, func(poll int32) gin.H {
		if poll < 3 {
			return gin.H{"status": "processing", "progress": poll * 30}
		}
		return gin.H{"status": "completed"}
	})
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var seen []AnalysisStatus
	result, err := client.WaitForAnalysis(context.Background(), uuid.New(), WaitOptions{
		Clock:    clk,
		OnStatus: func(s *AnalysisState) { seen = append(seen, s.Status) },
	})
	if err != nil {
		t.Fatalf("WaitForAnalysis: %v", err)
	}
	if result.Summary == nil || *result.Summary != "all good" {
		t.Fatalf("unexpected result %+v", result)
	}
	if polls.Load() != 3 || len(seen) != 3 || seen[2] != AnalysisCompleted {
		t.Fatalf("expected 3 polls, got %d (%v)", polls.Load(), seen)
	}
	for _, w := range clk.Waits() {
		if w != DefaultWaitInterval {
			t.Fatalf("expected %s sleeps got %v", DefaultWaitInterval, clk.Waits())
		}
	}
}

func TestWaitForAnalysisFailedIsDistinctFromTimeout(t *testing.T) {
	t.Parallel()

	client, _ := statusServer(t, func(int32) gin.H {
		return gin.H{"status": "failed", "error_message": "unreadable scan"}
	})
	_, err := client.WaitForAnalysis(context.Background(), uuid.New(), WaitOptions{Clock: clock.NewFake(time.Now())})
	var failed *AnalysisFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected AnalysisFailedError got %v", err)
	}
	if failed.Message != "unreadable scan" {
		t.Fatalf("unexpected message %q", failed.Message)
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		t.Fatalf("failure must not look like a timeout")
	}
}

func TestWaitForAnalysisTimesOut(t *testing.T) {
	t.Parallel()

	client, polls := statusServer(t, func(int32) gin.H {
		return gin.H{"status": "pending"}
	})
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	start := clk.Now()
	_, err := client.WaitForAnalysis(context.Background(), uuid.New(), WaitOptions{
		Clock:    clk,
		Interval: 2 * time.Second,
		Timeout:  9 * time.Second,
	})
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError got %v", err)
	}
	if elapsed := clk.Now().Sub(start); elapsed != 9*time.Second {
		t.Fatalf("wait overran its deadline: %s", elapsed)
	}
	// 0s, 2s, 4s, 6s, 8s, 9s
	if polls.Load() != 6 {
		t.Fatalf("expected 6 polls got %d", polls.Load())
	}
}

func TestWaitForAnalysisSlowsDownWhileStreamIsActive(t *testing.T) {
	t.Parallel()

	client, _ := statusServer(t, func(poll int32) gin.H {
		if poll < 3 {
			return gin.H{"status": "processing"}
		}
		return gin.H{"status": "completed"}
	})
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err := client.WaitForAnalysis(context.Background(), uuid.New(), WaitOptions{
		Clock:        clk,
		StreamActive: func() bool { return true },
	})
	if err != nil {
		t.Fatalf("WaitForAnalysis: %v", err)
	}
	waits := clk.Waits()
	if len(waits) != 2 || waits[0] != DefaultStreamPollInterval {
		t.Fatalf("expected stream cadence waits, got %v", waits)
	}
}

func TestWaitForAnalysisHonorsContext(t *testing.T) {
	t.Parallel()

	client, _ := statusServer(t, func(int32) gin.H {
		return gin.H{"status": "processing"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.WaitForAnalysis(ctx, uuid.New(), WaitOptions{Clock: clock.NewFake(time.Now())})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}
