package progress

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/kanuni/internal/clock"
)

func waitDone(t *testing.T, tr *Tracker) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("processing loop did not exit")
	}
}

func TestTrackerRecordsEventsAndReleasesOnCompletion(t *testing.T) {
	t.Parallel()

	f := newFakeStream(t)
	conn := newTestConnection(f, &staticTokens{token: "tok"}, nil)
	tr := NewTracker(conn, clock.NewFake(time.Now()))
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	analysisID, docID := uuid.New(), uuid.New()
	if err := tr.TrackAnalysis(ctx, analysisID); err != nil {
		t.Fatalf("TrackAnalysis: %v", err)
	}
	sc := f.waitJoin(t)
	if cmd := f.nextCommand(t); cmd.Action != ActionSubscribe {
		t.Fatalf("expected subscribe, got %+v", cmd)
	}
	tr.StartProcessing(ctx)

	stages := []struct {
		stage AnalysisStage
		pct   uint8
	}{{StageQueued, 0}, {StageExtractingText, 30}, {StageAnalyzingContent, 70}}
	for _, s := range stages {
		sc.send(t, progressFrame(NewAnalysisEvent(AnalysisProgress{
			AnalysisID: analysisID, DocumentID: docID, Stage: s.stage, Progress: s.pct,
		})))
	}
	sc.send(t, progressFrame(NewCompleteEvent(CompleteEvent{ID: analysisID, EventType: CompleteAnalysis, Message: "analysis ready"})))

	final, err := tr.Await(ctx, analysisID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if final.Kind != KindComplete || final.Message() != "analysis ready" {
		t.Fatalf("final event %+v", final)
	}

	events := tr.Events(analysisID)
	if len(events) != 4 {
		t.Fatalf("recorded %d events, want 4", len(events))
	}
	for i, s := range stages {
		if events[i].Analysis == nil || events[i].Analysis.Stage != s.stage {
			t.Fatalf("event %d = %+v, want stage %s", i, events[i], s.stage)
		}
	}
	if latest, ok := tr.LatestEvent(analysisID); !ok || latest.Kind != KindComplete {
		t.Fatalf("LatestEvent = %+v, %v", latest, ok)
	}

	cmd := f.nextCommand(t)
	if cmd.Action != ActionUnsubscribe || cmd.ChannelType != ChannelAnalysis || *cmd.ID != analysisID {
		t.Fatalf("expected unsubscribe after completion, got %+v", cmd)
	}
	if conn.Registry().Len() != 0 {
		t.Fatalf("registry still holds %v", conn.Registry().Snapshot())
	}

	tr.Disconnect()
	waitDone(t, tr)
}

func TestTrackerReconnectsAndResubscribes(t *testing.T) {
	t.Parallel()

	f := newFakeStream(t)
	conn := newTestConnection(f, &staticTokens{token: "tok"}, clock.NewFake(time.Now()))
	tr := NewTracker(conn, clock.NewFake(time.Now()))
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docID := uuid.New()
	if err := tr.TrackUpload(ctx, docID); err != nil {
		t.Fatalf("TrackUpload: %v", err)
	}
	f.waitJoin(t)
	f.nextCommand(t)
	tr.StartProcessing(ctx)

	f.dropAll()
	sc := f.waitJoin(t)
	cmd := f.nextCommand(t)
	if cmd.Action != ActionSubscribe || cmd.ChannelType != ChannelUpload || *cmd.ID != docID {
		t.Fatalf("expected replayed subscribe, got %+v", cmd)
	}

	sc.send(t, progressFrame(NewErrorEvent(ErrorEvent{ID: docID, ErrorType: ErrorUpload, Message: "virus scan failed"})))
	final, err := tr.Await(ctx, docID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if final.Kind != KindError || final.Error.ErrorType != ErrorUpload {
		t.Fatalf("final event %+v", final)
	}
}

func TestTrackerReportsReconnectFailures(t *testing.T) {
	t.Parallel()

	f := newFakeStream(t)
	f.reject.Store(http.StatusServiceUnavailable)
	clk := clock.NewFake(time.Now())
	conn := newTestConnection(f, &staticTokens{token: "tok"}, clk)
	tr := NewTracker(conn, clk)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tr.StartProcessing(ctx)

	select {
	case err := <-tr.Errors():
		var cerr *ConnectivityError
		if !errors.As(err, &cerr) || !cerr.Fatal {
			t.Fatalf("expected fatal ConnectivityError, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("no reconnect failure reported")
	}

	tr.Disconnect()
	waitDone(t, tr)
	if _, err := tr.Await(ctx, uuid.New()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Await after shutdown = %v, want ErrClosed", err)
	}
}

func TestTrackerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFakeStream(t)
	conn := newTestConnection(f, &staticTokens{token: "tok"}, nil)
	defer conn.Disconnect()
	tr := NewTracker(conn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	tr.StartProcessing(ctx)
	f.waitJoin(t)
	cancel()
	waitDone(t, tr)
}

func waitEvents(t *testing.T, tr *Tracker, id uuid.UUID, n int) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		changed := tr.Changed()
		if len(tr.Events(id)) >= n {
			return
		}
		select {
		case <-changed:
		case <-timeout:
			t.Fatalf("recorded %d events for %s, want %d", len(tr.Events(id)), id, n)
		}
	}
}

func TestTrackerErrorReleasesOnlyFailedEntity(t *testing.T) {
	t.Parallel()

	f := newFakeStream(t)
	conn := newTestConnection(f, &staticTokens{token: "tok"}, nil)
	tr := NewTracker(conn, clock.NewFake(time.Now()))
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed, uploading := uuid.New(), uuid.New()
	if err := tr.TrackAnalysis(ctx, failed); err != nil {
		t.Fatalf("TrackAnalysis: %v", err)
	}
	sc := f.waitJoin(t)
	if err := tr.TrackUpload(ctx, uploading); err != nil {
		t.Fatalf("TrackUpload: %v", err)
	}
	f.nextCommand(t)
	f.nextCommand(t)
	tr.StartProcessing(ctx)

	sc.send(t, progressFrame(NewErrorEvent(ErrorEvent{ID: failed, ErrorType: ErrorAnalysis, Message: "model unavailable"})))
	sc.send(t, progressFrame(NewUploadEvent(UploadProgress{
		DocumentID: uploading, FileName: "lease.pdf", BytesUploaded: 512, TotalBytes: 1024, Progress: 50,
	})))
	waitEvents(t, tr, uploading, 1)

	if conn.Registry().Contains(Subscription{Channel: ChannelAnalysis, ID: failed}) {
		t.Fatalf("failed analysis still registered")
	}
	if !conn.Registry().Contains(Subscription{Channel: ChannelUpload, ID: uploading}) {
		t.Fatalf("in-flight upload was released")
	}
	if final, ok := tr.LatestEvent(failed); !ok || final.Kind != KindError {
		t.Fatalf("LatestEvent(failed) = %+v, %v", final, ok)
	}

	cmd := f.nextCommand(t)
	if cmd.Action != ActionUnsubscribe || cmd.ChannelType != ChannelAnalysis || *cmd.ID != failed {
		t.Fatalf("expected unsubscribe for the failed analysis, got %+v", cmd)
	}
	select {
	case extra := <-f.commands:
		if extra.Action != ActionPing {
			t.Fatalf("unexpected extra command %+v", extra)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTrackerReleaseDoesNotBlockOnFullQueue(t *testing.T) {
	t.Parallel()

	conn := NewConnection(DefaultOptions("ws://127.0.0.1:0/api/v1/ws"), &staticTokens{token: "tok"})
	// A session with no run loop and a full command queue.
	sess := &session{commands: make(chan Command, 1), done: make(chan struct{})}
	sess.commands <- pingCommand()
	conn.sess = sess
	conn.state = StateConnected

	id := uuid.New()
	conn.Registry().Add(Subscription{Channel: ChannelAnalysis, ID: id})
	tr := NewTracker(conn, nil)
	tr.releaseTimeout = 20 * time.Millisecond

	released := make(chan struct{})
	go func() {
		tr.release(context.Background(), id)
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("release blocked on a full command queue")
	}
	if conn.Registry().Len() != 0 {
		t.Fatalf("registry still holds %v", conn.Registry().Snapshot())
	}
}

func TestAwaitWithoutProcessingEndsWithContext(t *testing.T) {
	t.Parallel()

	conn := NewConnection(DefaultOptions("ws://127.0.0.1:0/api/v1/ws"), &staticTokens{token: "tok"})
	tr := NewTracker(conn, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tr.Await(ctx, uuid.New()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await = %v, want deadline exceeded", err)
	}
}
