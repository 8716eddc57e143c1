package kanunicli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/oremus-labs/kanuni/config"
	"github.com/oremus-labs/kanuni/internal/clock"
	"github.com/oremus-labs/kanuni/internal/progress"
)

func streamOptions(cfg *config.Config) progress.Options {
	opts := progress.DefaultOptions(cfg.WebSocketURL())
	opts.MaxReconnectAttempts = cfg.WebSocket.ReconnectMaxAttempts
	opts.ReconnectDelay = cfg.WebSocket.ReconnectDelay
	opts.MaxReconnectElapsed = cfg.WebSocket.ReconnectMaxElapsed
	opts.PingInterval = cfg.WebSocket.PingInterval
	return opts
}

// newTracker returns nil when progress streaming is disabled.
func newTracker(sess *session) *progress.Tracker {
	if appConfig == nil || !appConfig.WebSocket.EnableProgress {
		return nil
	}
	conn := progress.NewConnection(streamOptions(appConfig), sess.creds)
	return progress.NewTracker(conn, clock.Real())
}

// describeEvent renders one progress event as a single status line.
func describeEvent(ev progress.Event) string {
	switch ev.Kind {
	case progress.KindUpload:
		u := ev.Upload
		return fmt.Sprintf("%s %s %s", progressBar(int(u.Progress), 30), u.FileName, mutedStyle.Render(u.Message))
	case progress.KindAnalysis:
		a := ev.Analysis
		return fmt.Sprintf("%s %s %s", progressBar(int(a.Progress), 30), a.Stage.DisplayName(), mutedStyle.Render(a.Message))
	case progress.KindBatch:
		b := ev.Batch
		line := fmt.Sprintf("%s %d/%d files", progressBar(int(b.OverallProgress), 30), b.CompletedFiles, b.TotalFiles)
		if b.CurrentFile != nil {
			line += " " + mutedStyle.Render(*b.CurrentFile)
		}
		return line
	case progress.KindComplete:
		return successStyle.Render("✓ ") + ev.Message()
	case progress.KindError:
		return errorStyle.Render("✗ ") + fmt.Sprintf("%s error: %s", ev.Error.ErrorType, ev.Error.Message)
	}
	return ev.Message()
}

// streamRenderer prints new events for one entity as they are recorded and
// surfaces reconnect failures as warnings.
type streamRenderer struct {
	stop chan struct{}
	wg   sync.WaitGroup
}

func renderStream(ctx context.Context, w io.Writer, tr *progress.Tracker, id uuid.UUID) *streamRenderer {
	r := &streamRenderer{stop: make(chan struct{})}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		seen := 0
		for {
			changed := tr.Changed()
			events := tr.Events(id)
			for _, ev := range events[seen:] {
				fmt.Fprintf(w, "\r\033[K%s", describeEvent(ev))
				if ev.IsTerminal() {
					fmt.Fprintln(w)
				}
			}
			seen = len(events)
			select {
			case <-changed:
			case err := <-tr.Errors():
				fmt.Fprintf(w, "\n%s %s; falling back to status polling\n", warnStyle.Render("warning:"), describeError(err))
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return r
}

func (r *streamRenderer) Stop() {
	close(r.stop)
	r.wg.Wait()
}
