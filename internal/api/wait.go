package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/kanuni/internal/clock"
)

// Defaults for WaitForAnalysis.
const (
	DefaultWaitInterval       = 2 * time.Second
	DefaultWaitTimeout        = 300 * time.Second
	DefaultStreamPollInterval = 10 * time.Second
)

// WaitOptions tunes WaitForAnalysis.
type WaitOptions struct {
	// Interval between status polls while no progress stream is active.
	Interval time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// StreamPollInterval is the slower safety-net cadence used while
	// StreamActive reports true.
	StreamPollInterval time.Duration
	StreamActive       func() bool
	// Nudge returns a channel that fires when the stream saw news for the
	// analysis; the next poll then happens immediately.
	Nudge    func() <-chan struct{}
	OnStatus func(*AnalysisState)
	Clock    clock.Clock
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultWaitInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.StreamPollInterval <= 0 {
		o.StreamPollInterval = DefaultStreamPollInterval
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// WaitForAnalysis polls the status endpoint until the analysis reaches a
// terminal state. REST status is the source of truth; the stream only changes
// how often it is consulted.
func (c *Client) WaitForAnalysis(ctx context.Context, id uuid.UUID, opts WaitOptions) (*AnalysisResult, error) {
	opts = opts.withDefaults()
	clk := opts.Clock
	start := clk.Now()
	for {
		state, err := c.GetAnalysisStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if opts.OnStatus != nil {
			opts.OnStatus(state)
		}
		switch state.Status {
		case AnalysisCompleted:
			return c.GetAnalysisResult(ctx, id)
		case AnalysisFailed, AnalysisCancelled:
			failed := &AnalysisFailedError{ID: id.String(), Status: state.Status}
			if state.ErrorMessage != nil {
				failed.Message = *state.ErrorMessage
			}
			return nil, failed
		}

		elapsed := clk.Now().Sub(start)
		if elapsed >= opts.Timeout {
			return nil, &TimeoutError{Operation: "analysis", ID: id.String(), After: opts.Timeout}
		}
		wait := opts.Interval
		if opts.StreamActive != nil && opts.StreamActive() {
			wait = opts.StreamPollInterval
		}
		if remaining := opts.Timeout - elapsed; wait > remaining {
			wait = remaining
		}
		var nudge <-chan struct{}
		if opts.Nudge != nil {
			nudge = opts.Nudge()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clk.After(wait):
		case <-nudge:
		}
	}
}
