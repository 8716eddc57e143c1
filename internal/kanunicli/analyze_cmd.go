package kanunicli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oremus-labs/kanuni/internal/api"
	"github.com/oremus-labs/kanuni/internal/logutil"
)

var (
	analyzeDocumentID string
	analyzeType       string
	analyzeCategory   string
	analyzeTimeout    time.Duration
	analyzeNoWait     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Analyze a document and wait for the result",
	Long: `Uploads FILE (or uses --document-id), starts an analysis and follows it.
Progress arrives over the real-time stream when enabled; the status endpoint is
polled as well, so a dropped stream never loses the result.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if (len(args) == 1) == (analyzeDocumentID != "") {
			exitWithError(cmd, fmt.Errorf("provide either a file or --document-id"))
			return
		}
		analysisType, err := api.ParseAnalysisType(strings.ToLower(analyzeType))
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx := cmd.Context()
		errOut := cmd.ErrOrStderr()

		var docID uuid.UUID
		if len(args) == 1 {
			opts, err := uploadOptions(analyzeCategory, "", nil)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			doc, err := uploadWithProgress(cmd, sess.client, args[0], opts)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			docID = doc.ID
			fmt.Fprintf(errOut, "%s Uploaded %s as %s\n", successStyle.Render("✓"), doc.Filename, shortID(doc.ID))
		} else {
			if docID, err = sess.client.ResolveDocumentID(ctx, analyzeDocumentID); err != nil {
				exitWithError(cmd, err)
				return
			}
		}

		started, err := sess.client.StartAnalysis(ctx, docID, analysisType, api.AnalysisOptions{})
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(errOut, "Started %s analysis %s\n", analysisType, accentStyle.Render(started.AnalysisID.String()))
		if analyzeNoWait {
			if err := writeOutput(cmd, started); err != nil {
				exitWithError(cmd, err)
			}
			return
		}

		result, err := followAnalysis(ctx, sess, started.AnalysisID, errOut)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, result); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		printAnalysisResult(cmd.OutOrStdout(), result)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDocumentID, "document-id", "", "Analyze an uploaded document (full id or 8+ character prefix)")
	analyzeCmd.Flags().StringVar(&analyzeType, "type", string(api.AnalysisQuick), "Analysis type: quick|detailed|legal|financial|medical")
	analyzeCmd.Flags().StringVar(&analyzeCategory, "category", "", "Category for the uploaded file")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", api.DefaultWaitTimeout, "How long to wait for the analysis")
	analyzeCmd.Flags().BoolVar(&analyzeNoWait, "no-wait", false, "Start the analysis and return immediately")
}

// followAnalysis waits on REST status, using the progress stream (when it
// can be opened) for live updates and to poll sooner.
func followAnalysis(ctx context.Context, sess *session, id uuid.UUID, w io.Writer) (*api.AnalysisResult, error) {
	opts := api.WaitOptions{Timeout: analyzeTimeout}

	tracker := newTracker(sess)
	if tracker != nil {
		if err := tracker.TrackAnalysis(ctx, id); err != nil {
			logutil.Warn("progress stream unavailable, polling only", map[string]interface{}{"error": err.Error()})
			fmt.Fprintf(w, "%s %s; polling for status\n", warnStyle.Render("warning:"), describeError(err))
			tracker.Disconnect()
			tracker = nil
		}
	}
	if tracker != nil {
		tracker.StartProcessing(ctx)
		defer tracker.Disconnect()
		renderer := renderStream(ctx, w, tracker, id)
		defer renderer.Stop()
		conn := tracker.Connection()
		opts.StreamActive = conn.IsConnected
		opts.Nudge = tracker.Changed
	}
	opts.OnStatus = func(state *api.AnalysisState) {
		if opts.StreamActive != nil && opts.StreamActive() {
			return
		}
		pct := 0
		if state.Progress != nil {
			pct = *state.Progress
		}
		fmt.Fprintf(w, "\r\033[K%s %s", progressBar(pct, 30), state.Status)
		if state.Status.Terminal() {
			fmt.Fprintln(w)
		}
	}
	return sess.client.WaitForAnalysis(ctx, id, opts)
}

func printAnalysisResult(w io.Writer, r *api.AnalysisResult) {
	fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Analysis Results"))
	tw := newTable(w)
	fmt.Fprintf(tw, "Analysis:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Document:\t%s\n", r.DocumentID)
	fmt.Fprintf(tw, "Type:\t%s\n", r.AnalysisType)
	if r.ProcessingTimeMS != nil {
		fmt.Fprintf(tw, "Processing time:\t%s\n", humanDuration(time.Duration(*r.ProcessingTimeMS)*time.Millisecond))
	}
	flushTable(tw)

	if r.Summary != nil && *r.Summary != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", headerStyle.Render("Summary"), *r.Summary)
	}
	if len(r.KeyFindings) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Key findings"))
		for _, f := range r.KeyFindings {
			fmt.Fprintf(w, "  • %s\n", f)
		}
	}
	if risk := r.RiskAssessment; risk != nil {
		fmt.Fprintf(w, "\n%s %s\n", headerStyle.Render("Risk level:"), riskStyle(risk.Level).Render(risk.Level))
		for _, f := range risk.Factors {
			fmt.Fprintf(w, "  • %s\n", f)
		}
		if len(risk.Recommendations) > 0 {
			fmt.Fprintln(w, mutedStyle.Render("  Recommendations:"))
			for _, rec := range risk.Recommendations {
				fmt.Fprintf(w, "  ➜ %s\n", rec)
			}
		}
	}
	if len(r.Entities) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Entities"))
		tw := newTable(w)
		for _, e := range r.Entities {
			fmt.Fprintf(tw, "  %s\t%s\t%.0f%%\n", e.EntityType, e.Value, e.Confidence*100)
		}
		flushTable(tw)
	}
	if len(r.Dates) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Dates"))
		tw := newTable(w)
		for _, d := range r.Dates {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Date, d.DateType, d.Context)
		}
		flushTable(tw)
	}
}

func riskStyle(level string) lipgloss.Style {
	switch strings.ToLower(level) {
	case "high", "critical":
		return errorStyle
	case "medium":
		return warnStyle
	default:
		return successStyle
	}
}
