package kanunicli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oremus-labs/kanuni/internal/api"
	"github.com/oremus-labs/kanuni/internal/progress"
)

const previewFiles = 10

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Upload many documents or follow a batch job",
}

var (
	batchAutoAnalyze     bool
	batchAnalysisType    string
	batchCategory        string
	batchYes             bool
	batchContinueOnError bool
	batchConcurrency     int
)

// batchResult is the outcome of one file in a batch upload.
type batchResult struct {
	Path       string     `json:"path"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	AnalysisID *uuid.UUID `json:"analysis_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

var batchUploadCmd = &cobra.Command{
	Use:   "upload <pattern>...",
	Short: "Upload files matching glob patterns",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		paths, missing, err := expandPatterns(args)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		for _, pattern := range missing {
			printErrorLine("%s no files match %s", warnStyle.Render("warning:"), pattern)
		}
		if len(paths) == 0 {
			exitWithError(cmd, fmt.Errorf("no files found to upload"))
			return
		}
		opts, err := uploadOptions(batchCategory, "", nil)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		var analysisType api.AnalysisType
		if batchAutoAnalyze {
			if analysisType, err = api.ParseAnalysisType(strings.ToLower(batchAnalysisType)); err != nil {
				exitWithError(cmd, err)
				return
			}
		}

		fmt.Fprintf(out, "Found %d files to upload:\n", len(paths))
		for i, p := range paths {
			if i == previewFiles {
				fmt.Fprintf(out, "  ... and %d more\n", len(paths)-previewFiles)
				break
			}
			fmt.Fprintf(out, "  • %s\n", p)
		}
		if !batchYes {
			ok, err := confirmPrompt("\nProceed with upload? [Y/n]: ", true, cmd.InOrStdin(), out)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if !ok {
				fmt.Fprintln(out, "Cancelled.")
				return
			}
		}

		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		upload := func(ctx context.Context, path string) (*batchResult, error) {
			res := &batchResult{Path: path}
			doc, err := sess.client.UploadFile(ctx, path, opts)
			if err != nil {
				return res, err
			}
			res.DocumentID = &doc.ID
			if batchAutoAnalyze {
				started, err := sess.client.StartAnalysis(ctx, doc.ID, analysisType, api.AnalysisOptions{})
				if err != nil {
					return res, fmt.Errorf("uploaded but analysis did not start: %w", err)
				}
				res.AnalysisID = &started.AnalysisID
			}
			return res, nil
		}

		var mu sync.Mutex
		report := func(r *batchResult) {
			if structuredOutput() {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			printBatchLine(cmd.ErrOrStderr(), r)
		}
		results, err := runBatch(cmd.Context(), paths, batchConcurrency, batchContinueOnError, upload, report)

		if werr := writeOutput(cmd, results); werr != nil {
			exitWithError(cmd, werr)
			return
		}
		failedCount := 0
		for _, r := range results {
			if r.Error != "" {
				failedCount++
			}
		}
		if !structuredOutput() {
			fmt.Fprintf(out, "\n%s\n", headerStyle.Render("Batch upload summary"))
			fmt.Fprintf(out, "  %s %d\n", successStyle.Render("Successful:"), len(results)-failedCount)
			if failedCount > 0 {
				fmt.Fprintf(out, "  %s %d\n", errorStyle.Render("Failed:"), failedCount)
			}
			if skipped := len(paths) - len(results); skipped > 0 {
				fmt.Fprintf(out, "  %s %d\n", mutedStyle.Render("Skipped:"), skipped)
			}
		}
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if failedCount > 0 {
			exitWithError(cmd, fmt.Errorf("%d of %d uploads failed", failedCount, len(paths)))
		}
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Follow a batch job over the progress stream",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		batchID, err := uuid.Parse(args[0])
		if err != nil {
			exitWithError(cmd, fmt.Errorf("invalid batch id %q: %w", args[0], err))
			return
		}
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		tracker := newTracker(sess)
		if tracker == nil {
			exitWithError(cmd, fmt.Errorf("batch monitoring needs progress streaming; enable it with 'kanuni config set websocket.enableProgress true'"))
			return
		}
		defer tracker.Disconnect()

		ctx := cmd.Context()
		if err := tracker.TrackBatch(ctx, batchID); err != nil {
			exitWithError(cmd, err)
			return
		}
		tracker.StartProcessing(ctx)
		fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring batch %s...\n", accentStyle.Render(batchID.String()))

		final, err := watchBatch(ctx, cmd.OutOrStdout(), tracker, batchID)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if final.Kind == progress.KindError {
			exitWithError(cmd, fmt.Errorf("batch failed: %s", final.Message()))
		}
	},
}

func init() {
	batchUploadCmd.Flags().BoolVar(&batchAutoAnalyze, "auto-analyze", false, "Start an analysis for each uploaded file")
	batchUploadCmd.Flags().StringVar(&batchAnalysisType, "analysis-type", string(api.AnalysisQuick), "Analysis type used with --auto-analyze")
	batchUploadCmd.Flags().StringVar(&batchCategory, "category", "", "Category applied to every file")
	batchUploadCmd.Flags().BoolVar(&batchYes, "yes", false, "Skip confirmation prompt")
	batchUploadCmd.Flags().BoolVar(&batchContinueOnError, "continue-on-error", false, "Keep uploading after a failure")
	batchUploadCmd.Flags().IntVar(&batchConcurrency, "concurrency", 3, "Parallel uploads")

	batchCmd.AddCommand(batchUploadCmd, batchStatusCmd)
}

// expandPatterns resolves glob patterns to regular files, deduplicated and in
// a stable order. Patterns that match nothing are returned separately.
func expandPatterns(patterns []string) (paths, missing []string, err error) {
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		sort.Strings(matches)
		found := false
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			found = true
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
		if !found {
			missing = append(missing, pattern)
		}
	}
	return paths, missing, nil
}

// runBatch uploads paths with at most limit in flight. Without
// continueOnError the first failure cancels the rest and is returned; files
// that never started are left out of the results.
func runBatch(
	ctx context.Context,
	paths []string,
	limit int,
	continueOnError bool,
	upload func(context.Context, string) (*batchResult, error),
	report func(*batchResult),
) ([]batchResult, error) {
	if limit < 1 {
		limit = 1
	}
	slots := make([]*batchResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		i, path := i, path
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := upload(gctx, path)
			if res == nil {
				res = &batchResult{Path: path}
			}
			if err != nil {
				res.Error = describeError(err)
			}
			slots[i] = res
			report(res)
			if err != nil && !continueOnError {
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}
	err := g.Wait()
	results := make([]batchResult, 0, len(paths))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, err
}

func printBatchLine(w io.Writer, r *batchResult) {
	name := filepath.Base(r.Path)
	switch {
	case r.Error != "":
		fmt.Fprintf(w, "%s %s: %s\n", errorStyle.Render("✗"), name, r.Error)
	case r.AnalysisID != nil:
		fmt.Fprintf(w, "%s %s uploaded as %s, analysis %s\n", successStyle.Render("✓"), name, shortID(*r.DocumentID), shortID(*r.AnalysisID))
	default:
		fmt.Fprintf(w, "%s %s uploaded as %s\n", successStyle.Render("✓"), name, shortID(*r.DocumentID))
	}
}

var fileStatusIcons = map[progress.FileStatus]string{
	progress.FilePending:    "○",
	progress.FileUploading:  "↑",
	progress.FileProcessing: "⋯",
	progress.FileCompleted:  "✓",
	progress.FileFailed:     "✗",
}

// watchBatch prints each batch update until a terminal event arrives.
func watchBatch(ctx context.Context, w io.Writer, tr *progress.Tracker, id uuid.UUID) (progress.Event, error) {
	seen := 0
	for {
		changed := tr.Changed()
		events := tr.Events(id)
		for _, ev := range events[seen:] {
			printBatchEvent(w, ev)
			if ev.IsTerminal() {
				return ev, nil
			}
		}
		seen = len(events)
		select {
		case <-changed:
		case err := <-tr.Errors():
			return progress.Event{}, err
		case <-tr.Done():
			return progress.Event{}, progress.ErrClosed
		case <-ctx.Done():
			return progress.Event{}, ctx.Err()
		}
	}
}

func printBatchEvent(w io.Writer, ev progress.Event) {
	fmt.Fprintln(w, describeEvent(ev))
	if ev.Batch == nil || len(ev.Batch.FileProgress) == 0 {
		return
	}
	files := make([]progress.FileProgress, 0, len(ev.Batch.FileProgress))
	for _, fp := range ev.Batch.FileProgress {
		files = append(files, fp)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
	tw := newTable(w)
	for _, fp := range files {
		icon, ok := fileStatusIcons[fp.Status]
		if !ok {
			icon = "?"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%d%%\t%s\n", icon, fp.FileName, fp.Progress, mutedStyle.Render(fp.Message))
	}
	flushTable(tw)
}
