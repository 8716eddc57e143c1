package kanunicli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/kanuni/internal/api"
)

var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"documents", "doc"},
	Short:   "Upload and manage documents",
}

var (
	uploadCategory    string
	uploadDescription string
	uploadTags        []string
)

var documentUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		opts, err := uploadOptions(uploadCategory, uploadDescription, uploadTags)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		doc, err := uploadWithProgress(cmd, sess.client, args[0], opts)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, doc); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Document uploaded\n", successStyle.Render("✓"))
		printDocument(out, doc)
		fmt.Fprintf(out, "\n%s kanuni analyze --document-id %s\n", mutedStyle.Render("Analyze it with:"), doc.ID)
	},
}

var (
	listLimit  int
	listOffset int
)

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		list, err := sess.client.ListDocuments(cmd.Context(), listLimit, listOffset)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, list); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		out := cmd.OutOrStdout()
		if len(list.Documents) == 0 {
			fmt.Fprintln(out, "No documents found. Upload one with 'kanuni document upload <file>'.")
			return
		}
		tw := newTable(out)
		fmt.Fprintf(tw, "ID\tFILENAME\tCATEGORY\tSIZE\tUPLOADED\tANALYSIS\n")
		for _, doc := range list.Documents {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(doc.ID), doc.Filename, categoryLabel(doc.Category), sizeLabel(doc.SizeBytes),
				relativeTime(doc.CreatedAt), deref(doc.AnalysisStatus))
		}
		flushTable(tw)
		shown := int64(list.Offset + len(list.Documents))
		if shown < list.Total {
			fmt.Fprintf(out, "%s\n", mutedStyle.Render(fmt.Sprintf("Showing %d-%d of %d; use --offset %d for more.", list.Offset+1, shown, list.Total, shown)))
		}
	},
}

var documentInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show document details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		id, err := sess.client.ResolveDocumentID(cmd.Context(), args[0])
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		doc, err := sess.client.GetDocument(cmd.Context(), id)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, doc); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		printDocument(cmd.OutOrStdout(), doc)
	},
}

var deleteForce bool

var documentDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		id, err := sess.client.ResolveDocumentID(cmd.Context(), args[0])
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if !deleteForce {
			ok, err := confirmPrompt(fmt.Sprintf("Delete document %s? [y/N]: ", id), false, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return
			}
		}
		if err := sess.client.DeleteDocument(cmd.Context(), id); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Document %s deleted.\n", id)
	},
}

var downloadDest string

var documentDownloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download a document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx := cmd.Context()
		id, err := sess.client.ResolveDocumentID(ctx, args[0])
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		dest := downloadDest
		if dest == "" {
			doc, err := sess.client.GetDocument(ctx, id)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			dest = filepath.Base(doc.Filename)
		}
		n, err := downloadTo(dest, func(w io.Writer) (int64, error) {
			return sess.client.DownloadDocument(ctx, id, w)
		})
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Saved %s (%s)\n", successStyle.Render("✓"), dest, formatBytes(n))
	},
}

func init() {
	documentUploadCmd.Flags().StringVar(&uploadCategory, "category", "", "Document category (legal|contract|financial|medical|personal|other)")
	documentUploadCmd.Flags().StringVar(&uploadDescription, "description", "", "Free-form description")
	documentUploadCmd.Flags().StringSliceVar(&uploadTags, "tag", nil, "Tag to attach (repeatable)")
	documentListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum documents to list")
	documentListCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of documents to skip")
	documentDeleteCmd.Flags().BoolVar(&deleteForce, "yes", false, "Skip confirmation prompt")
	documentDownloadCmd.Flags().StringVar(&downloadDest, "dest", "", "Destination path (defaults to the original filename)")

	documentCmd.AddCommand(documentUploadCmd, documentListCmd, documentInfoCmd, documentDeleteCmd, documentDownloadCmd)
}

func uploadOptions(category, description string, tags []string) (api.UploadOptions, error) {
	opts := api.UploadOptions{Description: description, Tags: normalizeArgs(tags)}
	if category != "" {
		c, err := api.ParseDocumentCategory(strings.ToLower(category))
		if err != nil {
			return opts, err
		}
		opts.Category = &c
	}
	return opts, nil
}

// uploadWithProgress draws a byte progress bar on stderr for table output.
func uploadWithProgress(cmd *cobra.Command, client *api.Client, path string, opts api.UploadOptions) (*api.Document, error) {
	name := filepath.Base(path)
	if !structuredOutput() {
		opts.Progress = func(sent, total int64) {
			pct := 100
			if total > 0 {
				pct = int(sent * 100 / total)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\r%s %s", progressBar(pct, 30), name)
		}
	}
	doc, err := client.UploadFile(cmd.Context(), path, opts)
	if opts.Progress != nil {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	return doc, err
}

// downloadTo writes into a temp file next to dest and renames it on success.
func downloadTo(dest string, fetch func(io.Writer) (int64, error)) (int64, error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".kanuni-download-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := fetch(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, err
	}
	return n, nil
}

func printDocument(w io.Writer, doc *api.Document) {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", doc.ID)
	fmt.Fprintf(tw, "Filename:\t%s\n", doc.Filename)
	fmt.Fprintf(tw, "Category:\t%s\n", categoryLabel(doc.Category))
	fmt.Fprintf(tw, "Size:\t%s\n", sizeLabel(doc.SizeBytes))
	fmt.Fprintf(tw, "Type:\t%s\n", deref(doc.MimeType))
	fmt.Fprintf(tw, "Uploaded:\t%s (%s)\n", formatTimestamp(&doc.CreatedAt), relativeTime(doc.CreatedAt))
	fmt.Fprintf(tw, "Analysis:\t%s\n", deref(doc.AnalysisStatus))
	if doc.AnalysisID != nil {
		fmt.Fprintf(tw, "Analysis ID:\t%s\n", doc.AnalysisID)
	}
	if doc.AnalyzedAt != nil {
		fmt.Fprintf(tw, "Analyzed:\t%s\n", formatTimestamp(doc.AnalyzedAt))
	}
	flushTable(tw)
}

func categoryLabel(c *api.DocumentCategory) string {
	if c == nil {
		return "-"
	}
	return string(*c)
}

func sizeLabel(n *int64) string {
	if n == nil {
		return "-"
	}
	return formatBytes(*n)
}
