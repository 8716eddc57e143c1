// Package kanunicli implements the kanuni command tree.
package kanunicli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oremus-labs/kanuni/config"
	"github.com/oremus-labs/kanuni/internal/api"
	"github.com/oremus-labs/kanuni/internal/auth"
	"github.com/oremus-labs/kanuni/internal/clock"
	"github.com/oremus-labs/kanuni/internal/logutil"
	"github.com/oremus-labs/kanuni/internal/metrics"
)

var (
	cfgFile      string
	overrideURL  string
	outputFormat string
	verbose      bool
	noProgress   bool
	showMetrics  bool

	appConfig *config.Config
	failed    bool
)

// errCommandFailed is returned by Execute after a command reported its own error.
var errCommandFailed = errors.New("command failed")

// Execute runs the CLI. Cancelling ctx aborts in-flight requests and streams.
func Execute(ctx context.Context) error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	defer logutil.Sync()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	if failed {
		return errCommandFailed
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "kanuni",
	Short: "Upload, analyze and track legal documents",
	Long: `kanuni is the command-line client for the Kanuni document analysis service.
Run 'kanuni auth login' first; most commands need stored credentials.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appConfig == nil {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			appConfig = cfg
		}
		if overrideURL != "" {
			appConfig.APIEndpoint = strings.TrimRight(overrideURL, "/")
		}
		if verbose {
			appConfig.Verbose = true
		}
		if noProgress {
			appConfig.WebSocket.EnableProgress = false
		}
		if !cmd.Flags().Changed("output") && appConfig.DefaultFormat != "" {
			outputFormat = appConfig.DefaultFormat
		}
		if !appConfig.ColorOutput {
			disableColor()
		}
		return logutil.Init(appConfig.Verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showMetrics {
			fmt.Fprintln(os.Stderr)
			if err := metrics.WriteSummary(os.Stderr); err != nil {
				printErrorLine("metrics: %v", err)
			}
		}
	},
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfgFile, "config", config.DefaultPath(), "Path to the kanuni config file")
	fs.StringVar(&overrideURL, "api-endpoint", "", "Override the API endpoint")
	fs.StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json|yaml")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	fs.BoolVar(&noProgress, "no-progress", false, "Disable real-time progress streaming")
	fs.BoolVar(&showMetrics, "metrics", false, "Print client metrics after the command")
}

func init() {
	bindGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(documentCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(configCmd)
}

// session bundles the collaborators most commands need.
type session struct {
	client *api.Client
	creds  *auth.Manager
}

// mustClient wires the REST client and the credential manager together. The
// manager refreshes through the client's anonymous refresh endpoint.
func mustClient() (*session, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if appConfig.APIEndpoint == "" {
		return nil, fmt.Errorf("api endpoint is not configured; use 'kanuni config set api_endpoint <url>'")
	}
	client := api.New(appConfig.APIEndpoint, nil, appConfig.RequestTimeout)
	creds := auth.NewManager(auth.NewStore(config.CredentialsPath()), client, clock.Real())
	client.Tokens = creds
	return &session{client: client, creds: creds}, nil
}

func writeOutput(cmd *cobra.Command, data interface{}) error {
	switch strings.ToLower(outputFormat) {
	case "json":
		return printJSON(cmd.OutOrStdout(), data)
	case "yaml":
		return printYAML(cmd.OutOrStdout(), data)
	case "table", "":
		// Table is handled by the caller.
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}
}

// structuredOutput reports whether writeOutput already rendered the result.
func structuredOutput() bool {
	switch strings.ToLower(outputFormat) {
	case "json", "yaml":
		return true
	}
	return false
}

func exitWithError(cmd *cobra.Command, err error) {
	cmd.SilenceUsage = true
	failed = true
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error:")+" "+describeError(err))
	logutil.Debug("command failed", map[string]interface{}{"command": cmd.CommandPath(), "error": err.Error()})
}
