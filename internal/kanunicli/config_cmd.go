package kanunicli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/kanuni/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeOutput(cmd, appConfig); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		c := appConfig
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "Config file:\t%s\n", cfgFile)
		fmt.Fprintf(tw, "API endpoint:\t%s\n", c.APIEndpoint)
		fmt.Fprintf(tw, "Stream URL:\t%s\n", c.WebSocketURL())
		fmt.Fprintf(tw, "User email:\t%s\n", orDash(c.UserEmail))
		fmt.Fprintf(tw, "Default format:\t%s\n", c.DefaultFormat)
		fmt.Fprintf(tw, "Color output:\t%t\n", c.ColorOutput)
		fmt.Fprintf(tw, "Verbose:\t%t\n", c.Verbose)
		fmt.Fprintf(tw, "Request timeout:\t%s\n", c.RequestTimeout)
		fmt.Fprintf(tw, "Progress streaming:\t%t\n", c.WebSocket.EnableProgress)
		fmt.Fprintf(tw, "Reconnect attempts:\t%d\n", c.WebSocket.ReconnectMaxAttempts)
		fmt.Fprintf(tw, "Reconnect delay:\t%s\n", c.WebSocket.ReconnectDelay)
		fmt.Fprintf(tw, "Reconnect budget:\t%s\n", c.WebSocket.ReconnectMaxElapsed)
		fmt.Fprintf(tw, "Ping interval:\t%s\n", c.WebSocket.PingInterval)
		flushTable(tw)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Keys: apiEndpoint, defaultFormat, colorOutput, verbose, requestTimeout,
websocket.url, websocket.enableProgress, websocket.reconnectMaxAttempts,
websocket.reconnectDelay, websocket.reconnectMaxElapsed, websocket.pingInterval.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		// Load the file again so flag and env overrides are not persisted.
		cfg, err := config.Load(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := config.Save(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
	},
}

var configResetForce bool

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if !configResetForce {
			ok, err := confirmPrompt("Reset configuration to defaults? [y/N]: ", false, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return
			}
		}
		if err := config.Save(config.Default(), cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration reset to defaults.")
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config and credential file locations",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "config: %s\ncredentials: %s\n", cfgFile, config.CredentialsPath())
	},
}

func init() {
	configResetCmd.Flags().BoolVar(&configResetForce, "yes", false, "Skip confirmation prompt")
	configCmd.AddCommand(configShowCmd, configSetCmd, configResetCmd, configPathCmd)
}
