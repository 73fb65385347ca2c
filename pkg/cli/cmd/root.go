package cmd

import (
	"fmt"
	"os"

	"github.com/GhostN3xus/bigipxxe/pkg/config"
	"github.com/GhostN3xus/bigipxxe/pkg/logging"
	"github.com/GhostN3xus/bigipxxe/pkg/output"
	"github.com/GhostN3xus/bigipxxe/pkg/storage/lootdb"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	logger  *logging.Logger
	store   *lootdb.Store
	version = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:   "bigipxxe",
	Short: "Authenticated XXE file read against F5 BIG-IP",
	Long: `bigipxxe logs in to the F5 BIG-IP management interface and abuses an XML
external entity in the SAM VPE endpoint to read a file from the appliance.
Retrieved files are stored as loot and every attempt is journaled.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		configPath, _ := cmd.Flags().GetString("config")
		quiet, _ := cmd.Flags().GetBool("quiet")
		verbose, _ := cmd.Flags().GetBool("verbose")
		debug, _ := cmd.Flags().GetBool("debug")

		var err error
		cfg, _, err = config.Load(configPath)
		if err != nil {
			return err
		}

		runtimeOpts := logging.RuntimeOptions{Quiet: quiet, Verbose: verbose, Debug: debug}
		logger, err = logging.NewLoggerWithWriter(cmd.ErrOrStderr(), cfg.Logging, runtimeOpts)
		if err != nil {
			return err
		}

		if !quiet {
			output.PrintBanner(cmd.ErrOrStderr(), version)
		}

		store, err = lootdb.Open(cmd.Context(), cfg.Database.Path)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
		if store != nil {
			store.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bigipxxe version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bigipxxe version %s\n", version)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bigipxxe: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only print leaked files and errors")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose console output")
	rootCmd.PersistentFlags().Bool("debug", false, "Debug logging")
}
