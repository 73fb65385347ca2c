package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/GhostN3xus/bigipxxe/pkg/logging"
	"github.com/GhostN3xus/bigipxxe/pkg/notify"
	"github.com/GhostN3xus/bigipxxe/pkg/report"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a report of all journaled attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputDir, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		telegram, _ := cmd.Flags().GetBool("telegram")

		attempts, err := store.Attempts(cmd.Context())
		if err != nil {
			return err
		}
		artifacts, err := store.Artifacts(cmd.Context(), "")
		if err != nil {
			return err
		}

		dir := outputDir
		if dir == "" {
			dir = filepath.Join(cfg.General.DataDir, "reports")
		}

		path, err := report.Write(dir, format, report.Build(attempts, artifacts))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Report saved to", path)

		if telegram {
			tg := notify.New(cfg.Notify)
			if tg == nil {
				return fmt.Errorf("--telegram needs notifications.telegram_token and notifications.telegram_chat_id")
			}
			if err := tg.SendDocument(cmd.Context(), path, "bigipxxe report"); err != nil {
				return err
			}
			logger.Info("report sent to telegram", logging.Fields{"path": path})
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringP("output", "o", "", "Output directory for the report")
	reportCmd.Flags().StringP("format", "f", "markdown", "Report format (markdown|html|json)")
	reportCmd.Flags().Bool("telegram", false, "Send the report to the configured Telegram chat")
}
