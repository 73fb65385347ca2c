package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var lootCmd = &cobra.Command{
	Use:   "loot",
	Short: "List retrieved files",
	Long:  `Lists the files retrieved so far, or prints one of them with --show.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		show, _ := cmd.Flags().GetInt64("show")

		if show != 0 {
			data, _, err := store.ReadArtifact(cmd.Context(), show)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		artifacts, err := store.Artifacts(cmd.Context(), host)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No loot stored yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOST\tFILE\tSIZE\tSHA256\tPATH")
		for _, a := range artifacts {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", a.ID, a.Host, a.OriginalPath, a.Size, a.SHA256, a.Path)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lootCmd)
	lootCmd.Flags().String("host", "", "Only list loot taken from this host")
	lootCmd.Flags().Int64("show", 0, "Print the content of the artifact with this id")
}
