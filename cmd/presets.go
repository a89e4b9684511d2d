package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/richinsley/comfyrunner/workflows"
	"github.com/spf13/cobra"
)

var presetsJSON bool

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in workflow presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos := workflows.DefaultRegistry().Info()
		if presetsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tVERSION\tT2V\tI2V")
		for _, p := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", p.Key, p.Name, p.Version, p.SupportsT2V, p.SupportsI2V)
		}
		return tw.Flush()
	},
}

func init() {
	presetsCmd.Flags().BoolVar(&presetsJSON, "json", false, "print presets with their default options as JSON")
}
