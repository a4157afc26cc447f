package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/scheduler"
)

func newGetCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get [URL] [--output OUTPUT_PATH]",
		Short: "Download one file over parallel byte ranges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, out, err := newRunner()
			if err != nil {
				return err
			}
			out.StartDisplay()
			_, err = runner.Fetch(cmd.Context(), scheduler.Job{URL: args[0], OutputPath: outputPath})
			out.StopDisplay()
			return err
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	return cmd
}
