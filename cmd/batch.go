package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/scheduler"
	"github.com/tanq16/splitfetch/internal/utils"
	"gopkg.in/yaml.v3"
)

func newBatchCmd() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [--output-dir DIR]",
		Short: "Download every link of a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := readBatchFile(args[0], outputDir)
			if err != nil {
				return err
			}
			runner, out, err := newRunner()
			if err != nil {
				return err
			}
			out.StartDisplay()
			err = runner.Batch(cmd.Context(), jobs)
			out.StopDisplay()
			return err
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for entries without an explicit output path")
	return cmd
}

func readBatchFile(path, outputDir string) ([]scheduler.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var batch utils.BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	var jobs []scheduler.Job
	for _, entry := range batch.Links {
		if entry.URL == "" {
			fmt.Fprintf(os.Stderr, "Warning: Empty link found in %s, skipping...\n", path)
			continue
		}
		out := entry.OutputPath
		if out == "" && outputDir != "" {
			out = filepath.Join(outputDir, utils.OutputNameFromURL(entry.URL))
		}
		jobs = append(jobs, scheduler.Job{URL: entry.URL, OutputPath: out})
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no links found in %s", path)
	}
	return jobs, nil
}
