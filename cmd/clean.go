package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/checkpoint"
	"github.com/tanq16/splitfetch/internal/output"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Drop every saved fragment checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.CheckpointDir == "" {
				return fmt.Errorf("no checkpoint directory configured")
			}
			s, err := checkpoint.Open(cfg.CheckpointDir)
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.PurgeAll()
			if err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d checkpointed fragments", n))
			return nil
		},
	}
}
