package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrewmckaskill/Examine/pkg/index"
)

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Empty the index and discard queued operations",
		Long: `Rebuild truncates the index: in-flight work is cancelled, queued
operations are discarded, and every document is removed. Re-submit
documents afterwards with 'examine index'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, err := openIndex(index.WithSync())
			if err != nil {
				return err
			}
			defer closeIndex(ix)

			if err := ix.RebuildIndex(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Index rebuilt")
			return nil
		},
	}
}
