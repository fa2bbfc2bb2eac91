package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrewmckaskill/Examine/pkg/index"
)

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Merge index segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, err := openIndex(index.WithSync())
			if err != nil {
				return err
			}
			defer closeIndex(ix)

			if err := ix.OptimizeIndex(); err != nil {
				return err
			}
			fmt.Println("Index optimized")
			return nil
		},
	}
}
