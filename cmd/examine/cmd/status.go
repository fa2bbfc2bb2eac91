package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrewmckaskill/Examine/pkg/index"
)

func newStatusCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), category)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Count only one category")
	return cmd
}

func runStatus(ctx context.Context, category string) error {
	ix, cfg, err := openIndex(index.WithSync())
	if err != nil {
		return err
	}
	defer closeIndex(ix)

	exists, err := ix.Exists()
	if err != nil {
		return err
	}
	fmt.Printf("Location:  %s\n", cfg.Index.Path)
	if cfg.Index.ReplicaPath != "" {
		fmt.Printf("Replica:   %s\n", cfg.Index.ReplicaPath)
	}
	if !exists {
		fmt.Println("Status:    no index")
		return nil
	}

	count, err := ix.Count(ctx, category)
	if err != nil {
		return err
	}
	fmt.Println("Status:    ready")
	if category != "" {
		fmt.Printf("Documents: %d (category %q)\n", count, category)
	} else {
		fmt.Printf("Documents: %d\n", count)
	}
	return nil
}
