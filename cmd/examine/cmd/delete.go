package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrewmckaskill/Examine/pkg/index"
)

func newDeleteCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "delete [id]...",
		Short: "Delete documents by ID or category",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && category == "" {
				return fail("nothing to delete: pass ids or --category")
			}
			return runDelete(cmd, args, category)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Delete every document in the category")
	return cmd
}

func runDelete(cmd *cobra.Command, ids []string, category string) error {
	ix, _, err := openIndex(index.WithSync())
	if err != nil {
		return err
	}
	defer closeIndex(ix)

	if len(ids) > 0 {
		if err := ix.DeleteFromIndex(ids...); err != nil {
			return err
		}
		fmt.Printf("Deleted %d documents\n", len(ids))
	}
	if category != "" {
		if err := ix.IndexAll(cmd.Context(), category); err != nil {
			return err
		}
		fmt.Printf("Deleted category %q\n", category)
	}
	return nil
}
