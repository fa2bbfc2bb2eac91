package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrewmckaskill/Examine/pkg/index"
	"github.com/andrewmckaskill/Examine/pkg/value"
)

// document is the JSON shape accepted by `examine index`.
type document struct {
	ID       string         `json:"id"`
	Category string         `json:"category"`
	ItemType string         `json:"item_type"`
	Fields   map[string]any `json:"fields"`
}

func newIndexCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "index <file.json>...",
		Short: "Index documents from JSON files",
		Long: `Index documents from JSON files. Each file holds one document or an
array of documents:

  {"id": "1", "category": "article", "fields": {"title": "Hello"}}`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(args, category)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Default category for documents that do not set one")
	return cmd
}

func runIndex(paths []string, defaultCategory string) error {
	ix, _, err := openIndex(index.WithSync())
	if err != nil {
		return err
	}
	defer closeIndex(ix)

	if err := ix.EnsureIndex(false); err != nil {
		return err
	}

	var sets []*value.ValueSet
	for _, path := range paths {
		docs, err := readDocuments(path)
		if err != nil {
			return fail("reading %s: %w", path, err)
		}
		for _, d := range docs {
			if d.ID == "" {
				return fail("%s: document without id", path)
			}
			if d.Category == "" {
				d.Category = defaultCategory
			}
			sets = append(sets, value.FromMap(d.ID, d.Category, d.ItemType, d.Fields))
		}
	}

	if err := ix.IndexItems(sets...); err != nil {
		return err
	}
	fmt.Printf("Indexed %d documents\n", len(sets))
	return nil
}

func readDocuments(path string) ([]document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var many []document
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one document
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("not a document or document array: %w", err)
	}
	return []document{one}, nil
}
