package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrewmckaskill/Examine/internal/config"
	"github.com/andrewmckaskill/Examine/pkg/engine"
	"github.com/andrewmckaskill/Examine/pkg/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	category string
	format   string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search the committed index. With a replica configured, the query fans
out across both locations and results are merged by score.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVar(&opts.category, "category", "", "Restrict to one category")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	searchers, cleanup, err := openSearchers(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	multi := search.NewMultiSearcher(searchers)
	result, err := multi.Search(cmd.Context(), engine.SearchRequest{
		Query:    query,
		Category: opts.category,
		Limit:    opts.limit,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(result.Hits)
	}
	for _, hit := range result.Hits {
		fmt.Printf("%-30s %-15s %.4f\n", hit.ID, hit.Category, hit.Score)
	}
	if result.Partial {
		fmt.Fprintln(os.Stderr, "warning: some index locations failed, results are partial")
	}
	return nil
}

// openSearchers opens a searcher per configured index location.
func openSearchers(cfg *config.Config) ([]engine.Searcher, func(), error) {
	paths := []string{cfg.Index.Path}
	if cfg.Index.ReplicaPath != "" {
		paths = append(paths, cfg.Index.ReplicaPath)
	}

	var searchers []engine.Searcher
	cleanup := func() {
		for _, s := range searchers {
			_ = s.Close()
		}
	}
	for _, path := range paths {
		s, err := engine.NewBleveFactory(path, nil).OpenSearcher()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("opening index at %s: %w", path, err)
		}
		searchers = append(searchers, s)
	}
	return searchers, cleanup, nil
}
