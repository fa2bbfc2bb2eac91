// Package cmd provides the CLI commands for examine.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewmckaskill/Examine/internal/config"
	"github.com/andrewmckaskill/Examine/internal/logging"
	"github.com/andrewmckaskill/Examine/pkg/engine"
	"github.com/andrewmckaskill/Examine/pkg/index"
	"github.com/andrewmckaskill/Examine/pkg/lock"
	"github.com/andrewmckaskill/Examine/pkg/value"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the examine CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "examine",
		Short: "Full-text index orchestration",
		Long: `Examine maintains a full-text index: documents are submitted as
value sets, queued, and applied to the underlying engine with
debounced commits.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".examine.yaml", "Path to config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if debugMode {
			level = "debug"
		}
		cleanup, err := logging.Setup(logging.Config{Level: level})
		if err != nil {
			return err
		}
		loggingCleanup = cleanup
		return nil
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newOptimizeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// openIndex builds the pipeline from the loaded configuration.
func openIndex(extra ...index.Option) (*index.Index, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	locks := buildLockFactory(cfg)
	factory := engine.NewBleveFactory(cfg.Index.Path, locks)
	types := value.NewValueTypeCollection(cfg.FieldDefinitions()...)

	opts := []index.Option{
		index.WithCommitInterval(cfg.Commit.Interval),
		index.WithMaxCommitInterval(cfg.Commit.MaxInterval),
	}
	if cfg.Index.Sync {
		opts = append(opts, index.WithSync())
	}
	opts = append(opts, extra...)

	return index.New(factory, types, opts...), cfg, nil
}

func buildLockFactory(cfg *config.Config) lock.Factory {
	primary := lock.NewFlockFactory(filepath.Dir(cfg.Index.Path))
	if cfg.Index.ReplicaPath == "" {
		return primary
	}
	secondary := lock.NewFlockFactory(filepath.Dir(cfg.Index.ReplicaPath))
	return lock.NewMultiLockFactory(primary, secondary)
}

// closeIndex shuts the pipeline down with a bounded context.
func closeIndex(ix *index.Index) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := ix.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: index close:", err)
	}
}

func fail(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}
