// Package cli implements ragctl, a local tool for trying the ingestion and
// question answering pipeline against files on disk without MySQL, Redis or
// RabbitMQ.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dermassist/internal/bootstrap"
	"dermassist/internal/config"
)

type loadAppFunc func() (*bootstrap.App, error)

// NewRootCommand builds the ragctl command tree. load is called lazily by
// the subcommands that need the services.
func NewRootCommand(load loadAppFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Inspect the dermassist document pipeline locally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newChunkCommand(load), newEmbedCommand(load), newAskCommand(load))
	return root
}

func Execute() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env failed: %v\n", err)
	}
	root := NewRootCommand(loadLocalApp)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadLocalApp() (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "ragctl-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir failed: %w", err)
	}
	cfg.Upload.Dir = dir
	return bootstrap.NewLocal(cfg)
}
