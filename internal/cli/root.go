// Package cli implements qactl, the operator command line for the live
// Q&A backend.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/liveqa/project/internal/backend"
	"github.com/liveqa/project/internal/config"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Memory  bool
	EnvFile string

	// Open replaces backend construction; tests share one memory backend
	// across commands with it.
	Open func(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backend.Backend, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qactl",
		Short: "Operate the live Q&A backend",
		Long:  "qactl seeds and inspects events and follows an event's ranked questions live.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Memory, "memory", false, "use an in-process store instead of postgres and nats")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load")

	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewAdminCommand(opts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) logger(cmd *cobra.Command) *logrus.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	return logging.NewWithOutput(level, cmd.ErrOrStderr())
}

func (o *RootOptions) backend(ctx context.Context, log logrus.FieldLogger) (*backend.Backend, error) {
	cfg, err := config.Parse(o.EnvFile)
	if err != nil {
		return nil, err
	}
	if o.Open != nil {
		return o.Open(ctx, cfg, log)
	}
	if o.Memory {
		return backend.Memory(cfg), nil
	}
	return backend.Open(ctx, cfg, log)
}

// output writes v as JSON, or calls text for the text format.
func (o *RootOptions) output(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
