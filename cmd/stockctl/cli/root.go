// Package cli implements the stockctl operational commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Options injects configuration loading so commands can be exercised in tests.
type Options struct {
	LoadConfig func() (*app.Config, error)
}

// NewRootCommand assembles the stockctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = app.LoadConfig
	}
	root := &cobra.Command{
		Use:           "stockctl",
		Short:         "Operational tooling for the stock service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(opts), jobsCmd(opts), barcodeCmd())
	return root
}

func migrateCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	for _, sub := range []struct {
		use, short string
	}{
		{"up", "Apply pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Show migration status"},
	} {
		command := sub.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.LoadConfig()
				if err != nil {
					return err
				}
				logger := app.NewLogger(cfg)
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
				defer cancel()
				pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := db.Migrate(ctx, pool, logger, command); err != nil {
					return err
				}
				logger.Info("migrate finished", slog.String("command", command))
				return nil
			},
		})
	}
	return cmd
}

func jobsCmd(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	var batchSize int
	trigger := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a job immediately (sweep)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := openJobs(opts)
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			info, err := jobsCLI.Trigger(cmd.Context(), args[0], batchSize)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return err
		},
	}
	trigger.Flags().IntVar(&batchSize, "batch", 0, "reservations released per batch (0 uses the worker default)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := openJobs(opts)
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			s, err := jobsCLI.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}

func openJobs(opts Options) (*JobsCLI, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}), nil
}

func barcodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "barcode",
		Short: "Encode or decode GS1 batch element strings",
	}

	var product, batch, expiry, serial string
	encode := &cobra.Command{
		Use:   "encode",
		Short: "Render the element string for a batch identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var expiryDate *time.Time
			if expiry != "" {
				parsed, err := time.Parse(time.DateOnly, expiry)
				if err != nil {
					return fmt.Errorf("barcode: expiry must be YYYY-MM-DD: %w", err)
				}
				expiryDate = &parsed
			}
			var serialNumber *string
			if serial != "" {
				serialNumber = &serial
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), inventory.Barcode(product, batch, expiryDate, serialNumber))
			return err
		},
	}
	encode.Flags().StringVar(&product, "product", "", "product code (GTIN)")
	encode.Flags().StringVar(&batch, "batch", "", "batch number")
	encode.Flags().StringVar(&expiry, "expiry", "", "expiry date YYYY-MM-DD")
	encode.Flags().StringVar(&serial, "serial", "", "serial number")
	_ = encode.MarkFlagRequired("product")
	_ = encode.MarkFlagRequired("batch")

	decode := &cobra.Command{
		Use:   "decode <element-string>",
		Short: "Parse an element string into its batch identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := inventory.ParseBarcode(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.AddCommand(encode, decode)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
