package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openjurist/chunkloader/internal/config"
	"github.com/openjurist/chunkloader/internal/ledger"
	"github.com/openjurist/chunkloader/internal/logging"
	"github.com/openjurist/chunkloader/internal/metrics"
	"github.com/openjurist/chunkloader/internal/source"
	"github.com/openjurist/chunkloader/internal/target"
)

var (
	cfgFile string
	cfg     config.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chunkloader",
		Short:         "Split large CSV extracts into chunks and import them with resume and retry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging)

			if cfg.Metrics.Enabled {
				metrics.Init("")
				go func() {
					if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
						slog.Error("metrics server exited", "error", err)
					}
				}()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file")

	root.AddCommand(
		newChunkCmd(),
		newImportCmd(),
		newProgressCmd(),
		newResetCmd(),
		newDeleteCmd(),
		newServeCmd(),
	)
	return root
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openRuntime connects the destination database and the progress ledger over
// one shared pool. Close the returned store only; it owns the pool.
func openRuntime(ctx context.Context) (*target.Postgres, ledger.Store, error) {
	dest, err := target.NewPostgres(ctx, target.Config{
		DSN:            cfg.Database.DSN,
		MaxConns:       cfg.Database.MaxConns,
		ConflictColumn: cfg.Import.ConflictColumn,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := ledger.NewPostgresStoreFromPool(ctx, dest.Pool())
	if err != nil {
		dest.Close()
		return nil, nil, err
	}
	return dest, store, nil
}

func openSource(ctx context.Context) (source.Opener, error) {
	return source.NewOpener(ctx, source.Config{
		Mode:     cfg.Source.Mode,
		LocalDir: cfg.DataDir,
		Bucket:   cfg.Source.Bucket,
		Prefix:   cfg.Source.Prefix,
		Endpoint: cfg.Source.Endpoint,
		Region:   cfg.Source.Region,
	})
}
