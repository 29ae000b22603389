package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openjurist/chunkloader/internal/api"
	"github.com/openjurist/chunkloader/internal/chunker"
	"github.com/openjurist/chunkloader/internal/config"
	"github.com/openjurist/chunkloader/internal/importer"
)

func newChunkCmd() *cobra.Command {
	var (
		table      string
		date       string
		sourceFile string
		chunkSize  int
		policy     string
	)

	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Split a source extract into chunk files and plan ledger records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			if chunkSize == 0 {
				chunkSize = cfg.Import.ChunkSize
			}
			rechunk := cfg.Import.RechunkPolicy
			if policy != "" {
				rechunk = config.RechunkPolicy(policy)
				if !rechunk.Valid() {
					return fmt.Errorf("--policy must be refuse, overwrite or append, got %q", policy)
				}
			}

			_, store, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			opener, err := openSource(ctx)
			if err != nil {
				return err
			}
			defer opener.Close()

			src, err := opener.Open(ctx, sourceFile)
			if err != nil {
				return err
			}
			defer src.Close()

			res, err := chunker.New(store, cfg.ChunkDir).Split(ctx, src, chunker.Options{
				Table:     table,
				Date:      date,
				ChunkSize: chunkSize,
				Policy:    rechunk,
			})
			if err != nil {
				return err
			}

			fmt.Printf("created %d chunks (%d rows) under %s\n", res.ChunksCreated, res.RowsTotal, res.Dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "destination table name")
	cmd.Flags().StringVar(&date, "date", "", "dataset date, e.g. 2024-03-15")
	cmd.Flags().StringVar(&sourceFile, "source", "", "source extract file name")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "data rows per chunk (default from config)")
	cmd.Flags().StringVar(&policy, "policy", "", "rechunk policy: refuse, overwrite or append")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("date")
	cmd.MarkFlagRequired("source")
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		table      string
		date       string
		method     string
		maxRetries int
		resume     bool
		noResume   bool
		chunks     []int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import planned chunks sequentially with retry and resume",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			dest, store, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			coord := importer.NewCoordinator(store, dest, cfg.ChunkDir, cfg.Import)
			summary, err := coord.Run(ctx, importer.RunOptions{
				Table:      table,
				Date:       date,
				Method:     method,
				MaxRetries: maxRetries,
				Resume:     resume,
				NoResume:   noResume,
				Chunks:     chunks,
			})
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %d/%d chunks completed, %d failed, %d skipped, %d rows imported, %d rows skipped in %s\n",
				summary.RunID, summary.Completed, summary.TotalChunks, summary.Failed,
				summary.Skipped, summary.RowsImported, summary.RowsSkipped,
				summary.Elapsed.Round(time.Millisecond))
			if summary.Failed > 0 {
				return fmt.Errorf("%d chunks failed permanently", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "destination table name")
	cmd.Flags().StringVar(&date, "date", "", "dataset date")
	cmd.Flags().StringVar(&method, "method", "", "import strategy: strict, permissive or bulk")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "attempts per chunk (default from config)")
	cmd.Flags().BoolVar(&resume, "resume", false, "skip chunks already completed")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "reprocess completed chunks")
	cmd.Flags().IntSliceVar(&chunks, "chunks", nil, "restrict the run to these chunk numbers")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("date")
	cmd.MarkFlagsMutuallyExclusive("resume", "no-resume")
	return cmd
}

func newProgressCmd() *cobra.Command {
	var (
		table         string
		date          string
		expectedTotal int64
		detailed      bool
	)

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Report a dataset's import progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			_, store, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := importer.Progress(ctx, store, table, date, expectedTotal, detailed)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "destination table name")
	cmd.Flags().StringVar(&date, "date", "", "dataset date")
	cmd.Flags().Int64Var(&expectedTotal, "expected-total", 0, "full dataset row count for percent-complete")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include per-chunk records")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("date")
	return cmd
}

func newResetCmd() *cobra.Command {
	var (
		table       string
		date        string
		deleteFiles bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return a dataset's chunks to pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			_, store, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.Reset(ctx, table, date)
			if err != nil {
				return err
			}
			if deleteFiles {
				if err := chunker.RemoveDatasetDir(cfg.ChunkDir, table, date); err != nil {
					return err
				}
			}

			fmt.Printf("reset %d chunk records for %s/%s\n", count, table, date)
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "destination table name")
	cmd.Flags().StringVar(&date, "date", "", "dataset date")
	cmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "also remove chunk files")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("date")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var (
		table       string
		date        string
		deleteFiles bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a dataset's chunk records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			_, store, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.Delete(ctx, table, date)
			if err != nil {
				return err
			}
			if deleteFiles {
				if err := chunker.RemoveDatasetDir(cfg.ChunkDir, table, date); err != nil {
					return err
				}
			}

			fmt.Printf("deleted %d chunk records for %s/%s\n", count, table, date)
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "destination table name")
	cmd.Flags().StringVar(&date, "date", "", "dataset date")
	cmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "also remove chunk files")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("date")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chunk import engine over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			dest, store, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			opener, err := openSource(ctx)
			if err != nil {
				return err
			}
			defer opener.Close()

			coord := importer.NewCoordinator(store, dest, cfg.ChunkDir, cfg.Import)
			splitter := chunker.New(store, cfg.ChunkDir)
			server := api.NewServer(store, coord, splitter, opener, cfg)
			return server.ListenAndServe(ctx, cfg.API.Address)
		},
	}
	return cmd
}
