package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Myrient-Search/Myrient-Search/internal/async"
	"github.com/Myrient-Search/Myrient-Search/internal/config"
	"github.com/Myrient-Search/Myrient-Search/internal/logging"
)

// newIngestCmd creates the ingest command: a one-shot pipeline run.
func newIngestCmd() *cobra.Command {
	var clean bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass and exit",
		Long: `Crawl the archive into the catalog, enrich new games with provider
metadata, and update the search index. With --clean the catalog and index
are wiped first; the default is an incremental pass that preserves
existing enrichment and prunes vanished files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			cleanup, err := logging.Setup(logging.Config{
				Level:    cfg.Logging.Level,
				FilePath: cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			app, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			mode := async.ModeIncremental
			if clean {
				mode = async.ModeClean
			}

			runID, err := app.pipe.Start(ctx, mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s started (%s)\n", runID, mode)

			// First signal asks the run to stop; the run still settles.
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				_ = app.pipe.Stop()
			}()

			app.pipe.Wait()
			snap := app.pipe.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(),
				"status=%s files=%d new=%d enriched=%d indexed=%d pruned=%d\n",
				snap.Status, snap.ScrapeTotal, snap.ScrapeNew, snap.Enriched, snap.Indexed, snap.Pruned)
			if snap.Status == async.StatusError {
				return fmt.Errorf("ingestion failed: %s", snap.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clean, "clean", false, "Wipe the catalog and index before crawling")
	return cmd
}
