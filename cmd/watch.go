package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trollskript/internal"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Import, then keep importing whenever new media appears in --src",
	Long: `Run an import, then watch the source tree and run another import once
new or changed media files have settled for --debounce. Every run is a full
import, so files that arrived while a run was busy are picked up by the next.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := newLogger()
		defer log.Close()

		tool, closer := internal.NewMetadataTool(cfg, log)
		defer closer.Close()

		out := cmd.OutOrStdout()
		if _, err := importOnce(ctx, out, cfg, tool, log); err != nil {
			return err
		}

		planner := internal.Planner{Root: cfg.Dest, TopFolder: cfg.TopFolder}
		var exclude []string
		if internal.IsWithin(planner.Base(), cfg.Source) {
			exclude = append(exclude, planner.Base())
		}
		w, err := internal.NewWatcher(cfg.Source, internal.NewExtensions(cfg), exclude)
		if err != nil {
			return err
		}
		defer w.Close()

		go func() {
			for {
				select {
				case err := <-w.Errors():
					log.WithError(err).Warn("watcher error")
				case <-ctx.Done():
					return
				}
			}
		}()

		color.New(color.FgCyan).Fprintf(out, "Watching %s (Ctrl+C to stop)\n", cfg.Source)
		internal.Debounce(ctx, w.Events(), cfg.WatchDebounce, func(paths []string) {
			log.WithField("changed", len(paths)).Info("new media settled, importing")
			if _, err := importOnce(ctx, out, cfg, tool, log); err != nil {
				log.WithError(err).Error("import failed")
			}
		})
		return nil
	},
}

func init() {
	addImportFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 5*time.Second, "Wait until no new events arrived for this long before importing")

	rootCmd.AddCommand(watchCmd)
}
