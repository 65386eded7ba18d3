package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trollskript/internal"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy media from --src into the dated --dest tree",
	Args:  cobra.NoArgs,
	RunE:  runImport,
}

// importFlagKeys maps flag names onto config keys.
var importFlagKeys = map[string]string{
	"src":              "src",
	"dest":             "dest",
	"top-folder":       "top_folder",
	"collision-policy": "collision_policy",
	"workers":          "workers",
	"mtime-fallback":   "mtime_fallback",
	"hash":             "hash_algorithm",
	"exiftool":         "exiftool_path",
	"metadata-timeout": "metadata_timeout",
	"dry-run":          "dry_run",
	"debounce":         "watch_debounce",
}

// negatedFlags switch a config key off when set.
var negatedFlags = map[string]string{
	"no-verify":   "verify",
	"no-exiftool": "use_exiftool",
	"no-index":    "index_destination",
}

func addImportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("src", "", "Source folder to scan (default: folder containing the executable)")
	f.String("dest", "", "Destination folder (required)")
	f.String("top-folder", "", "Put everything into <dest>/<name> instead of YYYY/MM/DD folders")
	f.String("collision-policy", "skip", "Name collisions with different content: skip, rename or conflicts")
	f.Int("workers", 0, "Parallel workers (default: number of CPUs)")
	f.Bool("mtime-fallback", false, "Use the file modification time when no metadata date is found")
	f.String("hash", "sha256", "Content hash: sha256 or blake3")
	f.String("exiftool", "", "Path to the exiftool binary (default: search PATH)")
	f.Duration("metadata-timeout", 30*time.Second, "Give up on a file's metadata after this long")
	f.Bool("dry-run", false, "Plan and report without copying anything")
	f.Bool("no-verify", false, "Skip re-reading copies to verify their hash")
	f.Bool("no-exiftool", false, "Do not use exiftool even if installed")
	f.Bool("no-index", false, "Do not fingerprint files already in the destination")
}

// loadConfig layers defaults, config file, environment and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*internal.Config, error) {
	v, err := internal.NewViper(configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for name, key := range importFlagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	for name, key := range negatedFlags {
		if on, err := flags.GetBool(name); err == nil && on {
			v.Set(key, false)
		}
	}
	return internal.LoadConfig(v)
}

func newLogger() *internal.Logger {
	log := internal.NewLogger(os.Stderr, verboseFlag)
	if quietFlag {
		log.SetConsoleLevel(logrus.WarnLevel)
	}
	return log
}

func runImport(cmd *cobra.Command, _ []string) error {
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

	_, err = importOnce(ctx, cmd.OutOrStdout(), cfg, tool, log)
	return err
}

// importOnce runs a single import session and prints its summary.
func importOnce(ctx context.Context, out io.Writer, cfg *internal.Config, tool internal.MetadataTool, log *internal.Logger) (*internal.Report, error) {
	session, err := internal.NewImportSession(cfg, tool, log)
	if err != nil {
		return nil, err
	}
	planner := session.Planner()
	if !cfg.DryRun {
		if err := log.LogToFile(filepath.Join(planner.ReportDir(), "trollskript.log")); err != nil {
			log.WithError(err).Warn("cannot open run log")
		}
	}

	info := color.New(color.FgCyan)
	info.Fprintf(out, "Source: %s\n", cfg.Source)
	info.Fprintf(out, "Destination: %s\n", planner.Base())
	info.Fprintf(out, "Collision policy: %s\n", cfg.CollisionPolicy)
	if cfg.DryRun {
		color.New(color.FgYellow).Fprintln(out, "Dry run: nothing will be copied")
	}

	bar := newProgressBar()
	if bar != nil {
		log.SetConsoleLevel(logrus.WarnLevel)
		session.OnDiscovered = func(n int) { bar.ChangeMax(n) }
		session.OnProgress = func(n int) { _ = bar.Add(n) }
	}

	report, err := session.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
		if !quietFlag {
			log.SetConsoleLevel(consoleLevel())
		}
	}
	if err != nil {
		return report, err
	}

	printSummary(out, report, cfg, planner.ReportDir())
	if ctx.Err() != nil {
		color.New(color.FgYellow).Fprintln(out, "Interrupted: unfinished files are recorded as canceled, rerun to complete")
	}
	return report, nil
}

func consoleLevel() logrus.Level {
	if verboseFlag {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

// newProgressBar returns nil unless stderr is a terminal and output is wanted.
func newProgressBar() *progressbar.ProgressBar {
	if quietFlag || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
	)
}

func printSummary(out io.Writer, report *internal.Report, cfg *internal.Config, reportDir string) {
	s := report.Summary()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Fprintf(out, "Found %d file(s)", s.Discovered)
	if s.Ignored > 0 {
		fmt.Fprintf(out, ", ignored %d non-media file(s)", s.Ignored)
	}
	fmt.Fprintln(out)

	green.Fprintf(out, "Copied: %d (%s)\n", s.Copied+s.Renamed+s.Conflicted, humanize.IBytes(uint64(s.BytesCopied)))
	if s.Duplicates > 0 {
		fmt.Fprintf(out, "Duplicates skipped: %d\n", s.Duplicates)
	}
	if s.Renamed > 0 {
		yellow.Fprintf(out, "Collisions renamed: %d\n", s.Renamed)
	}
	if s.Conflicted > 0 {
		yellow.Fprintf(out, "Collisions moved to conflicts/: %d\n", s.Conflicted)
	}
	if s.CollisionsSkipped > 0 {
		yellow.Fprintf(out, "Collisions skipped: %d (see collisions.json)\n", s.CollisionsSkipped)
	}
	if s.Warnings > 0 {
		yellow.Fprintf(out, "Warnings: %d\n", s.Warnings)
	}
	if s.Errors > 0 {
		red.Fprintf(out, "Errors: %d\n", s.Errors)
		fmt.Fprint(out, report.ErrorReport())
	}

	if cfg.DryRun {
		yellow.Fprintln(out, "Dry run finished, no files were written")
		return
	}
	green.Fprintf(out, "Done! Reports written to: %s\n", reportDir)
}

func init() {
	addImportFlags(importCmd)
	rootCmd.AddCommand(importCmd)
}
