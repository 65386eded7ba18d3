package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trollskript/internal"
)

var (
	formatFlag  string
	scanSrcFlag string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the media, sidecars and orphans an import would pick up",
	Long: `Walk the source tree the same way import does and print what was found,
without reading metadata, hashing or copying anything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := internal.NewViper(configFile)
		if err != nil {
			return err
		}
		var cfg internal.Config
		if err := v.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if scanSrcFlag != "" {
			cfg.Source = scanSrcFlag
		}
		if err := cfg.Normalize(); err != nil {
			return err
		}

		disc, err := internal.Discover(cfg.Source, internal.NewExtensions(&cfg), nil)
		if err != nil {
			return err
		}
		if formatFlag == "json" {
			return writeScanJSON(cmd.OutOrStdout(), disc)
		}
		printScan(cmd.OutOrStdout(), disc)
		return nil
	},
}

type scanEntry struct {
	Src      string        `json:"src"`
	Kind     internal.Kind `json:"kind"`
	Size     int64         `json:"size"`
	Sidecars []string      `json:"sidecars"`
}

func writeScanJSON(out io.Writer, disc *internal.Discovery) error {
	entries := make([]scanEntry, 0, len(disc.Items))
	for _, it := range disc.Items {
		e := scanEntry{Src: it.Path, Kind: it.Kind, Size: it.Size, Sidecars: []string{}}
		for _, sc := range it.Sidecars {
			e.Sidecars = append(e.Sidecars, sc.Path)
		}
		entries = append(entries, e)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Root     string             `json:"root"`
		Items    []scanEntry        `json:"items"`
		Warnings []internal.Warning `json:"warnings"`
		Ignored  int                `json:"ignored"`
	}{disc.Root, entries, append([]internal.Warning{}, disc.Warnings...), disc.Ignored})
}

func printScan(out io.Writer, disc *internal.Discovery) {
	counts := make(map[internal.Kind]int)
	var total int64
	sidecars := 0

	for _, it := range disc.Items {
		counts[it.Kind]++
		total += it.Size
		rel, err := filepath.Rel(disc.Root, it.Path)
		if err != nil {
			rel = it.Path
		}
		label := string(it.Kind)
		if it.Kind == internal.KindOther {
			label = color.YellowString("orphan")
		}
		fmt.Fprintf(out, "%-7s %10s  %s\n", label, humanize.IBytes(uint64(it.Size)), rel)
		for _, sc := range it.Sidecars {
			sidecars++
			total += sc.Size
			fmt.Fprintf(out, "        %10s    + %s\n", humanize.IBytes(uint64(sc.Size)), filepath.Base(sc.Path))
		}
	}

	for _, w := range disc.Warnings {
		color.New(color.FgYellow).Fprintf(out, "warning: %s: %s\n", w.Path, w.Message)
	}

	fmt.Fprintln(out)
	color.New(color.FgGreen).Fprintf(out, "%d image(s), %d raw, %d video(s), %d sidecar(s), %d orphan(s), %s total\n",
		counts[internal.KindImage], counts[internal.KindRaw], counts[internal.KindVideo],
		sidecars, counts[internal.KindOther], humanize.IBytes(uint64(total)))
	if disc.Ignored > 0 {
		fmt.Fprintf(out, "%d other file(s) ignored\n", disc.Ignored)
	}
}

func init() {
	scanCmd.Flags().StringVar(&scanSrcFlag, "src", "", "Source folder to scan (default: folder containing the executable)")
	scanCmd.Flags().StringVar(&formatFlag, "format", "table", "Output format: table, json")

	rootCmd.AddCommand(scanCmd)
}
