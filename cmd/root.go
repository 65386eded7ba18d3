package cmd

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time or from the embedded VERSION file.
var Version = "dev"

var (
	configFile  string
	verboseFlag bool
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "trollskript",
	Short: "Sort photos and videos into YYYY/MM/DD folders by capture date",
	Long: `trollskript copies media from a source tree into a date-structured
destination. Sources are never modified. Sidecars follow their media file,
identical content is copied once, and name collisions are handled by
--collision-policy. Reports are written to <dest>/.trollskript/.

Running trollskript without a subcommand is the same as "trollskript import".`,
	Example: `  trollskript --dest /photos/sorted
  trollskript --src /photos/unsorted --dest /photos/sorted
  trollskript --dest ./output --top-folder Vacation2024
  trollskript --dest ./output --collision-policy rename`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runImport,
}

func Execute() error {
	return rootCmd.Execute()
}

// ApplyVersion pushes Version into the cobra command.
func ApplyVersion() {
	rootCmd.Version = Version
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/trollskript/trollskript.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Only show warnings and the summary")

	addImportFlags(rootCmd)
	ApplyVersion()
}
