package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/fcache/cmd/cache"
	"github.com/ValentinKolb/fcache/cmd/inspect"
	"github.com/ValentinKolb/fcache/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "fcache",
		Short: "persistent file-backed cache",
		Long: fmt.Sprintf(`fcache (v%s)

A persistent cache that stores every entry as a file below a shared
directory. Entries expire lazily and concurrent processes coordinate
through file locks, so an expensive value is computed only once.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fcache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fcache v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(cache.CacheCommands)
	RootCmd.AddCommand(inspect.InspectCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("Log level (debug, info, warn, error)"))
	util.SetupCacheFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
