package cache

import (
	"github.com/ValentinKolb/fcache/cmd/util"
	libcache "github.com/ValentinKolb/fcache/lib/cache"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger("cmd")

var (
	fileCache libcache.ICache[string]

	// CacheCommands represents the cache command group
	CacheCommands = &cobra.Command{
		Use:               "cache",
		Short:             "Read and write cache entries",
		PersistentPreRunE: setupCache,
	}
)

func init() {
	// Add subcommands
	CacheCommands.AddCommand(getCmd)
	CacheCommands.AddCommand(setCmd)
	CacheCommands.AddCommand(destroyCmd)
	CacheCommands.AddCommand(perfTestCmd)
}

// setupCache opens the file cache described by flags and environment
func setupCache(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	fileCache, err = util.OpenCache(util.GetCacheConfig())
	return err
}
