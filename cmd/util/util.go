package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/fcache/lib/cache"
	"github.com/ValentinKolb/fcache/lib/cache/fstore"
	"github.com/ValentinKolb/fcache/lib/common"
	"github.com/ValentinKolb/fcache/lib/lockmgr"
	"github.com/ValentinKolb/fcache/lib/transform"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupCacheFlags adds the flags describing the cache location and layout to a command
func SetupCacheFlags(cmd *cobra.Command) {
	key := "base-dir"
	cmd.PersistentFlags().String(key, "./cache", WrapString("Root directory of the cache. All processes sharing a cache must use the same directory"))

	key = "transformer"
	cmd.PersistentFlags().String(key, "gob", WrapString(fmt.Sprintf("Serialization format of entries (%s)", strings.Join(transform.Names, ", "))))

	key = "cluster-depth"
	cmd.PersistentFlags().Int(key, 2, WrapString("Number of cluster directory levels below each group directory (1-4)"))

	key = "extension"
	cmd.PersistentFlags().String(key, "obj", WrapString("File extension of entry files"))

	key = "fsync"
	cmd.PersistentFlags().Bool(key, false, WrapString("Flush every entry to disk before it replaces the previous one"))

	key = "sync-timeout"
	cmd.PersistentFlags().Int(key, 30000, WrapString("Timeout in milliseconds for acquiring a lock"))

	key = "lock-mode"
	cmd.PersistentFlags().String(key, "file", WrapString("Lock implementation: file (cross-process), local (this process only) or none"))

	key = "nested-lock-protection"
	cmd.PersistentFlags().Bool(key, true, WrapString("Refuse lock requests of a caller already holding the lock instead of deadlocking"))

	key = "debug-locks"
	cmd.PersistentFlags().Bool(key, false, WrapString("Log every lock acquisition and release"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("fcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetCacheConfig reads the cache configuration from viper
func GetCacheConfig() *common.CacheConfig {
	return &common.CacheConfig{
		BaseDir:              viper.GetString("base-dir"),
		Transformer:          viper.GetString("transformer"),
		ClusterDepth:         viper.GetInt("cluster-depth"),
		Extension:            viper.GetString("extension"),
		Fsync:                viper.GetBool("fsync"),
		SyncTimeout:          time.Duration(viper.GetInt("sync-timeout")) * time.Millisecond,
		LockMode:             viper.GetString("lock-mode"),
		NestedLockProtection: viper.GetBool("nested-lock-protection"),
		DebugLocks:           viper.GetBool("debug-locks"),
		LogLevel:             viper.GetString("log-level"),
	}
}

// OpenCache validates the configuration, initializes the loggers and opens a
// file cache for string values
func OpenCache(conf *common.CacheConfig) (cache.ICache[string], error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return nil, err
	}

	t, err := transform.ByName[string](conf.Transformer)
	if err != nil {
		return nil, err
	}

	opts := fstore.DefaultOptions[string](conf.BaseDir)
	opts.Transformer = t
	opts.ClusterDepth = conf.ClusterDepth
	opts.Extension = conf.Extension
	opts.Fsync = conf.Fsync
	opts.SyncTimeout = conf.SyncTimeout
	opts.LockKind = lockmgr.Kind(conf.LockMode)
	opts.NestedLockProtection = conf.NestedLockProtection
	opts.DebugLocks = conf.DebugLocks

	return fstore.New[string](opts)
}
