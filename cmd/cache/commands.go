package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/fcache/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [group] [key]",
		Short: "Reads the value of an entry",
		Long: `Reads the value of an entry. Entries older than --ttl are reported as
missing. If --default is given, a missing entry is created with that value
while holding the write lock, so concurrent callers agree on one value.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, key := args[0], args[1]
			ttl := viper.GetDuration("ttl")

			if cmd.Flags().Changed("default") {
				def := viper.GetString("default")
				created := false
				value, ok, err := fileCache.GetOrCreate(cmd.Context(), group, key, ttl, func(context.Context) (string, bool, error) {
					created = true
					return def, true, nil
				})
				if err != nil {
					return err
				}
				fmt.Printf("group=%s, key=%s, found=%v, created=%v, value=%s\n", group, key, ok, created, value)
				return nil
			}

			value, ok, err := fileCache.Get(cmd.Context(), group, key, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("group=%s, key=%s, found=%v, value=%s\n", group, key, ok, value)
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [group] [key] [value]",
		Short: "Stores a value, replacing any existing entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fileCache.Set(cmd.Context(), args[0], args[1], args[2], viper.GetDuration("ttl")); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy [group] [key]",
		Short: "Removes an entry, succeeds if it does not exist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fileCache.Destroy(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("destroyed successfully")
			return nil
		},
	}
)

func init() {
	key := "ttl"
	getCmd.Flags().Duration(key, time.Hour, util.WrapString("Maximum age of the entry (e.g. 90s, 1h). Older entries are missing"))
	setCmd.Flags().Duration(key, time.Hour, util.WrapString("Lifetime of the entry. Only checked when reading"))

	key = "default"
	getCmd.Flags().String(key, "", util.WrapString("Value to create the entry with if it is missing or expired"))
}
