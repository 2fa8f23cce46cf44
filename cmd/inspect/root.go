package inspect

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/fcache/cmd/util"
	"github.com/ValentinKolb/fcache/lib/cache/fstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// InspectCmd reports on the files of one cache group
	InspectCmd = &cobra.Command{
		Use:   "inspect [group]",
		Short: "Report size and layout of a cache group",
		Long: `Walks the directory of a cache group and reports the number and size of
entry files and how evenly they are spread over the cluster directories.
No entries are decoded and no locks are taken.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
		RunE: run,
	}
)

func init() {
	key := "json"
	InspectCmd.Flags().Bool(key, false, util.WrapString("Print the report as JSON"))
}

func run(_ *cobra.Command, args []string) error {
	conf := util.GetCacheConfig()

	report, err := fstore.Inspect(conf.BaseDir, args[0], conf.Extension)
	if err != nil {
		return err
	}

	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	addField := func(name string, value any) {
		fmt.Printf("  %-18s: %v\n", name, value)
	}

	fmt.Printf("GROUP %s\n", report.Group)
	addField("Directory", report.Dir)
	addField("Entries", report.Entries)
	addField("Total Size", formatBytes(report.TotalBytes))
	addField("Temp Files", report.TempFiles)
	addField("Other Files", report.Other)

	if report.Entries == 0 {
		return nil
	}

	fmt.Println("LAYOUT")
	addField("Leaf Directories", report.LeafDirs)
	addField("Max Dir Entries", report.MaxDirEntries)
	addField("Entries per Dir", fmt.Sprintf("mean %.1f, min %.0f, max %.0f, stddev %.2f",
		report.Spread.Mean, report.Spread.Min, report.Spread.Max, report.Spread.StdDeviation))
	addField("Spread Quality", fmt.Sprintf("%.2f", report.Spread.DistributionQuality))

	fmt.Println("SIZES")
	addField("Average", formatBytes(report.Sizes.Average()))
	addField("P50", formatBytes(report.Sizes.Percentile(50)))
	addField("P99", formatBytes(report.Sizes.Percentile(99)))

	fmt.Println("AGE")
	addField("Oldest", fmt.Sprintf("%s (%s ago)", report.Oldest.Format(time.RFC3339), time.Since(report.Oldest).Round(time.Second)))
	addField("Newest", fmt.Sprintf("%s (%s ago)", report.Newest.Format(time.RFC3339), time.Since(report.Newest).Round(time.Second)))

	return nil
}

// formatBytes renders a byte count with a binary unit
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
