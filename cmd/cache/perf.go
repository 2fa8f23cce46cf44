package cache

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/fcache/cmd/util"
	libcache "github.com/ValentinKolb/fcache/lib/cache"
	"github.com/ValentinKolb/fcache/lib/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for the file cache",
		Long: `Runs parallel benchmarks against the configured cache directory. Start
the command in several terminals with the same --base-dir to measure
cross-process lock contention.`,
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfGroup            = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
	perfPrintMetrics     = false

	// perfTTL keeps every entry written during a run live
	perfTTL = time.Hour
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "print-metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print the cache counters in Prometheus text format after the run"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	perfPrintMetrics = viper.GetBool("print-metrics")

	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	conf := util.GetCacheConfig()

	fmt.Println("Performance testing tool for the file cache")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	bench := func(name string, prepare func(b *testing.B, getKey func(int) string), op func(getKey func(int) string, i int) error) {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}

			getKey, iter := getKeys(name)

			// cleanup
			b.Cleanup(func() {
				iter(func(k string) {
					if err := fileCache.Destroy(ctx, perfGroup, k); err != nil {
						log.Warningf("(%s) - error destroying key: %v", name, err)
					}
				})
			})

			if prepare != nil {
				prepare(b, getKey)
			}

			b.SetParallelism(perfNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := op(getKey, counter); err != nil {
						log.Warningf("(%s) - %v", name, err)
					}
					counter++
				}
			})
		})

		results[name] = result
		printResult(name, result)
	}

	// fill writes every key once so that the reading benchmarks hit
	fill := func(value string) func(b *testing.B, getKey func(int) string) {
		return func(b *testing.B, getKey func(int) string) {
			for i := 0; i < perfKeySpread; i++ {
				if err := fileCache.Set(ctx, perfGroup, getKey(i), value, perfTTL); err != nil {
					b.Fatalf("error preparing key: %v", err)
				}
			}
		}
	}

	bench("set", nil, func(getKey func(int) string, i int) error {
		return fileCache.Set(ctx, perfGroup, getKey(i), "test", perfTTL)
	})

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	bench("set-large", nil, func(getKey func(int) string, i int) error {
		return fileCache.Set(ctx, perfGroup, getKey(i), largeValue, perfTTL)
	})

	bench("get", fill("test"), func(getKey func(int) string, i int) error {
		_, _, err := fileCache.Get(ctx, perfGroup, getKey(i), perfTTL)
		return err
	})

	bench("get-miss", nil, func(getKey func(int) string, i int) error {
		_, _, err := fileCache.Get(ctx, perfGroup, getKey(i), perfTTL)
		return err
	})

	bench("get-or-create", fill("test"), func(getKey func(int) string, i int) error {
		_, _, err := fileCache.GetOrCreate(ctx, perfGroup, getKey(i), perfTTL, createTest)
		return err
	})

	// every entry is expired, each call recreates it under the write lock
	bench("get-or-create-stale", fill("test"), func(getKey func(int) string, i int) error {
		_, _, err := fileCache.GetOrCreate(ctx, perfGroup, getKey(i), time.Nanosecond, createTest)
		return err
	})

	bench("destroy", nil, func(getKey func(int) string, i int) error {
		return fileCache.Destroy(ctx, perfGroup, getKey(i))
	})

	// 80% reads, 15% writes, 5% destroys
	bench("mixed", fill("test"), func(getKey func(int) string, i int) error {
		key := getKey(i)
		switch i % 20 {
		case 0:
			return fileCache.Destroy(ctx, perfGroup, key)
		case 1, 2, 3:
			return fileCache.Set(ctx, perfGroup, key, "test", perfTTL)
		default:
			_, _, err := fileCache.GetOrCreate(ctx, perfGroup, key, perfTTL, createTest)
			return err
		}
	})

	if stats, ok := libcache.LockStats(fileCache); ok {
		fmt.Println()
		fmt.Println("Locks:")
		fmt.Printf("%-20s%d acquired, mean wait %s, p99 wait %s\n", "read", stats.ReadAcquired, stats.ReadWaitMean, stats.ReadWaitP99)
		fmt.Printf("%-20s%d acquired, mean wait %s, p99 wait %s\n", "write", stats.WriteAcquired, stats.WriteWaitMean, stats.WriteWaitP99)
		fmt.Printf("%-20s%d\n", "timeouts", stats.Timeouts)
	}

	if perfPrintMetrics {
		fmt.Println()
		libcache.WriteMetrics(os.Stdout)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, conf); err != nil {
			return err
		}
		fmt.Printf("\nResults written to %s\n", csvPath)
	}

	return nil
}

func createTest(context.Context) (string, bool, error) {
	return "test", true, nil
}

// shouldSkip checks if a test should be skipped
func shouldSkip(test string) bool {
	for _, s := range perfSkip {
		if strings.TrimSpace(s) == test {
			return true
		}
	}
	return false
}

// getKeys returns a function to get the key for an index and a function to
// iterate over all keys of a test
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%d", prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, conf *common.CacheConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"BaseDir", "Transformer", "ClusterDepth", "Fsync", "LockMode", "SyncTimeoutMs",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			conf.BaseDir,
			conf.Transformer,
			strconv.Itoa(conf.ClusterDepth),
			strconv.FormatBool(conf.Fsync),
			conf.LockMode,
			strconv.FormatInt(conf.SyncTimeout.Milliseconds(), 10),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
