package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for sKV servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// perfTest is one benchmark. setup runs before the timer starts with the test's keys.
type perfTest struct {
	name  string
	setup func(keys [][]byte)
	op    func(key []byte, counter int) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func perfTests() []perfTest {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	fill := func(keys [][]byte) {
		for _, k := range keys {
			if err := rpcStore.Set(store.AutoCommit, k, value); err != nil {
				log.Printf("error setting key: %v\n", err)
			}
		}
	}

	return []perfTest{
		{
			name: "set",
			op: func(key []byte, _ int) error {
				return rpcStore.Set(store.AutoCommit, key, value)
			},
		},
		{
			name: "set-large",
			op: func(key []byte, _ int) error {
				return rpcStore.Set(store.AutoCommit, key, largeValue)
			},
		},
		{
			name:  "get",
			setup: fill,
			op: func(key []byte, _ int) error {
				_, _, err := rpcStore.Get(store.AutoCommit, key)
				return err
			},
		},
		{
			name:  "delete",
			setup: fill,
			op: func(key []byte, _ int) error {
				_, err := rpcStore.Delete(store.AutoCommit, key)
				return err
			},
		},
		{
			name:  "scan",
			setup: fill,
			op: func(key []byte, _ int) error {
				_, err := rpcStore.Scan(store.AutoCommit, key, false, 10)
				return err
			},
		},
		{
			// read-only transactions never wait for the writer
			name:  "tx",
			setup: fill,
			op: func(key []byte, _ int) error {
				txID, err := rpcStore.Begin(false)
				if err != nil {
					return err
				}
				if _, _, err := rpcStore.Get(txID, key); err != nil {
					_ = rpcStore.Rollback(txID)
					return err
				}
				return rpcStore.Commit(txID)
			},
		},
		{
			name:  "mixed",
			setup: fill,
			op: func(key []byte, counter int) error {
				var err error
				switch counter % 4 {
				case 0: // set
					err = rpcStore.Set(store.AutoCommit, key, value)
				case 1: // get
					_, _, err = rpcStore.Get(store.AutoCommit, key)
				case 2: // delete
					_, err = rpcStore.Delete(store.AutoCommit, key)
				case 3: // scan
					_, err = rpcStore.Scan(store.AutoCommit, key, true, 10)
				}
				return err
			},
		},
	}
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for sKV servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range perfTests() {
		if shouldSkip(test.name) {
			results[test.name] = testing.BenchmarkResult{}
			printResult(test.name, results[test.name])
			continue
		}
		results[test.name] = testing.Benchmark(func(b *testing.B) {
			keys := getKeys(test.name)
			if test.setup != nil {
				test.setup(keys)
			}

			b.Cleanup(func() {
				for _, k := range keys {
					if _, err := rpcStore.Delete(store.AutoCommit, k); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", test.name, err)
					}
				}
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := test.op(keys[counter%len(keys)], counter); err != nil {
						log.Printf("(%s) - error: %v\n", test.name, err)
					}
					counter++
				}
			})
		})
		printResult(test.name, results[test.name])
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// getKeys creates the test keys of one benchmark
func getKeys(prefix string) [][]byte {
	keys := make([][]byte, perfKeySpread)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i))
	}
	return keys
}

// summarize converts a benchmark result into ns/op and ops/sec. Skipped benchmarks
// report zero operations.
func summarize(result testing.BenchmarkResult) (nsPerOp, opsPerSec float64, skipped bool) {
	if result.N == 0 || result.NsPerOp() == 0 {
		return 0, 0, true
	}
	nsPerOp = float64(result.NsPerOp())
	return nsPerOp, 1e9 / nsPerOp, false
}

// printResult prints one line per benchmark
func printResult(test string, result testing.BenchmarkResult) {
	nsPerOp, opsPerSec, skipped := summarize(result)
	if skipped {
		fmt.Printf("%-20sskipped\n", test)
		return
	}
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes one row per benchmark (sorted by name) together with the
// client settings the run used
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) (err error) {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	settings := []string{
		strings.Join(config.Transport.Endpoints, ";"),
		strconv.Itoa(config.TimeoutSecond),
		strconv.Itoa(config.Transport.RetryCount),
		strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
		strconv.FormatUint(util.GetShardID(), 10),
		viper.GetString("serializer"),
		viper.GetString("transport"),
		strconv.Itoa(perfNumThreads),
		strconv.Itoa(perfLargeValueSizeKB),
		strconv.Itoa(perfKeySpread),
	}

	rows := [][]string{{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys",
	}}
	for _, test := range slices.Sorted(maps.Keys(results)) {
		nsPerOp, opsPerSec, skipped := summarize(results[test])
		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(skipped),
		}
		rows = append(rows, append(row, settings...))
	}

	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}
