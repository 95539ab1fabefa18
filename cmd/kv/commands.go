package kv

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	beginCmd = &cobra.Command{
		Use:   "begin",
		Short: "Opens a transaction and prints its handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			writable, _ := cmd.Flags().GetBool("writable")
			txID, err := rpcStore.Begin(writable)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), txID)
			return nil
		},
	}
	commitCmd = &cobra.Command{
		Use:   "commit [tx]",
		Short: "Commits a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			if err := rpcStore.Commit(txID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "committed tx %d\n", txID)
			return nil
		},
	}
	rollbackCmd = &cobra.Command{
		Use:   "rollback [tx]",
		Short: "Rolls back a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseTxID(args[0])
			if err != nil {
				return err
			}
			if err := rpcStore.Rollback(txID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back tx %d\n", txID)
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Set(txID(), []byte(args[0]), []byte(args[1])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if value, ok, err := rpcStore.Get(txID(), []byte(key)); err != nil {
				return err
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "key=%s, found=%v, value=%s\n", key, ok, value)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if existed, err := rpcStore.Delete(txID(), []byte(key)); err != nil {
				return err
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "key=%s, existed=%t\n", key, existed)
			}
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Lists key value pairs in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var start []byte
			if cmd.Flags().Changed("start") {
				s, _ := cmd.Flags().GetString("start")
				start = []byte(s)
			}
			backward, _ := cmd.Flags().GetBool("backward")
			limit, _ := cmd.Flags().GetInt("limit")

			pairs, err := rpcStore.Scan(txID(), start, backward, limit)
			if err != nil {
				return err
			}
			for _, kv := range pairs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", kv.Key, kv.Value)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "(%d entries)\n", len(pairs))
			return nil
		},
	}
	statCmd = &cobra.Command{
		Use:   "stat",
		Short: "Prints the storage report of the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := rpcStore.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.String())
			return nil
		},
	}
	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Runs compaction passes on the shard until no more work remains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if full, _ := cmd.Flags().GetBool("full"); full {
				if _, err := rpcStore.Compact(true); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "full compaction done")
				return nil
			}
			for pass := 1; ; pass++ {
				more, err := rpcStore.Compact(false)
				if err != nil {
					return err
				}
				if !more {
					fmt.Fprintf(cmd.OutOrStdout(), "compaction done after %d pass(es)\n", pass)
					return nil
				}
			}
		},
	}
)

func init() {
	beginCmd.Flags().Bool("writable", false, util.WrapString("Open a write transaction (only one can be open at a time)"))

	scanCmd.Flags().String("start", "", util.WrapString("Key to start at (default: first key, or last key with --backward)"))
	scanCmd.Flags().Bool("backward", false, util.WrapString("Scan towards smaller keys"))
	scanCmd.Flags().Int("limit", 100, util.WrapString("Maximum number of entries to list (0 = no limit)"))

	compactCmd.Flags().Bool("full", false, util.WrapString("Rewrite every segment of the shard in one pass"))
}

// txID returns the transaction handle selected with --tx
func txID() uint64 {
	return viper.GetUint64("tx")
}

func parseTxID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tx must be a number: %w", err)
	}
	if id == 0 {
		return 0, fmt.Errorf("tx 0 is not a transaction handle")
	}
	return id, nil
}
