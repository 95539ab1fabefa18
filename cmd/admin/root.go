package admin

import (
	"fmt"
	"os"
	"path/filepath"

	cmdUtil "github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/oak"
	"github.com/ValentinKolb/sKV/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	dumpCmd = &cobra.Command{
		Use:     "dump [dir]",
		Short:   "Print every key and value of a store as hex bytes",
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(args[0], true, func(kv db.KVDB) error {
				return Dump(cmd.Context(), cmd.OutOrStdout(), kv)
			})
		},
	}
	statCmd = &cobra.Command{
		Use:     "stat [dir]",
		Short:   "Print the storage report of a store",
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(args[0], true, func(kv db.KVDB) error {
				stats, err := kv.Stats()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), stats.String())
				return err
			})
		},
	}
	compactCmd = &cobra.Command{
		Use:     "compact [dir]",
		Short:   "Compact a store until no segment qualifies anymore",
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(args[0], true, func(kv db.KVDB) error {
				return Compact(cmd.Context(), cmd.OutOrStdout(), kv, viper.GetBool("full"))
			})
		},
	}
	exportCmd = &cobra.Command{
		Use:     "export [dir]",
		Short:   "Write all entries of a store to an export file",
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := viper.GetString("output")
			if output == "" {
				output = filepath.Join(args[0], "export.dat")
			}
			return withStore(args[0], true, func(kv db.KVDB) error {
				n, err := ExportFile(cmd.Context(), kv, output)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries to %s\n", n, output)
				return err
			})
		},
	}
	importCmd = &cobra.Command{
		Use:     "import [dir] [file]",
		Short:   "Store all entries of an export file in a store (created if missing)",
		Args:    cobra.ExactArgs(2),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(args[0], false, func(kv db.KVDB) error {
				n, err := ImportFile(cmd.Context(), kv, args[1])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries from %s\n", n, args[1])
				return err
			})
		},
	}

	// Commands are the offline maintenance commands. They open the store directory
	// directly, so the store must not be served at the same time.
	Commands = []*cobra.Command{dumpCmd, statCmd, compactCmd, exportCmd, importCmd}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	for _, cmd := range Commands {
		cmdUtil.SetupStoreFlags(cmd)
	}

	key := "output"
	exportCmd.Flags().String(key, "", cmdUtil.WrapString("Path of the export file (default DIR/export.dat)"))
	key = "full"
	compactCmd.Flags().Bool(key, false, cmdUtil.WrapString("Rewrite every segment instead of only the fragmented ones"))
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return cmdUtil.BindCommandFlags(cmd)
}

// withStore opens the store in dir with the configured engine settings, calls fn and
// closes the store again. With mustExist set, a missing directory is an error
// instead of becoming a new empty store.
func withStore(dir string, mustExist bool, fn func(db.KVDB) error) (err error) {
	if mustExist {
		info, statErr := os.Stat(dir)
		if statErr != nil {
			return statErr
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}

	opts, err := server.StoreOptions("cli", cmdUtil.GetStoreConfig())
	if err != nil {
		return err
	}
	kv, err := oak.OpenDir(dir, opts)
	if err != nil {
		return fmt.Errorf("open store %s: %w", dir, err)
	}
	defer func() {
		if closeErr := kv.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(kv)
}

