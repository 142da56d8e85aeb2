// wallet is the operator cli. It works directly on the local database and
// must not run against a file a wallet server is writing to.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	walletcmd "github.com/TEENet-io/watchwallet/cmd"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/TEENet-io/watchwallet/logconfig"
)

const (
	programName = "wallet"

	ENV_PREFIX = "WATCHWALLET"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Watch-only wallet operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			logconfig.ConfigLoggerByName(viper.GetString("LOG_LEVEL"))
			if viper.GetString("DB_FILE_PATH") == "" {
				return fmt.Errorf("--db or %s_DB_FILE_PATH is required", ENV_PREFIX)
			}
			return nil
		},
	}

	// Global flags, also readable from WATCHWALLET_* env vars
	rootCmd.PersistentFlags().String("db", "", "path to the wallet database")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or production")
	rootCmd.PersistentFlags().String("network", "regtest", "network used to display addresses")
	viper.BindPFlag("DB_FILE_PATH", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("LOG_LEVEL", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("NETWORK", rootCmd.PersistentFlags().Lookup("network"))
	viper.SetEnvPrefix(ENV_PREFIX)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Subcommands
	rootCmd.AddCommand(accountCommand())
	rootCmd.AddCommand(scanCommand())
	rootCmd.AddCommand(balanceCommand())
	rootCmd.AddCommand(historyCommand())
	rootCmd.AddCommand(lockCommand())
	rootCmd.AddCommand(releaseCommand())
	rootCmd.AddCommand(rescanCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withLedger opens the configured database for the duration of fn.
func withLedger(fn func(l *ledger.Ledger) error) error {
	l, closeFn, err := walletcmd.OpenLedger(viper.GetString("DB_FILE_PATH"), nil)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(l)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
