package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nuclearlighters/portald/internal/config"
	"github.com/nuclearlighters/portald/internal/credential"
)

var showPassphrase bool

func init() {
	credentialsListCmd.Flags().BoolVar(&showPassphrase, "show-passphrase", false, "Print passphrases in clear")
	credentialsCmd.AddCommand(credentialsListCmd, credentialsAddCmd, credentialsEraseCmd)
	rootCmd.AddCommand(credentialsCmd)
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Inspect and edit saved network credentials",
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *credential.Store) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLOT\tOFFSET\tSSID\tPASSPHRASE\tBSSID\tCHANNEL")
			for _, e := range store.Entries() {
				pass := "********"
				if showPassphrase {
					pass = e.Passphrase
				}
				if e.Passphrase == "" {
					pass = "-"
				}
				bssid := "-"
				if mac := e.HardwareAddr(); mac != nil {
					bssid = mac.String()
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d\n", e.Slot, e.Offset, e.SSID, pass, bssid, e.Channel)
			}
			return tw.Flush()
		})
	},
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <ssid> [passphrase]",
	Short: "Save a credential in the first free slot",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := credential.Credential{SSID: args[0]}
		if len(args) == 2 {
			c.Passphrase = args[1]
		}
		return withStore(func(store *credential.Store) error {
			e, err := store.Put(c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %q in slot %d\n", e.SSID, e.Slot)
			return nil
		})
	},
}

var credentialsEraseCmd = &cobra.Command{
	Use:   "erase <ssid>",
	Short: "Invalidate the saved credential for ssid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *credential.Store) error {
			if _, ok := store.Find(args[0]); !ok {
				return fmt.Errorf("%q: %w", args[0], credential.ErrNotFound)
			}
			return store.Delete(args[0])
		})
	},
}

func withStore(fn func(*credential.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	if cfg.Volatile {
		return errors.New("storage is volatile, nothing is saved between runs")
	}

	dev, closeStorage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()
	return fn(credential.NewStore(dev, cfg.Portal.StorageOffset, cfg.Portal.Slots))
}
