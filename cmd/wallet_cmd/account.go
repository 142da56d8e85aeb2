package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/ledger"
)

type accountOutput struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	ParentID       int64  `json:"parent_id,omitempty"`
	Index          uint32 `json:"derivation_index,omitempty"`
	Address        string `json:"address"`
	BirthdayHeight uint64 `json:"birthday_height"`
	ResumeHeight   uint64 `json:"resume_height"`
	ViewKey        string `json:"view_key,omitempty"`
}

func toAccountOutput(a *ledger.Account, showKey bool) (*accountOutput, error) {
	pub, err := a.PubKey()
	if err != nil {
		return nil, err
	}
	addr, err := chainsource.AccountAddress(pub, chainsource.NetworkParams(viper.GetString("NETWORK")))
	if err != nil {
		return nil, err
	}
	out := &accountOutput{
		ID:             a.ID,
		Name:           a.Name,
		Kind:           string(a.Kind),
		Address:        addr,
		BirthdayHeight: a.BirthdayHeight,
		ResumeHeight:   a.ResumeHeight,
	}
	if a.Child != nil {
		out.ParentID = a.Child.ParentID
		out.Index = a.Child.Index
	}
	if showKey {
		out.ViewKey = hex.EncodeToString(a.ViewKey)
	}
	return out, nil
}

func accountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage watched accounts",
	}
	cmd.AddCommand(accountCreateCommand())
	cmd.AddCommand(accountDeriveCommand())
	cmd.AddCommand(accountListCommand())
	return cmd
}

func accountCreateCommand() *cobra.Command {
	var (
		birthday uint64
		viewKey  string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a parent account from a new or imported view key",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var (
				key *btcec.PrivateKey
				err error
			)
			generated := viewKey == ""
			if generated {
				key, err = chainsource.NewViewKey()
			} else {
				var raw []byte
				if raw, err = hex.DecodeString(viewKey); err == nil {
					key, err = chainsource.ParseViewKey(raw)
				}
			}
			if err != nil {
				return fmt.Errorf("invalid view key: %w", err)
			}

			return withLedger(func(l *ledger.Ledger) error {
				acct, err := l.CreateAccount(c.Context(), args[0], key, birthday)
				if err != nil {
					return err
				}
				// a generated key is shown once, it cannot be recovered otherwise
				out, err := toAccountOutput(acct, generated)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().Uint64Var(&birthday, "birthday", 0, "height before which the account cannot own outputs")
	cmd.Flags().StringVar(&viewKey, "view-key", "", "hex encoded view key to import")
	return cmd
}

func accountDeriveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "derive <parent> <name>",
		Short: "Derive a child account from a parent account",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				acct, err := l.CreateChildAccount(c.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				out, err := toAccountOutput(acct, false)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
}

func accountListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				accts, err := l.Accounts(c.Context())
				if err != nil {
					return err
				}
				outs := make([]*accountOutput, 0, len(accts))
				for _, a := range accts {
					out, err := toAccountOutput(a, false)
					if err != nil {
						return err
					}
					outs = append(outs, out)
				}
				return printJSON(outs)
			})
		},
	}
}
