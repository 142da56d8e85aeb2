package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TEENet-io/watchwallet/chainsource"
	walletcmd "github.com/TEENet-io/watchwallet/cmd"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/TEENet-io/watchwallet/locker"
	"github.com/TEENet-io/watchwallet/scan"
)

func scanCommand() *cobra.Command {
	var (
		sourceURL string
		mode      string
		batchSize uint64
		maxBlocks uint64
		accounts  []string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan accounts against a block gateway",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if sourceURL == "" {
				return fmt.Errorf("--source-url is required")
			}
			m, err := scan.ParseMode(mode)
			if err != nil {
				return err
			}
			cfg := scan.DefaultConfig()
			cfg.Mode = m
			cfg.BatchSize = batchSize
			cfg.MaxBlocks = maxBlocks

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withLedger(func(l *ledger.Ledger) error {
				ids, err := accountIDs(ctx, l, accounts)
				if err != nil {
					return err
				}
				source := chainsource.NewHttpSource(sourceURL, 0)
				coord := scan.NewCoordinator(l, source, chainsource.NewECDHDetector(), cfg, nil, nil)
				report, err := coord.Run(ctx, ids)
				if err != nil && !(m == scan.Continuous && ctx.Err() != nil) {
					return err
				}
				if report == nil {
					return nil
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "block gateway url")
	cmd.Flags().StringVar(&mode, "mode", "full", "full, partial or continuous")
	cmd.Flags().Uint64Var(&batchSize, "batch", scan.DEFAULT_BATCH_SIZE, "blocks per fetch")
	cmd.Flags().Uint64Var(&maxBlocks, "max-blocks", 0, "partial mode budget")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "account names to scan, default all")
	return cmd
}

func balanceCommand() *cobra.Command {
	var children bool
	cmd := &cobra.Command{
		Use:   "balance [name]",
		Short: "Show the balance of an account, or of all accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				var (
					bal *ledger.Balance
					err error
				)
				if len(args) == 0 {
					bal, err = l.TotalBalance(c.Context())
				} else {
					var acct *ledger.Account
					if acct, err = l.AccountByName(c.Context(), args[0]); err != nil {
						return err
					}
					bal, err = l.Balance(c.Context(), acct.ID, children)
				}
				if err != nil {
					return err
				}
				return printJSON(bal)
			})
		},
	}
	cmd.Flags().BoolVar(&children, "children", false, "include child accounts")
	return cmd
}

func lockCommand() *cobra.Command {
	var (
		key string
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "lock <name> <amount>",
		Short: "Lock outputs covering amount",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			amount, err := walletcmd.ParseAmount(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			return withLedger(func(l *ledger.Ledger) error {
				acct, err := l.AccountByName(c.Context(), args[0])
				if err != nil {
					return err
				}
				res, err := locker.NewFundLocker(l, 0, nil).Lock(c.Context(), acct.ID, amount, key, ttl)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key")
	cmd.Flags().DurationVar(&ttl, "ttl", locker.DEFAULT_LOCK_TTL, "lock lifetime")
	return cmd
}

func releaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <name> <request-id>",
		Short: "Release the outputs of a pending request",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				acct, err := l.AccountByName(c.Context(), args[0])
				if err != nil {
					return err
				}
				req, err := locker.NewFundLocker(l, 0, nil).Release(c.Context(), acct.ID, args[1])
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
}

func historyCommand() *cobra.Command {
	var f ledger.HistoryFilter
	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "List the displayed transactions of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				acct, err := l.AccountByName(c.Context(), args[0])
				if err != nil {
					return err
				}
				dts, err := l.History(c.Context(), acct.ID, f)
				if err != nil {
					return err
				}
				return printJSON(dts)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", ledger.DEFAULT_HISTORY_LIMIT, "entries per page")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&f.IncludeReorganized, "include-reorganized", false, "show entries of blocks that were reorganized out")
	return cmd
}

func rescanCommand() *cobra.Command {
	var from uint64
	cmd := &cobra.Command{
		Use:   "rescan <name>",
		Short: "Roll an account back so the next scan replays from a height",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				acct, err := l.AccountByName(c.Context(), args[0])
				if err != nil {
					return err
				}
				if from == 0 {
					from = acct.BirthdayHeight + 1
				}
				res, err := l.Rescan(c.Context(), acct.ID, from)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first height to replay, default birthday+1")
	return cmd
}

func accountIDs(ctx context.Context, l *ledger.Ledger, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		acct, err := l.AccountByName(ctx, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, acct.ID)
	}
	return ids, nil
}
