package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/app"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/config"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/logging"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/service"
)

const cliActor = "ledgerctl"

// cli holds what the persistent pre-run opened for the current invocation.
type cli struct {
	load   func() config.Config
	rt     *app.Runtime
	logger *zap.Logger
	cancel context.CancelFunc
}

// run builds the command tree, executes it and releases whatever the
// pre-run opened, whether or not the command failed.
func run(load func() config.Config, args []string, out io.Writer) error {
	c := &cli{load: load}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.Execute()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Maintain the pharmacy ledger and customer balances",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd)
		},
	}
	root.PersistentFlags().Duration("timeout", 2*time.Minute, "Abort the command after this long")

	root.AddCommand(
		c.reconcileCmd(),
		c.checkCmd(),
		c.verifyCmd(),
		c.summaryCmd(),
		c.entriesCmd(),
		c.advanceCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg := c.load()
	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	c.logger = logger

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	c.cancel = cancel
	cmd.SetContext(service.WithActor(ctx, domain.Actor{Username: cliActor, Role: "admin"}))

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c.rt = rt
	return nil
}

func (c *cli) close() {
	if c.rt != nil {
		c.rt.Close()
		c.rt = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild customer balances from the ledger",
		Long: `Recompute one customer's balance (--customer) or every customer's (--all)
from their attributable ledger entries and repair the stored balance when it
has drifted. A repair is itself recorded in the audit log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customerID, _ := cmd.Flags().GetString("customer")
			all, _ := cmd.Flags().GetBool("all")
			switch {
			case all && customerID != "":
				return errors.New("use either --customer or --all, not both")
			case all:
				results, err := c.rt.Service.ReconcileAll(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"results": results})
			case customerID != "":
				result, err := c.rt.Service.RecalculateFromLedger(cmd.Context(), customerID)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			default:
				return errors.New("--customer or --all is required")
			}
		},
	}
	cmd.Flags().String("customer", "", "Customer ID to reconcile")
	cmd.Flags().Bool("all", false, "Reconcile every customer")
	return cmd
}

func (c *cli) checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare a customer's stored balance with the ledger without writing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			customerID, _ := cmd.Flags().GetString("customer")
			result, err := c.rt.Service.CheckBalance(cmd.Context(), customerID)
			var drift *domain.BalanceInconsistencyError
			if err != nil && !errors.As(err, &drift) {
				return err
			}
			if perr := printJSON(cmd, result); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().String("customer", "", "Customer ID to check")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Walk the ledger in sequence and check every running balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.rt.Service.VerifyLedgerChain(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("ledger chain has %d broken running balances", len(report.Violations))
			}
			return nil
		},
	}
}

func (c *cli) summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the monthly ledger summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			month, _ := cmd.Flags().GetString("month")
			summary, err := c.rt.Service.GetMonthlySummary(cmd.Context(), month)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().String("month", "", "Month as YYYY-MM")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func (c *cli) entriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List ledger entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			var filter domain.LedgerFilter
			filter.Month, _ = flags.GetString("month")
			filter.CustomerID, _ = flags.GetString("customer")
			filter.Query, _ = flags.GetString("query")
			filter.Limit, _ = flags.GetInt("limit")
			entryType, _ := flags.GetString("type")
			method, _ := flags.GetString("method")
			filter.Type = domain.EntryType(strings.TrimSpace(entryType))
			filter.Method = domain.PaymentMethod(strings.TrimSpace(method))

			entries, err := c.rt.Service.ListLedgerEntries(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"entries": entries})
		},
	}
	cmd.Flags().String("month", "", "Only entries in this month (YYYY-MM)")
	cmd.Flags().String("type", "", "Only entries of this type")
	cmd.Flags().String("method", "", "Only entries paid with this method")
	cmd.Flags().String("query", "", "Search description and references")
	cmd.Flags().String("customer", "", "Only entries tagged with this customer")
	cmd.Flags().Int("limit", 100, "Maximum entries to print")
	return cmd
}

func (c *cli) advanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Record an advance payment received from a customer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			customerID, _ := flags.GetString("customer")
			rawAmount, _ := flags.GetString("amount")
			method, _ := flags.GetString("method")
			reference, _ := flags.GetString("reference")
			key, _ := flags.GetString("idempotency-key")

			amount, err := money.Parse(rawAmount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			result, err := c.rt.Service.RecordAdvance(cmd.Context(), domain.AdvanceRequest{
				CustomerID:     customerID,
				Amount:         amount,
				Method:         domain.PaymentMethod(method),
				Reference:      reference,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().String("customer", "", "Customer ID")
	cmd.Flags().String("amount", "", "Amount in rupees, e.g. 1500.50")
	cmd.Flags().String("method", string(domain.MethodCash), "Payment method")
	cmd.Flags().String("reference", "", "Receipt or transfer reference")
	cmd.Flags().String("idempotency-key", "", "Key that makes a retried command a no-op")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
