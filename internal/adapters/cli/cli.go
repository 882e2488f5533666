// Package cli is the operator command line. Every command goes through ApplicationService.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"invoicehub/internal/app"

	"github.com/spf13/cobra"
)

// Opener connects the backing services. migrate asks for pending SQL migrations to be
// applied first. The returned func releases everything Opener acquired.
type Opener func(ctx context.Context, migrate bool) (app.ApplicationService, func(), error)

// NewRootCommand builds the command tree. Nothing is connected until a subcommand runs.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "invoicehub",
		Short:         "Operator tools for the invoicing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// run opens the services, calls fn and closes them again.
	run := func(migrate bool, fn func(ctx context.Context, svc app.ApplicationService, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := open(cmd.Context(), migrate)
			if err != nil {
				return err
			}
			defer closeFn()
			return fn(cmd.Context(), svc, cmd.OutOrStdout())
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: run(true, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
			fmt.Fprintln(out, "Migrations up to date.")
			return nil
		}),
	})

	var company string

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile pass between payment ledgers and invoices",
		Long: `Reconcile rewrites invoices whose mirrored payment fields differ from their ledger.
Without --company every company is checked.`,
		Example: `  invoicehub reconcile
  invoicehub reconcile --company c-123`,
		RunE: run(false, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
			res, err := svc.Reconcile(ctx, company)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			if res.Skipped {
				fmt.Fprintln(out, "Another replica holds the reconcile lock; pass skipped.")
				return nil
			}
			fmt.Fprintf(out, "Checked %d, unchanged %d, rewritten %d.\n", res.Checked, res.Unchanged, res.Rewritten)
			return nil
		}),
	}
	reconcile.Flags().StringVar(&company, "company", "", "limit the pass to one company")
	root.AddCommand(reconcile)

	migratePayments := &cobra.Command{
		Use:   "migrate-payments",
		Short: "Upgrade legacy single-payment ledgers to the partial payment list",
		RunE: run(false, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
			ids, err := svc.MigrateLegacyLedgers(ctx, company)
			if err != nil {
				return fmt.Errorf("migrate payments: %w", err)
			}
			for _, id := range ids {
				fmt.Fprintf(out, "  upgraded %s\n", id)
			}
			fmt.Fprintf(out, "%d ledger(s) upgraded.\n", len(ids))
			return nil
		}),
	}
	migratePayments.Flags().StringVar(&company, "company", "", "company whose ledgers are upgraded")
	_ = migratePayments.MarkFlagRequired("company")
	root.AddCommand(migratePayments)

	stockStatus := &cobra.Command{
		Use:   "stock-status",
		Short: "Print tracked stock with its status",
		RunE: run(false, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
			res, err := svc.ListStock(ctx, app.OperatorPrincipal(company))
			if err != nil {
				return fmt.Errorf("list stock: %w", err)
			}
			printStock(out, res)
			return nil
		}),
	}
	stockStatus.Flags().StringVar(&company, "company", "", "company to report on")
	_ = stockStatus.MarkFlagRequired("company")
	root.AddCommand(stockStatus)

	root.AddCommand(&cobra.Command{
		Use:   "rates",
		Short: "Print the current exchange rate snapshot",
		RunE: run(false, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
			printRates(out, svc.Rates(ctx))
			return nil
		}),
	})

	root.AddCommand(outboxCommand(run, &company))
	return root
}

type runFunc func(migrate bool, fn func(ctx context.Context, svc app.ApplicationService, out io.Writer) error) func(*cobra.Command, []string) error

func outboxCommand(run runFunc, company *string) *cobra.Command {
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drive the side-effect outbox",
	}

	listDead := &cobra.Command{
		Use:   "list-dead",
		Short: "List records that exhausted their attempts",
		RunE: run(false, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
			recs, err := svc.ListDeadOutbox(ctx, *company)
			if err != nil {
				return fmt.Errorf("list dead: %w", err)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}),
	}
	listDead.Flags().StringVar(company, "company", "", "company whose records are listed")
	_ = listDead.MarkFlagRequired("company")

	requeue := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Reset a dead record so the processor retries it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(false, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
				if err := svc.RequeueOutbox(ctx, args[0]); err != nil {
					return fmt.Errorf("requeue %s: %w", args[0], err)
				}
				fmt.Fprintf(out, "Requeued %s.\n", args[0])
				return nil
			})(cmd, args)
		},
	}

	process := &cobra.Command{
		Use:   "process",
		Short: "Apply one batch of due records now",
		RunE: run(false, func(ctx context.Context, svc app.ApplicationService, out io.Writer) error {
			n, err := svc.ProcessOutbox(ctx)
			if err != nil {
				return fmt.Errorf("process outbox: %w", err)
			}
			fmt.Fprintf(out, "%d record(s) applied.\n", n)
			return nil
		}),
	}

	outbox.AddCommand(listDead, requeue, process)
	return outbox
}

func printStock(out io.Writer, res *app.StockListResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintf(out, "  %-20s %-24s %10s %10s\n", "CATEGORY", "ITEM", "STOCK", "STATUS")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, it := range res.Items {
		fmt.Fprintf(out, "  %-20s %-24s %10s %10s\n", it.ProductCategory, it.ItemName, it.CurrentStock.String(), it.Status)
	}
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintf(out, "  %d item(s), %d below minimum\n", len(res.Items), res.Low)
}

func printRates(out io.Writer, res *app.RatesResult) {
	fmt.Fprintf(out, "Source  : %s\n", res.Source)
	fmt.Fprintf(out, "Fetched : %s\n", res.FetchedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "USD/INR : %s\n", res.USDToINR.StringFixed(4))
	codes := make([]string, 0, len(res.Rates))
	for code := range res.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(out, "  %-4s %s\n", code, res.Rates[code].String())
	}
}
