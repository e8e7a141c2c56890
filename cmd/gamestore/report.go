package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/report"
	"github.com/goodtune/gamestore/internal/storage/redis"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	reportPeriod string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the revenue, expense and profit summary",
	Long:  `Print the financial summary of a period, read directly from storage.`,
	Example: `  gamestore report
  gamestore -c config.yaml report --period month`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportPeriod, "period", "today", "Period (today, week, month, year)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	period, err := report.ParsePeriod(reportPeriod)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := redis.Open(cfg.Storage.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	reporter := report.NewReporter(report.Sources{
		Sessions: store.Sessions(),
		Sales:    store.Sales(),
		Services: store.Services(),
		Expenses: store.Expenses(),
		Ledger:   store.Ledger(),
	}, clock.Real{}, report.Config{Location: cfg.Location()}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sum, err := reporter.Period(ctx, period)
	if err != nil {
		return fmt.Errorf("failed to compute report: %w", err)
	}

	printSummary(os.Stdout, cfg.Store.Name, string(period), sum, cfg.Store.Currency, cfg.Location())
	return nil
}

func printSummary(w io.Writer, store, period string, sum report.Summary, currency string, loc *time.Location) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	_, _ = cyan.Fprintf(w, "%s - %s (%s to %s)\n", store, period,
		sum.From.In(loc).Format("2006-01-02 15:04"), sum.To.In(loc).Format("2006-01-02 15:04"))

	_, _ = cyan.Fprintln(w, "\nRevenue")
	fmt.Fprintf(w, "  Gaming:    %s\n", money.Format(sum.Revenue.Gaming, currency))
	fmt.Fprintf(w, "  Sales:     %s\n", money.Format(sum.Revenue.Sales, currency))
	fmt.Fprintf(w, "  Services:  %s\n", money.Format(sum.Revenue.Services, currency))
	fmt.Fprintf(w, "  Total:     %s\n", money.Format(sum.Revenue.Total, currency))

	_, _ = cyan.Fprintln(w, "\nExpenses")
	fmt.Fprintf(w, "  Daily:     %s\n", money.Format(sum.Expenses.Daily, currency))
	fmt.Fprintf(w, "  Monthly:   %s\n", money.Format(sum.Expenses.Monthly, currency))
	fmt.Fprintf(w, "  Yearly:    %s\n", money.Format(sum.Expenses.Yearly, currency))
	fmt.Fprintf(w, "  Other:     %s\n", money.Format(sum.Expenses.Other, currency))
	fmt.Fprintf(w, "  Total:     %s\n", money.Format(sum.Expenses.Total, currency))

	profit := green
	if sum.Profit.Net.IsNegative() {
		profit = red
	}
	_, _ = cyan.Fprintln(w, "\nProfit")
	_, _ = profit.Fprintf(w, "  Net:       %s (margin %s%%)\n",
		money.Format(sum.Profit.Net, currency), sum.Profit.Margin.Shift(2).StringFixed(1))

	_, _ = cyan.Fprintln(w, "\nActivity")
	fmt.Fprintf(w, "  Sessions: %d  Sales: %d  Services: %d  Expenses: %d\n",
		sum.Counts.Sessions, sum.Counts.Sales, sum.Counts.Services, sum.Counts.Expenses)
	fmt.Fprintf(w, "  Points earned: %d  redeemed: %d\n", sum.Points.Earned, sum.Points.Redeemed)
}
