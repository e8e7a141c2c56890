package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/gamestore/internal/clock"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/ledger"
	"github.com/goodtune/gamestore/internal/storage/redis"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect loyalty points ledgers",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify CLIENT",
	Short: "Replay a client's ledger and check every running balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerVerify,
}

var ledgerHistoryCmd = &cobra.Command{
	Use:   "history CLIENT",
	Short: "Print a client's ledger entries, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerHistory,
}

func init() {
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerHistoryCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// openLedger opens storage and a ledger service over it. The returned
// function closes storage.
func openLedger() (*ledger.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := redis.Open(cfg.Storage.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc := ledger.NewService(store.Ledger(), clock.Real{}, zerolog.Nop())
	return svc, func() { _ = store.Close() }, nil
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	svc, done, err := openLedger()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balance, err := svc.Verify(ctx, args[0])
	if err != nil {
		color.Red("❌ Ledger for %s is inconsistent: %v", args[0], err)
		return err
	}

	color.Green("✅ Ledger for %s is consistent, balance %d", args[0], balance)
	return nil
}

func runLedgerHistory(cmd *cobra.Command, args []string) error {
	svc, done, err := openLedger()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := svc.History(ctx, args[0])
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for _, e := range entries {
		c := green
		if e.Amount < 0 {
			c = red
		}
		_, _ = c.Printf("%s  %-8s %+6d  balance %6d  %s:%s %s\n",
			e.CreatedAt.Format(time.RFC3339), e.Type, e.Amount, e.BalanceAfter,
			e.ReferenceType, e.ReferenceID, e.Description)
	}
	if len(entries) == 0 {
		fmt.Printf("No ledger entries for %s\n", args[0])
	}
	return nil
}
