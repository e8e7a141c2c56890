package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/gamestore/internal/billing"
	"github.com/goodtune/gamestore/internal/config"
	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	quoteMode             string
	quotePrice            string
	quoteMinutes          int
	quoteExtensionMinutes int
	quoteExtraPrice       string
	quotePoints           int
	quoteElapsed          time.Duration
	quoteExtraTime        int
	quoteGames            int
	quoteLifetime         int
	quoteRedeem           int
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a session offline",
	Long: `Compute what a session would cost with the configured billing and loyalty
rules, without touching storage.`,
	Example: `  gamestore quote --mode hourly --price 3 --minutes 60 --elapsed 95m
  gamestore quote --mode per_unit --price 2 --games 3 --lifetime 4 --redeem 1`,
	RunE: runQuote,
}

func init() {
	quoteCmd.Flags().StringVar(&quoteMode, "mode", "hourly", "Billing mode (hourly or per_unit)")
	quoteCmd.Flags().StringVar(&quotePrice, "price", "", "Unit price (required)")
	quoteCmd.Flags().IntVar(&quoteMinutes, "minutes", 60, "Bracket length or expected minutes per game")
	quoteCmd.Flags().IntVar(&quoteExtensionMinutes, "extension-minutes", 0, "Length of one paid extension (defaults to the bracket)")
	quoteCmd.Flags().StringVar(&quoteExtraPrice, "extra-price", "0", "Price of one extension")
	quoteCmd.Flags().IntVar(&quotePoints, "points", 0, "Points awarded per unit")
	quoteCmd.Flags().DurationVar(&quoteElapsed, "elapsed", time.Hour, "Time since the session started")
	quoteCmd.Flags().IntVar(&quoteExtraTime, "extra-time", 0, "Extension minutes already added")
	quoteCmd.Flags().IntVar(&quoteGames, "games", 1, "Games played (per_unit)")
	quoteCmd.Flags().IntVar(&quoteLifetime, "lifetime", 0, "Games the client played before this session")
	quoteCmd.Flags().IntVar(&quoteRedeem, "redeem", 0, "Games paid with points")
	quoteCmd.MarkFlagRequired("price")
	rootCmd.AddCommand(quoteCmd)
}

func runQuote(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	rules, _, err := buildRules(cfg, nil, zerolog.Nop())
	if err != nil {
		return err
	}

	plan, err := quotePlan()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	session := storage.Session{
		ID:               "quote",
		PricingPlanID:    plan.ID,
		BillingMode:      plan.BillingMode,
		StartTime:        now.Add(-quoteElapsed),
		Status:           storage.SessionActive,
		ExtraTimeMinutes: quoteExtraTime,
	}
	if plan.BillingMode == storage.BillingPerUnit {
		session.GamesPlayed = quoteGames
	}
	if quoteLifetime > 0 || quoteRedeem > 0 {
		session.ClientID = "quote"
	}

	st, err := billing.Settle(context.Background(), billing.SettleInput{
		Session:             session,
		Plan:                plan,
		Now:                 now,
		LifetimeUnitsBefore: quoteLifetime,
		RedeemUnits:         quoteRedeem,
		Rules:               rules,
	})
	if err != nil {
		color.Red("❌ %v", err)
		return err
	}

	printSettlement(os.Stdout, st, cfg.Store.Currency)
	return nil
}

// quotePlan builds an unsaved plan from the command line flags.
func quotePlan() (storage.PricingPlan, error) {
	price, err := money.Parse(quotePrice)
	if err != nil {
		return storage.PricingPlan{}, fmt.Errorf("invalid price: %w", err)
	}
	extra, err := money.Parse(quoteExtraPrice)
	if err != nil {
		return storage.PricingPlan{}, fmt.Errorf("invalid extra price: %w", err)
	}

	plan := storage.PricingPlan{
		ID:                          "quote",
		Name:                        "quote",
		BillingMode:                 storage.BillingMode(quoteMode),
		UnitPrice:                   price,
		StandardUnitDurationMinutes: quoteMinutes,
		ExtensionMinutes:            quoteExtensionMinutes,
		ExtraUnitPrice:              extra,
		PointsAwardedPerUnit:        quotePoints,
		Active:                      true,
	}
	if err := billing.ValidatePlan(plan); err != nil {
		return storage.PricingPlan{}, err
	}
	return plan, nil
}

func printSettlement(w io.Writer, st billing.Settlement, currency string) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintln(w, "Settlement")
	fmt.Fprintf(w, "  Elapsed:       %.1f min\n", st.ElapsedMinutes)
	fmt.Fprintf(w, "  Allowed:       %d min\n", st.AllowedMinutes)
	fmt.Fprintf(w, "  Base:          %s\n", money.Format(st.BaseAmount, currency))
	fmt.Fprintf(w, "  Extra:         %s\n", money.Format(st.ExtraAmount, currency))
	_, _ = green.Fprintf(w, "  Total:         %s\n", money.Format(st.TotalAmount, currency))
	fmt.Fprintf(w, "  Points earned: %d\n", st.PointsEarned)
	if st.PointsRedeemed > 0 {
		fmt.Fprintf(w, "  Points spent:  %d (%d game(s))\n", st.PointsRedeemed, st.RedeemedUnits)
	}
	if st.IsFreeUnitApplied {
		_, _ = yellow.Fprintf(w, "  Free games:    %d (%d billed)\n", st.FreeUnitsGranted, st.EffectiveUnits)
	}
	if st.AllowedMinutes > 0 && st.ElapsedMinutes > float64(st.AllowedMinutes) {
		_, _ = yellow.Fprintln(w, "  ⚠️  Session is overdue")
	}
}
