// Package report rolls settled sessions, sales, service jobs and expenses
// up into revenue, expense and profit figures for a time window.
package report

import (
	"time"

	"github.com/goodtune/gamestore/internal/money"
	"github.com/goodtune/gamestore/internal/storage"
	"github.com/shopspring/decimal"
)

// MarginPrecision is the number of decimal places kept in Profit.Margin.
const MarginPrecision = 4

// Input holds the records to summarise. Records outside the window are
// ignored, so callers may pass supersets.
type Input struct {
	Sessions []storage.Session
	Sales    []storage.Sale
	Services []storage.ServiceRequest
	Expenses []storage.Expense
	Ledger   []storage.LedgerEntry
}

// Revenue is income by source.
type Revenue struct {
	Gaming   decimal.Decimal `json:"gaming"`
	Sales    decimal.Decimal `json:"sales"`
	Services decimal.Decimal `json:"services"`
	Total    decimal.Decimal `json:"total"`
}

// Expenses is spending by category.
type Expenses struct {
	Daily   decimal.Decimal `json:"daily"`
	Monthly decimal.Decimal `json:"monthly"`
	Yearly  decimal.Decimal `json:"yearly"`
	Other   decimal.Decimal `json:"other"`
	Total   decimal.Decimal `json:"total"`
}

// Profit is net income and its share of revenue.
type Profit struct {
	Net decimal.Decimal `json:"net"`
	// Margin is Net/Revenue.Total as a ratio, zero without revenue
	Margin decimal.Decimal `json:"margin"`
}

// Counts is the number of records that contributed.
type Counts struct {
	Sessions int `json:"sessions"`
	Sales    int `json:"sales"`
	Services int `json:"services"`
	Expenses int `json:"expenses"`
}

// Points is the loyalty activity in the window.
type Points struct {
	Earned   int `json:"earned"`
	Redeemed int `json:"redeemed"`
}

// Summary is the report for one window.
type Summary struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Revenue  Revenue   `json:"revenue"`
	Expenses Expenses  `json:"expenses"`
	Profit   Profit    `json:"profit"`
	Counts   Counts    `json:"counts"`
	Points   Points    `json:"points"`
}

func inWindow(t, from, to time.Time) bool {
	return !t.IsZero() && !t.Before(from) && t.Before(to)
}

// Summarize computes the summary of in over [from, to). Expense dates are
// read as calendar days in loc. Cancelled records and records without a
// usable date contribute nothing.
func Summarize(in Input, from, to time.Time, loc *time.Location) Summary {
	if loc == nil {
		loc = time.UTC
	}

	sum := Summary{
		From: from,
		To:   to,
		Revenue: Revenue{
			Gaming: decimal.Zero, Sales: decimal.Zero, Services: decimal.Zero,
		},
		Expenses: Expenses{
			Daily: decimal.Zero, Monthly: decimal.Zero, Yearly: decimal.Zero, Other: decimal.Zero,
		},
	}

	for _, s := range in.Sessions {
		if s.Status != storage.SessionCompleted || !inWindow(s.EndTime, from, to) {
			continue
		}
		sum.Revenue.Gaming = sum.Revenue.Gaming.Add(s.TotalAmount)
		sum.Counts.Sessions++
	}

	for _, s := range in.Sales {
		if s.Status == storage.SaleCancelled || !inWindow(s.CreatedAt, from, to) {
			continue
		}
		sum.Revenue.Sales = sum.Revenue.Sales.Add(s.TotalAmount)
		sum.Counts.Sales++
	}

	for _, r := range in.Services {
		if r.Status != storage.ServiceCompleted || !inWindow(r.CompletedAt, from, to) {
			continue
		}
		sum.Revenue.Services = sum.Revenue.Services.Add(r.FinalCost)
		sum.Counts.Services++
	}

	for _, e := range in.Expenses {
		day, err := time.ParseInLocation(storage.ExpenseDateLayout, e.Date, loc)
		if err != nil || !inWindow(day, from, to) {
			continue
		}
		switch e.Category {
		case storage.ExpenseDaily:
			sum.Expenses.Daily = sum.Expenses.Daily.Add(e.Amount)
		case storage.ExpenseMonthly:
			sum.Expenses.Monthly = sum.Expenses.Monthly.Add(e.Amount)
		case storage.ExpenseYearly:
			sum.Expenses.Yearly = sum.Expenses.Yearly.Add(e.Amount)
		default:
			sum.Expenses.Other = sum.Expenses.Other.Add(e.Amount)
		}
		sum.Counts.Expenses++
	}

	for _, e := range in.Ledger {
		if !inWindow(e.CreatedAt, from, to) {
			continue
		}
		switch e.Type {
		case storage.LedgerEarned:
			sum.Points.Earned += e.Amount
		case storage.LedgerRedeemed:
			sum.Points.Redeemed -= e.Amount
		}
	}

	sum.Revenue.Total = sum.Revenue.Gaming.Add(sum.Revenue.Sales).Add(sum.Revenue.Services)
	sum.Expenses.Total = sum.Expenses.Daily.Add(sum.Expenses.Monthly).Add(sum.Expenses.Yearly).Add(sum.Expenses.Other)

	sum.Profit.Net = money.Round(sum.Revenue.Total.Sub(sum.Expenses.Total))
	sum.Profit.Margin = decimal.Zero
	if sum.Revenue.Total.IsPositive() {
		sum.Profit.Margin = sum.Profit.Net.Div(sum.Revenue.Total).Round(MarginPrecision)
	}

	return sum
}
