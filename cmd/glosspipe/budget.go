package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"glosspipe/internal/store"
)

var (
	budgetName        string
	budgetAmount      float64
	budgetDays        int
	budgetCategories  []string
	budgetWarnPct     int
	budgetCriticalPct int
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage spending budgets",
	Long: `Budgets cap generation spend over a period. An operation whose
projected cost would push a covering budget past its total is rejected
at start, and a running operation pauses when actual spend crosses the
line. A budget with no categories covers every section.`,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace a budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		if budgetAmount <= 0 {
			return fmt.Errorf("budget amount must be positive, got %v", budgetAmount)
		}
		if budgetDays <= 0 {
			return fmt.Errorf("budget period must be positive, got %d days", budgetDays)
		}
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		now := time.Now()
		id, err := svcs.Store.SaveBudget(cmd.Context(), store.Budget{
			Name:        budgetName,
			TotalUSD:    budgetAmount,
			PeriodStart: now,
			PeriodEnd:   now.AddDate(0, 0, budgetDays),
			Categories:  budgetCategories,
			WarnPct:     budgetWarnPct,
			CriticalPct: budgetCriticalPct,
		})
		if err != nil {
			return err
		}
		fmt.Printf("budget %q set: $%.2f over %d days (%s)\n", budgetName, budgetAmount, budgetDays, id)
		return nil
	},
}

var budgetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List budgets with their current spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		budgets, err := svcs.Store.ListBudgets(cmd.Context())
		if err != nil {
			return err
		}
		if len(budgets) == 0 {
			fmt.Println("no budgets")
			return nil
		}

		now := time.Now()
		rows := make([][]string, 0, len(budgets))
		for _, b := range budgets {
			spent, err := svcs.Store.SumCosts(cmd.Context(), b.PeriodStart, b.PeriodEnd, b.Categories)
			if err != nil {
				return fmt.Errorf("sum costs for %q: %w", b.Name, err)
			}
			covers := "all sections"
			if len(b.Categories) > 0 {
				covers = strings.Join(b.Categories, ", ")
			}
			state := "active"
			if now.Before(b.PeriodStart) || !now.Before(b.PeriodEnd) {
				state = "expired"
			}
			rows = append(rows, []string{
				b.Name,
				fmt.Sprintf("$%.2f", b.TotalUSD),
				fmt.Sprintf("$%.2f", spent),
				covers,
				b.PeriodEnd.Format("2006-01-02"),
				state,
			})
		}
		fmt.Println(renderTable(
			[]column{
				{title: "Name"},
				{title: "Total", numeric: true},
				{title: "Spent", numeric: true},
				{title: "Covers"},
				{title: "Ends"},
				{title: "State"},
			},
			rows,
		))
		return nil
	},
}

var budgetDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svcs.Store.DeleteBudget(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("budget %q deleted\n", args[0])
		return nil
	},
}

func init() {
	budgetSetCmd.Flags().StringVar(&budgetName, "name", "", "budget name (required)")
	budgetSetCmd.Flags().Float64Var(&budgetAmount, "amount", 0, "total spend allowed in USD (required)")
	budgetSetCmd.Flags().IntVar(&budgetDays, "days", 30, "period length in days, starting now")
	budgetSetCmd.Flags().StringArrayVar(&budgetCategories, "category", nil, "covered section (repeatable; default: all)")
	budgetSetCmd.Flags().IntVar(&budgetWarnPct, "warn-pct", 0, "warning threshold percent (default 80)")
	budgetSetCmd.Flags().IntVar(&budgetCriticalPct, "critical-pct", 0, "critical threshold percent (default 95)")
	_ = budgetSetCmd.MarkFlagRequired("name")
	_ = budgetSetCmd.MarkFlagRequired("amount")

	budgetCmd.AddCommand(budgetSetCmd)
	budgetCmd.AddCommand(budgetListCmd)
	budgetCmd.AddCommand(budgetDeleteCmd)
}
