package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"glosspipe/internal/costs"
)

var (
	estimateSection  string
	estimateCount    int
	estimateModel    string
	estimateFallback string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the cost of a generation operation",
	Long: `Estimate prices a generation run without starting it: target count,
per-model token figures (from usage history when available), projected
cost, and recommendations. With --count 0 the target count is the
number of stored terms missing the section.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		count := estimateCount
		if count == 0 {
			ids, err := svcs.Store.ListTermIDs(cmd.Context(), estimateSection, 0)
			if err != nil {
				return err
			}
			count = len(ids)
		}

		model := estimateModel
		if model == "" {
			model = svcs.Config.Get().Batch.DefaultModel
		}

		est, err := svcs.Estimator.Estimate(cmd.Context(), costs.EstimateRequest{
			Section:       estimateSection,
			RecordCount:   count,
			Model:         model,
			FallbackModel: estimateFallback,
		})
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(est.Models))
		for _, m := range est.Models {
			rows = append(rows, []string{
				m.Selector,
				fmt.Sprintf("%d", m.InputTokensPerRec),
				fmt.Sprintf("%d", m.OutputTokensPerRec),
				m.TokenSource,
				fmt.Sprintf("$%.4f", m.CostUSD),
			})
		}
		fmt.Println(renderTable(
			[]column{
				{title: "Model"},
				{title: "In tok/rec", numeric: true},
				{title: "Out tok/rec", numeric: true},
				{title: "Source"},
				{title: "Cost", numeric: true},
			},
			rows,
		))

		fmt.Printf("section: %s  targets: %d  total: $%.4f  confidence: %s\n",
			est.Section, est.RecordCount, est.TotalCostUSD, est.Confidence)
		for _, rec := range est.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
		return nil
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimateSection, "section", "", "target section (required)")
	estimateCmd.Flags().IntVar(&estimateCount, "count", 0, "target record count (default: terms missing the section)")
	estimateCmd.Flags().StringVar(&estimateModel, "model", "", "model selector (default from config)")
	estimateCmd.Flags().StringVar(&estimateFallback, "fallback", "", "fallback model selector")
	_ = estimateCmd.MarkFlagRequired("section")
}
