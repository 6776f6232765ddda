package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress <operation-id>",
	Short: "Show milestone reports for an operation",
	Long: `Progress prints the persisted milestone reports for an operation,
plus the live snapshot when the operation is running in this process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()
		id := args[0]

		if snap, ok := svcs.Tracker.Current(id); ok {
			fmt.Printf("current: %d/%d processed (%.0f%%), %d succeeded, %d failed\n",
				snap.Processed, snap.Total, snap.Percent, snap.Succeeded, snap.Failed)
		}

		reports, err := svcs.Tracker.Reports(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("no milestone reports")
			return nil
		}
		rows := make([][]string, 0, len(reports))
		for _, r := range reports {
			rows = append(rows, []string{
				fmt.Sprintf("%d%%", r.Milestone),
				r.Section,
				fmt.Sprintf("%d", r.Processed),
				fmt.Sprintf("%d", r.Succeeded),
				fmt.Sprintf("%d", r.Failed),
				r.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		fmt.Println(renderTable(
			[]column{
				{title: "Milestone", numeric: true},
				{title: "Section"},
				{title: "Processed", numeric: true},
				{title: "Succeeded", numeric: true},
				{title: "Failed", numeric: true},
				{title: "At"},
			},
			rows,
		))
		return nil
	},
}
