package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var safetyStopReason string

var safetyCmd = &cobra.Command{
	Use:   "safety",
	Short: "Inspect and control the safety gate",
}

var safetyStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Activate the emergency stop",
	Long: `Stop blocks every new operation start until safety resume is run.
The stop is held in process memory; a fresh process starts unblocked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		svcs.Safety.ActivateEmergencyStop(safetyStopReason, currentUser())
		fmt.Println("emergency stop active")
		return nil
	},
}

var safetyResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Deactivate the emergency stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		svcs.Safety.DeactivateEmergencyStop(currentUser())
		fmt.Println("emergency stop cleared")
		return nil
	},
}

var safetyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the safety gate state",
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		st := svcs.Safety.Status()
		rows := [][]string{
			{"Emergency stop", fmt.Sprintf("%t", st.EmergencyStopActive)},
			{"Rate window", st.Window.String()},
			{"Starts per window", fmt.Sprintf("%d", st.MaxStartsPerWindow)},
			{"Per-operation cost limit", fmt.Sprintf("$%.2f", st.MaxOperationCostUSD)},
		}
		if st.EmergencyStopActive {
			rows = append(rows,
				[]string{"Stopped by", st.StopActor},
				[]string{"Stop reason", st.StopReason},
				[]string{"Stopped at", st.StopTime.Format("2006-01-02 15:04:05")},
			)
		}
		for actor, n := range st.RecentStarts {
			rows = append(rows, []string{"Recent starts: " + actor, fmt.Sprintf("%d", n)})
		}
		fmt.Println(renderTable(
			[]column{{title: "Setting"}, {title: "Value"}},
			rows,
		))
		return nil
	},
}

func init() {
	safetyStopCmd.Flags().StringVar(&safetyStopReason, "reason", "", "why operations are being halted")

	safetyCmd.AddCommand(safetyStopCmd)
	safetyCmd.AddCommand(safetyResumeCmd)
	safetyCmd.AddCommand(safetyStatusCmd)
}
