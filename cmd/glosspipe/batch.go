package main

import (
	"context"
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"glosspipe/internal/batch"
	"glosspipe/internal/progress"
)

var (
	batchSection      string
	batchTerms        []string
	batchModel        string
	batchFallback     string
	batchChunkSize    int
	batchConcurrency  int
	batchTemperature  float64
	batchMaxTokens    int
	batchRegenerate   bool
	batchPauseOnError bool
	batchReason       string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run and control generation operations",
}

var batchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a generation operation and watch it to completion",
	Long: `Start validates the request, passes the safety and budget gates, and
runs the operation in the foreground with periodic progress output.
Interrupting the command cancels the operation; in-flight generation
calls finish and their results are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()
		cfg := svcs.Config.Get()

		req := batch.Request{
			Section:              batchSection,
			TermIDs:              batchTerms,
			AllTerms:             len(batchTerms) == 0,
			Model:                batchModel,
			FallbackModel:        batchFallback,
			ChunkSize:            batchChunkSize,
			MaxConcurrentBatches: batchConcurrency,
			Temperature:          batchTemperature,
			MaxTokens:            batchMaxTokens,
			RegenerateExisting:   batchRegenerate,
			PauseOnError:         batchPauseOnError,
			Initiator:            currentUser(),
			Reason:               batchReason,
		}
		if req.Model == "" {
			req.Model = cfg.Batch.DefaultModel
		}
		if req.FallbackModel == "" {
			req.FallbackModel = cfg.Batch.FallbackModel
		}
		if req.ChunkSize == 0 {
			req.ChunkSize = cfg.Batch.ChunkSize
		}
		if req.MaxConcurrentBatches == 0 {
			req.MaxConcurrentBatches = cfg.Batch.MaxConcurrentBatches
		}

		id, err := svcs.Batches.Start(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("operation %s started\n", id)

		op, err := svcs.Batches.Operation(id)
		if err != nil {
			return err
		}
		err = svcs.Tracker.StartMonitoring(id, op, progress.Options{
			Interval:         time.Duration(cfg.Progress.IntervalSeconds) * time.Second,
			ReportMilestones: cfg.Progress.Milestones,
		})
		if err != nil {
			return err
		}
		defer func() { _ = svcs.Tracker.StopMonitoring(id) }()

		return watchOperation(cmd.Context(), svcs.Batches, svcs.Tracker, id)
	},
}

// watchOperation polls until the operation reaches a terminal state,
// echoing progress. An interrupt cancels the operation.
func watchOperation(ctx context.Context, mgr *batch.Manager, tracker *progress.Tracker, id string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastShown int
	var cancelled bool
	for {
		select {
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				fmt.Println("interrupt: cancelling operation")
				// ignore a cancel that loses the race with completion
				_ = mgr.Cancel(id)
			}
			time.Sleep(time.Second)
		case <-ticker.C:
		}

		status, err := mgr.Status(id)
		if err != nil {
			return err
		}
		if snap, ok := tracker.Current(id); ok && snap.Processed != lastShown {
			lastShown = snap.Processed
			fmt.Printf("  %s: %d/%d processed (%.0f%%), %d failed\n",
				status.State, snap.Processed, snap.Total, snap.Percent, snap.Failed)
		}

		if status.State.Terminal() {
			printStatus(status)
			if status.State == batch.StateFailed {
				return fmt.Errorf("operation %s failed", id)
			}
			return nil
		}
		if status.State == batch.StatePaused {
			fmt.Printf("operation paused: %s\n", status.PauseCause)
			fmt.Printf("resume with: glosspipe batch resume %s\n", id)
			return nil
		}
	}
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <operation-id>",
	Short: "Show one operation's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := svcs.Batches.Status(args[0])
		if err != nil {
			return err
		}
		printStatus(status)
		return nil
	},
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		ops := svcs.Batches.ListAll()
		if len(ops) == 0 {
			fmt.Println("no operations")
			return nil
		}
		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			rows = append(rows, []string{
				op.ID, op.Section, string(op.State),
				fmt.Sprintf("%d/%d", op.Processed, op.Total),
				fmt.Sprintf("%d", op.Failed),
				op.Initiator,
			})
		}
		fmt.Println(renderTable(
			[]column{
				{title: "ID"},
				{title: "Section"},
				{title: "State"},
				{title: "Progress", numeric: true},
				{title: "Failed", numeric: true},
				{title: "Initiator"},
			},
			rows,
		))
		return nil
	},
}

func transitionCmd(use, short string, fn func(*batch.Manager, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <operation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, cleanup, err := loadServices()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := fn(svcs.Batches, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", use, args[0])
			return nil
		},
	}
}

func printStatus(s batch.Status) {
	fmt.Println(renderTable(
		[]column{
			{title: "ID"},
			{title: "Section"},
			{title: "State"},
			{title: "Processed", numeric: true},
			{title: "Succeeded", numeric: true},
			{title: "Failed", numeric: true},
			{title: "Skipped", numeric: true},
			{title: "Est. cost", numeric: true},
		},
		[][]string{{
			s.ID, s.Section, string(s.State),
			fmt.Sprintf("%d/%d", s.Processed, s.Total),
			fmt.Sprintf("%d", s.Succeeded),
			fmt.Sprintf("%d", s.Failed),
			fmt.Sprintf("%d", s.Skipped),
			fmt.Sprintf("$%.4f", s.EstimatedCostUSD),
		}},
	))
	for _, ue := range s.Errors {
		fmt.Printf("  term %s (%s): %s\n", ue.TermID, ue.Model, ue.Error)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func init() {
	batchStartCmd.Flags().StringVar(&batchSection, "section", "", "target section (required)")
	batchStartCmd.Flags().StringArrayVar(&batchTerms, "term", nil, "target term id (repeatable; default: every term needing the section)")
	batchStartCmd.Flags().StringVar(&batchModel, "model", "", "model selector (default from config)")
	batchStartCmd.Flags().StringVar(&batchFallback, "fallback", "", "fallback model selector")
	batchStartCmd.Flags().IntVar(&batchChunkSize, "chunk-size", 0, "records per sub-batch")
	batchStartCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max sub-batches in flight")
	batchStartCmd.Flags().Float64Var(&batchTemperature, "temperature", 0, "sampling temperature")
	batchStartCmd.Flags().IntVar(&batchMaxTokens, "max-tokens", 0, "completion token cap")
	batchStartCmd.Flags().BoolVar(&batchRegenerate, "regenerate", false, "rewrite sections that already have content")
	batchStartCmd.Flags().BoolVar(&batchPauseOnError, "pause-on-error", false, "pause on the first unit failure")
	batchStartCmd.Flags().StringVar(&batchReason, "reason", "", "reason recorded with the operation")
	_ = batchStartCmd.MarkFlagRequired("section")

	batchCmd.AddCommand(batchStartCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(transitionCmd("pause", "Pause a running operation", (*batch.Manager).Pause))
	batchCmd.AddCommand(transitionCmd("resume", "Resume a paused operation", (*batch.Manager).Resume))
	batchCmd.AddCommand(transitionCmd("cancel", "Cancel an operation", (*batch.Manager).Cancel))
	batchCmd.AddCommand(transitionCmd("purge", "Remove a finished operation", (*batch.Manager).Purge))
}
