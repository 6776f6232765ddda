package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"glosspipe/internal/importer"
)

var (
	importChunkSize int
	importForce     bool
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a glossary spreadsheet into the term store",
	Long: `Import analyzes the file's structure, streams its rows, and bulk-upserts
terms in checkpointed chunks. An interrupted import resumes from its
checkpoint; re-importing an unchanged file skips every row by content
hash.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, cleanup, err := loadServices()
		if err != nil {
			return err
		}
		defer cleanup()

		opts := importer.Options{
			ChunkSize: importChunkSize,
			ForceAll:  importForce,
		}
		if cfg := svcs.Config.Get(); importChunkSize == 0 {
			opts.ChunkSize = cfg.Import.ChunkSize
		}

		stats, err := svcs.Importer.Run(cmd.Context(), args[0], opts)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Println(renderTable(
			[]column{
				{title: "Strategy"},
				{title: "Rows", numeric: true},
				{title: "Inserted", numeric: true},
				{title: "Updated", numeric: true},
				{title: "Skipped", numeric: true},
				{title: "Errors", numeric: true},
			},
			[][]string{{
				string(stats.Strategy),
				fmt.Sprintf("%d", stats.TotalRows),
				fmt.Sprintf("%d", stats.Inserted),
				fmt.Sprintf("%d", stats.Updated),
				fmt.Sprintf("%d", stats.Skipped),
				fmt.Sprintf("%d", len(stats.Errors)),
			}},
		))

		for _, rowErr := range stats.Errors {
			fmt.Printf("  row %d", rowErr.Row)
			if rowErr.Term != "" {
				fmt.Printf(" (%s)", rowErr.Term)
			}
			fmt.Printf(": %v\n", rowErr.Err)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().IntVar(&importChunkSize, "chunk-size", 0, "rows per transaction (default from config)")
	importCmd.Flags().BoolVar(&importForce, "force", false, "rewrite rows even when unchanged")
}
