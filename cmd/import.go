package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/fetcher"
	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/orchestrator"
	"github.com/mintarchive/provenance-cli/internal/strategy"
)

var (
	importEncoding string
	importSheet    string
	importDryRun   bool
)

var importCmd = &cobra.Command{
	Use:   "import <file-or-url>",
	Short: "Acquire every target in a bulk list",
	Long:  "Reads targets from a CSV, JSON, or XLSX file (optionally zipped), local or served over http/ftp, and runs an acquisition for each.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raws, err := fetcher.ReadTargets(ctx, args[0], fetcher.TargetOptions{
			CSV:  fetcher.CSVOptions{Encoding: importEncoding},
			XLSX: fetcher.XLSXOptions{SheetName: importSheet},
			HTTP: fetcher.HTTPOptions{Retry: cfg.Retry.Resilience()},
		})
		if err != nil {
			return err
		}
		if len(raws) == 0 {
			cmd.Println("no targets found")
			return nil
		}

		if importDryRun {
			for _, raw := range raws {
				cmd.Println(raw)
			}
			return nil
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		hints := strategy.Hints(cfg.Strategies)

		var accepted, bestEffort, failed, skipped int
		for _, raw := range raws {
			if ctx.Err() != nil {
				break
			}

			target, err := model.ResolveTarget(raw, cfg.Scan.DefaultChainID, hints)
			if err != nil {
				zap.L().Warn("skipping unresolvable target", zap.String("target", raw), zap.Error(err))
				skipped++
				continue
			}

			decision, err := env.Orchestrator.Acquire(ctx, target)
			if err != nil && !errors.Is(err, orchestrator.ErrExhausted) {
				return err
			}

			switch decision.Status {
			case model.StatusAccepted:
				accepted++
			case model.StatusBestEffort:
				bestEffort++
			case model.StatusFailed:
				failed++
			}
			cmd.Printf("%-12s %s\n", decision.Status, target.Raw)
		}

		cmd.Printf("\n%d accepted, %d best-effort, %d failed, %d skipped\n",
			accepted, bestEffort, failed, skipped)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importEncoding, "encoding", "", "source charset for CSV files (e.g. windows-1252)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for XLSX files")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "list resolved targets without acquiring")
	rootCmd.AddCommand(importCmd)
}
