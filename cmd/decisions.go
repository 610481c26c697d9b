package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/store"
)

var (
	decisionsStatus string
	decisionsLimit  int
	decisionsJSON   bool
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions [id]",
	Short: "List stored acquisition decisions, or show one by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 1 {
			d, err := st.GetDecision(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return eris.Errorf("decision %s not found", args[0])
			}
			if err != nil {
				return err
			}
			printDecision(cmd, d)
			return nil
		}

		decisions, err := st.ListDecisions(ctx, store.DecisionFilter{
			Status: model.DecisionStatus(decisionsStatus),
			Limit:  decisionsLimit,
		})
		if err != nil {
			return err
		}

		if decisionsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decisions)
		}

		counts, err := st.CountDecisions(ctx)
		if err != nil {
			return err
		}

		cmd.Printf("%-36s %-12s %8s %-20s %s\n", "ID", "STATUS", "SCORE", "CREATED", "TARGET")
		for _, d := range decisions {
			score := "-"
			if d.Report != nil {
				score = fmt.Sprintf("%.3f", d.Report.Score)
			}
			cmd.Printf("%-36s %-12s %8s %-20s %s\n",
				d.ID, d.Status, score, d.CreatedAt.Format("2006-01-02 15:04:05"), d.Target.Raw)
		}
		cmd.Printf("\n%d accepted, %d best-effort, %d failed\n",
			counts.Accepted, counts.BestEffort, counts.Failed)
		return nil
	},
}

func init() {
	decisionsCmd.Flags().StringVar(&decisionsStatus, "status", "", "filter by status (accepted, best-effort, failed)")
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 50, "maximum number of decisions to list")
	decisionsCmd.Flags().BoolVar(&decisionsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(decisionsCmd)
}
