package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/model"
	"github.com/mintarchive/provenance-cli/internal/orchestrator"
	"github.com/mintarchive/provenance-cli/internal/strategy"
)

var acquireJSON bool

var acquireCmd = &cobra.Command{
	Use:   "acquire <target>",
	Short: "Acquire artifact records for one target",
	Long:  "Target may be a contract address (optionally prefixed with a chain id, e.g. 137:0xabc...), a marketplace URL, or any other gallery URL.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		target, err := model.ResolveTarget(args[0], cfg.Scan.DefaultChainID, strategy.Hints(cfg.Strategies))
		if err != nil {
			return err
		}

		decision, err := env.Orchestrator.Acquire(ctx, target)
		if err != nil && !errors.Is(err, orchestrator.ErrExhausted) {
			return eris.Wrap(err, "acquire")
		}

		if acquireJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(decision)
		}

		printDecision(cmd, decision)

		if decision.Status == model.StatusFailed {
			zap.L().Warn("acquisition produced no candidate", zap.String("target", target.Raw))
			return eris.New("acquisition failed")
		}
		return nil
	},
}

func printDecision(cmd *cobra.Command, d *model.Decision) {
	cmd.Printf("decision:  %s\n", d.ID)
	cmd.Printf("target:    %s (%s)\n", d.Target.Raw, d.Target.Kind)
	cmd.Printf("status:    %s\n", d.Status)
	if d.Report != nil {
		cmd.Printf("score:     %.3f\n", d.Report.Score)
		for _, issue := range d.Report.Issues {
			cmd.Printf("issue:     %s: %s\n", issue.Code, issue.Message)
		}
	}
	if d.Winner != nil {
		cmd.Printf("strategy:  %s\n", d.Winner.StrategyID)
		cmd.Printf("items:     %d\n", len(d.Winner.Items))
	}
	cmd.Printf("attempts:  %d in %s\n", len(d.Attempted), d.Elapsed)
}

func init() {
	acquireCmd.Flags().BoolVar(&acquireJSON, "json", false, "print the full decision as JSON")
	rootCmd.AddCommand(acquireCmd)
}
