package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mintarchive/provenance-cli/internal/providers"
)

var providersJSON bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the configured RPC provider roster",
	Long: "Lists the configured RPC providers with their breaker state. Breaker state is\n" +
		"per-process, so a fresh invocation always starts healthy; query a running\n" +
		"serve process at /providers for live failover state.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Chains) == 0 {
			return eris.New("no chains configured")
		}

		pool := providers.NewPool(cfg.Chains, cfg.Breaker)
		snaps := pool.Snapshots()

		if providersJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snaps)
		}

		cmd.Printf("%-30s %8s %8s %-12s %8s\n", "PROVIDER", "CHAIN", "PRIORITY", "STATE", "FAILURES")
		for _, s := range snaps {
			cmd.Printf("%-30s %8d %8d %-12s %8d\n", s.ID, s.ChainID, s.Priority, s.State, s.Failures)
		}
		cmd.Println("\nbreaker state is per-process; a running serve exposes live state at /providers")
		return nil
	},
}

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(providersCmd)
}
