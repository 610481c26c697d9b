package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mintarchive/provenance-cli/internal/chain"
	"github.com/mintarchive/provenance-cli/internal/providers"
)

var (
	scanFromBlock uint64
	scanToBlock   uint64
	scanJSON      bool
)

var chainscanCmd = &cobra.Command{
	Use:   "chainscan <contract>",
	Short: "Scan a contract's transfer logs and print the decoded events",
	Long:  "Contract may be prefixed with a chain id (e.g. 137:0xabc...); otherwise the configured default chain is used. Block range defaults to the configured lookback window ending at the chain head.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		chainID, addr, err := parseContractArg(args[0])
		if err != nil {
			return err
		}

		if len(cfg.Chains) == 0 {
			return eris.New("no chains configured")
		}
		pool := providers.NewPool(cfg.Chains, cfg.Breaker)
		scanner := chain.NewScanner(pool, cfg.Scan.ChunkSize)

		from, to := scanFromBlock, scanToBlock
		if from == 0 && to == 0 && cfg.Scan.LookbackBlocks > 0 {
			head, err := scanner.Latest(ctx, chainID)
			if err != nil {
				return err
			}
			to = head
			if head > cfg.Scan.LookbackBlocks {
				from = head - cfg.Scan.LookbackBlocks
			}
		}

		result, err := scanner.Scan(ctx, chainID, addr, from, to)
		if err != nil {
			return err
		}

		if scanJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		for _, ev := range result.Events {
			cmd.Printf("%-8d %-8s %-10s token=%s from=%s to=%s qty=%s\n",
				ev.BlockNumber, ev.Standard, ev.Type, ev.TokenID, ev.From, ev.To, ev.Quantity)
		}
		for _, skip := range result.Skips {
			zap.L().Debug("skipped log",
				zap.String("tx_hash", skip.TxHash),
				zap.Uint("log_index", skip.LogIndex),
				zap.String("reason", skip.Reason))
		}
		cmd.Printf("\n%d events, %d skipped, blocks %d-%d\n",
			len(result.Events), len(result.Skips), result.FromBlock, result.ToBlock)
		return nil
	},
}

// parseContractArg splits an optional "chainID:" prefix off a contract address.
func parseContractArg(raw string) (int64, common.Address, error) {
	chainID := cfg.Scan.DefaultChainID
	addr := raw
	if prefix, rest, ok := strings.Cut(raw, ":"); ok {
		id, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return 0, common.Address{}, eris.Errorf("invalid chain id %q", prefix)
		}
		chainID = id
		addr = rest
	}
	if !common.IsHexAddress(addr) {
		return 0, common.Address{}, eris.Errorf("invalid contract address %q", addr)
	}
	return chainID, common.HexToAddress(addr), nil
}

func init() {
	chainscanCmd.Flags().Uint64Var(&scanFromBlock, "from", 0, "first block to scan")
	chainscanCmd.Flags().Uint64Var(&scanToBlock, "to", 0, "last block to scan (0 means chain head)")
	chainscanCmd.Flags().BoolVar(&scanJSON, "json", false, "output the scan result as JSON")
	rootCmd.AddCommand(chainscanCmd)
}
