//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintarchive/provenance-cli/internal/config"
)

func TestParseContractArg(t *testing.T) {
	cfg = &config.Config{Scan: config.ScanConfig{DefaultChainID: 1}}

	tests := []struct {
		name      string
		raw       string
		wantChain int64
		wantAddr  string
		wantErr   string
	}{
		{
			name:      "bare address uses default chain",
			raw:       "0x1A92f7381B9F03921564a437210bB9396471050C",
			wantChain: 1,
			wantAddr:  "0x1A92f7381B9F03921564a437210bB9396471050C",
		},
		{
			name:      "chain prefix",
			raw:       "137:0x1A92f7381B9F03921564a437210bB9396471050C",
			wantChain: 137,
			wantAddr:  "0x1A92f7381B9F03921564a437210bB9396471050C",
		},
		{
			name:    "bad chain prefix",
			raw:     "polygon:0x1A92f7381B9F03921564a437210bB9396471050C",
			wantErr: "invalid chain id",
		},
		{
			name:    "not an address",
			raw:     "hello",
			wantErr: "invalid contract address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chainID, addr, err := parseContractArg(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantChain, chainID)
			assert.Equal(t, tt.wantAddr, addr.Hex())
		})
	}
}
