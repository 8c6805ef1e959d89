package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediaflow/ice"
)

// getKeyCmd generates a fresh local ufrag/pwd pair for seeding a config
// file, the ICE analogue of internal/commands/key.go and
// internal/cli/key.go's long-term-integrity key generator (TURN has no
// short-lived credential rotation need; ICE's local credentials are
// exactly this kind of generated secret, so the command's shape survives
// even though its payload does not).
func getKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "generate a fresh local ufrag/pwd pair",
		Run: func(cmd *cobra.Command, args []string) {
			rand := ice.CryptoRandSource{}
			fmt.Println("agent:")
			fmt.Println("  local_ufrag:", rand.HexString(8))
			fmt.Println("  local_pwd:", rand.HexString(24))
		},
	}
	return cmd
}
