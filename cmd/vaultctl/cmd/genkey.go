package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a fresh token encryption key",
	Long: `Prints a new random 256-bit key as 64 hex characters, suitable for
TOKEN_ENCRYPTION_KEY. Rotating the key makes previously stored ciphertexts
undecryptable; affected credentials will read as disconnected and users must
reconnect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generate key material: %w", err)
		}
		fmt.Println(hex.EncodeToString(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
}
