package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streamgate/streamgate/internal/security/secretbox"
)

func newKeygenCmd() *cobra.Command {
	var encrypt bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a ticket signing secret",
		Long: "Generates a random 256-bit secret for tickets.signing_secret.\n" +
			"With --encrypt the value is sealed with STREAMGATE_MASTER_KEY so the\n" +
			"config file never holds the plain secret.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var b [32]byte
			if _, err := rand.Read(b[:]); err != nil {
				return err
			}
			out := base64.StdEncoding.EncodeToString(b[:])

			if encrypt {
				if !secretbox.Ready() {
					return fmt.Errorf("STREAMGATE_MASTER_KEY is not set or invalid")
				}
				enc, err := secretbox.Encrypt(out)
				if err != nil {
					return err
				}
				out = enc
			}

			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "seal the secret with the master key")
	return cmd
}
