package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mensageria_assinada/internal/identity"
)

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the public key derived from SIGCHAT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadIdentity()
			if err != nil {
				return err
			}
			defer key.Destroy()

			pk := key.PublicKey()
			fmt.Fprintf(cmd.OutOrStdout(), "Public key:  %s\nFingerprint: %s\n", pk, pk.Fingerprint())
			return nil
		},
	}
}

// sign <content>: print the hex signature of content.
func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <content>",
		Short: "Sign content with your identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadIdentity()
			if err != nil {
				return err
			}
			defer key.Destroy()

			sig, err := identity.Sign(args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	}
}

// verify <content> <signature> <public-key>: check a signature offline.
func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <content> <signature> <public-key>",
		Short: "Verify a signature against content and a public key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !identity.VerifyHex(args[0], args[1], args[2]) {
				return fmt.Errorf("signature is not valid")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}
