package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mensageria_assinada/internal/client"
)

func whoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "who",
		Short: "List the users currently online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := client.Who(cmd.Context(), serverURL)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "nobody is online")
				return nil
			}
			for _, pk := range keys {
				fmt.Fprintf(out, "%s  %s\n", pk.Fingerprint(), pk)
			}
			return nil
		},
	}
}
