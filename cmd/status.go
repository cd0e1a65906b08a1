package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/core/journal"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/prefund"
)

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Display wallet status",
		Long:  `Display a fresh read of the wallet nonce, lock and deposit, plus journal totals`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRelay(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			s, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wallet:   %s (chain %s)\n", s.Wallet.Hex(), s.ChainID)
			fmt.Fprintf(out, "Nonce:    %s (next %s)\n", s.Nonce, authz.WalletState{Nonce: s.Nonce}.NextNonce())
			fmt.Fprintf(out, "Locked:   %t\n", s.Locked)
			fmt.Fprintf(out, "Deposit:  %s ETH\n", prefund.FormatEther(s.Deposit))
			fmt.Fprintf(out, "Balance:  %s ETH\n", prefund.FormatEther(s.Balance))
			fmt.Fprintf(out, "Journal:  %d included, %d reverted, %d rejected, %d failed\n",
				s.Journal[journal.StatusIncluded],
				s.Journal[journal.StatusReverted],
				s.Journal[journal.StatusRejected],
				s.Journal[journal.StatusFailed])
			fmt.Fprintf(out, "Kept:     %d entries\n", s.Kept)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(statusCmd)
}
