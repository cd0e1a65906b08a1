package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var (
	depositAmount  string
	withdrawTo     string
	withdrawAmount string

	depositCmd = &cobra.Command{
		Use:   "deposit",
		Short: "Add to the wallet's entry point deposit from the funder account",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseEther(depositAmount)
			if err != nil {
				return err
			}

			r, err := openRelay(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Deposit(cmd.Context(), amount); err != nil {
				return err
			}
			status, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deposit of %s is now %s wei\n", r.WalletAddress().Hex(), status.Deposit)
			return nil
		},
	}

	withdrawCmd = &cobra.Command{
		Use:   "withdraw-deposit",
		Short: "Withdraw from the wallet's entry point deposit",
		Long: `Withdraw part of the wallet's entry point deposit with a wallet self call.

The call goes through the nonce path, so it is refused while the wallet is locked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(withdrawTo) {
				return fmt.Errorf("invalid --to %q", withdrawTo)
			}
			amount, err := parseEther(withdrawAmount)
			if err != nil {
				return err
			}

			r, err := openRelay(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			receipt, err := r.WithdrawDeposit(cmd.Context(), common.HexToAddress(withdrawTo), amount)
			if receipt != nil {
				printResult(cmd, receipt)
			}
			return err
		},
	}
)

func init() {
	depositCmd.Flags().StringVar(&depositAmount, "amount", "", "Ether to deposit (required)")
	depositCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(depositCmd)

	withdrawCmd.Flags().StringVar(&withdrawTo, "to", "", "Receiver of the withdrawn ether (required)")
	withdrawCmd.Flags().StringVar(&withdrawAmount, "amount", "", "Ether to withdraw (required)")
	withdrawCmd.MarkFlagRequired("to")
	withdrawCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(withdrawCmd)
}
