package cmd

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/preset"
)

var (
	sendTo        []string
	sendValues    []string
	sendData      []string
	sendSponsored bool
	sendCallGas   uint64

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Send one or more calls as a single user operation",
		Long: `Send calls from the wallet as one user operation on the nonce path.

Repeat --to for a batch; --value and --data apply to the call at the same
position. Values are in ether. With --sponsored the configured paymaster
pays gas and takes the fee token instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			txs, err := buildTxs(sendTo, sendValues, sendData)
			if err != nil {
				return err
			}

			r, err := openRelay(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			var build preset.BuildOptions
			if sendCallGas > 0 {
				build.CallGasLimit = new(big.Int).SetUint64(sendCallGas)
			}

			receipt, err := r.Send(cmd.Context(), txs, sendSponsored, build)
			if receipt != nil {
				printResult(cmd, receipt)
			}
			return err
		},
	}
)

func buildTxs(to, values, data []string) ([]preset.Tx, error) {
	if len(to) == 0 {
		return nil, fmt.Errorf("at least one --to is required")
	}
	if len(values) > len(to) || len(data) > len(to) {
		return nil, fmt.Errorf("got %d --to, %d --value and %d --data", len(to), len(values), len(data))
	}

	txs := make([]preset.Tx, len(to))
	for i, addr := range to {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid --to %q", addr)
		}
		txs[i].To = common.HexToAddress(addr)

		if i < len(values) && values[i] != "" {
			v, err := parseEther(values[i])
			if err != nil {
				return nil, err
			}
			txs[i].Value = v
		}
		if i < len(data) && data[i] != "" {
			b, err := hexutil.Decode(data[i])
			if err != nil {
				return nil, fmt.Errorf("invalid --data %q: %w", data[i], err)
			}
			txs[i].Data = b
		}
	}
	return txs, nil
}

func init() {
	sendCmd.Flags().StringArrayVar(&sendTo, "to", nil, "Call target, repeat for a batch")
	sendCmd.Flags().StringArrayVar(&sendValues, "value", nil, "Ether sent with the call at the same position")
	sendCmd.Flags().StringArrayVar(&sendData, "data", nil, "Hex calldata for the call at the same position")
	sendCmd.Flags().BoolVar(&sendSponsored, "sponsored", false, "Let the configured paymaster pay gas")
	sendCmd.Flags().Uint64Var(&sendCallGas, "call-gas", 0, "Fixed callGasLimit, 0 to estimate")
	rootCmd.AddCommand(sendCmd)
}
