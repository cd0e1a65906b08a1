package cmd

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
)

var (
	approveValidFor time.Duration

	approveCmd = &cobra.Command{
		Use:   "approve <method> [args...]",
		Short: "Call a guardian-approved wallet method",
		Long: `Call a wallet method that takes a guardian approval, e.g. unlockWA,
changeDailyQuotaWA <wei> or addGuardianWA <address>.

The approval is signed by the owner and every guardian key in the config.
It is accepted while the wallet is locked and can be used only once.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, values, err := parseMethodArgs(args[0], args[1:])
			if err != nil {
				return err
			}

			var validUntil *big.Int
			if approveValidFor > 0 {
				validUntil = big.NewInt(time.Now().Add(approveValidFor).Unix())
			}

			r, err := openRelay(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			receipt, err := r.Approve(cmd.Context(), method, validUntil, values...)
			if receipt != nil {
				printResult(cmd, receipt)
			}
			return err
		},
	}
)

// parseMethodArgs converts command line strings to the wallet method's
// argument types.
func parseMethodArgs(name string, args []string) (string, []interface{}, error) {
	method, ok := aa.WalletABI().Methods[name]
	if !ok {
		return "", nil, fmt.Errorf("unknown wallet method %s", name)
	}
	if len(args) != len(method.Inputs) {
		return "", nil, fmt.Errorf("%s takes %d arguments, got %d", name, len(method.Inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, input := range method.Inputs {
		switch input.Type.T {
		case abi.AddressTy:
			if !common.IsHexAddress(args[i]) {
				return "", nil, fmt.Errorf("%s: invalid address %q", input.Name, args[i])
			}
			values[i] = common.HexToAddress(args[i])
		case abi.UintTy:
			v, ok := new(big.Int).SetString(args[i], 0)
			if !ok || v.Sign() < 0 {
				return "", nil, fmt.Errorf("%s: invalid integer %q", input.Name, args[i])
			}
			values[i] = v
		default:
			return "", nil, fmt.Errorf("%s: unsupported argument type %s", input.Name, input.Type)
		}
	}
	return method.Name, values, nil
}

func init() {
	approveCmd.Flags().DurationVar(&approveValidFor, "valid-for", 0, "How long the approval stays valid, 0 for no expiry")
	rootCmd.AddCommand(approveCmd)
}
