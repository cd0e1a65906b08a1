package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/core/config"
	"github.com/AvaProtocol/userop-relay/relay"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "./config/relay.yaml"
	simulate   bool

	rootCmd = &cobra.Command{
		Use:   "relay",
		Short: "User operation relay for guardian-governed smart wallets",
		Long: `Build, sign, fund and submit ERC-4337 user operations for one smart wallet.

Such as "relay send --to 0x... --value 0.1" or "relay approve unlockWA".
Add --simulate to run the same flow against a fresh in-memory chain.
`,
		SilenceUsage: true,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Run against an in-memory chain instead of eth_rpc_url")
}

func loadConfig() (*config.Config, error) {
	c, err := config.NewConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	return c, nil
}

func openRelay(ctx context.Context) (*relay.Relay, error) {
	c, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var opts []relay.Option
	if simulate {
		opts = append(opts, relay.WithSimulator())
	}
	return relay.New(ctx, c, opts...)
}

func printResult(cmd *cobra.Command, v interface{}) {
	printer := pp.New()
	printer.SetOutput(cmd.OutOrStdout())
	printer.Println(v)
}

// parseEther turns a decimal ether amount such as "0.25" into wei.
func parseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	wei := d.Shift(18)
	if !wei.IsInteger() || wei.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: must be a non-negative multiple of 1 wei", s)
	}
	return wei.BigInt(), nil
}
