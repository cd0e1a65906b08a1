// Package config loads the relay configuration from a yaml file.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/core/chainio/signer"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/prefund"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

const (
	DefaultDbPath            = "/tmp/userop-relay/db"
	DefaultPaymasterValidFor = 10 * time.Minute
)

// Config is the parsed relay configuration.
type Config struct {
	Environment sdklogging.LogLevel
	Logger      sdklogging.Logger

	EthRpcUrl  string
	BundlerURL string
	// ChainID is nil until resolved from the node when the file leaves it out.
	ChainID *big.Int

	EntrypointAddress common.Address
	WalletAddress     common.Address
	WalletImplAddress common.Address

	Owner       *signer.LocalIdentity
	Funder      *signer.LocalIdentity
	Beneficiary common.Address
	Guardians   []*signer.LocalIdentity

	VerificationGasLimit *big.Int
	Prefund              prefund.Params

	Paymaster *PaymasterConfig

	DbPath      string
	MetricsAddr string
}

type PaymasterConfig struct {
	Address    common.Address
	Token      common.Address
	ValueOfEth *big.Int
	ValidFor   time.Duration
	// Authority signs the paymaster hash, either with a local key or through
	// a remote signing service.
	Authority signer.Identity
}

// These are read from the config file
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment" validate:"omitempty,oneof=development production"`

	EthRpcUrl  string `yaml:"eth_rpc_url" validate:"omitempty,url"`
	BundlerUrl string `yaml:"bundler_url" validate:"omitempty,url"`
	ChainID    int64  `yaml:"chain_id" validate:"gte=0"`

	EntrypointAddress string `yaml:"entrypoint_address" validate:"omitempty,eth_addr"`
	WalletAddress     string `yaml:"wallet_address" validate:"required,eth_addr"`
	WalletImplAddress string `yaml:"wallet_impl_address" validate:"omitempty,eth_addr"`

	OwnerPrivateKey     string   `yaml:"owner_private_key" validate:"required"`
	FunderPrivateKey    string   `yaml:"funder_private_key"`
	BeneficiaryAddress  string   `yaml:"beneficiary_address" validate:"omitempty,eth_addr"`
	GuardianPrivateKeys []string `yaml:"guardian_private_keys"`

	VerificationGasLimit          uint64 `yaml:"verification_gas_limit"`
	SponsorVerificationMultiplier uint64 `yaml:"sponsor_verification_multiplier"`
	SponsorOverheadGas            uint64 `yaml:"sponsor_overhead_gas"`

	Paymaster *PaymasterRaw `yaml:"paymaster" validate:"omitempty"`

	DbPath      string `yaml:"db_path"`
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

type PaymasterRaw struct {
	Address          string `yaml:"address" validate:"required,eth_addr"`
	Token            string `yaml:"token" validate:"required,eth_addr"`
	ValueOfEth       string `yaml:"value_of_eth" validate:"required"`
	ValidFor         string `yaml:"valid_for"`
	SignerPrivateKey string `yaml:"signer_private_key" validate:"required_without=SignerUrl"`
	SignerUrl        string `yaml:"signer_url" validate:"omitempty,url"`
	SignerAddress    string `yaml:"signer_address" validate:"required_with=SignerUrl"`
}

var validate = validator.New()

// NewConfig reads and parses the yaml file at configFilePath.
func NewConfig(configFilePath string) (*Config, error) {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", configFilePath, err)
	}

	var configRaw ConfigRaw
	if err := yaml.Unmarshal(data, &configRaw); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", configFilePath, err)
	}
	return FromRaw(&configRaw)
}

// FromRaw validates configRaw and turns it into a Config.
func FromRaw(configRaw *ConfigRaw) (*Config, error) {
	if err := validate.Struct(configRaw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lgr, err := logger.New(configRaw.Environment)
	if err != nil {
		return nil, err
	}

	owner, err := signer.LocalIdentityFromHex(configRaw.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("cannot parse owner private key: %w", err)
	}

	config := &Config{
		Environment:          configRaw.Environment,
		Logger:               lgr,
		EthRpcUrl:            configRaw.EthRpcUrl,
		BundlerURL:           configRaw.BundlerUrl,
		EntrypointAddress:    common.HexToAddress(valueOr(configRaw.EntrypointAddress, aa.EntrypointAddress.Hex())),
		WalletAddress:        common.HexToAddress(configRaw.WalletAddress),
		WalletImplAddress:    common.HexToAddress(configRaw.WalletImplAddress),
		Owner:                owner,
		Funder:               owner,
		Beneficiary:          owner.Address(),
		VerificationGasLimit: new(big.Int).SetUint64(configRaw.VerificationGasLimit),
		Prefund: prefund.Params{
			SponsorVerificationMultiplier: configRaw.SponsorVerificationMultiplier,
			SponsorOverheadGas:            configRaw.SponsorOverheadGas,
		},
		DbPath:      valueOr(configRaw.DbPath, DefaultDbPath),
		MetricsAddr: configRaw.MetricsAddr,
	}

	if configRaw.ChainID > 0 {
		config.ChainID = big.NewInt(configRaw.ChainID)
	}
	if configRaw.VerificationGasLimit == 0 {
		config.VerificationGasLimit = nil
	}
	if config.Prefund.SponsorVerificationMultiplier == 0 {
		config.Prefund.SponsorVerificationMultiplier = prefund.DefaultSponsorVerificationMultiplier
	}

	if configRaw.FunderPrivateKey != "" {
		if config.Funder, err = signer.LocalIdentityFromHex(configRaw.FunderPrivateKey); err != nil {
			return nil, fmt.Errorf("cannot parse funder private key: %w", err)
		}
		config.Beneficiary = config.Funder.Address()
	}
	if configRaw.BeneficiaryAddress != "" {
		config.Beneficiary = common.HexToAddress(configRaw.BeneficiaryAddress)
	}

	if config.Guardians, err = parseIdentities(configRaw.GuardianPrivateKeys); err != nil {
		return nil, fmt.Errorf("cannot parse guardian private keys: %w", err)
	}

	if configRaw.Paymaster != nil {
		if config.Paymaster, err = parsePaymaster(configRaw.Paymaster); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func parsePaymaster(raw *PaymasterRaw) (*PaymasterConfig, error) {
	rate, err := decimal.NewFromString(raw.ValueOfEth)
	if err != nil {
		return nil, fmt.Errorf("invalid paymaster value_of_eth %q: %w", raw.ValueOfEth, err)
	}
	if !rate.IsInteger() || rate.IsNegative() {
		return nil, fmt.Errorf("paymaster value_of_eth must be a non-negative integer, got %s", raw.ValueOfEth)
	}

	validFor := DefaultPaymasterValidFor
	if raw.ValidFor != "" {
		if validFor, err = time.ParseDuration(raw.ValidFor); err != nil {
			return nil, fmt.Errorf("invalid paymaster valid_for: %w", err)
		}
	}

	pm := &PaymasterConfig{
		Address:    common.HexToAddress(raw.Address),
		Token:      common.HexToAddress(raw.Token),
		ValueOfEth: rate.BigInt(),
		ValidFor:   validFor,
	}

	if raw.SignerUrl != "" {
		pm.Authority = signer.NewRemoteAuthority(raw.SignerUrl, common.HexToAddress(raw.SignerAddress))
		return pm, nil
	}
	if pm.Authority, err = signer.LocalIdentityFromHex(raw.SignerPrivateKey); err != nil {
		return nil, fmt.Errorf("cannot parse paymaster signer private key: %w", err)
	}
	return pm, nil
}

func (c *Config) validate() error {
	if c.WalletAddress == (common.Address{}) {
		return fmt.Errorf("config: wallet_address is required")
	}
	if c.EthRpcUrl == "" && c.BundlerURL != "" {
		return fmt.Errorf("config: bundler_url needs eth_rpc_url for reads")
	}
	return c.Prefund.Validate()
}
