package preset

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

var (
	// 1M for signature verification + paymaster validation (conservative)
	DEFAULT_VERIFICATION_GAS_LIMIT = big.NewInt(1000000)

	ErrEmptyBatch = errors.New("batch needs at least one transaction")
)

// Tx is one call the wallet makes on behalf of its owner.
type Tx struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// BuildOptions tune CreateBatchTransactions.
type BuildOptions struct {
	// CallGasLimit skips estimation when set.
	CallGasLimit *big.Int
}

// GasEstimator is the eth_estimateGas half of Chain.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// TotalValue is the native value the batch moves out of the wallet.
func TotalValue(txs []Tx) *big.Int {
	return lo.Reduce(txs, func(acc *big.Int, tx Tx, _ int) *big.Int {
		if tx.Value == nil {
			return acc
		}
		return acc.Add(acc, tx.Value)
	}, new(big.Int))
}

// EncodeCallData turns txs into the wallet callData. A single call to the
// wallet itself is passed through untouched, a single external call goes
// through execute, anything else through executeBatch in order.
func EncodeCallData(wallet common.Address, txs []Tx) ([]byte, error) {
	switch {
	case len(txs) == 0:
		return nil, ErrEmptyBatch
	case len(txs) == 1 && txs[0].To == wallet:
		return common.CopyBytes(txs[0].Data), nil
	case len(txs) == 1:
		return aa.PackExecute(txs[0].To, txs[0].Value, txs[0].Data)
	}

	targets := lo.Map(txs, func(tx Tx, _ int) common.Address { return tx.To })
	values := lo.Map(txs, func(tx Tx, _ int) *big.Int { return tx.Value })
	datas := lo.Map(txs, func(tx Tx, _ int) []byte { return tx.Data })
	return aa.PackExecuteBatch(targets, values, datas)
}

// CreateBatchTransactions returns a partial operation for txs: sender,
// callData and callGasLimit are set, everything else is left for
// FillUserOp.
func CreateBatchTransactions(ctx context.Context, estimator GasEstimator, scope Scope, wallet common.Address, txs []Tx, opts BuildOptions) (*userop.UserOperation, error) {
	callData, err := EncodeCallData(wallet, txs)
	if err != nil {
		return nil, err
	}

	callGasLimit := opts.CallGasLimit
	if callGasLimit == nil {
		gas, err := estimator.EstimateGas(ctx, ethereum.CallMsg{
			From: scope.EntryPoint,
			To:   &wallet,
			Data: callData,
		})
		if err != nil {
			return nil, aaerr.Wrap(aaerr.SimulationRejected, err, "call gas estimation failed")
		}
		callGasLimit = new(big.Int).SetUint64(gas)
	}

	return &userop.UserOperation{
		Sender:       wallet,
		CallData:     callData,
		CallGasLimit: new(big.Int).Set(callGasLimit),
	}, nil
}

// FillDefaults are used by FillUserOp for fields the caller left unset.
type FillDefaults struct {
	VerificationGasLimit *big.Int
}

// FillUserOp returns a copy of op with every unset field filled: the next
// wallet nonce, the default verification gas, a calldata priced
// preVerificationGas and fees from the oracle. Set fields are kept.
func FillUserOp(ctx context.Context, op *userop.UserOperation, wallet Wallet, fees FeeOracle, defaults FillDefaults) (*userop.UserOperation, error) {
	filled := op.Copy()
	if filled.Sender == (common.Address{}) {
		filled.Sender = wallet.Address()
	}

	if filled.Nonce == nil {
		current, err := wallet.Nonce(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot read wallet nonce: %w", err)
		}
		filled.Nonce = authz.WalletState{Nonce: current}.NextNonce()
	}
	if filled.CallGasLimit == nil {
		filled.CallGasLimit = new(big.Int)
	}
	if filled.VerificationGasLimit == nil {
		filled.VerificationGasLimit = new(big.Int).Set(lo.Ternary(defaults.VerificationGasLimit != nil, defaults.VerificationGasLimit, DEFAULT_VERIFICATION_GAS_LIMIT))
	}

	if filled.MaxFeePerGas == nil || filled.MaxPriorityFeePerGas == nil {
		if fees == nil {
			return nil, fmt.Errorf("fee fields unset and no fee oracle configured")
		}
		maxFee, tip, err := fees.SuggestFee(ctx)
		if err != nil {
			return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "cannot suggest fees")
		}
		if filled.MaxFeePerGas == nil {
			filled.MaxFeePerGas = maxFee
		}
		if filled.MaxPriorityFeePerGas == nil {
			filled.MaxPriorityFeePerGas = tip
		}
	}

	if filled.PreVerificationGas == nil {
		pvg, err := userop.CalcPreVerificationGas(filled)
		if err != nil {
			return nil, err
		}
		filled.PreVerificationGas = pvg
	}

	return filled, nil
}
