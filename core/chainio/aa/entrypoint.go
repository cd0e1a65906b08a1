package aa

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// EntryPoint wraps the entry point contract. Writes are sent from the
// funder account.
type EntryPoint struct {
	address  common.Address
	backend  Backend
	contract *bind.BoundContract
	funder   *bind.TransactOpts
	logger   logger.Logger
}

func NewEntryPoint(address common.Address, backend Backend, funder *bind.TransactOpts, lgr logger.Logger) *EntryPoint {
	return &EntryPoint{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, entryPointABI, backend, backend, backend),
		funder:   funder,
		logger:   logger.EnsureLogger(lgr),
	}
}

func (e *EntryPoint) Address() common.Address {
	return e.address
}

func (e *EntryPoint) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// DepositTo credits amount to account's deposit and waits for inclusion.
func (e *EntryPoint) DepositTo(ctx context.Context, account common.Address, amount *big.Int) error {
	if e.funder == nil {
		return fmt.Errorf("entry point has no funder account")
	}

	opts := *e.funder
	opts.Context = ctx
	opts.Value = amount

	tx, err := e.contract.Transact(&opts, "depositTo", account)
	if err != nil {
		return aaerr.Wrap(aaerr.InsufficientPrefund, err, "deposit top-up failed")
	}
	e.logger.Info("deposit top-up sent", "account", account.Hex(), "amount", amount.String(), "tx", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return aaerr.Wrap(aaerr.NetworkFailure, err, "deposit top-up not confirmed")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return aaerr.New(aaerr.InsufficientPrefund, "deposit top-up reverted", map[string]interface{}{"tx": tx.Hash().Hex()})
	}
	return nil
}

// SimulateValidation dry-runs validation. The v0.6 entry point always
// reverts: ValidationResult means the operation passed.
func (e *EntryPoint) SimulateValidation(ctx context.Context, op *userop.UserOperation) error {
	var out []interface{}
	err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "simulateValidation", *op)
	if err == nil {
		// newer simulation contracts return instead of reverting
		return nil
	}
	return aaerr.FromCallError(err, time.Now())
}

// GetUserOpHash asks the contract for the digest, useful to cross-check
// the locally computed one.
func (e *EntryPoint) GetUserOpHash(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getUserOpHash", *op); err != nil {
		return common.Hash{}, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

// HandleOps sends the operations in one transaction, paying the bundler
// refund to beneficiary.
func (e *EntryPoint) HandleOps(ctx context.Context, opts *bind.TransactOpts, ops []*userop.UserOperation, beneficiary common.Address) (*types.Transaction, error) {
	txOpts := *opts
	txOpts.Context = ctx

	batch := make([]userop.UserOperation, len(ops))
	for i, op := range ops {
		batch[i] = *op
	}

	tx, err := e.contract.Transact(&txOpts, "handleOps", batch, beneficiary)
	if err != nil {
		return nil, aaerr.FromCallError(err, time.Now())
	}
	return tx, nil
}

// ParseReceipt extracts the user operation outcome from a handleOps receipt.
func (e *EntryPoint) ParseReceipt(receipt *types.Receipt, userOpHash common.Hash) (*userop.Receipt, error) {
	var (
		event struct {
			UserOpHash    [32]byte
			Sender        common.Address
			Paymaster     common.Address
			Nonce         *big.Int
			Success       bool
			ActualGasCost *big.Int
			ActualGasUsed *big.Int
		}
		revert struct {
			UserOpHash   [32]byte
			Sender       common.Address
			Nonce        *big.Int
			RevertReason []byte
		}
		found bool
		out   = &userop.Receipt{UserOpHash: userOpHash, TxHash: receipt.TxHash}
	)
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}

	for _, l := range receipt.Logs {
		if l.Address != e.address || len(l.Topics) < 2 || l.Topics[1] != userOpHash {
			continue
		}
		switch l.Topics[0] {
		case UserOpEventTopic0:
			if err := e.contract.UnpackLog(&event, "UserOperationEvent", *l); err != nil {
				return nil, fmt.Errorf("cannot decode UserOperationEvent: %w", err)
			}
			found = true
		case entryPointABI.Events["UserOperationRevertReason"].ID:
			if err := e.contract.UnpackLog(&revert, "UserOperationRevertReason", *l); err != nil {
				return nil, fmt.Errorf("cannot decode UserOperationRevertReason: %w", err)
			}
			out.RevertReason = decodeReason(revert.RevertReason)
		}
	}

	if !found {
		return nil, fmt.Errorf("no UserOperationEvent for %s in tx %s", userOpHash.Hex(), receipt.TxHash.Hex())
	}

	out.Sender = event.Sender
	out.Paymaster = event.Paymaster
	out.Nonce = event.Nonce
	out.Success = event.Success
	out.ActualGasCost = event.ActualGasCost
	out.GasUsed = event.ActualGasUsed
	// per operation price; the bundle transaction may have paid a different one
	out.EffectiveGasPrice = new(big.Int)
	if event.ActualGasUsed != nil && event.ActualGasUsed.Sign() > 0 {
		out.EffectiveGasPrice.Div(event.ActualGasCost, event.ActualGasUsed)
	}
	return out, nil
}

func decodeReason(data []byte) string {
	if r, err := aaerr.DecodeRevert(data); err == nil && r.Reason != "" {
		return r.Reason
	}
	if len(data) == 0 {
		return ""
	}
	return fmt.Sprintf("0x%x", data)
}
