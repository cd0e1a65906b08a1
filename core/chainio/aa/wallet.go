package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
)

// SmartWallet reads state from a deployed guardian-governed wallet and
// sends the owner's direct transactions.
type SmartWallet struct {
	address  common.Address
	backend  Backend
	contract *bind.BoundContract
}

func NewSmartWallet(address common.Address, backend Backend) *SmartWallet {
	return &SmartWallet{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, walletABI, backend, backend, backend),
	}
}

func (w *SmartWallet) Address() common.Address {
	return w.address
}

func (w *SmartWallet) Nonce(ctx context.Context) (*big.Int, error) {
	return w.callBig(ctx, "nonce")
}

func (w *SmartWallet) IsLocked(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := w.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isLocked"); err != nil {
		return false, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetDeposit is the wallet's deposit held by the entry point.
func (w *SmartWallet) GetDeposit(ctx context.Context) (*big.Int, error) {
	return w.callBig(ctx, "getDeposit")
}

func (w *SmartWallet) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	balance, err := w.backend.BalanceAt(ctx, account, blockNumber)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	return balance, nil
}

// AddDeposit moves native value from opts.From into the wallet deposit.
func (w *SmartWallet) AddDeposit(ctx context.Context, opts *bind.TransactOpts, amount *big.Int) (*types.Receipt, error) {
	txOpts := *opts
	txOpts.Value = amount
	return w.transact(ctx, &txOpts, "addDeposit")
}

// WithdrawDepositTo is an owner-only direct call.
func (w *SmartWallet) WithdrawDepositTo(ctx context.Context, opts *bind.TransactOpts, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return w.transact(ctx, opts, "withdrawDepositTo", to, amount)
}

func (w *SmartWallet) Lock(ctx context.Context, opts *bind.TransactOpts) (*types.Receipt, error) {
	return w.transact(ctx, opts, "lock")
}

func (w *SmartWallet) transact(ctx context.Context, opts *bind.TransactOpts, method string, args ...interface{}) (*types.Receipt, error) {
	txOpts := *opts
	txOpts.Context = ctx

	tx, err := w.contract.Transact(&txOpts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, w.backend, tx)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, aaerr.New(aaerr.ExecutionReverted, method+" reverted", map[string]interface{}{"tx": tx.Hash().Hex()})
	}
	return receipt, nil
}

func (w *SmartWallet) callBig(ctx context.Context, method string) (*big.Int, error) {
	var out []interface{}
	if err := w.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}
