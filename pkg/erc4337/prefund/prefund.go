// Package prefund computes the worst-case native amount a payer must hold in
// the entry point before an operation is accepted.
package prefund

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

const (
	// DefaultSponsorVerificationMultiplier mirrors the v0.6 entry point, which
	// reserves verification gas three times when a paymaster is involved
	// (validateUserOp, validatePaymasterUserOp and postOp).
	DefaultSponsorVerificationMultiplier = 3
)

var ErrInvalidMultiplier = errors.New("sponsor verification multiplier must be at least 1")

// Params are the knobs of the sponsor surcharge.
type Params struct {
	SponsorVerificationMultiplier uint64
	// SponsorOverheadGas is a flat amount of gas added on top when a sponsor pays.
	SponsorOverheadGas uint64
}

func DefaultParams() Params {
	return Params{SponsorVerificationMultiplier: DefaultSponsorVerificationMultiplier}
}

func (p Params) Validate() error {
	if p.SponsorVerificationMultiplier < 1 {
		return ErrInvalidMultiplier
	}
	return nil
}

// RequiredGas is the gas the entry point reserves for op.
func (p Params) RequiredGas(op *userop.UserOperation, usesSponsor bool) *big.Int {
	mul := uint64(1)
	if usesSponsor {
		mul = p.SponsorVerificationMultiplier
		if mul < 1 {
			mul = 1
		}
	}

	gas := new(big.Int).Mul(nz(op.VerificationGasLimit), new(big.Int).SetUint64(mul))
	gas.Add(gas, nz(op.CallGasLimit))
	gas.Add(gas, nz(op.PreVerificationGas))
	if usesSponsor {
		gas.Add(gas, new(big.Int).SetUint64(p.SponsorOverheadGas))
	}
	return gas
}

// ComputeRequiredPreFund returns RequiredGas priced at maxFeePerGas.
func ComputeRequiredPreFund(op *userop.UserOperation, usesSponsor bool, p Params) *big.Int {
	return new(big.Int).Mul(p.RequiredGas(op, usesSponsor), nz(op.MaxFeePerGas))
}

// RequiredWithValue adds the native value the batch moves out of the wallet.
func RequiredWithValue(prefund, value *big.Int) *big.Int {
	return new(big.Int).Add(nz(prefund), nz(value))
}

// Shortfall is max(required - available, 0).
func Shortfall(required, available *big.Int) *big.Int {
	diff := new(big.Int).Sub(nz(required), nz(available))
	if diff.Sign() < 0 {
		return new(big.Int)
	}
	return diff
}

// DepositReader reads deposits held by the entry point.
type DepositReader interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// BalanceReader reads native balances.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Available is what the payer can currently put towards the prefund. A
// sponsor only counts its entry point deposit; a self-paying wallet also
// counts its native balance since the wallet tops up the difference during
// validation.
func Available(ctx context.Context, deposits DepositReader, balances BalanceReader, payer common.Address, isSponsor bool) (*big.Int, error) {
	deposit, err := deposits.BalanceOf(ctx, payer)
	if err != nil {
		return nil, fmt.Errorf("read deposit of %s: %w", payer.Hex(), err)
	}
	if isSponsor {
		return deposit, nil
	}

	balance, err := balances.BalanceAt(ctx, payer, nil)
	if err != nil {
		return nil, fmt.Errorf("read balance of %s: %w", payer.Hex(), err)
	}
	return new(big.Int).Add(deposit, balance), nil
}

// FormatEther renders a wei amount in ether for logs.
func FormatEther(wei *big.Int) string {
	return decimal.NewFromBigInt(nz(wei), -18).String()
}

func nz(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
