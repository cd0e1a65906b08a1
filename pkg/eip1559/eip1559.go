package eip1559

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// DefaultMinTip keeps bundlers interested on quiet chains.
	DefaultMinTip = big.NewInt(2_000_000_000)
	// DefaultMinMaxFee guards high base fee chains like Base.
	DefaultMinMaxFee = big.NewInt(20_000_000_000)
)

// FeeSource is the slice of ethclient.Client needed to price an operation.
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Oracle prices user operations from the latest header.
type Oracle struct {
	source    FeeSource
	minTip    *big.Int
	minMaxFee *big.Int
}

func NewOracle(source FeeSource) *Oracle {
	return &Oracle{source: source, minTip: DefaultMinTip, minMaxFee: DefaultMinMaxFee}
}

// WithFloors overrides the minimum tip and max fee. A nil floor disables it.
func (o *Oracle) WithFloors(minTip, minMaxFee *big.Int) *Oracle {
	o.minTip = minTip
	o.minMaxFee = minMaxFee
	return o
}

// SuggestFee returns maxFeePerGas and maxPriorityFeePerGas.
func (o *Oracle) SuggestFee(ctx context.Context) (*big.Int, *big.Int, error) {
	tipCap, err := o.source.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}

	header, err := o.source.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	return Compute(header.BaseFee, tipCap, o.minTip, o.minMaxFee)
}

// SuggestFee prices with the default floors.
func SuggestFee(ctx context.Context, source FeeSource) (*big.Int, *big.Int, error) {
	return NewOracle(source).SuggestFee(ctx)
}

// Compute derives the fee pair from a base fee and a node tip suggestion.
func Compute(baseFee, tipCap, minTip, minMaxFee *big.Int) (*big.Int, *big.Int, error) {
	// Add 13% buffer to tip for safety
	buffer := new(big.Int).Div(tipCap, big.NewInt(100))
	buffer.Mul(buffer, big.NewInt(13))
	maxPriorityFeePerGas := new(big.Int).Add(tipCap, buffer)

	if minTip != nil && maxPriorityFeePerGas.Cmp(minTip) < 0 {
		maxPriorityFeePerGas = new(big.Int).Set(minTip)
	}

	var maxFeePerGas *big.Int
	if baseFee != nil {
		// 2x baseFee covers a full block of base fee growth between blocks
		maxFeePerGas = new(big.Int).Add(
			new(big.Int).Mul(baseFee, big.NewInt(2)),
			maxPriorityFeePerGas,
		)
		if minMaxFee != nil && maxFeePerGas.Cmp(minMaxFee) < 0 {
			maxFeePerGas = new(big.Int).Set(minMaxFee)
		}
	} else {
		// Legacy (pre-EIP-1559) chain
		maxFeePerGas = new(big.Int).Set(maxPriorityFeePerGas)
	}

	return maxFeePerGas, maxPriorityFeePerGas, nil
}
