package preset

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// Wallet is the read side of the smart wallet. Values are read fresh on
// every call; nothing here is cached between operations.
type Wallet interface {
	Address() common.Address
	Nonce(ctx context.Context) (*big.Int, error)
	IsLocked(ctx context.Context) (bool, error)
}

// EntryPoint is the subset of the v0.6 entry point the pipeline drives.
type EntryPoint interface {
	Address() common.Address
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	DepositTo(ctx context.Context, account common.Address, amount *big.Int) error
	// SimulateValidation returns nil when validation would pass and a typed
	// *aaerr.Error otherwise.
	SimulateValidation(ctx context.Context, op *userop.UserOperation) error
}

// Sponsor is a paymaster that accepts a fee token in exchange for gas.
type Sponsor interface {
	Address() common.Address
	GetHash(ctx context.Context, op *userop.UserOperation, token common.Address, valueOfEth *big.Int) (common.Hash, error)
}

// Chain is what the builder and the fee accounting need from a node.
type Chain interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Submitter delivers a signed operation to the entry point, either through
// a bundler or by calling handleOps directly.
type Submitter interface {
	Submit(ctx context.Context, op *userop.UserOperation) (common.Hash, error)
	Wait(ctx context.Context, userOpHash common.Hash) (*userop.Receipt, error)
}

// FeeOracle suggests maxFeePerGas and maxPriorityFeePerGas.
type FeeOracle interface {
	SuggestFee(ctx context.Context) (*big.Int, *big.Int, error)
}

// Scope binds an operation hash to one entry point on one chain.
type Scope struct {
	ChainID    *big.Int
	EntryPoint common.Address
}
