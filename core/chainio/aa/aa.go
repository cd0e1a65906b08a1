// Package aa talks to the account abstraction contracts through go-ethereum
// bound contracts: the entry point, the smart wallet, the token paymaster
// and plain ERC-20 tokens.
package aa

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Backend is what the bindings need from a node. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Generate calldata for UserOps
func PackExecute(targetAddress common.Address, ethValue *big.Int, calldata []byte) ([]byte, error) {
	return walletABI.Pack("execute", targetAddress, orZero(ethValue), nonNil(calldata))
}

// PackExecuteBatch encodes executeBatch(address[],uint256[],bytes[]). The
// wallet runs the calls in order and reverts all of them if one fails.
func PackExecuteBatch(targets []common.Address, values []*big.Int, calldata [][]byte) ([]byte, error) {
	vals := make([]*big.Int, len(values))
	for i, v := range values {
		vals[i] = orZero(v)
	}
	datas := make([][]byte, len(calldata))
	for i, d := range calldata {
		datas[i] = nonNil(d)
	}
	return walletABI.Pack("executeBatch", targets, vals, datas)
}

// PackTransfer encodes an ERC-20 transfer.
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, orZero(amount))
}

// PackWallet encodes any smart wallet method, typically a self call.
func PackWallet(method string, args ...interface{}) ([]byte, error) {
	return walletABI.Pack(method, args...)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
