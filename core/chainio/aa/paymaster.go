package aa

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// Paymaster is the token paymaster that lets a wallet pay gas in an ERC-20.
type Paymaster struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewPaymaster(address common.Address, backend bind.ContractBackend) *Paymaster {
	return &Paymaster{
		address:  address,
		contract: bind.NewBoundContract(address, paymasterABI, backend, backend, backend),
	}
}

func (p *Paymaster) Address() common.Address {
	return p.address
}

// GetHash returns the digest the sponsor authority signs. PaymasterAndData
// is not part of it, so it can be fetched before sponsor data is attached.
func (p *Paymaster) GetHash(ctx context.Context, op *userop.UserOperation, token common.Address, valueOfEth *big.Int) (common.Hash, error) {
	var out []interface{}
	if err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getHash", *op, token, valueOfEth); err != nil {
		return common.Hash{}, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

// ERC20 is a read-only token binding.
type ERC20 struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewERC20(address common.Address, backend bind.ContractBackend) *ERC20 {
	return &ERC20{
		address:  address,
		contract: bind.NewBoundContract(address, erc20ABI, backend, backend, backend),
	}
}

func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}
