package aa

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// EntryPointSubmitter submits operations by calling handleOps directly from
// a funded account, acting as its own bundler. It is used when no bundler
// RPC is configured.
type EntryPointSubmitter struct {
	entryPoint  *EntryPoint
	opts        *bind.TransactOpts
	beneficiary common.Address
	chainID     *big.Int

	mu      sync.Mutex
	pending map[common.Hash]*types.Transaction
}

func NewEntryPointSubmitter(entryPoint *EntryPoint, opts *bind.TransactOpts, beneficiary common.Address, chainID *big.Int) *EntryPointSubmitter {
	if beneficiary == (common.Address{}) {
		beneficiary = opts.From
	}
	return &EntryPointSubmitter{
		entryPoint:  entryPoint,
		opts:        opts,
		beneficiary: beneficiary,
		chainID:     chainID,
		pending:     make(map[common.Hash]*types.Transaction),
	}
}

func (s *EntryPointSubmitter) Submit(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	hash := op.GetUserOpHash(s.entryPoint.Address(), s.chainID)

	tx, err := s.entryPoint.HandleOps(ctx, s.opts, []*userop.UserOperation{op}, s.beneficiary)
	if err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	s.pending[hash] = tx
	s.mu.Unlock()

	s.entryPoint.logger.Info("handleOps sent", "userOpHash", hash.Hex(), "tx", tx.Hash().Hex())
	return hash, nil
}

// Wait blocks until the handleOps transaction carrying hash is mined. Each
// submission can be waited on once, whatever the outcome.
func (s *EntryPointSubmitter) Wait(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	s.mu.Lock()
	tx, ok := s.pending[hash]
	delete(s.pending, hash)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("user operation %s was not submitted here", hash.Hex())
	}

	receipt, err := bind.WaitMined(ctx, s.entryPoint.backend, tx)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, aaerr.New(aaerr.ExecutionReverted, "handleOps transaction reverted", map[string]interface{}{"tx": tx.Hash().Hex()})
	}
	return s.entryPoint.ParseReceipt(receipt, hash)
}
