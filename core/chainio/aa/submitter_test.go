package aa

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
)

// unminedBackend never finds a receipt.
type unminedBackend struct {
	Backend
}

func (unminedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestEntryPointSubmitterForgetsAbandonedWait(t *testing.T) {
	entryPoint := NewEntryPoint(EntrypointAddress, unminedBackend{}, nil, nil)
	s := NewEntryPointSubmitter(entryPoint, &bind.TransactOpts{From: common.HexToAddress("0x01")}, common.Address{}, big.NewInt(31337))
	assert.Equal(t, common.HexToAddress("0x01"), s.beneficiary)

	hash := common.HexToHash("0xaa")
	s.pending[hash] = types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Wait(ctx, hash)
	require.Error(t, err)
	assert.Equal(t, aaerr.NetworkFailure, aaerr.KindOf(err))
	assert.Empty(t, s.pending)

	_, err = s.Wait(context.Background(), hash)
	assert.ErrorContains(t, err, "was not submitted here")
}
