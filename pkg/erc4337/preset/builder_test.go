package preset_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/core/testutil"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/preset"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

type failingEstimator struct{}

func (failingEstimator) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("execution reverted: nope")
}

func TestEncodeCallData(t *testing.T) {
	wallet := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	target := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	_, err := preset.EncodeCallData(wallet, nil)
	assert.ErrorIs(t, err, preset.ErrEmptyBatch)

	self := []byte{0xf8, 0x3d, 0x08, 0xba}
	got, err := preset.EncodeCallData(wallet, []preset.Tx{{To: wallet, Data: self}})
	require.NoError(t, err)
	assert.Equal(t, self, got)

	got, err = preset.EncodeCallData(wallet, []preset.Tx{{To: target, Value: big.NewInt(7), Data: []byte{1}}})
	require.NoError(t, err)
	expected, err := aa.PackExecute(target, big.NewInt(7), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	txs := []preset.Tx{
		{To: target, Value: big.NewInt(1)},
		{To: wallet, Data: self},
		{To: target, Data: []byte{2}},
	}
	got, err = preset.EncodeCallData(wallet, txs)
	require.NoError(t, err)
	expected, err = aa.PackExecuteBatch(
		[]common.Address{target, wallet, target},
		[]*big.Int{big.NewInt(1), nil, nil},
		[][]byte{nil, self, {2}},
	)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	assert.Equal(t, big.NewInt(1), preset.TotalValue(txs))
	assert.Zero(t, preset.TotalValue(nil).Sign())
}

func TestCreateBatchTransactions(t *testing.T) {
	ctx := context.Background()
	sw := testutil.NewSimWallet(0)
	c := sw.Chain
	token := c.DeployToken(sw.Wallet.Address(), big.NewInt(1000))
	scope := preset.Scope{ChainID: c.ChainID(), EntryPoint: c.EntryPointAddress()}

	data, err := aa.PackTransfer(common.HexToAddress("0xaa"), big.NewInt(1))
	require.NoError(t, err)
	txs := []preset.Tx{{To: token, Data: data}}

	op, err := preset.CreateBatchTransactions(ctx, c, scope, sw.Wallet.Address(), txs, preset.BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, sw.Wallet.Address(), op.Sender)
	assert.Nil(t, op.Nonce)
	assert.True(t, op.CallGasLimit.Sign() > 0)

	// an explicit limit skips estimation entirely
	op, err = preset.CreateBatchTransactions(ctx, failingEstimator{}, scope, sw.Wallet.Address(), txs, preset.BuildOptions{CallGasLimit: big.NewInt(123)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123), op.CallGasLimit)

	_, err = preset.CreateBatchTransactions(ctx, failingEstimator{}, scope, sw.Wallet.Address(), txs, preset.BuildOptions{})
	assert.Equal(t, aaerr.SimulationRejected, aaerr.KindOf(err))
}

func TestFillUserOp(t *testing.T) {
	ctx := context.Background()
	sw := testutil.NewSimWallet(0)
	c := sw.Chain

	partial := &userop.UserOperation{CallData: []byte{1, 2, 3}, CallGasLimit: big.NewInt(50_000)}
	filled, err := preset.FillUserOp(ctx, partial, sw.Wallet, c, preset.FillDefaults{})
	require.NoError(t, err)

	assert.Nil(t, partial.Nonce, "input is not modified")
	assert.Equal(t, sw.Wallet.Address(), filled.Sender)
	assert.Equal(t, big.NewInt(1), filled.Nonce)
	assert.Equal(t, preset.DEFAULT_VERIFICATION_GAS_LIMIT, filled.VerificationGasLimit)

	maxFee, tip, err := c.SuggestFee(ctx)
	require.NoError(t, err)
	assert.Equal(t, maxFee, filled.MaxFeePerGas)
	assert.Equal(t, tip, filled.MaxPriorityFeePerGas)

	pvg, err := userop.CalcPreVerificationGas(filled)
	require.NoError(t, err)
	assert.Equal(t, pvg, filled.PreVerificationGas)
	require.NoError(t, filled.Validate())

	// set fields win over defaults
	partial.Nonce = big.NewInt(42)
	partial.MaxFeePerGas = big.NewInt(9)
	filled, err = preset.FillUserOp(ctx, partial, sw.Wallet, c, preset.FillDefaults{VerificationGasLimit: big.NewInt(300_000)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), filled.Nonce)
	assert.Equal(t, big.NewInt(9), filled.MaxFeePerGas)
	assert.Equal(t, tip, filled.MaxPriorityFeePerGas)
	assert.Equal(t, big.NewInt(300_000), filled.VerificationGasLimit)
}
