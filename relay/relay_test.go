package relay

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/core/config"
	"github.com/AvaProtocol/userop-relay/core/journal"
	"github.com/AvaProtocol/userop-relay/core/testutil"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/preset"
)

var recipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func keyHex(name string) string {
	return hexutil.Encode(crypto.FromECDSA(testutil.Identity(name).PrivateKey()))
}

func rawConfig(withPaymaster bool) *config.ConfigRaw {
	raw := &config.ConfigRaw{
		WalletAddress:       "0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6",
		OwnerPrivateKey:     keyHex("owner"),
		FunderPrivateKey:    keyHex("funder"),
		GuardianPrivateKeys: []string{keyHex("guardian-1")},
	}
	if withPaymaster {
		raw.Paymaster = &config.PaymasterRaw{
			Address:          "0xB985af5f96EF2722DC99aEBA573520903B86505e",
			Token:            "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			ValueOfEth:       "10000",
			SignerPrivateKey: keyHex("sponsor"),
		}
	}
	return raw
}

func newSimulatedRelay(t *testing.T, withPaymaster bool) *Relay {
	c, err := config.FromRaw(rawConfig(withPaymaster))
	require.NoError(t, err)

	r, err := New(context.Background(), c, WithSimulator(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSimulatedSend(t *testing.T) {
	ctx := context.Background()
	r := newSimulatedRelay(t, false)

	receipt, err := r.Send(ctx, []preset.Tx{{To: recipient, Value: testutil.Ether(1)}}, false, preset.BuildOptions{})
	require.NoError(t, err)
	require.True(t, receipt.Success)

	got, err := r.Simulator().BalanceAt(ctx, recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, testutil.Ether(1), got)

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.WalletAddress(), status.Wallet)
	assert.Equal(t, big.NewInt(1), status.Nonce)
	assert.False(t, status.Locked)
	assert.Equal(t, uint64(1), status.Journal[journal.StatusIncluded])
	assert.Zero(t, status.Journal[journal.StatusRejected])

	entries, err := r.Journal(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, receipt.UserOpHash, entries[0].UserOpHash)
}

func TestSimulatedPruneJournal(t *testing.T) {
	ctx := context.Background()
	r := newSimulatedRelay(t, false)

	for i := 0; i < 3; i++ {
		_, err := r.Send(ctx, []preset.Tx{{To: recipient, Value: big.NewInt(int64(i + 1))}}, false, preset.BuildOptions{})
		require.NoError(t, err)
	}

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), status.Kept)

	removed, err := r.PruneJournal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	status, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Kept)
	assert.Equal(t, uint64(3), status.Journal[journal.StatusIncluded])

	entries, err := r.Journal(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3", entries[0].Nonce)
}

func TestSimulatedSponsoredSend(t *testing.T) {
	ctx := context.Background()
	r := newSimulatedRelay(t, true)
	require.NotEqual(t, common.Address{}, r.Token())

	data, err := aa.PackTransfer(recipient, big.NewInt(100))
	require.NoError(t, err)

	receipt, err := r.Send(ctx, []preset.Tx{{To: r.Token(), Data: data}}, true, preset.BuildOptions{})
	require.NoError(t, err)
	require.True(t, receipt.Success)
	assert.NotEqual(t, common.Address{}, receipt.Paymaster)
	assert.Equal(t, big.NewInt(100), r.Simulator().TokenBalance(r.Token(), recipient))

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Deposit.Sign(), "the paymaster paid")
}

func TestSendSponsoredWithoutPaymaster(t *testing.T) {
	r := newSimulatedRelay(t, false)

	_, err := r.Send(context.Background(), []preset.Tx{{To: recipient, Value: big.NewInt(1)}}, true, preset.BuildOptions{})
	assert.ErrorIs(t, err, ErrNoPaymaster)
}

func TestSimulatedApproveUnlock(t *testing.T) {
	ctx := context.Background()
	r := newSimulatedRelay(t, false)
	require.NoError(t, r.Simulator().Wallet(r.WalletAddress()).Lock(ctx))

	tx := []preset.Tx{{To: recipient, Value: big.NewInt(1)}}
	_, err := r.Send(ctx, tx, false, preset.BuildOptions{})
	assert.Equal(t, aaerr.WalletLocked, aaerr.KindOf(err))

	receipt, err := r.Approve(ctx, "unlockWA", nil)
	require.NoError(t, err)
	require.True(t, receipt.Success)

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Locked)
	assert.Zero(t, status.Nonce.Sign())

	receipt, err = r.Send(ctx, tx, false, preset.BuildOptions{})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
}

func TestApproveRejectsOwnerMethods(t *testing.T) {
	r := newSimulatedRelay(t, false)

	_, err := r.Approve(context.Background(), "changeDailyQuota", nil, big.NewInt(1))
	assert.ErrorContains(t, err, "does not take a guardian approval")

	_, err = r.Approve(context.Background(), "noSuchMethod", nil)
	assert.Error(t, err)
}

func TestSimulatedDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	r := newSimulatedRelay(t, false)
	owner := testutil.Identity("owner").Address()

	require.NoError(t, r.Deposit(ctx, testutil.Ether(1)))
	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Ether(1), status.Deposit)

	half := new(big.Int).Div(testutil.Ether(1), big.NewInt(2))
	receipt, err := r.WithdrawDeposit(ctx, owner, half)
	require.NoError(t, err)
	require.True(t, receipt.Success)

	got, err := r.Simulator().BalanceAt(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, half, got)

	status, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(half, receipt.ActualGasCost), status.Deposit)
}
