package preset_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/core/chainio/signer"
	"github.com/AvaProtocol/userop-relay/core/testutil"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/approval"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/preset"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

func filledOp(t *testing.T, sw *testutil.SimWallet) *userop.UserOperation {
	op, err := preset.FillUserOp(context.Background(), &userop.UserOperation{
		CallData:     []byte{0xde, 0xad},
		CallGasLimit: big.NewInt(60_000),
	}, sw.Wallet, sw.Chain, preset.FillDefaults{})
	require.NoError(t, err)
	return op
}

func scopeOf(sw *testutil.SimWallet) preset.Scope {
	return preset.Scope{ChainID: sw.Chain.ChainID(), EntryPoint: sw.Chain.EntryPointAddress()}
}

func TestSignAndVerify(t *testing.T) {
	sw := testutil.NewSimWallet(0)
	s := preset.NewOpSigner(sw.Owner, scopeOf(sw))

	op := filledOp(t, sw)
	signed, err := s.Sign(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, preset.PhaseUnsponsored, signed.Phase)
	assert.Equal(t, authz.NoncePath, signed.Path)
	assert.True(t, signed.Ready())
	assert.Nil(t, op.Signature, "input is not modified")
	require.NoError(t, s.Verify(signed))

	got, err := signer.RecoverMessage(signed.Hash.Bytes(), signed.Op.Signature)
	require.NoError(t, err)
	assert.Equal(t, sw.Owner.Address(), got)

	// any field change after signing is caught
	signed.Op.CallGasLimit = big.NewInt(60_001)
	assert.ErrorIs(t, s.Verify(signed), preset.ErrNotReady)

	// a signer for another owner refuses the signature
	signed, err = s.Sign(context.Background(), op)
	require.NoError(t, err)
	other := preset.NewOpSigner(testutil.Identity("mallory"), scopeOf(sw))
	assert.ErrorIs(t, other.Verify(signed), preset.ErrSignerMismatch)
}

func TestSignBindsScope(t *testing.T) {
	sw := testutil.NewSimWallet(0)
	op := filledOp(t, sw)

	a, err := preset.NewOpSigner(sw.Owner, scopeOf(sw)).Sign(context.Background(), op)
	require.NoError(t, err)
	b, err := preset.NewOpSigner(sw.Owner, preset.Scope{ChainID: big.NewInt(1), EntryPoint: sw.Chain.EntryPointAddress()}).Sign(context.Background(), op)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestSponsorPhases(t *testing.T) {
	ctx := context.Background()
	sw := testutil.NewSimWallet(0)
	c := sw.Chain
	authority := testutil.Identity("sponsor")
	pm := c.DeployPaymaster(authority.Address())
	token := c.DeployToken(sw.Wallet.Address(), big.NewInt(1000))
	s := preset.NewOpSigner(sw.Owner, scopeOf(sw))

	signed, err := s.Sign(ctx, filledOp(t, sw))
	require.NoError(t, err)
	firstHash := signed.Hash

	// resign is only valid after sponsor data is attached
	assert.ErrorIs(t, s.Resign(ctx, signed), preset.ErrInvalidTransition)

	opt := preset.SponsorOption{
		Sponsor:    c.Paymaster(pm),
		Token:      token,
		ValueOfEth: big.NewInt(1e4),
		ValidUntil: big.NewInt(4_000_000_000),
		Authority:  authority,
	}
	require.NoError(t, s.AttachSponsor(ctx, signed, opt))
	assert.Equal(t, preset.PhaseSponsoredPending, signed.Phase)
	assert.False(t, signed.Ready())
	assert.ErrorIs(t, s.Verify(signed), preset.ErrNotReady)

	data, err := userop.DecodePaymasterAndData(signed.Op.PaymasterAndData)
	require.NoError(t, err)
	assert.Equal(t, pm, data.Paymaster)
	assert.Equal(t, token, data.Token)
	assert.Equal(t, big.NewInt(1e4), data.ValueOfEth)
	assert.Equal(t, big.NewInt(4_000_000_000), data.ValidUntil)

	// the sponsor signed the paymaster hash of the operation without its own data
	pmHash := signed.Op.PaymasterHash(c.ChainID(), pm, token, big.NewInt(1e4))
	got, err := signer.RecoverMessage(pmHash.Bytes(), data.Signature)
	require.NoError(t, err)
	assert.Equal(t, authority.Address(), got)

	require.NoError(t, s.Resign(ctx, signed))
	assert.Equal(t, preset.PhaseSponsoredSigned, signed.Phase)
	assert.NotEqual(t, firstHash, signed.Hash)
	require.NoError(t, s.Verify(signed))

	// no second sponsor
	assert.ErrorIs(t, s.AttachSponsor(ctx, signed, opt), preset.ErrInvalidTransition)
}

func TestWithApproval(t *testing.T) {
	ctx := context.Background()
	sw := testutil.NewSimWallet(2)
	c := sw.Chain

	callData, err := aa.PackWallet("unlockWA")
	require.NoError(t, err)
	action, err := approval.ActionFromCallData(aa.WalletABI(), callData)
	require.NoError(t, err)
	a, digest, err := approval.Build(ctx, c.Domain(), action, sw.Wallet.Address(), big.NewInt(0), sw.Guardians[0], sw.Guardians[1])
	require.NoError(t, err)

	op := filledOp(t, sw)
	op.CallData = callData
	signed, err := preset.WithApproval(op, a, digest, scopeOf(sw))
	require.NoError(t, err)

	assert.Equal(t, authz.ApprovalPath, signed.Path)
	assert.Equal(t, digest, signed.ApprovalDigest)
	assert.Equal(t, 0, signed.Op.Nonce.Sign())

	decoded, err := approval.Decode(signed.Op.Signature)
	require.NoError(t, err)
	assert.Equal(t, a.Signers, decoded.Signers)

	// the owner signature check does not apply on the approval path
	require.NoError(t, preset.NewOpSigner(sw.Owner, scopeOf(sw)).Verify(signed))

	unsorted := &approval.Approval{
		Signers:    []common.Address{a.Signers[1], a.Signers[0]},
		Signatures: [][]byte{a.Signatures[1], a.Signatures[0]},
		Wallet:     a.Wallet,
	}
	_, err = preset.WithApproval(op, unsorted, digest, scopeOf(sw))
	assert.ErrorIs(t, err, approval.ErrUnsortedSigners)
}
