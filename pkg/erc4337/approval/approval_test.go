package approval

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"math/rand"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) *keySigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &keySigner{key: key}
}

func (k *keySigner) Address() common.Address { return crypto.PubkeyToAddress(k.key.PublicKey) }

func (k *keySigner) SignHash(_ context.Context, hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], k.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func TestSortSignersAndSignaturesProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(8)
		signers := make([]common.Address, n)
		signatures := make([][]byte, n)
		for i := range signers {
			var a common.Address
			rng.Read(a[:])
			signers[i] = a
			// tag each signature with its signer so pairing can be checked
			signatures[i] = append([]byte{byte(i)}, a.Bytes()...)
		}

		sortedSigners, sortedSignatures, err := SortSignersAndSignatures(signers, signatures)
		require.NoError(t, err)
		require.Len(t, sortedSigners, n)
		require.ElementsMatch(t, signers, sortedSigners)

		for i := range sortedSigners {
			if i > 0 {
				assert.Equal(t, -1, bytes.Compare(sortedSigners[i-1].Bytes(), sortedSigners[i].Bytes()))
			}
			assert.Equal(t, sortedSigners[i].Bytes(), sortedSignatures[i][1:])
		}
	}
}

func TestSortIsNumericNotCaseSensitive(t *testing.T) {
	upper := common.HexToAddress("0xABCDEF0000000000000000000000000000000001")
	lower := common.HexToAddress("0x1bcdef0000000000000000000000000000000002")

	signers, sigs, err := SortSignersAndSignatures(
		[]common.Address{upper, lower},
		[][]byte{[]byte("upper"), []byte("lower")},
	)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{lower, upper}, signers)
	assert.Equal(t, [][]byte{[]byte("lower"), []byte("upper")}, sigs)
}

func TestSortRejectsBadInput(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")

	_, _, err := SortSignersAndSignatures(nil, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, _, err = SortSignersAndSignatures([]common.Address{a, b}, [][]byte{{1}})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, _, err = SortSignersAndSignatures([]common.Address{a, a}, [][]byte{{1}, {2}})
	assert.ErrorIs(t, err, ErrDuplicateSigner)
}

func TestEncodeDecode(t *testing.T) {
	a := &Approval{
		Signers:    []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
		Signatures: [][]byte{bytes.Repeat([]byte{0xaa}, 65), bytes.Repeat([]byte{0xbb}, 65)},
		ValidUntil: big.NewInt(9999999999),
		Wallet:     common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"),
	}

	encoded, err := a.Encode()
	require.NoError(t, err)
	// a single dynamic tuple: the first word is the offset to its body
	assert.Equal(t, common.LeftPadBytes([]byte{0x20}, 32), encoded[:32])

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, a.Signers, decoded.Signers)
	assert.Equal(t, a.Signatures, decoded.Signatures)
	assert.Equal(t, 0, a.ValidUntil.Cmp(decoded.ValidUntil))
	assert.Equal(t, a.Wallet, decoded.Wallet)

	h1, err := a.Hash()
	require.NoError(t, err)
	h2, err := decoded.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestEncodeRejectsUnsorted(t *testing.T) {
	a := &Approval{
		Signers:    []common.Address{common.HexToAddress("0x02"), common.HexToAddress("0x01")},
		Signatures: [][]byte{{1}, {2}},
	}
	_, err := a.Encode()
	assert.ErrorIs(t, err, ErrUnsortedSigners)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestActionTypeString(t *testing.T) {
	action := Action{Method: "changeDailyQuota", Fields: []Field{{Name: "newQuota", Type: "uint256", Value: big.NewInt(100)}}}
	assert.Equal(t, "changeDailyQuota(address wallet,uint256 validUntil,uint256 newQuota)", action.TypeString())
}

func TestDigestMatchesManualEncoding(t *testing.T) {
	wallet := common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6")
	impl := common.HexToAddress("0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7")
	domain := NewDomain(big.NewInt(1337), impl)
	action := Action{Method: "changeDailyQuota", Fields: []Field{{Name: "newQuota", Type: "uint256", Value: big.NewInt(100)}}}

	word := func(b []byte) []byte { return common.LeftPadBytes(b, 32) }

	sep := crypto.Keccak256(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		crypto.Keccak256([]byte("LoopringWallet")),
		crypto.Keccak256([]byte("2.0.0")),
		word(big.NewInt(1337).Bytes()),
		word(impl.Bytes()),
	)
	structHash := crypto.Keccak256(
		crypto.Keccak256([]byte("changeDailyQuota(address wallet,uint256 validUntil,uint256 newQuota)")),
		word(wallet.Bytes()),
		word(big.NewInt(9999999999).Bytes()),
		word(big.NewInt(100).Bytes()),
	)
	expected := crypto.Keccak256Hash([]byte{0x19, 0x01}, sep, structHash)

	got, err := Digest(domain, action, wallet, big.NewInt(9999999999))
	require.NoError(t, err)
	assert.Equal(t, expected, got)
	assert.Equal(t, common.BytesToHash(sep), domain.Separator())
}

func TestStructHashDynamicFields(t *testing.T) {
	action := Action{Method: "setData", Fields: []Field{
		{Name: "data", Type: "bytes", Value: []byte{1, 2}},
		{Name: "note", Type: "string", Value: "hi"},
	}}
	_, err := action.StructHash(common.Address{}, nil)
	require.NoError(t, err)

	bad := Action{Method: "setData", Fields: []Field{{Name: "data", Type: "bytes", Value: "not bytes"}}}
	_, err = bad.StructHash(common.Address{}, nil)
	assert.Error(t, err)

	arr := Action{Method: "setMany", Fields: []Field{{Name: "xs", Type: "uint256[]", Value: []*big.Int{}}}}
	_, err = arr.StructHash(common.Address{}, nil)
	assert.ErrorContains(t, err, "unsupported")
}

func TestBuildAndVerify(t *testing.T) {
	owner, guardian := newKeySigner(t), newKeySigner(t)
	wallet := common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6")
	domain := NewDomain(big.NewInt(1), common.HexToAddress("0x01"))
	action := Action{Method: "unlock"}

	a, digest, err := Build(context.Background(), domain, action, wallet, big.NewInt(0), owner, guardian)
	require.NoError(t, err)
	require.NoError(t, a.CheckOrder())
	require.NoError(t, a.VerifySignatures(digest))
	assert.ElementsMatch(t, []common.Address{owner.Address(), guardian.Address()}, a.Signers)

	tampered := *a
	tampered.Signatures = [][]byte{a.Signatures[1], a.Signatures[0]}
	assert.ErrorIs(t, tampered.VerifySignatures(digest), ErrSignatureInvalid)

	_, err = Recover(digest, []byte{1})
	assert.Error(t, err)
}

const testWalletABI = `[
	{"type":"function","name":"changeDailyQuota","inputs":[{"name":"newQuota","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"changeDailyQuotaWA","inputs":[{"name":"newQuota","type":"uint256"}],"outputs":[]}
]`

func TestActionFromCallData(t *testing.T) {
	walletABI, err := abi.JSON(strings.NewReader(testWalletABI))
	require.NoError(t, err)

	callData, err := walletABI.Pack("changeDailyQuotaWA", big.NewInt(100))
	require.NoError(t, err)
	assert.True(t, IsApprovedCall(&walletABI, callData))

	action, err := ActionFromCallData(&walletABI, callData)
	require.NoError(t, err)
	assert.Equal(t, "changeDailyQuota(address wallet,uint256 validUntil,uint256 newQuota)", action.TypeString())
	assert.Equal(t, big.NewInt(100), action.Fields[0].Value)

	plain, err := walletABI.Pack("changeDailyQuota", big.NewInt(100))
	require.NoError(t, err)
	assert.False(t, IsApprovedCall(&walletABI, plain))
	_, err = ActionFromCallData(&walletABI, plain)
	assert.Error(t, err)
}
