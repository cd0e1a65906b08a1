package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	eip191Prefix = "\x19Ethereum Signed Message:\n"
)

// Identity is anything that can sign for an address: a wallet owner, a
// guardian or a sponsor's signing authority.
type Identity interface {
	Address() common.Address
	// SignHash signs the digest as is.
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
	// SignMessage signs the EIP-191 personal message digest of data.
	SignMessage(ctx context.Context, data []byte) ([]byte, error)
}

func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	return crypto.HexToECDSA(privateKeyHex)
}

func FromPrivateKeyHex(privateKeyHex string, chainID *big.Int) (*bind.TransactOpts, error) {
	privateKey, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	return bind.NewKeyedTransactorWithChainID(privateKey, chainID)
}

// PersonalHash is keccak256("\x19Ethereum Signed Message:\n" + len(data) + data)
func PersonalHash(data []byte) common.Hash {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	return crypto.Keccak256Hash(prefix, data)
}

// Generate EIP191 signature
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	return SignHash(key, PersonalHash(data))
}

func SignMessageAsHex(key *ecdsa.PrivateKey, data []byte) (string, error) {
	signature, e := SignMessage(key, data)
	if e == nil {
		return common.Bytes2Hex(signature), nil
	}

	return "", e
}

// SignHash signs a raw digest, returning v as 27/28.
func SignHash(key *ecdsa.PrivateKey, hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, err
	}
	// https://stackoverflow.com/questions/69762108/implementing-ethereum-personal-sign-eip-191-from-go-ethereum-gives-different-s
	sig[64] += 27
	return sig, nil
}

// RecoverMessage returns the signer of an EIP-191 signature over data.
func RecoverMessage(data, sig []byte) (common.Address, error) {
	return RecoverHash(PersonalHash(data), sig)
}

func RecoverHash(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	normalized := common.CopyBytes(sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// LocalIdentity signs with an in-process private key.
type LocalIdentity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewLocalIdentity(key *ecdsa.PrivateKey) *LocalIdentity {
	return &LocalIdentity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func LocalIdentityFromHex(privateKeyHex string) (*LocalIdentity, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewLocalIdentity(key), nil
}

func (l *LocalIdentity) Address() common.Address {
	return l.address
}

func (l *LocalIdentity) SignHash(_ context.Context, hash common.Hash) ([]byte, error) {
	return SignHash(l.key, hash)
}

func (l *LocalIdentity) SignMessage(_ context.Context, data []byte) ([]byte, error) {
	return SignMessage(l.key, data)
}

// PrivateKey is exposed for building transactors.
func (l *LocalIdentity) PrivateKey() *ecdsa.PrivateKey {
	return l.key
}
