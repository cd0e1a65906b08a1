// Package approval builds and encodes guardian approvals, the signature
// payload that lets a guardian majority act on a wallet without the owner
// nonce and even while the wallet is locked.
package approval

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/lo"
)

var (
	ErrEmpty            = errors.New("approval needs at least one signer")
	ErrLengthMismatch   = errors.New("signers and signatures differ in length")
	ErrDuplicateSigner  = errors.New("duplicate signer")
	ErrUnsortedSigners  = errors.New("signers are not strictly ascending")
	ErrSignatureInvalid = errors.New("signature does not recover to signer")
)

// Approval is the tuple the wallet decodes from the user operation
// signature. Field order matches the on-chain struct.
type Approval struct {
	Signers    []common.Address
	Signatures [][]byte
	ValidUntil *big.Int
	Wallet     common.Address
}

var approvalArgs abi.Arguments

func init() {
	tupleT, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "signers", Type: "address[]"},
		{Name: "signatures", Type: "bytes[]"},
		{Name: "validUntil", Type: "uint256"},
		{Name: "wallet", Type: "address"},
	})
	if err != nil {
		panic(fmt.Errorf("invalid approval tuple: %w", err))
	}
	approvalArgs = abi.Arguments{{Name: "approval", Type: tupleT}}
}

// SortSignersAndSignatures orders the pairs ascending by the numeric value
// of the signer address, keeping every signature next to its signer.
func SortSignersAndSignatures(signers []common.Address, signatures [][]byte) ([]common.Address, [][]byte, error) {
	if len(signers) == 0 {
		return nil, nil, ErrEmpty
	}
	if len(signers) != len(signatures) {
		return nil, nil, fmt.Errorf("%w: %d signers, %d signatures", ErrLengthMismatch, len(signers), len(signatures))
	}
	if dups := lo.FindDuplicates(signers); len(dups) > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, dups[0].Hex())
	}

	pairs := lo.Zip2(signers, signatures)
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].A.Bytes(), pairs[j].A.Bytes()) < 0
	})

	sortedSigners, sortedSignatures := lo.Unzip2(pairs)
	return sortedSigners, sortedSignatures, nil
}

// CheckOrder verifies the wire invariant: strictly ascending signers, one
// signature each.
func (a *Approval) CheckOrder() error {
	if len(a.Signers) == 0 {
		return ErrEmpty
	}
	if len(a.Signers) != len(a.Signatures) {
		return ErrLengthMismatch
	}
	for i := 1; i < len(a.Signers); i++ {
		if bytes.Compare(a.Signers[i-1].Bytes(), a.Signers[i].Bytes()) >= 0 {
			return fmt.Errorf("%w at index %d", ErrUnsortedSigners, i)
		}
	}
	return nil
}

// Encode serialises the approval as abi.encode(tuple(address[] signers,
// bytes[] signatures, uint256 validUntil, address wallet)).
func (a *Approval) Encode() ([]byte, error) {
	if err := a.CheckOrder(); err != nil {
		return nil, err
	}
	validUntil := a.ValidUntil
	if validUntil == nil {
		validUntil = new(big.Int)
	}
	return approvalArgs.Pack(Approval{
		Signers:    a.Signers,
		Signatures: a.Signatures,
		ValidUntil: validUntil,
		Wallet:     a.Wallet,
	})
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Approval, error) {
	values, err := approvalArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("cannot decode approval: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("cannot decode approval: got %d values", len(values))
	}
	a := abi.ConvertType(values[0], new(Approval)).(*Approval)
	return a, nil
}

// Hash is keccak256 of the encoding. The relay uses it as the local key of
// an approval; the wallet keys its replay set by the typed-data digest.
func (a *Approval) Hash() (common.Hash, error) {
	encoded, err := a.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}
