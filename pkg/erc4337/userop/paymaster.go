package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	bytesT, _ = abi.NewType("bytes", "", nil)

	sponsorDataArgs = abi.Arguments{
		{Name: "token", Type: addressT},
		{Name: "valueOfEth", Type: uint256T},
		{Name: "validUntil", Type: uint256T},
		{Name: "signature", Type: bytesT},
	}

	paymasterHashArgs = abi.Arguments{
		{Type: bytes32T},
		{Type: uint256T},
		{Type: addressT},
		{Type: addressT},
		{Type: uint256T},
	}
)

// SponsorData is the decoded paymasterAndData of a token paymaster.
type SponsorData struct {
	Paymaster  common.Address
	Token      common.Address
	ValueOfEth *big.Int
	ValidUntil *big.Int
	Signature  []byte
}

// EncodePaymasterAndData builds
// paymaster || abi.encode(token, valueOfEth, validUntil, signature).
func EncodePaymasterAndData(paymaster, token common.Address, valueOfEth, validUntil *big.Int, signature []byte) ([]byte, error) {
	if paymaster == (common.Address{}) {
		return nil, ErrInvalidPaymasterAndData
	}
	if signature == nil {
		signature = []byte{}
	}
	data, err := sponsorDataArgs.Pack(token, orZero(valueOfEth), orZero(validUntil), signature)
	if err != nil {
		return nil, fmt.Errorf("cannot encode sponsor data: %w", err)
	}
	return append(paymaster.Bytes(), data...), nil
}

func DecodePaymasterAndData(pmd []byte) (*SponsorData, error) {
	if len(pmd) < common.AddressLength {
		return nil, ErrInvalidPaymasterAndData
	}
	values, err := sponsorDataArgs.Unpack(pmd[common.AddressLength:])
	if err != nil {
		return nil, fmt.Errorf("cannot decode sponsor data: %w", err)
	}
	return &SponsorData{
		Paymaster:  common.BytesToAddress(pmd[:common.AddressLength]),
		Token:      values[0].(common.Address),
		ValueOfEth: values[1].(*big.Int),
		ValidUntil: values[2].(*big.Int),
		Signature:  values[3].([]byte),
	}, nil
}

// PaymasterHash is what the token paymaster getHash returns: the operation
// without paymasterAndData and signature, bound to the chain, the paymaster
// and the exchange rate.
func (op *UserOperation) PaymasterHash(chainID *big.Int, paymaster, token common.Address, valueOfEth *big.Int) common.Hash {
	query := op.Copy()
	query.PaymasterAndData = nil
	query.Signature = nil

	packed, err := paymasterHashArgs.Pack(
		crypto.Keccak256Hash(query.PackForSignature()),
		orZero(chainID),
		paymaster,
		token,
		orZero(valueOfEth),
	)
	if err != nil {
		panic(fmt.Errorf("cannot pack paymaster hash: %w", err))
	}
	return crypto.Keccak256Hash(packed)
}
