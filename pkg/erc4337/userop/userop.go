// Package userop holds the entry-point v0.6 user operation and the helpers
// needed to hash, copy and validate it.
package userop

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
)

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	packArgs = abi.Arguments{
		{Name: "sender", Type: addressT},
		{Name: "nonce", Type: uint256T},
		{Name: "initCode", Type: bytes32T},
		{Name: "callData", Type: bytes32T},
		{Name: "callGasLimit", Type: uint256T},
		{Name: "verificationGasLimit", Type: uint256T},
		{Name: "preVerificationGas", Type: uint256T},
		{Name: "maxFeePerGas", Type: uint256T},
		{Name: "maxPriorityFeePerGas", Type: uint256T},
		{Name: "paymasterAndData", Type: bytes32T},
	}

	hashArgs = abi.Arguments{
		{Type: bytes32T},
		{Type: addressT},
		{Type: uint256T},
	}

	validate = validator.New()

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	ErrInvalidPaymasterAndData = errors.New("paymasterAndData must be empty or start with a non-zero sponsor address")
	ErrZeroCallGasLimit        = errors.New("callGasLimit must be positive for a non-empty call")
)

// UserOperation is the entry-point v0.6 user operation. Every numeric field
// is a uint256 on chain.
type UserOperation struct {
	Sender               common.Address `json:"sender" validate:"required"`
	Nonce                *big.Int       `json:"nonce" validate:"required"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit" validate:"required"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit" validate:"required"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas" validate:"required"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas" validate:"required"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas" validate:"required"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

// PackForSignature ABI-encodes every field except the signature, with the
// dynamic byte fields replaced by their keccak256 hash.
func (op *UserOperation) PackForSignature() []byte {
	packed, err := packArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		orZero(op.PreVerificationGas),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		// only reachable with a negative or oversized integer; Validate rejects both
		panic(fmt.Errorf("cannot pack user operation: %w", err))
	}
	return packed
}

// GetUserOpHash returns the digest the wallet owner signs. It binds the
// operation to one entry point and one chain.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	packed, err := hashArgs.Pack(crypto.Keccak256Hash(op.PackForSignature()), entryPoint, orZero(chainID))
	if err != nil {
		panic(fmt.Errorf("cannot pack user operation hash: %w", err))
	}
	return crypto.Keccak256Hash(packed)
}

// PaymasterAddress returns the sponsor address encoded in PaymasterAndData,
// or the zero address when the wallet pays for itself.
func (op *UserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// HasPaymaster reports whether a sponsor pays for the operation.
func (op *UserOperation) HasPaymaster() bool {
	return op.PaymasterAddress() != (common.Address{})
}

// Copy returns a deep copy so that a signed operation can be altered
// without touching the original.
func (op *UserOperation) Copy() *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                cloneInt(op.Nonce),
		InitCode:             common.CopyBytes(op.InitCode),
		CallData:             common.CopyBytes(op.CallData),
		CallGasLimit:         cloneInt(op.CallGasLimit),
		VerificationGasLimit: cloneInt(op.VerificationGasLimit),
		PreVerificationGas:   cloneInt(op.PreVerificationGas),
		MaxFeePerGas:         cloneInt(op.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneInt(op.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(op.PaymasterAndData),
		Signature:            common.CopyBytes(op.Signature),
	}
}

// Validate checks the structural invariants of a fully filled operation.
func (op *UserOperation) Validate() error {
	if err := validate.Struct(op); err != nil {
		return fmt.Errorf("invalid user operation: %w", err)
	}

	fields := map[string]*big.Int{
		"nonce":                op.Nonce,
		"callGasLimit":         op.CallGasLimit,
		"verificationGasLimit": op.VerificationGasLimit,
		"preVerificationGas":   op.PreVerificationGas,
		"maxFeePerGas":         op.MaxFeePerGas,
		"maxPriorityFeePerGas": op.MaxPriorityFeePerGas,
	}
	for name, v := range fields {
		if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
			return fmt.Errorf("invalid user operation: %s %s is not a uint256", name, v)
		}
	}

	if len(op.CallData) > 0 && op.CallGasLimit.Sign() == 0 {
		return ErrZeroCallGasLimit
	}
	if len(op.PaymasterAndData) > 0 && !op.HasPaymaster() {
		return ErrInvalidPaymasterAndData
	}
	return nil
}

// Gas returns the total gas the operation may consume.
func (op *UserOperation) Gas() *big.Int {
	total := new(big.Int).Set(orZero(op.CallGasLimit))
	total.Add(total, orZero(op.VerificationGasLimit))
	return total.Add(total, orZero(op.PreVerificationGas))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
