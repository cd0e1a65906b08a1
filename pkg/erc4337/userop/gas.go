package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Calldata pricing used to derive preVerificationGas, per the reference
// bundler: a fixed transaction cost shared by the bundle, a per-operation
// overhead and the calldata bytes of the packed operation.
const (
	PreVerificationFixed       = 21000
	PreVerificationPerUserOp   = 18300
	PreVerificationPerWord     = 4
	PreVerificationZeroByte    = 4
	PreVerificationNonZeroByte = 16
	PreVerificationBundleSize  = 1
	DummySignatureSize         = 65
)

var userOpArgs abi.Arguments

func init() {
	tupleT, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "callGasLimit", Type: "uint256"},
		{Name: "verificationGasLimit", Type: "uint256"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "maxFeePerGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint256"},
		{Name: "paymasterAndData", Type: "bytes"},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Errorf("invalid user operation tuple: %w", err))
	}
	userOpArgs = abi.Arguments{{Name: "userOp", Type: tupleT}}
}

// Pack ABI-encodes the whole operation as the entry point receives it.
func (op *UserOperation) Pack() ([]byte, error) {
	filled := op.Copy()
	for _, f := range []**big.Int{
		&filled.Nonce, &filled.CallGasLimit, &filled.VerificationGasLimit,
		&filled.PreVerificationGas, &filled.MaxFeePerGas, &filled.MaxPriorityFeePerGas,
	} {
		if *f == nil {
			*f = new(big.Int)
		}
	}
	filled.InitCode = nonNilBytes(filled.InitCode)
	filled.CallData = nonNilBytes(filled.CallData)
	filled.PaymasterAndData = nonNilBytes(filled.PaymasterAndData)
	filled.Signature = nonNilBytes(filled.Signature)
	return userOpArgs.Pack(*filled)
}

// CalcPreVerificationGas prices the calldata the operation adds to a
// handleOps transaction. The signature is replaced by a dummy of the final
// size so the value does not change once the operation is signed.
func CalcPreVerificationGas(op *UserOperation) (*big.Int, error) {
	p := op.Copy()
	p.PreVerificationGas = big.NewInt(PreVerificationFixed)
	p.Signature = make([]byte, DummySignatureSize)
	for i := range p.Signature {
		p.Signature[i] = 1
	}

	packed, err := p.Pack()
	if err != nil {
		return nil, fmt.Errorf("cannot pack user operation: %w", err)
	}

	var callDataCost uint64
	for _, b := range packed {
		if b == 0 {
			callDataCost += PreVerificationZeroByte
		} else {
			callDataCost += PreVerificationNonZeroByte
		}
	}
	words := uint64(len(packed)+31) / 32

	total := callDataCost + PreVerificationFixed/PreVerificationBundleSize + PreVerificationPerUserOp + PreVerificationPerWord*words
	return new(big.Int).SetUint64(total), nil
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
