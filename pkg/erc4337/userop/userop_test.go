package userop

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"),
		Nonce:                big.NewInt(1),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(126880),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(45000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}
}

func TestGetUserOpHashMatchesManualEncoding(t *testing.T) {
	op := sampleOp()
	chainID := big.NewInt(1337)

	word := func(b []byte) []byte { return common.LeftPadBytes(b, 32) }
	var packed []byte
	packed = append(packed, word(op.Sender.Bytes())...)
	packed = append(packed, word(op.Nonce.Bytes())...)
	packed = append(packed, crypto.Keccak256(op.InitCode)...)
	packed = append(packed, crypto.Keccak256(op.CallData)...)
	packed = append(packed, word(op.CallGasLimit.Bytes())...)
	packed = append(packed, word(op.VerificationGasLimit.Bytes())...)
	packed = append(packed, word(op.PreVerificationGas.Bytes())...)
	packed = append(packed, word(op.MaxFeePerGas.Bytes())...)
	packed = append(packed, word(op.MaxPriorityFeePerGas.Bytes())...)
	packed = append(packed, crypto.Keccak256(op.PaymasterAndData)...)
	require.Equal(t, packed, op.PackForSignature())

	expected := crypto.Keccak256Hash(
		crypto.Keccak256(packed),
		word(entryPoint.Bytes()),
		word(chainID.Bytes()),
	)
	assert.Equal(t, expected, op.GetUserOpHash(entryPoint, chainID))
}

func TestGetUserOpHashBinding(t *testing.T) {
	op := sampleOp()
	base := op.GetUserOpHash(entryPoint, big.NewInt(1))

	t.Run("signature is not part of the digest", func(t *testing.T) {
		signed := op.Copy()
		signed.Signature = []byte{1, 2, 3}
		assert.Equal(t, base, signed.GetUserOpHash(entryPoint, big.NewInt(1)))
	})

	t.Run("paymasterAndData changes the digest", func(t *testing.T) {
		sponsored := op.Copy()
		sponsored.PaymasterAndData = common.HexToAddress("0xB985af5f96EF2722DC99aEBA573520903B86505e").Bytes()
		assert.NotEqual(t, base, sponsored.GetUserOpHash(entryPoint, big.NewInt(1)))
	})

	t.Run("chain and entry point are bound", func(t *testing.T) {
		assert.NotEqual(t, base, op.GetUserOpHash(entryPoint, big.NewInt(2)))
		assert.NotEqual(t, base, op.GetUserOpHash(common.HexToAddress("0x01"), big.NewInt(1)))
	})
}

func TestCopyIsDeep(t *testing.T) {
	op := sampleOp()
	op.PaymasterAndData = []byte{0xaa}
	cp := op.Copy()

	cp.Nonce.SetInt64(99)
	cp.CallData[0] = 0x00
	cp.PaymasterAndData[0] = 0xbb

	assert.Equal(t, int64(1), op.Nonce.Int64())
	assert.Equal(t, byte(0xb6), op.CallData[0])
	assert.Equal(t, byte(0xaa), op.PaymasterAndData[0])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(op *UserOperation)
		wantErr string
	}{
		{name: "valid", mutate: func(op *UserOperation) {}},
		{name: "missing sender", mutate: func(op *UserOperation) { op.Sender = common.Address{} }, wantErr: "Sender"},
		{name: "missing fee", mutate: func(op *UserOperation) { op.MaxFeePerGas = nil }, wantErr: "MaxFeePerGas"},
		{name: "negative gas", mutate: func(op *UserOperation) { op.PreVerificationGas = big.NewInt(-1) }, wantErr: "preVerificationGas"},
		{name: "zero call gas", mutate: func(op *UserOperation) { op.CallGasLimit = big.NewInt(0) }, wantErr: ErrZeroCallGasLimit.Error()},
		{name: "short paymaster", mutate: func(op *UserOperation) { op.PaymasterAndData = []byte{1, 2} }, wantErr: ErrInvalidPaymasterAndData.Error()},
		{name: "zero paymaster", mutate: func(op *UserOperation) { op.PaymasterAndData = make([]byte, 40) }, wantErr: ErrInvalidPaymasterAndData.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := sampleOp()
			tt.mutate(op)
			err := op.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJSONUsesHexEncoding(t *testing.T) {
	op := sampleOp()
	out, err := json.Marshal(op)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.Contains(s, `"nonce":"0x1"`), s)
	assert.True(t, strings.Contains(s, `"callGasLimit":"0x1efa0"`), s)
	assert.True(t, strings.Contains(s, `"paymasterAndData":"0x"`), s)

	var decoded UserOperation
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, op.GetUserOpHash(entryPoint, big.NewInt(5)), decoded.GetUserOpHash(entryPoint, big.NewInt(5)))
}

func TestGas(t *testing.T) {
	assert.Equal(t, big.NewInt(126880+100000+45000), sampleOp().Gas())
}
