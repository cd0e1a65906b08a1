package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the outcome of an included user operation.
type Receipt struct {
	UserOpHash common.Hash
	TxHash     common.Hash
	Sender     common.Address
	Paymaster  common.Address
	Nonce      *big.Int

	BlockNumber       uint64
	GasUsed           *big.Int
	EffectiveGasPrice *big.Int
	// ActualGasCost is what the entry point charged the payer's deposit.
	ActualGasCost *big.Int

	Success      bool
	RevertReason string
}
