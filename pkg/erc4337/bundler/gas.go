package bundler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type GasEstimation struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

func (g *GasEstimation) Values() (callGas, verificationGas, preVerificationGas *big.Int) {
	return g.CallGasLimit.ToInt(), g.VerificationGasLimit.ToInt(), g.PreVerificationGas.ToInt()
}
