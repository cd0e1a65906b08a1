package aa

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const userOpTuple = `{"name":"userOp","type":"tuple","components":[
	{"name":"sender","type":"address"},
	{"name":"nonce","type":"uint256"},
	{"name":"initCode","type":"bytes"},
	{"name":"callData","type":"bytes"},
	{"name":"callGasLimit","type":"uint256"},
	{"name":"verificationGasLimit","type":"uint256"},
	{"name":"preVerificationGas","type":"uint256"},
	{"name":"maxFeePerGas","type":"uint256"},
	{"name":"maxPriorityFeePerGas","type":"uint256"},
	{"name":"paymasterAndData","type":"bytes"},
	{"name":"signature","type":"bytes"}]}`

// EntryPointABI is the subset of the v0.6 entry point the relay calls.
var EntryPointABI = `[
	{"type":"function","name":"depositTo","stateMutability":"payable","inputs":[{"name":"account","type":"address"}],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"simulateValidation","stateMutability":"nonpayable","inputs":[` + userOpTuple + `],"outputs":[]},
	{"type":"function","name":"getUserOpHash","stateMutability":"view","inputs":[` + userOpTuple + `],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"handleOps","stateMutability":"nonpayable","inputs":[
		{"name":"ops","type":"tuple[]","components":[
			{"name":"sender","type":"address"},
			{"name":"nonce","type":"uint256"},
			{"name":"initCode","type":"bytes"},
			{"name":"callData","type":"bytes"},
			{"name":"callGasLimit","type":"uint256"},
			{"name":"verificationGasLimit","type":"uint256"},
			{"name":"preVerificationGas","type":"uint256"},
			{"name":"maxFeePerGas","type":"uint256"},
			{"name":"maxPriorityFeePerGas","type":"uint256"},
			{"name":"paymasterAndData","type":"bytes"},
			{"name":"signature","type":"bytes"}]},
		{"name":"beneficiary","type":"address"}],"outputs":[]},
	{"type":"event","name":"UserOperationEvent","anonymous":false,"inputs":[
		{"name":"userOpHash","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"paymaster","type":"address","indexed":true},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"success","type":"bool","indexed":false},
		{"name":"actualGasCost","type":"uint256","indexed":false},
		{"name":"actualGasUsed","type":"uint256","indexed":false}]},
	{"type":"event","name":"UserOperationRevertReason","anonymous":false,"inputs":[
		{"name":"userOpHash","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"revertReason","type":"bytes","indexed":false}]}
]`

// SmartWalletABI covers the guardian-governed wallet: owner methods, the
// approval (WA) variants and the entry point deposit helpers.
var SmartWalletABI = `[
	{"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isLocked","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getDeposit","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"addDeposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"withdrawDepositTo","stateMutability":"nonpayable","inputs":[{"name":"withdrawAddress","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"lock","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"unlockWA","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"changeDailyQuota","stateMutability":"nonpayable","inputs":[{"name":"newQuota","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"changeDailyQuotaWA","stateMutability":"nonpayable","inputs":[{"name":"newQuota","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"addGuardian","stateMutability":"nonpayable","inputs":[{"name":"guardian","type":"address"}],"outputs":[]},
	{"type":"function","name":"addGuardianWA","stateMutability":"nonpayable","inputs":[{"name":"guardian","type":"address"}],"outputs":[]}
]`

// PaymasterABI is the token paymaster hash helper.
var PaymasterABI = `[
	{"type":"function","name":"getHash","stateMutability":"view","inputs":[` + userOpTuple + `,{"name":"token","type":"address"},{"name":"valueOfEth","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]}
]`

var ERC20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	entryPointABI = mustParse("entry point", EntryPointABI)
	walletABI     = mustParse("smart wallet", SmartWalletABI)
	paymasterABI  = mustParse("paymaster", PaymasterABI)
	erc20ABI      = mustParse("erc20", ERC20ABI)
)

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("Invalid %s ABI: %w", name, err))
	}
	return parsed
}

// WalletABI returns the parsed smart wallet ABI.
func WalletABI() *abi.ABI {
	return &walletABI
}

// TokenABI returns the parsed ERC-20 ABI.
func TokenABI() *abi.ABI {
	return &erc20ABI
}
