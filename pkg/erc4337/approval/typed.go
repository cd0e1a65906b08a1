package approval

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	DefaultDomainName    = "LoopringWallet"
	DefaultDomainVersion = "2.0.0"

	// suffix of wallet methods that take an approval instead of the owner nonce
	approvedMethodSuffix = "WA"
)

var domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

// Domain is the EIP-712 domain of the wallet implementation.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func NewDomain(chainID *big.Int, walletImpl common.Address) Domain {
	return Domain{
		Name:              DefaultDomainName,
		Version:           DefaultDomainVersion,
		ChainID:           chainID,
		VerifyingContract: walletImpl,
	}
}

func (d Domain) Separator() common.Hash {
	encoded, err := abi.Arguments{
		{Type: bytes32T}, {Type: bytes32T}, {Type: bytes32T}, {Type: uint256T}, {Type: addressT},
	}.Pack(
		domainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		nz(d.ChainID),
		d.VerifyingContract,
	)
	if err != nil {
		panic(fmt.Errorf("cannot encode domain: %w", err))
	}
	return crypto.Keccak256Hash(encoded)
}

// Field is one action argument after the implicit wallet and validUntil.
type Field struct {
	Name  string
	Type  string
	Value interface{}
}

// Action is the typed struct guardians sign, e.g.
// changeDailyQuota(address wallet,uint256 validUntil,uint256 newQuota).
type Action struct {
	Method string
	Fields []Field
}

func (a Action) TypeString() string {
	parts := []string{"address wallet", "uint256 validUntil"}
	for _, f := range a.Fields {
		parts = append(parts, f.Type+" "+f.Name)
	}
	return a.Method + "(" + strings.Join(parts, ",") + ")"
}

func (a Action) TypeHash() common.Hash {
	return crypto.Keccak256Hash([]byte(a.TypeString()))
}

// StructHash encodes the action the way EIP-712 hashStruct does. Dynamic
// bytes and string values are replaced by their keccak256 hash.
func (a Action) StructHash(wallet common.Address, validUntil *big.Int) (common.Hash, error) {
	args := abi.Arguments{{Type: bytes32T}, {Type: addressT}, {Type: uint256T}}
	values := []interface{}{a.TypeHash(), wallet, nz(validUntil)}

	for _, f := range a.Fields {
		switch f.Type {
		case "bytes":
			b, ok := f.Value.([]byte)
			if !ok {
				return common.Hash{}, fmt.Errorf("field %s: want []byte, got %T", f.Name, f.Value)
			}
			args = append(args, abi.Argument{Type: bytes32T})
			values = append(values, crypto.Keccak256Hash(b))
		case "string":
			s, ok := f.Value.(string)
			if !ok {
				return common.Hash{}, fmt.Errorf("field %s: want string, got %T", f.Name, f.Value)
			}
			args = append(args, abi.Argument{Type: bytes32T})
			values = append(values, crypto.Keccak256Hash([]byte(s)))
		default:
			t, err := abi.NewType(f.Type, "", nil)
			if err != nil {
				return common.Hash{}, fmt.Errorf("field %s: %w", f.Name, err)
			}
			if t.T == abi.SliceTy || t.T == abi.ArrayTy || t.T == abi.TupleTy {
				return common.Hash{}, fmt.Errorf("field %s: unsupported type %s", f.Name, f.Type)
			}
			args = append(args, abi.Argument{Type: t})
			values = append(values, f.Value)
		}
	}

	encoded, err := args.Pack(values...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot encode %s: %w", a.Method, err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Digest is the EIP-712 hash guardians sign and the wallet records once the
// approval is consumed.
func Digest(domain Domain, action Action, wallet common.Address, validUntil *big.Int) (common.Hash, error) {
	structHash, err := action.StructHash(wallet, validUntil)
	if err != nil {
		return common.Hash{}, err
	}
	sep := domain.Separator()
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, sep[:], structHash[:]), nil
}

// ActionFromCallData derives the typed action from the calldata of an
// approval method such as changeDailyQuotaWA(uint256).
func ActionFromCallData(walletABI *abi.ABI, callData []byte) (Action, error) {
	if len(callData) < 4 {
		return Action{}, fmt.Errorf("calldata too short")
	}
	method, err := walletABI.MethodById(callData[:4])
	if err != nil {
		return Action{}, err
	}
	if !strings.HasSuffix(method.RawName, approvedMethodSuffix) {
		return Action{}, fmt.Errorf("%s does not accept an approval", method.RawName)
	}

	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return Action{}, fmt.Errorf("cannot decode %s arguments: %w", method.RawName, err)
	}

	action := Action{Method: strings.TrimSuffix(method.RawName, approvedMethodSuffix)}
	for i, input := range method.Inputs {
		action.Fields = append(action.Fields, Field{Name: input.Name, Type: input.Type.String(), Value: values[i]})
	}
	return action, nil
}

// IsApprovedCall reports whether callData targets an approval method.
func IsApprovedCall(walletABI *abi.ABI, callData []byte) bool {
	if len(callData) < 4 {
		return false
	}
	method, err := walletABI.MethodById(callData[:4])
	return err == nil && strings.HasSuffix(method.RawName, approvedMethodSuffix)
}

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)
)

func nz(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
