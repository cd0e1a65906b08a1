package testutil

import (
	"context"
	"fmt"
	"math/big"
	"os"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/userop-relay/core/chainio/signer"
	"github.com/AvaProtocol/userop-relay/core/chainsim"
	"github.com/AvaProtocol/userop-relay/storage"
)

// Shortcut to initialize a storage at a temp path, panic if we cannot create db
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "relaytest")
	if err != nil {
		panic(err)
	}

	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

// Identity returns a deterministic key for name, so tests can refer to
// "owner" or "guardian-1" without shipping key material.
func Identity(name string) *signer.LocalIdentity {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("userop-relay/test/" + name)))
	if err != nil {
		panic(fmt.Errorf("cannot derive test key %s: %w", name, err))
	}
	return signer.NewLocalIdentity(key)
}

func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// SimWallet is a wallet deployed on an in-memory chain together with the
// actors the scenarios need.
type SimWallet struct {
	Chain     *chainsim.Chain
	Owner     *signer.LocalIdentity
	Guardians []*signer.LocalIdentity
	Funder    *signer.LocalIdentity
	Wallet    *chainsim.Wallet
}

// NewSimWallet deploys a wallet owned by "owner" with guardians
// "guardian-1".."guardian-n" and funds "funder" with 100 ether.
func NewSimWallet(guardians int, opts ...chainsim.Option) *SimWallet {
	chain := chainsim.New(opts...)
	sw := &SimWallet{
		Chain:  chain,
		Owner:  Identity("owner"),
		Funder: Identity("funder"),
	}
	for i := 1; i <= guardians; i++ {
		sw.Guardians = append(sw.Guardians, Identity(fmt.Sprintf("guardian-%d", i)))
	}

	addrs := make([]common.Address, 0, len(sw.Guardians))
	for _, g := range sw.Guardians {
		addrs = append(addrs, g.Address())
	}
	sw.Wallet = chain.Wallet(chain.DeployWallet(sw.Owner.Address(), addrs...))
	chain.Fund(sw.Funder.Address(), Ether(100))
	return sw
}

// FundDeposit puts amount into the wallet deposit from the funder.
func (sw *SimWallet) FundDeposit(amount *big.Int) {
	if err := sw.Wallet.AddDeposit(context.Background(), sw.Funder.Address(), amount); err != nil {
		panic(err)
	}
}
