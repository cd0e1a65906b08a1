package approval

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashSigner signs a 32-byte digest as is, returning r || s || v with v in
// {27, 28}.
type HashSigner interface {
	Address() common.Address
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
}

// Build collects one signature per signer over the typed digest and returns
// the approval in wire order.
func Build(ctx context.Context, domain Domain, action Action, wallet common.Address, validUntil *big.Int, signers ...HashSigner) (*Approval, common.Hash, error) {
	digest, err := Digest(domain, action, wallet, validUntil)
	if err != nil {
		return nil, common.Hash{}, err
	}

	addrs := make([]common.Address, 0, len(signers))
	sigs := make([][]byte, 0, len(signers))
	for _, s := range signers {
		sig, err := s.SignHash(ctx, digest)
		if err != nil {
			return nil, common.Hash{}, fmt.Errorf("%s failed to sign approval: %w", s.Address().Hex(), err)
		}
		addrs = append(addrs, s.Address())
		sigs = append(sigs, sig)
	}

	sortedSigners, sortedSignatures, err := SortSignersAndSignatures(addrs, sigs)
	if err != nil {
		return nil, common.Hash{}, err
	}

	return &Approval{
		Signers:    sortedSigners,
		Signatures: sortedSignatures,
		ValidUntil: new(big.Int).Set(nz(validUntil)),
		Wallet:     wallet,
	}, digest, nil
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := common.CopyBytes(sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignatures checks wire order and that every signature recovers to
// the signer at the same index.
func (a *Approval) VerifySignatures(digest common.Hash) error {
	if err := a.CheckOrder(); err != nil {
		return err
	}
	for i, signer := range a.Signers {
		got, err := Recover(digest, a.Signatures[i])
		if err != nil {
			return fmt.Errorf("signature %d: %w", i, err)
		}
		if got != signer {
			return fmt.Errorf("%w: index %d expected %s, got %s", ErrSignatureInvalid, i, signer.Hex(), got.Hex())
		}
	}
	return nil
}
