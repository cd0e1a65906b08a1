package preset

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/core/chainio/signer"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/approval"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// Phase is where an operation stands in the sign / re-sign protocol.
type Phase int

const (
	// PhaseUnsponsored: signed by the owner, no sponsor data. Terminal for
	// self-paid operations.
	PhaseUnsponsored Phase = iota
	// PhaseSponsoredPending: sponsor data attached, the outer signature no
	// longer matches the operation.
	PhaseSponsoredPending
	// PhaseSponsoredSigned: re-signed over the final operation.
	PhaseSponsoredSigned
)

func (p Phase) String() string {
	switch p {
	case PhaseUnsponsored:
		return "unsponsored"
	case PhaseSponsoredPending:
		return "sponsored-pending"
	case PhaseSponsoredSigned:
		return "sponsored-signed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var (
	ErrNotReady          = errors.New("operation is not ready for submission")
	ErrInvalidTransition = errors.New("invalid sign phase transition")
	ErrSignerMismatch    = errors.New("outer signature does not recover to the owner")
)

// SponsorOption asks a paymaster to pay gas in exchange for Token.
type SponsorOption struct {
	Sponsor    Sponsor
	Token      common.Address
	ValueOfEth *big.Int
	ValidUntil *big.Int
	// Authority signs the paymaster hash; it must be the key the paymaster trusts.
	Authority signer.Identity
}

// Signed is an operation together with its place in the protocol.
type Signed struct {
	Op    *userop.UserOperation
	Hash  common.Hash
	Phase Phase
	Path  authz.Path
	// ApprovalDigest is set on the approval path.
	ApprovalDigest common.Hash
}

// Ready is false only while sponsor data waits for the re-sign.
func (s *Signed) Ready() bool {
	return s != nil && s.Op != nil && s.Phase != PhaseSponsoredPending
}

// OpSigner produces owner signatures for one wallet in one scope.
type OpSigner struct {
	owner signer.Identity
	scope Scope
}

func NewOpSigner(owner signer.Identity, scope Scope) *OpSigner {
	return &OpSigner{owner: owner, scope: scope}
}

func (s *OpSigner) Scope() Scope {
	return s.scope
}

func (s *OpSigner) Owner() common.Address {
	return s.owner.Address()
}

// Sign is the first pass: hash the operation in scope and attach the owner
// EIP-191 signature.
func (s *OpSigner) Sign(ctx context.Context, op *userop.UserOperation) (*Signed, error) {
	signed := &Signed{Op: op.Copy(), Phase: PhaseUnsponsored, Path: authz.NoncePath}
	if err := s.sign(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// FillAndSign fills the unset fields of op and runs the first pass.
func (s *OpSigner) FillAndSign(ctx context.Context, op *userop.UserOperation, wallet Wallet, fees FeeOracle, defaults FillDefaults) (*Signed, error) {
	filled, err := FillUserOp(ctx, op, wallet, fees, defaults)
	if err != nil {
		return nil, err
	}
	return s.Sign(ctx, filled)
}

// AttachSponsor moves Unsponsored to SponsoredPending: the paymaster hash
// is fetched for the operation as it stands, signed by the sponsor
// authority and written into paymasterAndData.
func (s *OpSigner) AttachSponsor(ctx context.Context, signed *Signed, opt SponsorOption) error {
	if signed.Phase != PhaseUnsponsored || signed.Path != authz.NoncePath {
		return fmt.Errorf("%w: cannot sponsor a %s operation on the %s path", ErrInvalidTransition, signed.Phase, signed.Path)
	}
	if opt.Sponsor == nil || opt.Authority == nil {
		return fmt.Errorf("sponsor option needs a paymaster and a signing authority")
	}

	// getHash leaves paymasterAndData out; the signature is never hashed
	query := signed.Op.Copy()
	query.PaymasterAndData = nil
	query.Signature = nil

	hash, err := opt.Sponsor.GetHash(ctx, query, opt.Token, nz(opt.ValueOfEth))
	if err != nil {
		return fmt.Errorf("cannot fetch paymaster hash: %w", err)
	}

	sponsorSig, err := opt.Authority.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return fmt.Errorf("sponsor authority failed to sign: %w", err)
	}

	pmd, err := userop.EncodePaymasterAndData(opt.Sponsor.Address(), opt.Token, opt.ValueOfEth, opt.ValidUntil, sponsorSig)
	if err != nil {
		return err
	}

	signed.Op.PaymasterAndData = pmd
	signed.Phase = PhaseSponsoredPending
	return nil
}

// Resign moves SponsoredPending to SponsoredSigned.
func (s *OpSigner) Resign(ctx context.Context, signed *Signed) error {
	if signed.Phase != PhaseSponsoredPending {
		return fmt.Errorf("%w: resign from %s", ErrInvalidTransition, signed.Phase)
	}
	if err := s.sign(ctx, signed); err != nil {
		return err
	}
	signed.Phase = PhaseSponsoredSigned
	return nil
}

// Sponsor runs AttachSponsor then Resign.
func (s *OpSigner) Sponsor(ctx context.Context, signed *Signed, opt SponsorOption) error {
	if err := s.AttachSponsor(ctx, signed, opt); err != nil {
		return err
	}
	return s.Resign(ctx, signed)
}

// Verify recomputes the hash of the operation as it is now and checks the
// outer signature recovers to the owner. Approval-path operations carry no
// owner signature and only get the hash check.
func (s *OpSigner) Verify(signed *Signed) error {
	if !signed.Ready() {
		return fmt.Errorf("%w: phase %s", ErrNotReady, signed.Phase)
	}

	hash := signed.Op.GetUserOpHash(s.scope.EntryPoint, s.scope.ChainID)
	if hash != signed.Hash {
		return fmt.Errorf("%w: operation changed after signing", ErrNotReady)
	}
	if signed.Path == authz.ApprovalPath {
		return nil
	}

	got, err := signer.RecoverMessage(hash.Bytes(), signed.Op.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerMismatch, err)
	}
	if got != s.owner.Address() {
		return fmt.Errorf("%w: got %s", ErrSignerMismatch, got.Hex())
	}
	return nil
}

func (s *OpSigner) sign(ctx context.Context, signed *Signed) error {
	hash := signed.Op.GetUserOpHash(s.scope.EntryPoint, s.scope.ChainID)
	sig, err := s.owner.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return fmt.Errorf("owner failed to sign user operation: %w", err)
	}
	signed.Op.Signature = sig
	signed.Hash = hash
	return nil
}

// WithApproval turns op into an approval-path operation: nonce 0 and the
// encoded guardian approval as signature. The approval replaces the owner
// signature, so no sponsor can be attached afterwards.
func WithApproval(op *userop.UserOperation, a *approval.Approval, digest common.Hash, scope Scope) (*Signed, error) {
	if err := a.CheckOrder(); err != nil {
		return nil, err
	}
	encoded, err := a.Encode()
	if err != nil {
		return nil, err
	}

	out := op.Copy()
	out.Nonce = new(big.Int)
	out.Signature = encoded

	return &Signed{
		Op:             out,
		Hash:           out.GetUserOpHash(scope.EntryPoint, scope.ChainID),
		Phase:          PhaseUnsponsored,
		Path:           authz.ApprovalPath,
		ApprovalDigest: digest,
	}, nil
}

func nz(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
