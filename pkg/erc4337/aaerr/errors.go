// Package aaerr is the typed failure surface of the relay. Every error that
// leaves the submission pipeline can be inspected with KindOf or errors.Is.
package aaerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	// InvalidSequence: nonce path used with a nonce other than current+1.
	InvalidSequence
	// WalletLocked: nonce path attempted while the wallet is locked.
	WalletLocked
	// ReplayedApproval: the guardian approval hash was already consumed.
	ReplayedApproval
	// InsufficientPrefund: the payer deposit cannot cover the worst-case fee.
	InsufficientPrefund
	// SimulationRejected: validation failed for any other reason.
	SimulationRejected
	// NetworkFailure: transport level failure while talking to a node or bundler.
	NetworkFailure
	// ExecutionReverted: validation passed and the batch reverted on chain.
	ExecutionReverted
)

var kindNames = map[Kind]string{
	Unknown:             "Unknown",
	InvalidSequence:     "InvalidSequence",
	WalletLocked:        "WalletLocked",
	ReplayedApproval:    "ReplayedApproval",
	InsufficientPrefund: "InsufficientPrefund",
	SimulationRejected:  "SimulationRejected",
	NetworkFailure:      "NetworkFailure",
	ExecutionReverted:   "ExecutionReverted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retriable tells whether resubmitting the very same operation can succeed
// once the underlying condition clears.
func (k Kind) Retriable() bool {
	switch k {
	case InsufficientPrefund, NetworkFailure:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidSequence     = &Error{Kind: InvalidSequence}
	ErrWalletLocked        = &Error{Kind: WalletLocked}
	ErrReplayedApproval    = &Error{Kind: ReplayedApproval}
	ErrInsufficientPrefund = &Error{Kind: InsufficientPrefund}
	ErrSimulationRejected  = &Error{Kind: SimulationRejected}
	ErrNetworkFailure      = &Error{Kind: NetworkFailure}
	ErrExecutionReverted   = &Error{Kind: ExecutionReverted}
)

// Error carries a failure kind plus the human readable reason, verbatim
// from the chain when it came from a revert.
type Error struct {
	Kind    Kind
	Reason  string
	Details map[string]interface{}
	Err     error
}

func New(kind Kind, reason string, details ...map[string]interface{}) *Error {
	var detailsMap map[string]interface{}
	if len(details) > 0 {
		detailsMap = details[0]
	}
	return &Error{Kind: kind, Reason: reason, Details: detailsMap}
}

// Wrap attaches a kind to a lower level error.
func Wrap(kind Kind, err error, reason string) *Error {
	if reason == "" && err != nil {
		reason = err.Error()
	}
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Reason != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the exported sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// WithDetail returns e with one more detail entry.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// reason fragments emitted by the wallet and the entry point
var reasonKinds = []struct {
	fragment string
	kind     Kind
}{
	{"invalid nonce", InvalidSequence},
	{"AA25", InvalidSequence},
	{"wallet is locked", WalletLocked},
	{"HASH_EXIST", ReplayedApproval},
	{"AA21", InsufficientPrefund},
	{"AA31", InsufficientPrefund},
}

// Classify maps a revert reason string to its kind.
func Classify(reason string) Kind {
	for _, rk := range reasonKinds {
		if strings.Contains(reason, rk.fragment) {
			return rk.kind
		}
	}
	return SimulationRejected
}

// FromReason builds the typed error for a revert reason.
func FromReason(reason string) *Error {
	return New(Classify(reason), reason)
}
