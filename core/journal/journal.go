// Package journal keeps a durable log of every submission attempt, keyed
// per wallet and ordered by ULID.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"

	"github.com/AvaProtocol/userop-relay/storage"
)

type Status string

const (
	// StatusRejected: stopped before submission (pre-check, prefund or simulation).
	StatusRejected Status = "rejected"
	StatusIncluded Status = "included"
	// StatusReverted: included, validation passed, the batch reverted.
	StatusReverted Status = "reverted"
	// StatusFailed: submission or receipt wait failed.
	StatusFailed Status = "failed"
)

// Entry is one pipeline attempt.
type Entry struct {
	ID     string         `json:"id"`
	Wallet common.Address `json:"wallet"`
	Path   string         `json:"path"`
	Nonce  string         `json:"nonce"`
	Phase  string         `json:"phase"`

	UserOpHash   common.Hash    `json:"userOpHash"`
	Sponsor      common.Address `json:"sponsor,omitempty"`
	ApprovalHash common.Hash    `json:"approvalHash,omitempty"`

	RequiredPrefund string `json:"requiredPrefund,omitempty"`
	TopUp           string `json:"topUp,omitempty"`

	Status Status `json:"status"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`

	TxHash        common.Hash `json:"txHash,omitempty"`
	BlockNumber   uint64      `json:"blockNumber,omitempty"`
	GasUsed       string      `json:"gasUsed,omitempty"`
	ActualGasCost string      `json:"actualGasCost,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

type Journal struct {
	db storage.Storage
}

func New(db storage.Storage) *Journal {
	return &Journal{db: db}
}

func entryKey(wallet common.Address, id string) []byte {
	return []byte(fmt.Sprintf("j:w:%s:%s", strings.ToLower(wallet.Hex()), id))
}

func walletPrefix(wallet common.Address) []byte {
	return []byte(fmt.Sprintf("j:w:%s:", strings.ToLower(wallet.Hex())))
}

func opKey(hash common.Hash) []byte {
	return []byte("j:op:" + hash.Hex())
}

func approvalKey(hash common.Hash) []byte {
	return []byte("j:ap:" + hash.Hex())
}

func countKey(status Status) []byte {
	return []byte("j:count:" + string(status))
}

// Append stores e, assigning its ID and timestamp when unset.
func (j *Journal) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cannot encode journal entry: %w", err)
	}

	key := entryKey(e.Wallet, e.ID)
	updates := map[string][]byte{string(key): data}
	if e.UserOpHash != (common.Hash{}) {
		updates[string(opKey(e.UserOpHash))] = key
	}
	// only an included operation consumed its approval on chain
	if e.ApprovalHash != (common.Hash{}) && (e.Status == StatusIncluded || e.Status == StatusReverted) {
		updates[string(approvalKey(e.ApprovalHash))] = key
	}

	if err := j.db.BatchWrite(updates); err != nil {
		return fmt.Errorf("cannot write journal entry: %w", err)
	}
	if _, err := j.db.IncCounter(countKey(e.Status)); err != nil {
		return fmt.Errorf("cannot update journal counter: %w", err)
	}
	return nil
}

// List returns up to limit entries for wallet, newest first. A limit of 0
// returns everything.
func (j *Journal) List(wallet common.Address, limit int) ([]*Entry, error) {
	items, err := j.db.GetByPrefix(walletPrefix(wallet))
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var e Entry
		if err := json.Unmarshal(items[i].Value, &e); err != nil {
			return nil, fmt.Errorf("corrupted journal entry %s: %w", items[i].Key, err)
		}
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ByUserOpHash returns the latest attempt recorded for hash.
func (j *Journal) ByUserOpHash(hash common.Hash) (*Entry, error) {
	key, err := j.db.GetKey(opKey(hash))
	if err != nil {
		return nil, err
	}
	data, err := j.db.GetKey(key)
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupted journal entry %s: %w", key, err)
	}
	return &e, nil
}

// ApprovalSeen reports whether an included operation already carried the
// approval. The wallet stays authoritative; this only feeds warnings.
func (j *Journal) ApprovalSeen(hash common.Hash) (bool, error) {
	return j.db.Exist(approvalKey(hash))
}

func (j *Journal) Count(status Status) (uint64, error) {
	return j.db.GetCounter(countKey(status), 0)
}

// Size is the number of attempts recorded for wallet.
func (j *Journal) Size(wallet common.Address) (int64, error) {
	return j.db.CountKeysByPrefix(walletPrefix(wallet))
}

// Prune drops all but the newest keep attempts of wallet and returns how
// many were removed. Approval markers stay so replay warnings survive.
func (j *Journal) Prune(ctx context.Context, wallet common.Address, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("cannot keep %d entries", keep)
	}
	items, err := j.db.GetByPrefix(walletPrefix(wallet))
	if err != nil {
		return 0, err
	}
	if len(items) <= keep {
		return 0, nil
	}

	stale := items[:len(items)-keep]
	keys := make([][]byte, 0, 2*len(stale))
	for _, item := range stale {
		keys = append(keys, item.Key)

		var e Entry
		if err := json.Unmarshal(item.Value, &e); err != nil || e.UserOpHash == (common.Hash{}) {
			continue
		}
		// a later attempt with the same hash owns the index
		if ref, err := j.db.GetKey(opKey(e.UserOpHash)); err == nil && bytes.Equal(ref, item.Key) {
			keys = append(keys, opKey(e.UserOpHash))
		}
	}

	if err := j.db.Delete(keys...); err != nil {
		return 0, fmt.Errorf("cannot prune journal: %w", err)
	}
	if err := j.db.Vacuum(); err != nil {
		return len(stale), fmt.Errorf("journal pruned, value log gc failed: %w", err)
	}
	return len(stale), nil
}
