package journal

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/storage"
)

func newJournal(t *testing.T) *Journal {
	db, err := storage.New(&storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestAppendAndListNewestFirst(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	wallet := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")

	entries := []*Entry{
		{Wallet: wallet, Nonce: "1", Status: StatusRejected, Kind: "InvalidSequence"},
		{Wallet: wallet, Nonce: "2", Status: StatusIncluded, UserOpHash: common.HexToHash("0xaa")},
		{Wallet: wallet, Nonce: "3", Status: StatusReverted, UserOpHash: common.HexToHash("0xbb")},
		{Wallet: other, Nonce: "1", Status: StatusIncluded},
	}
	for _, e := range entries {
		require.NoError(t, j.Append(ctx, e))
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}

	got, err := j.List(wallet, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Nonce)
	assert.Equal(t, "1", got[2].Nonce)

	got, err = j.List(wallet, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = j.List(other, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n, err := j.Count(StatusIncluded)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	n, err = j.Count(StatusFailed)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestByUserOpHash(t *testing.T) {
	j := newJournal(t)
	hash := common.HexToHash("0xcafe")

	require.NoError(t, j.Append(context.Background(), &Entry{
		Wallet:     common.HexToAddress("0x01"),
		UserOpHash: hash,
		Status:     StatusIncluded,
		GasUsed:    "21000",
	}))

	e, err := j.ByUserOpHash(hash)
	require.NoError(t, err)
	assert.Equal(t, "21000", e.GasUsed)

	_, err = j.ByUserOpHash(common.HexToHash("0x01"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApprovalSeenOnlyAfterInclusion(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	approvalHash := common.HexToHash("0xfeed")

	require.NoError(t, j.Append(ctx, &Entry{
		Wallet:       common.HexToAddress("0x01"),
		ApprovalHash: approvalHash,
		Status:       StatusRejected,
	}))
	seen, err := j.ApprovalSeen(approvalHash)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, j.Append(ctx, &Entry{
		Wallet:       common.HexToAddress("0x01"),
		ApprovalHash: approvalHash,
		Status:       StatusIncluded,
	}))
	seen, err = j.ApprovalSeen(approvalHash)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSizeAndPrune(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	wallet := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")
	approval := common.HexToHash("0xab")

	for i, hash := range []string{"0x11", "0x12", "0x13", "0x14"} {
		e := &Entry{Wallet: wallet, Nonce: fmt.Sprint(i + 1), Status: StatusIncluded, UserOpHash: common.HexToHash(hash)}
		if i == 0 {
			e.ApprovalHash = approval
		}
		require.NoError(t, j.Append(ctx, e))
	}
	require.NoError(t, j.Append(ctx, &Entry{Wallet: other, Status: StatusRejected}))

	n, err := j.Size(wallet)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	removed, err := j.Prune(ctx, wallet, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err := j.List(wallet, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "4", got[0].Nonce)
	assert.Equal(t, "3", got[1].Nonce)

	_, err = j.ByUserOpHash(common.HexToHash("0x11"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	kept, err := j.ByUserOpHash(common.HexToHash("0x13"))
	require.NoError(t, err)
	assert.Equal(t, "3", kept.Nonce)

	seen, err := j.ApprovalSeen(approval)
	require.NoError(t, err)
	assert.True(t, seen)

	n, err = j.Size(other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	removed, err = j.Prune(ctx, wallet, 5)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = j.Prune(ctx, wallet, -1)
	assert.Error(t, err)
}
