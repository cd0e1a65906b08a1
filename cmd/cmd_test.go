package cmd

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/storage"
)

func TestParseEther(t *testing.T) {
	v, err := parseEther("0.25")
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000", v.String())

	v, err = parseEther("2")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", v.String())

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := parseEther(bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildTxs(t *testing.T) {
	to := "0x00000000000000000000000000000000000000aa"

	txs, err := buildTxs([]string{to, to}, []string{"1"}, []string{"", "0xdeadbeef"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, common.HexToAddress(to), txs[0].To)
	assert.Equal(t, "1000000000000000000", txs[0].Value.String())
	assert.Nil(t, txs[0].Data)
	assert.Nil(t, txs[1].Value)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, txs[1].Data)

	_, err = buildTxs(nil, nil, nil)
	assert.Error(t, err)
	_, err = buildTxs([]string{"nope"}, nil, nil)
	assert.Error(t, err)
	_, err = buildTxs([]string{to}, []string{"1", "2"}, nil)
	assert.Error(t, err)
	_, err = buildTxs([]string{to}, nil, []string{"0xzz"})
	assert.Error(t, err)
}

func TestParseMethodArgs(t *testing.T) {
	name, values, err := parseMethodArgs("changeDailyQuotaWA", []string{"1000"})
	require.NoError(t, err)
	assert.Equal(t, "changeDailyQuotaWA", name)
	assert.Equal(t, big.NewInt(1000), values[0])

	_, values, err = parseMethodArgs("addGuardianWA", []string{"0x00000000000000000000000000000000000000bb"})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xbb"), values[0])

	_, values, err = parseMethodArgs("unlockWA", nil)
	require.NoError(t, err)
	assert.Empty(t, values)

	_, _, err = parseMethodArgs("unknownWA", nil)
	assert.Error(t, err)
	_, _, err = parseMethodArgs("changeDailyQuotaWA", nil)
	assert.Error(t, err)
	_, _, err = parseMethodArgs("changeDailyQuotaWA", []string{"-5"})
	assert.Error(t, err)
	_, _, err = parseMethodArgs("addGuardianWA", []string{"0x12"})
	assert.Error(t, err)
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "db")

	db, err := storage.NewWithPath(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.BatchWrite(map[string][]byte{"journal:x": []byte("entry")}))
	require.NoError(t, db.Close())

	file, err := performBackup(ctx, dbPath, t.TempDir())
	require.NoError(t, err)
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	restoredPath := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, performRestore(ctx, restoredPath, file))

	restored, err := storage.NewWithPath(restoredPath)
	require.NoError(t, err)
	defer restored.Close()
	v, err := restored.GetKey([]byte("journal:x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("entry"), v)
}

func TestStatusCommandSimulated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
wallet_address: "0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"
owner_private_key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
`), 0o600))

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"status", "--simulate", "--config", path})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Nonce:    0 (next 1)")
	assert.Contains(t, buf.String(), "Locked:   false")
	assert.Contains(t, buf.String(), "0 included")
	assert.Contains(t, buf.String(), "Kept:     0 entries")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "0.1.0")
}
