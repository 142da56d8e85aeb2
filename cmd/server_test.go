package cmd_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/cmd"
	"github.com/TEENet-io/watchwallet/common"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/TEENet-io/watchwallet/locker"
	"github.com/TEENet-io/watchwallet/scan"
)

func removeDB(file string) {
	os.Remove(file)
	os.Remove(file + "-wal")
	os.Remove(file + "-shm")
}

func TestParseDefaults(t *testing.T) {
	s, err := (&cmd.WalletServerConfig{DbFilePath: "wallet.db"}).Parse()
	require.NoError(t, err)

	assert.Equal(t, cmd.BLOCK_SOURCE_SIM, s.BlockSource)
	assert.Equal(t, scan.Continuous, s.Scan.Mode)
	assert.Equal(t, scan.DEFAULT_BATCH_SIZE, s.Scan.BatchSize)
	assert.Equal(t, scan.DEFAULT_REORG_CHECK_DEPTH, s.Scan.ReorgCheckDepth)
	assert.Equal(t, ledger.DEFAULT_CONFIRMATION_DEPTH, s.Ledger.ConfirmationDepth)
	assert.Equal(t, locker.DEFAULT_LOCK_TTL, s.LockTtl)
	assert.Equal(t, "regtest", s.Network.Name)
	assert.Equal(t, "0.0.0.0", s.HttpIp)
	assert.Equal(t, "8080", s.HttpPort)
}

func TestParseValues(t *testing.T) {
	s, err := (&cmd.WalletServerConfig{
		DbFilePath:         "wallet.db",
		BlockSource:        "http",
		BlockSourceUrl:     "http://127.0.0.1:9000",
		Network:            "testnet",
		ScanMode:           "partial",
		ScanBatchSize:      "50",
		ScanMaxBlocks:      "400",
		ScanPollInterval:   "5s",
		ReorgCheckInterval: "200",
		ReorgCheckDepth:    "20",
		ConfirmationDepth:  "3",
		LockTtl:            "120",
		UnlockerInterval:   "1m",
	}).Parse()
	require.NoError(t, err)

	assert.Equal(t, scan.Partial, s.Scan.Mode)
	assert.Equal(t, uint64(50), s.Scan.BatchSize)
	assert.Equal(t, uint64(400), s.Scan.MaxBlocks)
	assert.Equal(t, 5*time.Second, s.Scan.PollInterval)
	assert.Equal(t, uint64(200), s.Scan.ReorgCheckInterval)
	assert.Equal(t, 20, s.Scan.ReorgCheckDepth)
	assert.Equal(t, uint64(3), s.Ledger.ConfirmationDepth)
	assert.Equal(t, 2*time.Minute, s.LockTtl)
	assert.Equal(t, time.Minute, s.UnlockerInterval)
	assert.Equal(t, "testnet3", s.Network.Name)
}

func TestParseErrors(t *testing.T) {
	cases := []cmd.WalletServerConfig{
		{},
		{DbFilePath: "w.db", BlockSource: "rpc"},
		{DbFilePath: "w.db", BlockSource: "http"},
		{DbFilePath: "w.db", ScanMode: "sometimes"},
		{DbFilePath: "w.db", ScanBatchSize: "-1"},
		{DbFilePath: "w.db", LockTtl: "soon"},
	}
	for i := range cases {
		_, err := cases[i].Parse()
		assert.Error(t, err, "case %d", i)
	}
}

// A sim mode server scans a funded account to the tip and stops cleanly.
func TestWalletServerRun(t *testing.T) {
	file := common.RandDBFile()
	defer removeDB(file)

	s, err := (&cmd.WalletServerConfig{
		DbFilePath: file,
		ScanMode:   "full",
		HttpIp:     "127.0.0.1",
		HttpPort:   "0",
	}).Parse()
	require.NoError(t, err)

	ws, err := cmd.NewWalletServer(s)
	require.NoError(t, err)
	defer ws.Close()
	require.NotNil(t, ws.SimChain)

	ctx := context.Background()
	key, err := chainsource.NewViewKey()
	require.NoError(t, err)
	acct, err := ws.Ledger.CreateAccount(ctx, "main", key, 0)
	require.NoError(t, err)

	w := ledger.NewSimWallet(ws.Ledger, ws.SimChain)
	_, err = w.Pay(acct, 2_500)
	require.NoError(t, err)
	ws.SimChain.MineEmpty(10)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ws.Run(runCtx) }()

	require.Eventually(t, func() bool {
		bal, err := ws.Ledger.Balance(ctx, acct.ID, false)
		return err == nil && bal.Available == 2_500
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
