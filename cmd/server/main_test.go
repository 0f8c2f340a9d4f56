package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upgradereg/internal/client"
	"upgradereg/internal/config"
	"upgradereg/internal/contract"
	"upgradereg/internal/logging"
)

type node struct {
	client *client.Client
	stop   func(t *testing.T)
}

func startNode(t *testing.T, cfg config.Config) *node {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logging.Discard()) }()

	c := client.NewClient("http://"+cfg.HTTP.Addr, nil)
	require.NoError(t, waitForReady(c, 10*time.Second))

	return &node{
		client: c,
		stop: func(t *testing.T) {
			t.Helper()
			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatalf("node did not stop")
			}
		},
	}
}

func waitForReady(c *client.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := c.Health(ctx)
		cancel()
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func testConfig(t *testing.T) config.Config {
	cfg := config.DefaultConfig()
	cfg.HTTP.Addr = freeAddr(t)
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Ledger.Accounts = 3
	cfg.Journal.DataDir = t.TempDir()
	cfg.RateLimit.RPS = 0
	return cfg
}

func TestRestartReplaysJournal(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	n := startNode(t, cfg)
	accts, err := n.client.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 3)
	owner := n.client.As(accts[0].Address)
	other := n.client.As(accts[1].Address)

	factory, err := owner.Deploy(ctx, contract.CodeFactory, 0)
	require.NoError(t, err)
	v1, err := owner.Current(ctx, factory)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = other.Call(ctx, v1, contract.MethodIncreaseCounter, 0)
		require.NoError(t, err)
	}
	require.NoError(t, other.Spend(ctx, v1.AsAccount(), 10))
	require.NoError(t, other.Spend(ctx, factory.AsAccount(), 10))
	v2, err := owner.Upgrade(ctx, factory, contract.CodeV2)
	require.NoError(t, err)
	n.stop(t)

	// Restart on the same data dir and port.
	n = startNode(t, cfg)
	defer n.stop(t)
	owner = n.client.As(accts[0].Address)

	current, err := owner.Current(ctx, factory)
	require.NoError(t, err)
	assert.Equal(t, v2, current)

	st, err := owner.State(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, contract.State{Counter: 2}, st)

	old, err := owner.State(ctx, v1)
	require.NoError(t, err)
	assert.True(t, old.Replaced)

	bal, err := owner.Balance(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), bal)

	// Deployments after replay continue the address sequence.
	next, err := owner.Deploy(ctx, contract.CodeV1, 0, uint64(0))
	require.NoError(t, err)
	assert.NotContains(t, []string{factory.String(), v1.String(), v2.String()}, next.String())
}

func TestInMemoryNodeStartsEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.DataDir = ""
	ctx := context.Background()

	n := startNode(t, cfg)
	accts, err := n.client.Accounts(ctx)
	require.NoError(t, err)
	owner := n.client.As(accts[0].Address)
	_, err = owner.Deploy(ctx, contract.CodeFactory, 0)
	require.NoError(t, err)
	n.stop(t)

	n = startNode(t, cfg)
	defer n.stop(t)
	accts, err = n.client.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.Ledger.GenesisBalance, accts[0].Balance)
}
