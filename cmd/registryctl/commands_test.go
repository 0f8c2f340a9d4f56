package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upgradereg/internal/api"
	"upgradereg/internal/contract"
	"upgradereg/internal/keyring"
	"upgradereg/internal/ledger"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func startNode(t *testing.T) (string, []string) {
	t.Helper()
	kr, err := keyring.Derive(testMnemonic, 2)
	require.NoError(t, err)
	l := ledger.New(ledger.Genesis{Accounts: kr.Addresses(), Balance: 1000}, ledger.Options{})
	srv := httptest.NewServer(api.NewServer(api.Options{Backend: l}))
	t.Cleanup(srv.Close)

	var accts []string
	for _, a := range kr.Addresses() {
		accts = append(accts, a.String())
	}
	return srv.URL, accts
}

func runCtl(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", url}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestUpgradeFlow(t *testing.T) {
	url, accts := startNode(t)
	owner, other := accts[0], accts[1]

	out, err := runCtl(t, url, "--caller", owner, "deploy", contract.CodeFactory)
	require.NoError(t, err)
	factory := decode[map[string]string](t, out)["address"]
	require.True(t, strings.HasPrefix(factory, "ct_"), factory)

	out, err = runCtl(t, url, "call", "--caller", other, factory, contract.MethodGetContract)
	require.NoError(t, err)
	v1 := decode[string](t, out)

	_, err = runCtl(t, url, "--caller", other, "call", v1, contract.MethodIncreaseCounter)
	require.NoError(t, err)

	_, err = runCtl(t, url, "--caller", other, "upgrade", factory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_owner")

	out, err = runCtl(t, url, "--caller", owner, "upgrade", factory)
	require.NoError(t, err)
	res := decode[struct {
		Current string         `json:"current"`
		State   contract.State `json:"state"`
	}](t, out)
	assert.NotEqual(t, v1, res.Current)
	assert.Equal(t, contract.State{Counter: 1}, res.State)

	out, err = runCtl(t, url, "--caller", other, "call", v1, contract.MethodGetState)
	require.NoError(t, err)
	assert.True(t, decode[contract.State](t, out).Replaced)
}

func TestSpendAndBalance(t *testing.T) {
	url, accts := startNode(t)

	out, err := runCtl(t, url, "--caller", accts[0], "spend", accts[1], "25")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, err = runCtl(t, url, "balance", accts[1])
	require.NoError(t, err)
	assert.Equal(t, float64(1025), decode[map[string]any](t, out)["balance"])

	_, err = runCtl(t, url, "--caller", accts[0], "spend", accts[1], "lots")
	assert.Error(t, err)
}

func TestDeployWithArgsAndAmount(t *testing.T) {
	url, accts := startNode(t)

	out, err := runCtl(t, url, "--caller", accts[0], "deploy", "--amount", "7", contract.CodeV2, "5")
	require.NoError(t, err)
	inst := decode[map[string]string](t, out)["address"]

	out, err = runCtl(t, url, "contract", inst)
	require.NoError(t, err)
	info := decode[ledger.ContractInfo](t, out)
	assert.Equal(t, contract.CodeV2, info.Code)
	assert.Equal(t, uint64(7), info.Balance)

	out, err = runCtl(t, url, "--caller", accts[0], "call", inst, contract.MethodGetState)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), decode[contract.State](t, out).Counter)
}

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"12", `"quoted"`, "ct_bare", "{\"counter\":1}"})
	require.Len(t, got, 4)
	assert.Equal(t, json.RawMessage("12"), got[0])
	assert.Equal(t, json.RawMessage(`"quoted"`), got[1])
	assert.Equal(t, "ct_bare", got[2])
	assert.Equal(t, json.RawMessage(`{"counter":1}`), got[3])
}
