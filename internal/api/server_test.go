package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upgradereg/internal/address"
	"upgradereg/internal/api"
	"upgradereg/internal/client"
	"upgradereg/internal/contract"
	"upgradereg/internal/keyring"
	"upgradereg/internal/ledger"
	"upgradereg/internal/metrics"
	"upgradereg/internal/ratelimiter"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type harness struct {
	srv   *httptest.Server
	base  *client.Client
	owner *client.Client
	p1    *client.Client
	p2    *client.Client
}

func newHarness(t *testing.T, limiter *ratelimiter.MapLimiter) *harness {
	t.Helper()
	kr, err := keyring.Derive(testMnemonic, 3)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	l := ledger.New(ledger.Genesis{Accounts: kr.Addresses(), Balance: 1_000_000}, ledger.Options{
		Recorder: metrics.NewLedger(reg),
	})
	srv := httptest.NewServer(api.NewServer(api.Options{
		Backend: l,
		Limiter: limiter,
		Metrics: metrics.Handler(reg),
	}))
	t.Cleanup(srv.Close)

	base := client.NewClient(srv.URL, srv.Client())
	accts := kr.Addresses()
	return &harness{
		srv:   srv,
		base:  base,
		owner: base.As(accts[0]),
		p1:    base.As(accts[1]),
		p2:    base.As(accts[2]),
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireKind(t *testing.T, err error, status int, kind string) {
	t.Helper()
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, status, apiErr.StatusCode)
	assert.Equal(t, kind, apiErr.Kind)
}

func (h *harness) bootstrap(t *testing.T, ctx context.Context) (address.Address, address.Address) {
	t.Helper()
	factory, err := h.owner.Deploy(ctx, contract.CodeFactory, 0)
	require.NoError(t, err)
	current, err := h.owner.Current(ctx, factory)
	require.NoError(t, err)
	return factory, current
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.base.Health(testContext(t)))
}

func TestAccountsAreFundedAtGenesis(t *testing.T) {
	h := newHarness(t, nil)
	accts, err := h.base.Accounts(testContext(t))
	require.NoError(t, err)
	require.Len(t, accts, 3)
	for _, a := range accts {
		assert.Equal(t, uint64(1_000_000), a.Balance)
	}

	codes, err := h.base.Codes(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []string{contract.CodeFactory, contract.CodeV1, contract.CodeV2}, codes)
}

func TestBootstrapAndIncreaseOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testContext(t)
	_, v1 := h.bootstrap(t, ctx)

	version, err := h.p1.Version(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, "v1", version)

	st, err := h.p1.State(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, contract.State{Counter: 0, Replaced: false}, st)

	_, err = h.p1.Call(ctx, v1, contract.MethodIncreaseCounter, 0)
	require.NoError(t, err)
	st, err = h.p1.State(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, contract.State{Counter: 1, Replaced: false}, st)
}

func TestUpgradeLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testContext(t)
	factory, v1 := h.bootstrap(t, ctx)

	for i := 0; i < 2; i++ {
		_, err := h.p1.Call(ctx, v1, contract.MethodIncreaseCounter, 0)
		require.NoError(t, err)
	}
	require.NoError(t, h.p2.Spend(ctx, v1.AsAccount(), 10))
	require.NoError(t, h.p2.Spend(ctx, factory.AsAccount(), 10))

	// a non-owner cannot hand over the registration
	v2, err := h.owner.Deploy(ctx, contract.CodeV2, 0, uint64(0), factory)
	require.NoError(t, err)
	_, err = h.p1.Call(ctx, factory, contract.MethodChangeContract, 0, v2)
	requireKind(t, err, http.StatusForbidden, "not_owner")
	current, err := h.p1.Current(ctx, factory)
	require.NoError(t, err)
	assert.Equal(t, v1, current)

	_, err = h.owner.Call(ctx, factory, contract.MethodChangeContract, 0, v2)
	require.NoError(t, err)

	current, err = h.p1.Current(ctx, factory)
	require.NoError(t, err)
	assert.Equal(t, v2, current)

	old, err := h.p1.State(ctx, v1)
	require.NoError(t, err)
	assert.True(t, old.Replaced)

	st, err := h.p1.State(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, contract.State{Counter: 2, Replaced: false}, st)

	bal, err := h.base.Balance(ctx, v2.AsAccount())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), bal)

	_, err = h.p1.Call(ctx, v1, contract.MethodIncreaseCounter, 0)
	requireKind(t, err, http.StatusConflict, "already_replaced")
	assert.Contains(t, err.Error(), "already replaced")

	_, err = h.p1.Call(ctx, v2, contract.MethodDecreaseCounter, 0, uint64(2))
	require.NoError(t, err)
	_, err = h.p1.Call(ctx, v2, contract.MethodDecreaseCounter, 0, uint64(1))
	requireKind(t, err, http.StatusUnprocessableEntity, "underflow")
}

func TestClientUpgradeHelper(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testContext(t)
	factory, v1 := h.bootstrap(t, ctx)

	next, err := h.owner.Upgrade(ctx, factory, contract.CodeV2)
	require.NoError(t, err)
	assert.NotEqual(t, v1, next)

	info, err := h.base.Contract(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, contract.CodeV2, info.Code)
	assert.Contains(t, info.Methods, contract.MethodDecreaseCounter)

	_, err = h.p1.Upgrade(ctx, factory, contract.CodeV2)
	requireKind(t, err, http.StatusForbidden, "not_owner")
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testContext(t)
	_, v1 := h.bootstrap(t, ctx)

	_, err := h.base.Call(ctx, v1, contract.MethodIncreaseCounter, 0)
	requireKind(t, err, http.StatusBadRequest, "invalid_argument")

	_, err = h.base.Balance(ctx, address.Address("ak_not-base58"))
	requireKind(t, err, http.StatusBadRequest, "invalid_argument")

	_, err = h.owner.Deploy(ctx, "Nope", 0)
	requireKind(t, err, http.StatusNotFound, "unknown_code")

	_, err = h.owner.Call(ctx, v1, "nope", 0)
	requireKind(t, err, http.StatusNotFound, "unknown_entry_point")

	_, err = h.base.Contract(ctx, address.ForContract(v1, 7))
	assert.ErrorIs(t, err, client.ErrNotFound)

	err = h.owner.Spend(ctx, v1, 10_000_000)
	requireKind(t, err, http.StatusUnprocessableEntity, "insufficient_balance")

	outsider := h.base.As(v1)
	err = outsider.Spend(ctx, h.owner.Caller(), 1)
	requireKind(t, err, http.StatusForbidden, "unknown_account")

	resp, err := h.srv.Client().Post(h.srv.URL+"/v1/spend", "application/json", strings.NewReader(`{"to":"x","extra":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSnapshotRollbackOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testContext(t)
	_, v1 := h.bootstrap(t, ctx)

	err := h.base.Rollback(ctx)
	requireKind(t, err, http.StatusConflict, "no_snapshot")

	depth, err := h.base.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	_, err = h.p1.Call(ctx, v1, contract.MethodIncreaseCounter, 0)
	require.NoError(t, err)
	require.NoError(t, h.base.Rollback(ctx))

	st, err := h.p1.State(ctx, v1)
	require.NoError(t, err)
	assert.Zero(t, st.Counter)
}

func TestRateLimitPerCaller(t *testing.T) {
	h := newHarness(t, ratelimiter.New(0.001, 2, time.Minute))
	ctx := testContext(t)

	for i := 0; i < 2; i++ {
		_, err := h.owner.Accounts(ctx)
		require.NoError(t, err)
	}
	_, err := h.owner.Accounts(ctx)
	requireKind(t, err, http.StatusTooManyRequests, "rate_limited")

	// other callers have their own bucket
	_, err = h.p1.Accounts(ctx)
	require.NoError(t, err)
}

func TestRateLimitKeysOnParsedCaller(t *testing.T) {
	h := newHarness(t, ratelimiter.New(0.001, 2, time.Minute))
	ctx := testContext(t)

	// ak_ and ct_ spellings of one key share a bucket.
	_, err := h.owner.Accounts(ctx)
	require.NoError(t, err)
	_, err = h.base.As(h.owner.Caller().AsContract()).Accounts(ctx)
	require.NoError(t, err)
	_, err = h.owner.Accounts(ctx)
	requireKind(t, err, http.StatusTooManyRequests, "rate_limited")

	// Malformed callers fall back to the remote host instead of a fresh bucket each.
	codes := make([]int, 0, 3)
	for _, junk := range []string{"junk-1", "junk-2", "junk-3"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/v1/accounts", nil)
		require.NoError(t, err)
		req.Header.Set(api.CallerHeader, junk)
		resp, err := h.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testContext(t)
	h.bootstrap(t, ctx)

	resp, err := h.srv.Client().Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := h.srv.Client().Get(h.srv.URL + "/v2/nothing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
