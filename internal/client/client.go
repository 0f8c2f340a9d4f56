// Package client is a typed HTTP client for a registry node.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"upgradereg/internal/address"
	"upgradereg/internal/api"
	"upgradereg/internal/contract"
	"upgradereg/internal/ledger"
)

// APIError surfaces non-2xx responses from the server.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d kind=%s message=%s", e.StatusCode, e.Kind, e.Message)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

var ErrNotFound = errors.New("not found")

type Client struct {
	baseURL string
	http    *http.Client
	caller  address.Address
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// As returns a client whose requests act as caller.
func (c *Client) As(caller address.Address) *Client {
	cp := *c
	cp.caller = caller
	return &cp
}

func (c *Client) Caller() address.Address { return c.caller }

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Accounts(ctx context.Context) ([]api.Account, error) {
	var resp api.AccountsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

func (c *Client) Codes(ctx context.Context) ([]string, error) {
	var resp api.CodesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/codes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Codes, nil
}

// Balance accepts either address form of the same key.
func (c *Client) Balance(ctx context.Context, a address.Address) (uint64, error) {
	var resp api.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/balances/"+url.PathEscape(a.String()), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *Client) Spend(ctx context.Context, to address.Address, amount uint64) error {
	return c.do(ctx, http.MethodPost, "/v1/spend", api.SpendRequest{To: to, Amount: amount}, nil)
}

// Deploy creates an instance of code; args are JSON-encoded one by one.
func (c *Client) Deploy(ctx context.Context, code string, amount uint64, args ...any) (address.Address, error) {
	encoded, err := contract.EncodeArgs(args...)
	if err != nil {
		return "", err
	}
	var resp api.DeployResponse
	if err := c.do(ctx, http.MethodPost, "/v1/contracts", api.DeployRequest{Code: code, Amount: amount, Args: encoded}, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

func (c *Client) Contract(ctx context.Context, a address.Address) (ledger.ContractInfo, error) {
	var info ledger.ContractInfo
	err := c.do(ctx, http.MethodGet, "/v1/contracts/"+url.PathEscape(a.String()), nil, &info)
	return info, err
}

// Call invokes method on target and returns the raw JSON result.
func (c *Client) Call(ctx context.Context, target address.Address, method string, amount uint64, args ...any) (json.RawMessage, error) {
	encoded, err := contract.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	var resp api.CallResponse
	path := "/v1/contracts/" + url.PathEscape(target.String()) + "/calls/" + url.PathEscape(method)
	if err := c.do(ctx, http.MethodPost, path, api.CallRequest{Amount: amount, Args: encoded}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// CallInto is Call followed by decoding the result into dst.
func (c *Client) CallInto(ctx context.Context, target address.Address, method string, dst any, args ...any) error {
	raw, err := c.Call(ctx, target, method, 0, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) State(ctx context.Context, inst address.Address) (contract.State, error) {
	var st contract.State
	err := c.CallInto(ctx, inst, contract.MethodGetState, &st)
	return st, err
}

func (c *Client) Version(ctx context.Context, inst address.Address) (string, error) {
	var v string
	err := c.CallInto(ctx, inst, contract.MethodGetVersion, &v)
	return v, err
}

// Current resolves the factory's live implementation.
func (c *Client) Current(ctx context.Context, factory address.Address) (address.Address, error) {
	var a address.Address
	err := c.CallInto(ctx, factory, contract.MethodGetContract, &a)
	return a, err
}

// Upgrade deploys a successor of code bound to factory and hands the
// factory's registration over to it.
func (c *Client) Upgrade(ctx context.Context, factory address.Address, code string) (address.Address, error) {
	next, err := c.Deploy(ctx, code, 0, uint64(0), factory)
	if err != nil {
		return "", fmt.Errorf("deploy successor: %w", err)
	}
	if _, err := c.Call(ctx, factory, contract.MethodChangeContract, 0, next); err != nil {
		return "", fmt.Errorf("change contract: %w", err)
	}
	return next, nil
}

func (c *Client) Snapshot(ctx context.Context) (int, error) {
	var resp api.SnapshotResponse
	if err := c.do(ctx, http.MethodPost, "/v1/snapshots", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Depth, nil
}

func (c *Client) Rollback(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/snapshots/rollback", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		req.Header.Set(api.CallerHeader, c.caller.String())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Kind == "" {
		body.Message = strings.TrimSpace(string(raw))
	}
	return &APIError{StatusCode: resp.StatusCode, Kind: body.Kind, Message: body.Message}
}
