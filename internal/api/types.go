package api

import (
	"encoding/json"

	"upgradereg/internal/address"
)

type Account struct {
	Address address.Address `json:"address"`
	Balance uint64          `json:"balance"`
}

type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type CodesResponse struct {
	Codes []string `json:"codes"`
}

type BalanceResponse struct {
	Address address.Address `json:"address"`
	Balance uint64          `json:"balance"`
}

type SpendRequest struct {
	To     address.Address `json:"to"`
	Amount uint64          `json:"amount"`
}

type DeployRequest struct {
	Code   string            `json:"code"`
	Amount uint64            `json:"amount,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

type DeployResponse struct {
	Address address.Address `json:"address"`
}

type CallRequest struct {
	Amount uint64            `json:"amount,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

type CallResponse struct {
	Result json.RawMessage `json:"result"`
}

type SnapshotResponse struct {
	Depth int `json:"depth"`
}
