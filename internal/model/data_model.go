package model

import "encoding/json"

type TxKind byte

const (
	DEPLOY TxKind = iota
	CALL
	SPEND
	SNAPSHOT
	ROLLBACK
)

func (k TxKind) String() string {
	switch k {
	case DEPLOY:
		return "deploy"
	case CALL:
		return "call"
	case SPEND:
		return "spend"
	case SNAPSHOT:
		return "snapshot"
	case ROLLBACK:
		return "rollback"
	default:
		return "unknown"
	}
}

func (k TxKind) Valid() bool {
	return k <= ROLLBACK
}

// Transaction is one committed ledger operation. Sequence, Kind and ID travel
// in the commit log record header; the rest is the JSON body.
type Transaction struct {
	Sequence uint64 `json:"-"`
	Kind     TxKind `json:"-"`
	ID       string `json:"-"`

	Caller string            `json:"caller,omitempty"`
	Target string            `json:"target,omitempty"`
	Code   string            `json:"code,omitempty"`
	Method string            `json:"method,omitempty"`
	Amount uint64            `json:"amount,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
}
