package address

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	AccountPrefix  = "ak_"
	ContractPrefix = "ct_"

	payloadBytes = blake2b.Size256
)

var ErrInvalidAddress = errors.New("invalid address")

// Address is a prefixed base58 identifier. Accounts and contracts share the
// same key space: "ak_X" and "ct_X" name the same balance.
type Address string

// FromPublicKey derives the account address owned by an ed25519 key.
func FromPublicKey(pub ed25519.PublicKey) (Address, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid public key size: %d", len(pub))
	}
	h := blake2b.Sum256(pub)
	return Address(AccountPrefix + base58.Encode(h[:])), nil
}

// ForContract derives the address of the nonce-th contract created on the ledger
// by deployer.
func ForContract(deployer Address, nonce uint64) Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf := make([]byte, 0, len(deployer)+len(n))
	buf = append(buf, deployer.Key()...)
	buf = append(buf, n[:]...)
	h := blake2b.Sum256(buf)
	return Address(ContractPrefix + base58.Encode(h[:]))
}

// Parse validates the prefix and payload of s.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	var payload string
	switch {
	case strings.HasPrefix(s, AccountPrefix):
		payload = s[len(AccountPrefix):]
	case strings.HasPrefix(s, ContractPrefix):
		payload = s[len(ContractPrefix):]
	default:
		return "", fmt.Errorf("%w: unknown prefix in %q", ErrInvalidAddress, s)
	}
	raw, err := base58.Decode(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != payloadBytes {
		return "", fmt.Errorf("%w: payload is %d bytes", ErrInvalidAddress, len(raw))
	}
	return Address(s), nil
}

// Key strips the prefix. Balances are keyed by it.
func (a Address) Key() string {
	s := string(a)
	if strings.HasPrefix(s, AccountPrefix) || strings.HasPrefix(s, ContractPrefix) {
		return s[3:]
	}
	return s
}

func (a Address) IsContract() bool {
	return strings.HasPrefix(string(a), ContractPrefix)
}

func (a Address) IsZero() bool {
	return a == ""
}

// AsAccount returns the account form of a contract address.
func (a Address) AsAccount() Address {
	return Address(AccountPrefix + a.Key())
}

// AsContract returns the contract form of an account address.
func (a Address) AsContract() Address {
	return Address(ContractPrefix + a.Key())
}

// Same reports whether a and b name the same key regardless of prefix.
func (a Address) Same(b Address) bool {
	return a.Key() == b.Key()
}

func (a Address) String() string {
	return string(a)
}
