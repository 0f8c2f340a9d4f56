// Package keyring derives the ledger's pre-funded development accounts from a
// BIP-39 mnemonic, so that every node started with the same mnemonic exposes
// the same account addresses.
package keyring

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"

	"upgradereg/internal/address"
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrNoAccounts      = errors.New("account count must be positive")
)

type Account struct {
	Index   int
	Address address.Address
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// Keyring is an ordered, immutable set of derived accounts.
type Keyring struct {
	accounts []Account
	byKey    map[string]int
}

// NewMnemonic returns a fresh 24-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// Derive builds count accounts from mnemonic. Account i uses the ed25519 seed
// blake2b-256(bip39seed || i).
func Derive(mnemonic string, count int) (*Keyring, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if count <= 0 {
		return nil, ErrNoAccounts
	}
	seed := bip39.NewSeed(mnemonic, "")

	kr := &Keyring{
		accounts: make([]Account, 0, count),
		byKey:    make(map[string]int, count),
	}
	for i := 0; i < count; i++ {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		buf := append(append([]byte(nil), seed...), idx[:]...)
		sub := blake2b.Sum256(buf)

		priv := ed25519.NewKeyFromSeed(sub[:])
		pub := priv.Public().(ed25519.PublicKey)
		addr, err := address.FromPublicKey(pub)
		if err != nil {
			return nil, err
		}
		kr.byKey[addr.Key()] = len(kr.accounts)
		kr.accounts = append(kr.accounts, Account{
			Index:   i,
			Address: addr,
			Public:  pub,
			private: priv,
		})
	}
	return kr, nil
}

func (k *Keyring) Accounts() []Account {
	return append([]Account(nil), k.accounts...)
}

func (k *Keyring) Addresses() []address.Address {
	out := make([]address.Address, 0, len(k.accounts))
	for _, a := range k.accounts {
		out = append(out, a.Address)
	}
	return out
}

// Lookup finds the account by address in either prefix form.
func (k *Keyring) Lookup(addr address.Address) (Account, bool) {
	i, ok := k.byKey[addr.Key()]
	if !ok {
		return Account{}, false
	}
	return k.accounts[i], true
}

// Sign is exposed for clients that want to attest requests out of band; the
// ledger itself does not verify signatures.
func (a Account) Sign(msg []byte) []byte {
	return ed25519.Sign(a.private, msg)
}
