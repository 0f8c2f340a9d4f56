package keyring

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDeriveIsDeterministic(t *testing.T) {
	a, err := Derive(testMnemonic, 3)
	require.NoError(t, err)
	b, err := Derive(testMnemonic, 3)
	require.NoError(t, err)

	assert.Equal(t, a.Addresses(), b.Addresses())
	assert.Len(t, a.Accounts(), 3)

	seen := map[string]bool{}
	for _, addr := range a.Addresses() {
		assert.False(t, seen[addr.Key()], "duplicate account %s", addr)
		seen[addr.Key()] = true
	}
}

func TestDeriveRejectsBadInput(t *testing.T) {
	_, err := Derive("not a mnemonic", 1)
	assert.ErrorIs(t, err, ErrInvalidMnemonic)

	_, err = Derive(testMnemonic, 0)
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestLookupAcceptsContractForm(t *testing.T) {
	kr, err := Derive(testMnemonic, 2)
	require.NoError(t, err)

	acct := kr.Accounts()[1]
	got, ok := kr.Lookup(acct.Address.AsContract())
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)
}

func TestSignVerifies(t *testing.T) {
	kr, err := Derive(testMnemonic, 1)
	require.NoError(t, err)
	acct := kr.Accounts()[0]

	sig := acct.Sign([]byte("hello"))
	assert.True(t, ed25519.Verify(acct.Public, []byte("hello"), sig))
}

func TestNewMnemonicIsValid(t *testing.T) {
	m, err := NewMnemonic()
	require.NoError(t, err)
	_, err = Derive(m, 1)
	require.NoError(t, err)
}
