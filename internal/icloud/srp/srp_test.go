package srp

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePassword_Deterministic(t *testing.T) {
	salt := []byte{0x01, 0x02, 0x03, 0x04}

	a, err := DerivePassword("s2k", "secret", salt, 20000)
	require.NoError(t, err)
	b, err := DerivePassword("s2k", "secret", salt, 20000)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Len(t, a, 32)
}

func TestDerivePassword_ProtocolsDiffer(t *testing.T) {
	salt := []byte("salty")

	s2k, err := DerivePassword("s2k", "secret", salt, 1000)
	require.NoError(t, err)
	s2kfo, err := DerivePassword("s2k_fo", "secret", salt, 1000)
	require.NoError(t, err)

	assert.NotEqual(t, s2k, s2kfo)
}

func TestDerivePassword_InputSensitivity(t *testing.T) {
	salt := []byte("salty")

	base, err := DerivePassword("s2k", "secret", salt, 1000)
	require.NoError(t, err)

	otherPw, err := DerivePassword("s2k", "Secret", salt, 1000)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherPw)

	otherSalt, err := DerivePassword("s2k", "secret", []byte("other"), 1000)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherSalt)

	otherIter, err := DerivePassword("s2k", "secret", salt, 1001)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherIter)
}

func TestDerivePassword_Invalid(t *testing.T) {
	_, err := DerivePassword("argon2", "secret", []byte("s"), 1000)
	require.ErrorIs(t, err, ErrUnsupportedProtocol)

	_, err = DerivePassword("s2k", "secret", []byte("s"), 0)
	require.Error(t, err)
}

func TestNewClient_FreshKeys(t *testing.T) {
	c1, err := NewClient()
	require.NoError(t, err)
	c2, err := NewClient()
	require.NoError(t, err)

	require.NotEmpty(t, c1.PublicKey())
	assert.NotEqual(t, c1.PublicKey(), c2.PublicKey())
}

func TestComplete_RejectsZeroServerKey(t *testing.T) {
	c := newClientFromSecret([]byte{0x42})

	_, err := c.Complete("user@example.com", []byte("derived"), []byte("salt"), groupN.Bytes())
	require.ErrorIs(t, err, ErrInvalidServerKey)

	_, err = c.Complete("user@example.com", []byte("derived"), []byte("salt"), []byte{0x00})
	require.ErrorIs(t, err, ErrInvalidServerKey)
}

func TestComplete_DeterministicForFixedInputs(t *testing.T) {
	// Fixed ephemeral secret and server key: the proofs must be stable.
	secret := bytes.Repeat([]byte{0x11}, 32)
	serverB := new(big.Int).Exp(groupG, big.NewInt(123456789), groupN).Bytes()
	salt := []byte{0xAA, 0xBB, 0xCC}

	derived, err := DerivePassword("s2k", "secret", salt, 1000)
	require.NoError(t, err)

	p1, err := newClientFromSecret(secret).Complete("user@example.com", derived, salt, serverB)
	require.NoError(t, err)
	p2, err := newClientFromSecret(secret).Complete("user@example.com", derived, salt, serverB)
	require.NoError(t, err)

	require.Equal(t, p1.M1, p2.M1)
	require.Equal(t, p1.M2, p2.M2)
	assert.Len(t, p1.M1, 32)
	assert.Len(t, p1.M2, 32)
	assert.NotEqual(t, p1.M1, p1.M2)

	assert.True(t, p1.VerifyServerProof(p2.M2))
	assert.False(t, p1.VerifyServerProof(p2.M1))
}

func TestComplete_ProofsDependOnPassword(t *testing.T) {
	secret := bytes.Repeat([]byte{0x22}, 32)
	serverB := new(big.Int).Exp(groupG, big.NewInt(987654321), groupN).Bytes()
	salt := []byte{0x01, 0x02}

	d1, err := DerivePassword("s2k", "one", salt, 1000)
	require.NoError(t, err)
	d2, err := DerivePassword("s2k", "two", salt, 1000)
	require.NoError(t, err)

	p1, err := newClientFromSecret(secret).Complete("user@example.com", d1, salt, serverB)
	require.NoError(t, err)
	p2, err := newClientFromSecret(secret).Complete("user@example.com", d2, salt, serverB)
	require.NoError(t, err)

	assert.NotEqual(t, p1.M1, p2.M1)
}
