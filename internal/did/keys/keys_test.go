package keys

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "didledger/pkg/domain-errors"
)

func seedOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, SeedSize)
}

func TestDerivePublicKey(t *testing.T) {
	t.Run("derives the ed25519 public key of a 32-byte seed", func(t *testing.T) {
		seed := seedOf(7)
		want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)

		got, err := DerivePublicKey(EncodeBase58(seed))
		require.NoError(t, err)
		assert.Equal(t, []byte(want), got)
	})

	t.Run("is deterministic", func(t *testing.T) {
		sk := EncodeBase58(seedOf(9))
		a, err := DerivePublicKey(sk)
		require.NoError(t, err)
		b, err := DerivePublicKey(sk)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("rejects a 64-byte expanded key", func(t *testing.T) {
		priv := ed25519.NewKeyFromSeed(seedOf(3))
		_, err := DerivePublicKey(EncodeBase58(priv))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidKey))
	})

	t.Run("rejects short seeds", func(t *testing.T) {
		_, err := DerivePublicKey(EncodeBase58([]byte{1, 2, 3}))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidKey))
	})

	t.Run("rejects characters outside the base58 alphabet", func(t *testing.T) {
		for _, bad := range []string{"0abc", "Oabc", "Iabc", "labc", "ab+c", ""} {
			_, err := DerivePublicKey(bad)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidKey), "input %q", bad)
		}
	})

	t.Run("rejects surrounding whitespace", func(t *testing.T) {
		sk := EncodeBase58(seedOf(7))
		for _, padded := range []string{" " + sk + " ", sk + "\n", "\t" + sk} {
			_, err := DerivePublicKey(padded)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidKey), "input %q", padded)
		}
	})
}

func TestSignVerify(t *testing.T) {
	sk := EncodeBase58(seedOf(1))
	pub, err := DerivePublicKey(sk)
	require.NoError(t, err)
	msg := []byte("didledger/v1\ndid:web:x\nupdate\n10\nabcd")

	sig, err := Sign(msg, sk)
	require.NoError(t, err)
	require.Len(t, sig, SignatureSize)

	t.Run("valid signature verifies", func(t *testing.T) {
		assert.True(t, Verify(msg, sig, pub))
	})

	t.Run("tampered message fails", func(t *testing.T) {
		assert.False(t, Verify(append([]byte{}, append(msg, '!')...), sig, pub))
	})

	t.Run("other key fails", func(t *testing.T) {
		other, err := DerivePublicKey(EncodeBase58(seedOf(2)))
		require.NoError(t, err)
		assert.False(t, Verify(msg, sig, other))
	})

	t.Run("malformed input returns false without panicking", func(t *testing.T) {
		assert.False(t, Verify(msg, sig[:10], pub))
		assert.False(t, Verify(msg, sig, pub[:5]))
		assert.False(t, Verify(msg, nil, nil))
	})

	t.Run("sign rejects invalid keys", func(t *testing.T) {
		_, err := Sign(msg, "not-base58-0OIl")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidKey))
	})
}

func TestDecodePublicKey(t *testing.T) {
	pub, err := DerivePublicKey(EncodeBase58(seedOf(4)))
	require.NoError(t, err)

	decoded, err := DecodePublicKey(EncodeBase58(pub))
	require.NoError(t, err)
	assert.Equal(t, ed25519.PublicKey(pub), decoded)

	_, err = DecodePublicKey(EncodeBase58(pub[:31]))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidKey))
}

func TestGenerateSeed(t *testing.T) {
	sk, err := GenerateSeed(bytes.NewReader(seedOf(5)))
	require.NoError(t, err)
	assert.Equal(t, EncodeBase58(seedOf(5)), sk)

	_, err = GenerateSeed(bytes.NewReader([]byte{1}))
	assert.Error(t, err)
}
