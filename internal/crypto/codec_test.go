package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec("unit-test-passphrase")

	cases := []struct {
		name      string
		plaintext string
	}{
		{"Empty", ""},
		{"Short", "tok"},
		{"Typical token", "EAABsbCS1iHgBAr0ZCZBfZAXZBZCbqhZBkZD"},
		{"Unicode", "tökén-ährlich-北京-🙂"},
		{"Exactly one block", strings.Repeat("a", 16)},
		{"Large", strings.Repeat("0123456789abcdef", 128)}, // 2 KiB
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encrypted, err := codec.Encrypt(tc.plaintext)
			require.NoError(t, err)

			decrypted, err := codec.Decrypt(encrypted)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, decrypted)
		})
	}
}

func TestCodec_CiphertextFormat(t *testing.T) {
	codec := NewCodec("unit-test-passphrase")

	encrypted, err := codec.Encrypt("secret")
	require.NoError(t, err)

	ivHex, ctHex, found := strings.Cut(encrypted, ":")
	require.True(t, found, "expected iv:ciphertext format")
	assert.Len(t, ivHex, 32, "iv should be 16 bytes hex encoded")
	assert.NotEmpty(t, ctHex)
	assert.NotContains(t, encrypted, "secret")
}

func TestCodec_FreshIVPerCall(t *testing.T) {
	codec := NewCodec("unit-test-passphrase")

	first, err := codec.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := codec.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two encryptions must use distinct IVs")

	p1, err := codec.Decrypt(first)
	require.NoError(t, err)
	p2, err := codec.Decrypt(second)
	require.NoError(t, err)
	assert.Equal(t, "same plaintext", p1)
	assert.Equal(t, "same plaintext", p2)
}

func TestCodec_HexKeyAndPassphraseDiffer(t *testing.T) {
	hexKey := strings.Repeat("ab", 32) // 64 hex chars, decoded raw
	hexCodec := NewCodec(hexKey)
	passCodec := NewCodec("not-a-hex-key")

	encrypted, err := hexCodec.Encrypt("cross-key")
	require.NoError(t, err)

	_, err = passCodec.Decrypt(encrypted)
	if err == nil {
		// CBC without authentication can produce garbage instead of failing;
		// either way the original plaintext must not come back.
		decrypted, _ := passCodec.Decrypt(encrypted)
		assert.NotEqual(t, "cross-key", decrypted)
	}

	// Same hex key constructed twice decrypts fine.
	again, err := NewCodec(hexKey).Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "cross-key", again)
}

func TestCodec_TamperDetection(t *testing.T) {
	codec := NewCodec("unit-test-passphrase")

	encrypted, err := codec.Encrypt("original plaintext value")
	require.NoError(t, err)

	sep := strings.IndexByte(encrypted, ':')
	require.Positive(t, sep)

	// Flip every hex character of the ciphertext portion in turn; decrypt
	// must never silently return the original plaintext.
	for i := sep + 1; i < len(encrypted); i++ {
		flipped := []byte(encrypted)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}
		decrypted, err := codec.Decrypt(string(flipped))
		if err == nil {
			assert.NotEqual(t, "original plaintext value", decrypted,
				"tampered ciphertext at offset %d decrypted to the original", i)
		} else {
			var decErr *DecryptionError
			assert.ErrorAs(t, err, &decErr)
		}
	}
}

func TestCodec_MalformedInput(t *testing.T) {
	codec := NewCodec("unit-test-passphrase")

	cases := []struct {
		name  string
		token string
	}{
		{"Empty", ""},
		{"No separator", "deadbeef"},
		{"Bad iv hex", "zz:deadbeef"},
		{"Short iv", "abcd:" + strings.Repeat("ab", 16)},
		{"Bad ciphertext hex", strings.Repeat("ab", 16) + ":nothex"},
		{"Empty ciphertext", strings.Repeat("ab", 16) + ":"},
		{"Unaligned ciphertext", strings.Repeat("ab", 16) + ":" + strings.Repeat("ab", 15)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Decrypt(tc.token)
			var decErr *DecryptionError
			require.ErrorAs(t, err, &decErr)
		})
	}
}

func TestCodec_DecryptIsIdempotent(t *testing.T) {
	codec := NewCodec("unit-test-passphrase")

	encrypted, err := codec.Encrypt("stable")
	require.NoError(t, err)

	for range 3 {
		decrypted, err := codec.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "stable", decrypted)
	}
}
