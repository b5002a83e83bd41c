package secret

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestAESCodec_RoundTrip(t *testing.T) {
	codec, err := NewAESCodec(testKey())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := codec.Encrypt(ctx, "AUTH_x7f92k")
	require.NoError(t, err)
	require.False(t, ref.IsZero())

	got, err := codec.Reveal(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "AUTH_x7f92k", got)
}

func TestAESCodec_RevealEmptyFailsClosed(t *testing.T) {
	codec, err := NewAESCodec(testKey())
	require.NoError(t, err)

	_, err = codec.Reveal(context.Background(), Ref{})
	assert.ErrorIs(t, err, domainErrors.ErrDecryptFailed)
}

func TestAESCodec_RevealTamperedCiphertext(t *testing.T) {
	codec, err := NewAESCodec(testKey())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := codec.Encrypt(ctx, "user@example.com")
	require.NoError(t, err)

	raw := ref.Bytes()
	raw[len(raw)-1] ^= 0xff
	_, err = codec.Reveal(ctx, NewRef(raw))
	assert.ErrorIs(t, err, domainErrors.ErrDecryptFailed)
}

func TestNewAESCodec_RejectsShortKey(t *testing.T) {
	_, err := NewAESCodec([]byte("short"))
	var cfgErr *domainErrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRef_StringHidesPlaintext(t *testing.T) {
	codec, _ := NewAESCodec(testKey())
	ref, _ := codec.Encrypt(context.Background(), "topsecret")
	assert.NotContains(t, ref.String(), "topsecret")
}
