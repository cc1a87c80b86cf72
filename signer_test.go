package umbra

import (
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textCode(t *testing.T, err error) string {
	t.Helper()
	var gerr *goerrors.Error
	require.ErrorAs(t, err, &gerr)
	return gerr.TextCode
}

func TestHMACSignerRoundTrip(t *testing.T) {
	signer := NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))

	// base64url payloads contain '-', the same rune the format uses as
	// a separator
	payload := "eyJpZCI6ImF1dGgtMSJ9-with-dashes"
	signed := signer.Sign(payload)

	assert.True(t, strings.HasPrefix(signed, "1-"))

	extracted, err := signer.Extract(signed)
	require.NoError(t, err)
	assert.Equal(t, payload, extracted)
}

func TestHMACSignerExtractFailures(t *testing.T) {
	signer := NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))
	other := NewHMACSigner([]byte("ffffffffffffffffffffffffffffffff"))

	signed := signer.Sign("payload")

	tests := []struct {
		name     string
		value    string
		textCode string
	}{
		{
			name:     "not enough parts",
			value:    "justonepart",
			textCode: TextCodeMalformedPayload,
		},
		{
			name:     "unknown version",
			value:    "9" + signed[1:],
			textCode: TextCodeMalformedPayload,
		},
		{
			name:     "tampered payload",
			value:    signed + "x",
			textCode: TextCodeInvalidSignature,
		},
		{
			name:     "signed with a different key",
			value:    other.Sign("payload"),
			textCode: TextCodeInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Extract(tt.value)
			require.Error(t, err)
			assert.Equal(t, tt.textCode, textCode(t, err))
		})
	}

	// other key cannot verify what signer produced
	_, err := other.Extract(signed)
	require.Error(t, err)
	assert.Equal(t, TextCodeInvalidSignature, textCode(t, err))
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, ConstantTimeEquals("abc", "abc"))
	assert.False(t, ConstantTimeEquals("abc", "abd"))
	assert.False(t, ConstantTimeEquals("abc", "abcd"))
	assert.True(t, ConstantTimeEquals("", ""))
}

func TestRequireKey(t *testing.T) {
	assert.NoError(t, RequireKey(make([]byte, 32), 32))

	err := RequireKey(make([]byte, 8), 32)
	require.Error(t, err)
	assert.Equal(t, TextCodeInvalidSettings, textCode(t, err))
}
