package wallet

import (
	"math/big"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeAmount(t *testing.T) {
	assert.Equal(t, "1.5", SanitizeAmount("1.5 SONIC"))
	assert.Equal(t, "1.5", SanitizeAmount("1.5"))
	assert.Equal(t, "2", SanitizeAmount("2 tokens"))
	assert.Equal(t, "0.25", SanitizeAmount(" 0.25 ETH "))

	assert.Equal(t, DefaultAmount, SanitizeAmount(""))
	assert.Equal(t, DefaultAmount, SanitizeAmount("ten"))
	assert.Equal(t, DefaultAmount, SanitizeAmount("."))
	assert.Equal(t, DefaultAmount, SanitizeAmount("SONIC 1.5"), "leading run only")
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = ParseUnits("2", 6)
	require.NoError(t, err)
	assert.Equal(t, "2000000", v.String())

	v, err = ParseUnits(".5", 2)
	require.NoError(t, err)
	assert.Equal(t, "50", v.String())
}

func TestParseUnits_Errors(t *testing.T) {
	_, err := ParseUnits("1.2345678", 6)
	require.Error(t, err, "too many decimal places")

	_, err = ParseUnits("", 18)
	require.Error(t, err)

	_, err = ParseUnits("abc", 18)
	require.Error(t, err)

	_, err = ParseUnits("-1", 18)
	require.Error(t, err, "negative amounts are rejected")
}

func TestFormatUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatUnits(v, 18))

	assert.Equal(t, "2", FormatUnits(big.NewInt(2000000), 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "0", FormatUnits(big.NewInt(0), 18))
}

func TestClassifyError(t *testing.T) {
	bucket, msg := ClassifyError(errString("Request failed with status 504"))
	assert.Equal(t, FailureNetwork, bucket)
	assert.Equal(t, "Network error: RPC endpoint timeout", msg)

	bucket, msg = ClassifyError(errString("user denied transaction signature"))
	assert.Equal(t, FailureRejected, bucket)
	assert.Equal(t, "Transaction was rejected", msg)

	bucket, msg = ClassifyError(errString("execution reverted: insufficient balance"))
	assert.Equal(t, FailureOther, bucket)
	assert.Contains(t, msg, "insufficient balance")
}

func TestClassifyError_TruncatesLongMessages(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	_, msg := ClassifyError(errString(string(long)))
	assert.LessOrEqual(t, len(msg), len("Error: ")+100)

	// Multi-byte messages are cut on a rune boundary.
	_, msg = ClassifyError(errString(strings.Repeat("ü", 150)))
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, 100, len([]rune(msg))-len([]rune("Error: ")))
}

type errString string

func (e errString) Error() string { return string(e) }
