package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func corpus() map[string]string {
	return map[string]string{
		"empty":          "",
		"whitespace":     " \t \n  ",
		"unicode":        "Hello, 你好 🔐",
		"emoji sequence": "👩‍👩‍👧‍👦 🇧🇷 ✊🏽",
		"line endings":   "one\r\ntwo\nthree\rfour",
		"control chars":  "bell\x07 nul\x00 esc\x1b",
		"long":           strings.Repeat("lorem ipsum 🔐 dolor ", 700),
	}
}

func TestSign_Deterministic(t *testing.T) {
	req := require.New(t)
	key, err := Generate()
	req.NoError(err)

	iterations := 10_000
	if testing.Short() {
		iterations = 100
	}

	for name, content := range corpus() {
		t.Run(name, func(t *testing.T) {
			first, err := Sign(content, key)
			require.NoError(t, err)
			for i := 0; i < iterations; i++ {
				sig, err := Sign(content, key)
				require.NoError(t, err)
				require.Equal(t, first, sig, "iteration %d", i)
			}
			require.True(t, Verify(content, first[:], key.PublicKey()))
		})
	}
}

func TestSign_LongContentIsAtLeastTenKilobytes(t *testing.T) {
	require.GreaterOrEqual(t, len(corpus()["long"]), 10*1024)
}

func TestSign_ExampleScenario(t *testing.T) {
	req := require.New(t)
	key, err := Generate()
	req.NoError(err)

	// Given the same message signed twice
	a, err := Sign("Hello, 你好 🔐", key)
	req.NoError(err)
	b, err := Sign("Hello, 你好 🔐", key)
	req.NoError(err)

	// Then both signatures are identical
	req.Equal(a, b)
}

func TestVerify_TamperSensitivity(t *testing.T) {
	req := require.New(t)
	key, err := Generate()
	req.NoError(err)
	other, err := Generate()
	req.NoError(err)

	for name, content := range corpus() {
		sig, err := Sign(content, key)
		req.NoError(err, name)

		req.True(Verify(content, sig[:], key.PublicKey()), name)
		req.False(Verify(content+" ", sig[:], key.PublicKey()), name)
		req.False(Verify(content, sig[:], other.PublicKey()), name)
	}
}

func TestVerify_MalformedSignatureIsFalse(t *testing.T) {
	req := require.New(t)
	key, err := Generate()
	req.NoError(err)
	sig, err := Sign("hi", key)
	req.NoError(err)

	req.False(Verify("hi", nil, key.PublicKey()))
	req.False(Verify("hi", sig[:10], key.PublicKey()))
	req.False(Verify("hi", append(sig[:], 0), key.PublicKey()))

	flipped := sig
	flipped[0] ^= 0xff
	req.False(Verify("hi", flipped[:], key.PublicKey()))
}

func TestVerifyHex(t *testing.T) {
	req := require.New(t)
	key, err := Generate()
	req.NoError(err)
	sig, err := Sign(AuthLiteral, key)
	req.NoError(err)

	req.True(VerifyHex(AuthLiteral, sig.String(), key.PublicKey().String()))
	req.False(VerifyHex(AuthLiteral, "zz", key.PublicKey().String()))
	req.False(VerifyHex(AuthLiteral, sig.String(), "abcd"))
	req.False(VerifyHex("auth ", sig.String(), key.PublicKey().String()))
}

func TestSign_RejectsInvalidUTF8(t *testing.T) {
	req := require.New(t)
	key, err := Generate()
	req.NoError(err)

	_, err = Sign(string([]byte{0xff, 0xfe, 0x00}), key)
	req.ErrorIs(err, ErrInvalidUTF8)
}

func TestSign_DestroyedKey(t *testing.T) {
	req := require.New(t)
	key, err := Generate()
	req.NoError(err)
	pub := key.PublicKey()

	key.Destroy()
	key.Destroy()

	_, err = Sign("hi", key)
	req.ErrorIs(err, ErrDestroyed)
	req.Equal(pub, key.PublicKey())
	req.NotContains(key.String(), pub.String())
}
