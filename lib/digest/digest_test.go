package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid sha256", "sha256:" + strings.Repeat("a", 64), false},
		{"valid custom algorithm", "sha512+b64:abcDEF09_-=", false},
		{"missing colon", "sha256abcdef", true},
		{"empty algorithm", ":abcdef", true},
		{"empty encoded", "sha256:", true},
		{"two colons", "sha256:abc:def", true},
		{"bad sha256 length", "sha256:abc", true},
		{"uppercase algorithm", "SHA256:" + strings.Repeat("a", 64), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := New(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.input, d.String())
		})
	}
}

func TestFromBytes(t *testing.T) {
	d := FromBytes([]byte("hello"))
	assert.Equal(t, "sha256", d.Algorithm())
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", d.String())
}

func TestDigestFidelity(t *testing.T) {
	// Property 1 from spec.md §8: FromBytes(b) equals sha256(b) textually.
	for _, b := range [][]byte{[]byte(""), []byte("A"), []byte("a bigger blob of bytes")} {
		d := FromBytes(b)
		require.NoError(t, d.Validate(b))
	}
}

func TestValidateMismatch(t *testing.T) {
	d := FromBytes([]byte("A"))
	err := d.Validate([]byte("B"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestAsPath(t *testing.T) {
	d, err := New("sha256:" + strings.Repeat("f", 64))
	require.NoError(t, err)
	assert.Equal(t, "blobs/sha256/"+strings.Repeat("f", 64), d.AsPath())
}
