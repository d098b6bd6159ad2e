package imagename

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	n, err := Parse("alpine")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, n.Host)
	assert.Equal(t, 0, n.Port)
	assert.Equal(t, "alpine", n.Name.String())
	assert.Equal(t, "latest", n.Reference.String())
}

func TestParseTagOnly(t *testing.T) {
	n, err := Parse("ubuntu:20.04")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, n.Host)
	assert.Equal(t, "ubuntu", n.Name.String())
	assert.Equal(t, "20.04", n.Reference.String())
}

// S3: ImageName::parse("localhost:5000/repo:tag")
func TestParseLocalhostPort(t *testing.T) {
	n, err := Parse("localhost:5000/repo:tag")
	require.NoError(t, err)
	assert.Equal(t, "localhost", n.Host)
	assert.Equal(t, 5000, n.Port)
	assert.Equal(t, "repo", n.Name.String())
	assert.Equal(t, "tag", n.Reference.String())
	assert.Equal(t, "http://localhost:5000", n.RegistryURL())
	assert.Equal(t, "localhost__5000/repo/__tag", n.AsPath())
}

func TestParseGhcrNested(t *testing.T) {
	n, err := Parse("ghcr.io/termoshtt/ocipkg/testing:latest")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io", n.Host)
	assert.Equal(t, "termoshtt/ocipkg/testing", n.Name.String())
	assert.Equal(t, "latest", n.Reference.String())
	assert.Equal(t, "https://ghcr.io", n.RegistryURL())
}

func TestParseDigestReference(t *testing.T) {
	n, err := Parse("ghcr.io/org/repo@sha256:" + digestHex)
	require.NoError(t, err)
	assert.True(t, n.Reference.IsDigest())
	assert.Equal(t, "org/repo", n.Name.String())
}

const digestHex = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// property 3: ImageName::from_path(n.as_path()) == n
func TestAsPathRoundTrip(t *testing.T) {
	cases := []string{
		"alpine",
		"ubuntu:20.04",
		"localhost:5000/repo:tag",
		"ghcr.io/termoshtt/ocipkg/testing:latest",
		"ghcr.io/org/repo@sha256:" + digestHex,
	}
	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			n, err := Parse(c)
			require.NoError(t, err)
			roundTripped, err := FromPath(n.AsPath())
			require.NoError(t, err)
			assert.True(t, n.Equal(roundTripped), "got %+v, want %+v", roundTripped, n)
		})
	}
}

func TestInvalidName(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)

	_, err = NewName("_leadingunderscore")
	require.Error(t, err)

	_, err = NewReference("tag@with@at")
	require.Error(t, err)
}
