package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5: parse a WWW-Authenticate header exactly as ghcr.io returns it.
func TestParseChallenge(t *testing.T) {
	header := `Bearer realm="https://ghcr.io/token",service="ghcr.io",scope="repository:termoshtt/ocipkg/rust-lib:pull"`
	c, err := ParseChallenge(header)
	require.NoError(t, err)
	assert.Equal(t, Challenge{
		Realm:   "https://ghcr.io/token",
		Service: "ghcr.io",
		Scope:   "repository:termoshtt/ocipkg/rust-lib:pull",
	}, c)
}

func TestParseChallengeRejectsNonBearer(t *testing.T) {
	_, err := ParseChallenge(`Basic realm="example.com"`)
	require.Error(t, err)
}

func TestAddBasicAuthAndSaveLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	s := NewStore()
	s.AddBasicAuth("example.com", "alice", "hunter2")
	require.NoError(t, s.Save())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, s.auths["example.com"], loaded.auths["example.com"])
}

func TestAddGitHubToken(t *testing.T) {
	s := NewStore()
	s.AddGitHubToken("octocat", "ghp_abc123")
	_, ok := s.auths["ghcr.io"]
	assert.True(t, ok)
}

func TestLoadAllAfterWinsMerge(t *testing.T) {
	dockerHome := t.TempDir()
	t.Setenv("HOME", dockerHome)
	t.Setenv("XDG_RUNTIME_DIR", "")

	dockerValue := b64("docker-user:docker-pass")
	ownValue := b64("own-user:own-pass")
	malformedValue := b64("no-colon-in-this-value")

	dockerDir := filepath.Join(dockerHome, ".docker")
	require.NoError(t, os.MkdirAll(dockerDir, 0o755))
	dockerCfg := configFile{Auths: map[string]Auth{"example.com": {Value: dockerValue}}}
	dockerJSON, err := json.Marshal(dockerCfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dockerDir, "config.json"), dockerJSON, 0o644))

	ocipkgDir := filepath.Join(dockerHome, ".ocipkg")
	require.NoError(t, os.MkdirAll(ocipkgDir, 0o755))
	ownCfg := configFile{Auths: map[string]Auth{
		"example.com":  {Value: ownValue},
		"malformed.io": {Value: malformedValue},
	}}
	ownJSON, err := json.Marshal(ownCfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ocipkgDir, "config.json"), ownJSON, 0o644))

	s, err := LoadAll()
	require.NoError(t, err)
	assert.Equal(t, ownValue, s.auths["example.com"].Value)

	_, ok := s.auths["malformed.io"]
	assert.False(t, ok, "entry whose auth value has no colon-separated pair must be dropped")
}

func TestIsValidAuthRejectsMalformedValues(t *testing.T) {
	assert.True(t, isValidAuth(b64("user:pass")))
	assert.False(t, isValidAuth(b64("no-colon")))
	assert.False(t, isValidAuth(b64("a:b:c")))
	assert.False(t, isValidAuth(b64(":pass")))
	assert.False(t, isValidAuth(b64("user:")))
	assert.False(t, isValidAuth("not-base64!!!"))
}

func TestResolveSendsBasicAuthAndParsesToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"scoped-token"}`))
	}))
	defer server.Close()

	s := NewStore()
	host := mustHostname(t, server.URL)
	s.AddBasicAuth(host, "user", "pass")

	token, err := s.Resolve(server.Client(), Challenge{Realm: server.URL, Service: "test", Scope: "repository:x:pull"})
	require.NoError(t, err)
	assert.Equal(t, "scoped-token", token)
	assert.Contains(t, gotAuth, "Basic ")
}

func mustHostname(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Hostname()
}
