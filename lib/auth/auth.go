// Package auth implements the credential store and bearer-token
// exchange of spec.md §4.2: a docker/podman-config.json-compatible
// store of per-domain basic-auth strings, and the WWW-Authenticate
// bearer challenge/response flow registries use to hand out scoped
// tokens. Grounded directly on original_source/ocipkg/src/distribution/auth.rs,
// since the teacher has no credential-store analogue of its own.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

// Auth is the docker/podman config.json per-domain record: a single
// base64("username:password"/"username:token") string.
type Auth struct {
	Value string `json:"auth"`
}

// configFile mirrors the top-level shape of ~/.docker/config.json:
// only the "auths" key is read or written, other keys (credHelpers,
// credsStore, ...) are out of scope (spec.md §4.2 Non-goals).
type configFile struct {
	Auths map[string]Auth `json:"auths"`
}

// Store holds merged per-domain credentials loaded from one or more
// config.json-shaped files.
type Store struct {
	auths map[string]Auth
	log   *slog.Logger
}

// NewStore returns an empty store, useful for tests and for building
// one up programmatically via AddBasicAuth.
func NewStore() *Store {
	return &Store{auths: map[string]Auth{}, log: slog.Default().With("component", "auth")}
}

// Load reads only ocipkg's own store (spec.md §4.2).
func Load() (*Store, error) {
	s := NewStore()
	if path, ok := ocipkgAuthPath(); ok {
		loaded, err := fromPath(path)
		if err != nil {
			return nil, err
		}
		s.auths = loaded
	}
	return s, nil
}

// LoadAll reads docker's, then podman's, then ocipkg's own credential file,
// merging domain entries with later sources winning over earlier ones
// (an explicit policy decision: ties are resolved silently, after wins,
// spec.md §4.2 Open Question). A source that does not exist is skipped,
// not an error; a source that exists but fails to parse is.
func LoadAll() (*Store, error) {
	s := NewStore()
	merged := map[string]Auth{}
	for _, candidate := range []func() (string, bool){dockerAuthPath, podmanAuthPath, ocipkgAuthPath} {
		path, ok := candidate()
		if !ok {
			continue
		}
		loaded, err := fromPath(path)
		if err != nil {
			return nil, err
		}
		merged = lo.Assign(merged, loaded)
	}
	s.auths = merged
	return s, nil
}

func fromPath(path string) (map[string]Auth, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Auth{}, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ocierrors.ErrInvalidJSON, path, err)
	}
	if cfg.Auths == nil {
		return map[string]Auth{}, nil
	}

	valid := map[string]Auth{}
	for domain, entry := range cfg.Auths {
		if !isValidAuth(entry.Value) {
			continue
		}
		valid[domain] = entry
	}
	return valid, nil
}

// isValidAuth reports whether value base64-decodes to a
// "username:password" pair, i.e. exactly one colon separating two
// non-empty parts. Entries that fail this check are silently skipped
// during merge (spec.md §4.2 Open Question 1).
func isValidAuth(value string) bool {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return false
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 2 {
		return false
	}
	return parts[0] != "" && parts[1] != ""
}

// AddBasicAuth registers a username/password pair for domain, base64
// encoded as docker's config.json expects.
func (s *Store) AddBasicAuth(domain, username, password string) {
	raw := username + ":" + password
	s.auths[domain] = Auth{Value: b64(raw)}
}

// AddGitHubToken is a convenience wrapper for the common case of
// authenticating to ghcr.io with a GitHub Personal Access Token: GHCR
// accepts any non-empty username alongside the PAT as password
// (spec.md §3's supplemented GitHub auth helper).
func (s *Store) AddGitHubToken(username, token string) {
	s.AddBasicAuth("ghcr.io", username, token)
}

// Save writes the store to ocipkg's own credential file
// ($XDG_RUNTIME_DIR/ocipkg/auth.json, else ~/.ocipkg/config.json),
// creating parent directories as needed.
func (s *Store) Save() error {
	path, ok := ocipkgAuthPath()
	if !ok {
		return ocierrors.ErrNoValidRuntimeDirectory
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(configFile{Auths: s.auths}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Challenge is a parsed WWW-Authenticate: Bearer header.
type Challenge struct {
	Realm   string
	Service string
	Scope   string
}

// ParseChallenge parses a single Bearer WWW-Authenticate challenge,
// e.g. `Bearer realm="https://ghcr.io/token",service="ghcr.io",scope="repository:org/repo:pull"`.
func ParseChallenge(header string) (Challenge, error) {
	scheme, params, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return Challenge{}, &ocierrors.UnsupportedAuthHeader{Raw: header}
	}

	fields := map[string]string{}
	for _, part := range strings.Split(params, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Challenge{}, &ocierrors.UnsupportedAuthHeader{Raw: header}
		}
		fields[key] = strings.Trim(value, `"`)
	}

	realm, ok := fields["realm"]
	if !ok {
		return Challenge{}, &ocierrors.UnsupportedAuthHeader{Raw: header}
	}
	return Challenge{Realm: realm, Service: fields["service"], Scope: fields["scope"]}, nil
}

// Resolve exchanges a challenge for a bearer token, attaching this
// store's basic-auth credentials for the challenge's domain (if any).
func (s *Store) Resolve(client *http.Client, c Challenge) (string, error) {
	tokenURL, err := url.Parse(c.Realm)
	if err != nil {
		return "", fmt.Errorf("%w: realm %q", ocierrors.ErrInvalidURL, c.Realm)
	}

	q := tokenURL.Query()
	if c.Scope != "" {
		q.Set("scope", c.Scope)
	}
	if c.Service != "" {
		q.Set("service", c.Service)
	}
	tokenURL.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth, ok := s.auths[tokenURL.Hostname()]; ok {
		req.Header.Set("Authorization", "Basic "+auth.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", &ocierrors.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &ocierrors.RegistryError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: token response: %v", ocierrors.ErrInvalidJSON, err)
	}
	if body.Token != "" {
		return body.Token, nil
	}
	return body.AccessToken, nil
}

func ocipkgAuthPath() (string, bool) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ocipkg", "auth.json"), true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".ocipkg", "config.json"), true
}

func dockerAuthPath() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".docker", "config.json"), true
}

func podmanAuthPath() (string, bool) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "containers", "auth.json"), true
	}
	return "", false
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
