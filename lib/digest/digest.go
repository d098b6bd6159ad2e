// Package digest provides the content address ocipkg keys every blob
// in an image layout by: "<algorithm>:<encoded>". Digests are only
// computed with SHA-256, while parsing accepts any algorithm that fits
// the OCI grammar; github.com/opencontainers/go-digest supplies the
// stricter checks for algorithms it knows.
package digest

import (
	"crypto/sha256"
	"fmt"
	"io"
	"path"
	"regexp"

	godigest "github.com/opencontainers/go-digest"

	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

// Digest is a content address, textually "<algorithm>:<encoded>".
// The core only produces and verifies SHA-256 digests, but New accepts
// any digest whose encoded part matches the OCI grammar so foreign
// digests (e.g. from a registry response) can still be round-tripped
// and compared.
type Digest struct {
	algorithm string
	encoded   string
}

// encodedPattern matches the OCI image-spec "encoded" production:
// [a-zA-Z0-9=_-]+
var encodedPattern = regexp.MustCompile(`^[a-zA-Z0-9=_-]+$`)

// algorithmPattern matches the OCI image-spec "algorithm" production:
// one or more lowercase-alphanumeric components separated by [+._-].
var algorithmPattern = regexp.MustCompile(`^[a-z0-9]+(?:[+._-][a-z0-9]+)*$`)

// New parses "<algorithm>:<encoded>" into a Digest. The grammar
// matches the OCI image-spec digest production; github.com/opencontainers/go-digest
// is used only to recognize well-known algorithms (sha256, sha512)
// so those get its stricter length/charset checks for free, while
// lesser-known algorithms still parse against the looser OCI grammar.
func New(input string) (Digest, error) {
	algorithm, encoded, ok := splitDigest(input)
	if !ok || !algorithmPattern.MatchString(algorithm) || !encodedPattern.MatchString(encoded) {
		return Digest{}, fmt.Errorf("%w: %q", ocierrors.ErrInvalidDigest, input)
	}
	if gdAlg := godigest.Algorithm(algorithm); gdAlg.Available() {
		if err := gdAlg.Validate(encoded); err != nil {
			return Digest{}, fmt.Errorf("%w: %q: %v", ocierrors.ErrInvalidDigest, input, err)
		}
	}
	return Digest{algorithm: algorithm, encoded: encoded}, nil
}

func splitDigest(input string) (algorithm, encoded string, ok bool) {
	for i := 0; i < len(input); i++ {
		if input[i] == ':' {
			rest := input[i+1:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == ':' {
					return "", "", false
				}
			}
			return input[:i], rest, input[:i] != "" && rest != ""
		}
	}
	return "", "", false
}

// FromBytes computes the SHA-256 digest of b.
func FromBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest{algorithm: "sha256", encoded: fmt.Sprintf("%x", sum)}
}

// FromReader computes the SHA-256 digest of everything read from r.
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return Digest{algorithm: "sha256", encoded: fmt.Sprintf("%x", h.Sum(nil))}, nil
}

// Algorithm returns the algorithm component, e.g. "sha256".
func (d Digest) Algorithm() string { return d.algorithm }

// Encoded returns the encoded component.
func (d Digest) Encoded() string { return d.encoded }

// String renders "<algorithm>:<encoded>".
func (d Digest) String() string {
	return d.algorithm + ":" + d.encoded
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool { return d.algorithm == "" && d.encoded == "" }

// AsPath returns the blob path used inside an oci-archive/oci-dir
// layout: "blobs/<algorithm>/<encoded>".
func (d Digest) AsPath() string {
	return path.Join("blobs", d.algorithm, d.encoded)
}

// Equal reports whether two digests are textually identical.
func (d Digest) Equal(other Digest) bool {
	return d.algorithm == other.algorithm && d.encoded == other.encoded
}

// Validate re-checks b against d, returning a *ocierrors.DigestMismatch
// if they disagree. Only meaningful for sha256 digests.
func (d Digest) Validate(b []byte) error {
	if d.algorithm != "sha256" {
		return nil
	}
	actual := FromBytes(b)
	if !d.Equal(actual) {
		return &ocierrors.DigestMismatch{Expected: d.String(), Actual: actual.String()}
	}
	return nil
}
