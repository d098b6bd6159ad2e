// Package imagename implements the typed identifiers of spec.md §4.1:
// Name (a repository path), Reference (tag or digest), and ImageName
// (the full "hostname[:port]/name:reference" triple), including the
// filesystem-safe path encoding used by lib/store.
package imagename

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/distribution/reference"

	"github.com/ocipkg/ocipkg/lib/digest"
	"github.com/ocipkg/ocipkg/lib/ocierrors"
)

// DefaultHost is used when an ImageName string has no host component.
const DefaultHost = "registry-1.docker.io"

// DefaultReference is used when an ImageName string has no tag/digest.
const DefaultReference = "latest"

// nameComponentPattern is the OCI distribution spec's <name> grammar,
// reusing distribution/reference's own component regexp so this stays
// in lockstep with the same grammar registry clients validate against.
var nameComponentPattern = regexp.MustCompile(`^` + reference.NameRegexp.String() + `$`)

// tagPattern and digestPattern likewise borrow distribution/reference's
// anchored building blocks rather than re-deriving them.
var (
	tagPattern    = regexp.MustCompile(`^` + reference.TagRegexp.String() + `$`)
	digestPattern = regexp.MustCompile(`^` + reference.DigestRegexp.String() + `$`)
)

// Name is a repository path: lowercase path segments separated by
// '/', each matching [a-z0-9]+((\.|_|__|-+)[a-z0-9]+)*.
type Name struct {
	value string
}

// NewName validates and wraps a repository name.
func NewName(s string) (Name, error) {
	if s == "" || !nameComponentPattern.MatchString(s) {
		return Name{}, fmt.Errorf("%w: %q", ocierrors.ErrInvalidName, s)
	}
	return Name{value: s}, nil
}

func (n Name) String() string { return n.value }

// Reference selects a manifest within a repository: either a tag
// ([a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}) or a digest string.
type Reference struct {
	value    string
	isDigest bool
}

// NewReference validates and wraps a tag or digest reference.
func NewReference(s string) (Reference, error) {
	if digestPattern.MatchString(s) {
		if _, err := digest.New(s); err != nil {
			return Reference{}, fmt.Errorf("%w: %q", ocierrors.ErrInvalidReference, s)
		}
		return Reference{value: s, isDigest: true}, nil
	}
	if tagPattern.MatchString(s) {
		return Reference{value: s, isDigest: false}, nil
	}
	return Reference{}, fmt.Errorf("%w: %q", ocierrors.ErrInvalidReference, s)
}

func (r Reference) String() string { return r.value }

func (r Reference) IsDigest() bool { return r.isDigest }

func (r Reference) IsTag() bool { return !r.isDigest }

// Encoded returns the filesystem-safe form of the reference: a tag is
// returned unchanged, a digest has its ':' replaced with "__" so it
// round-trips through a single path segment (spec.md §4.1, §6).
func (r Reference) Encoded() string {
	if !r.isDigest {
		return r.value
	}
	return strings.Replace(r.value, ":", "__", 1)
}

// decodeReference is the inverse of Encoded: a digest-typed reference
// has its first "__" turned back into ":".
func decodeReference(encoded string) (Reference, error) {
	if idx := strings.Index(encoded, "__"); idx >= 0 && digestPattern.MatchString(encoded[:idx]+":"+encoded[idx+2:]) {
		return NewReference(encoded[:idx] + ":" + encoded[idx+2:])
	}
	return NewReference(encoded)
}

// ImageName is "hostname[:port]/name:reference" (spec.md §3).
type ImageName struct {
	Host      string
	Port      int // 0 means unset
	Name      Name
	Reference Reference
}

// Parse tokenizes s on '/' (the first component may be a host,
// optionally "host:port") and ':' (the last component may be a
// tag/digest), applying the defaults of spec.md §3: missing host ->
// registry-1.docker.io, missing reference -> latest.
func Parse(s string) (ImageName, error) {
	if s == "" {
		return ImageName{}, fmt.Errorf("%w: empty image name", ocierrors.ErrInvalidName)
	}

	host := DefaultHost
	port := 0
	rest := s

	if idx := strings.Index(s, "/"); idx >= 0 {
		candidate := s[:idx]
		if looksLikeHost(candidate) {
			h, p, err := splitHostPort(candidate)
			if err != nil {
				return ImageName{}, err
			}
			host, port = h, p
			rest = s[idx+1:]
		}
	}

	namePart, refPart := rest, DefaultReference
	// The reference is whatever follows the LAST ':' that is not part
	// of a digest algorithm separator; digests contain their own ':'
	// so we first check whether the whole remainder parses as "name@sha256:..".
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		candidateName, candidateRef := rest[:i], rest[i+1:]
		// A digest reference has the shape "<algo>:<hex>"; if candidateRef
		// alone isn't a valid tag/digest, try treating everything from the
		// first ':' in a trailing "sha256:..." span as the reference.
		if digestIdx := digestAlgoIndex(rest); digestIdx >= 0 {
			// digestIdx points at the start of the digest text itself;
			// the separator ('@' or ':') immediately before it belongs
			// to neither half, so exclude it from namePart too.
			namePart, refPart = rest[:digestIdx-1], rest[digestIdx:]
		} else {
			namePart, refPart = candidateName, candidateRef
		}
	}

	name, err := NewName(namePart)
	if err != nil {
		return ImageName{}, err
	}
	ref, err := NewReference(refPart)
	if err != nil {
		return ImageName{}, err
	}
	return ImageName{Host: host, Port: port, Name: name, Reference: ref}, nil
}

// digestAlgoIndex finds the start of a trailing "<algo>:<hex...>"
// reference within s, distinguishing e.g. "repo@sha256:abcd" or bare
// "repo:sha256:abcd" from an ordinary "repo:tag". Returns -1 if none.
func digestAlgoIndex(s string) int {
	if at := strings.LastIndex(s, "@"); at >= 0 {
		if digestPattern.MatchString(s[at+1:]) {
			return at + 1
		}
	}
	// bare "name:sha256:hex" form (no '@'): find the LAST ':' such that
	// everything after it looks like a full digest once recombined with
	// the ':' immediately before the hex part.
	parts := strings.Split(s, ":")
	if len(parts) >= 3 {
		tail := strings.Join(parts[len(parts)-2:], ":")
		if digestPattern.MatchString(tail) {
			return len(s) - len(tail)
		}
	}
	return -1
}

func looksLikeHost(s string) bool {
	if s == "localhost" {
		return true
	}
	return strings.ContainsAny(s, ".:")
}

func splitHostPort(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, 0, nil
	}
	host, portStr := s[:idx], s[idx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: %q", ocierrors.ErrInvalidPort, portStr)
	}
	return host, port, nil
}

// String renders "hostname[:port]/name:reference".
func (n ImageName) String() string {
	var b strings.Builder
	b.WriteString(n.hostPort())
	b.WriteString("/")
	b.WriteString(n.Name.String())
	b.WriteString(":")
	b.WriteString(n.Reference.String())
	return b.String()
}

func (n ImageName) hostPort() string {
	if n.Port == 0 {
		return n.Host
	}
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// RegistryURL returns the base URL of the registry this image lives
// in: "http://" if the host begins with localhost, "https://" otherwise.
func (n ImageName) RegistryURL() string {
	scheme := "https"
	if strings.HasPrefix(n.Host, "localhost") {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, n.hostPort())
}

// AsPath returns the filesystem-safe encoded form used by lib/store:
// "<host>[__<port>]/<name>/__<reference>", with ':' in a digest
// reference replaced by "__".
func (n ImageName) AsPath() string {
	host := n.Host
	if n.Port != 0 {
		host = fmt.Sprintf("%s__%d", n.Host, n.Port)
	}
	return fmt.Sprintf("%s/%s/__%s", host, n.Name.String(), n.Reference.Encoded())
}

// FromPath is the inverse of AsPath (spec.md §8 property 3: round trip).
func FromPath(p string) (ImageName, error) {
	segments := strings.Split(p, "/")
	if len(segments) < 2 {
		return ImageName{}, fmt.Errorf("%w: path too short: %q", ocierrors.ErrInvalidName, p)
	}
	last := segments[len(segments)-1]
	if !strings.HasPrefix(last, "__") {
		return ImageName{}, fmt.Errorf("%w: missing reference marker: %q", ocierrors.ErrInvalidName, p)
	}
	ref, err := decodeReference(strings.TrimPrefix(last, "__"))
	if err != nil {
		return ImageName{}, err
	}

	hostSeg := segments[0]
	host, port := hostSeg, 0
	if idx := strings.Index(hostSeg, "__"); idx >= 0 {
		portNum, err := strconv.Atoi(hostSeg[idx+2:])
		if err != nil {
			return ImageName{}, fmt.Errorf("%w: bad port segment: %q", ocierrors.ErrInvalidName, hostSeg)
		}
		host, port = hostSeg[:idx], portNum
	}

	namePart := strings.Join(segments[1:len(segments)-1], "/")
	name, err := NewName(namePart)
	if err != nil {
		return ImageName{}, err
	}
	return ImageName{Host: host, Port: port, Name: name, Reference: ref}, nil
}

// Equal reports structural equality (spec.md §4.1).
func (n ImageName) Equal(other ImageName) bool {
	return n.Host == other.Host &&
		n.Port == other.Port &&
		n.Name.value == other.Name.value &&
		n.Reference.value == other.Reference.value
}
