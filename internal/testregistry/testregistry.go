// Package testregistry provides an in-memory OCI Distribution Spec
// registry for use by lib/distribution and lib/remote tests, adapted
// from the teacher's lib/registry/registry.go: the same
// go-containerregistry/pkg/registry engine, stripped of the
// conversion-trigger interception (no VM/image-conversion concept in
// this module) and of on-disk blob persistence (tests want a fresh,
// ephemeral registry per run).
package testregistry

import (
	"net/http/httptest"

	"github.com/google/go-containerregistry/pkg/registry"
)

// Server wraps an httptest.Server running a full in-memory /v2/ API.
type Server struct {
	*httptest.Server
}

// New starts a registry; the returned Server's URL field holds its base
// URL ("http://127.0.0.1:PORT").
func New() *Server {
	handler := registry.New()
	return &Server{Server: httptest.NewServer(handler)}
}
