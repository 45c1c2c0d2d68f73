package types

import (
	// crypto libraries included for go-digest
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/opencontainers/go-digest"
)

// ProxyRef locates content in the backing history service by repo path and
// revision. The queue and caches treat it as opaque, only backing stores
// interpret it. The content hash of an object is derived from its proxy
// reference, so two references to the same path and revision share identity.
type ProxyRef struct {
	Path string `json:"path"`
	Rev  string `json:"rev"`
}

// IsZero returns true on an unset reference.
func (p ProxyRef) IsZero() bool {
	return p.Path == "" && p.Rev == ""
}

// Canonical returns the deterministic encoding hashed for identity, the
// revision, a zero byte, and the path.
func (p ProxyRef) Canonical() []byte {
	b := make([]byte, 0, len(p.Rev)+1+len(p.Path))
	b = append(b, p.Rev...)
	b = append(b, 0)
	b = append(b, p.Path...)
	return b
}

// ContentHash derives the content addressed identity for the referenced
// object.
func (p ProxyRef) ContentHash() digest.Digest {
	return digest.Canonical.FromBytes(p.Canonical())
}

func (p ProxyRef) String() string {
	return p.Rev + ":" + p.Path
}
